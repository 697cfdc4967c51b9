package agent

import (
	"sync"
	"time"

	"github.com/agentfi/agentfi-social-agent/internal/connection"
	"github.com/agentfi/agentfi-social-agent/internal/gate"
)

// State is the mutable part of a loaded agent. All access goes through its
// methods, each of which holds the lock only for the state read or write.
type State struct {
	mu            sync.Mutex
	lastTweetTime time.Time
	timeline      []connection.Tweet
}

// Snapshot is a copy of State suitable for persistence.
type Snapshot struct {
	LastTweetTime  time.Time          `json:"last_tweet_time"`
	TimelineTweets []connection.Tweet `json:"timeline_tweets"`
}

// Reservation is a successful interval gate check that already advanced
// last_tweet_time. Cancel it if the post does not go out.
type Reservation struct {
	at   time.Time
	prev time.Time
}

// At is the time recorded as last_tweet_time.
func (r Reservation) At() time.Time { return r.at }

func NewState() *State { return &State{} }

// ReservePost checks the interval gate and, when it allows, records now as
// last_tweet_time in the same critical section. ok is false when the
// interval has not elapsed.
func (s *State) ReservePost(now time.Time, interval time.Duration) (Reservation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := gate.Allow(now, s.lastTweetTime, interval)
	if err != nil || !ok {
		return Reservation{}, false, err
	}
	r := Reservation{at: now, prev: s.lastTweetTime}
	s.lastTweetTime = now
	return r, true, nil
}

// CancelPost restores last_tweet_time to its value before r, unless another
// post has been recorded since.
func (s *State) CancelPost(r Reservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastTweetTime.Equal(r.at) {
		s.lastTweetTime = r.prev
	}
}

// LastTweetTime returns the time of the last post, zero if none.
func (s *State) LastTweetTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTweetTime
}

// PopTweet removes and returns the front of the timeline queue.
func (s *State) PopTweet() (connection.Tweet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timeline) == 0 {
		return connection.Tweet{}, false
	}
	t := s.timeline[0]
	s.timeline = s.timeline[1:]
	return t, true
}

// PushTweets appends tweets to the back of the timeline queue.
func (s *State) PushTweets(tweets ...connection.Tweet) {
	if len(tweets) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeline = append(s.timeline, tweets...)
}

// Pending is the number of queued timeline tweets.
func (s *State) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timeline)
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		LastTweetTime:  s.lastTweetTime,
		TimelineTweets: append([]connection.Tweet(nil), s.timeline...),
	}
}

// Restore replaces the state with snap.
func (s *State) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTweetTime = snap.LastTweetTime
	s.timeline = append([]connection.Tweet(nil), snap.TimelineTweets...)
}
