package actions

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agentfi/agentfi-social-agent/internal/agent"
	"github.com/agentfi/agentfi-social-agent/internal/connection"
	"github.com/agentfi/agentfi-social-agent/internal/connection/twitter"
	"github.com/agentfi/agentfi-social-agent/internal/llm"
	"github.com/agentfi/agentfi-social-agent/pkg/config"
)

// --- Mock implementations ---

type call struct {
	conn, action string
	params       []any
}

// mockDispatcher answers generate-text with a canned reply and records every
// call. Per-action overrides go in handlers.
type mockDispatcher struct {
	mu       sync.Mutex
	calls    []call
	reply    string
	handlers map[string]func(params []any) (any, error)
}

func newMockDispatcher() *mockDispatcher {
	return &mockDispatcher{reply: "gm frens", handlers: map[string]func([]any) (any, error){}}
}

func (m *mockDispatcher) Perform(_ context.Context, conn, action string, params []any) (any, error) {
	m.mu.Lock()
	m.calls = append(m.calls, call{conn, action, params})
	h := m.handlers[action]
	reply := m.reply
	m.mu.Unlock()
	if h != nil {
		return h(params)
	}
	if action == llm.ActionGenerateText {
		return reply, nil
	}
	return "ok", nil
}

func (m *mockDispatcher) LLMProvider(_ context.Context, preferred string) (string, error) {
	if preferred != "" {
		return preferred, nil
	}
	return "ollama", nil
}

func (m *mockDispatcher) count(action string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.action == action {
			n++
		}
	}
	return n
}

func (m *mockDispatcher) last(action string) (call, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.calls) - 1; i >= 0; i-- {
		if m.calls[i].action == action {
			return m.calls[i], true
		}
	}
	return call{}, false
}

type mockImages struct {
	path string
	err  error
	n    int
}

func (m *mockImages) Generate(context.Context, string) (string, error) {
	m.n++
	return m.path, m.err
}

type mockJournal struct {
	mu      sync.Mutex
	entries []Entry
}

func (m *mockJournal) Record(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

type mockStates struct {
	mu    sync.Mutex
	saved map[string]agent.Snapshot
}

func (m *mockStates) SaveState(_ context.Context, name string, snap agent.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = make(map[string]agent.Snapshot)
	}
	m.saved[name] = snap
	return nil
}

func newAgent(t *testing.T, intervalSec int) *agent.Agent {
	t.Helper()
	a, err := agent.New(agent.Definition{
		Name:             "zerebro",
		Username:         "Zerebro",
		Bio:              []string{"You are Zerebro."},
		TweetIntervalSec: &intervalSec,
	})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func fixedClock(ts time.Time) func() time.Time { return func() time.Time { return ts } }

// --- Posting ---

func TestPostTweetPublishesAndRecords(t *testing.T) {
	d := newMockDispatcher()
	j := &mockJournal{}
	st := &mockStates{}
	svc := NewService(d, nil, j, st)
	now := time.Unix(1_700_000_000, 0)
	svc.now = fixedClock(now)
	a := newAgent(t, 60)

	res, err := svc.PostTweet(context.Background(), a, "write about rain")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusSuccess || res.TweetText != "gm frens" {
		t.Fatalf("unexpected result %+v", res)
	}
	gen, _ := d.last(llm.ActionGenerateText)
	if gen.conn != "ollama" || gen.params[0] != "write about rain" || !strings.Contains(gen.params[1].(string), "zerebro") {
		t.Fatalf("unexpected generate call %+v", gen)
	}
	post, ok := d.last(twitter.ActionPostTweet)
	if !ok || post.conn != Platform || post.params[0] != "gm frens" {
		t.Fatalf("unexpected post call %+v", post)
	}
	if !a.State().LastTweetTime().Equal(now) {
		t.Fatalf("last tweet time not recorded: %v", a.State().LastTweetTime())
	}
	if len(j.entries) != 1 || j.entries[0].Status != StatusSuccess || j.entries[0].Action != ActionPostTweet {
		t.Fatalf("unexpected journal %+v", j.entries)
	}
	if !st.saved["zerebro"].LastTweetTime.Equal(now) {
		t.Fatal("state snapshot not saved")
	}
}

func TestPostTweetIntervalNotElapsedIsSkipped(t *testing.T) {
	d := newMockDispatcher()
	svc := NewService(d, nil, nil, nil)
	a := newAgent(t, 3600)
	last := time.Unix(1_700_000_000, 0)
	a.State().Restore(agent.Snapshot{LastTweetTime: last})
	svc.now = fixedClock(last.Add(30 * time.Minute))

	res, err := svc.PostTweet(context.Background(), a, "")
	if err != nil {
		t.Fatalf("gate rejection must not be an error: %v", err)
	}
	if res.Status != StatusSkipped || res.Message != "Tweet interval not elapsed" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.RetryAfter != 1800 {
		t.Fatalf("expected retry after 1800s, got %d", res.RetryAfter)
	}
	if len(d.calls) != 0 {
		t.Fatalf("no dispatch expected, got %+v", d.calls)
	}
}

func TestPostTweetGenerationFailureReleasesInterval(t *testing.T) {
	for name, reply := range map[string]string{
		"empty":    "   ",
		"too long": strings.Repeat("x", agent.MaxTweetLength+1),
	} {
		t.Run(name, func(t *testing.T) {
			d := newMockDispatcher()
			d.reply = reply
			svc := NewService(d, nil, nil, nil)
			a := newAgent(t, 60)

			_, err := svc.PostTweet(context.Background(), a, "")
			if !errors.Is(err, connection.ErrGenerationFailed) {
				t.Fatalf("expected ErrGenerationFailed, got %v", err)
			}
			if d.count(twitter.ActionPostTweet) != 0 {
				t.Fatal("nothing should be published")
			}
			if !a.State().LastTweetTime().IsZero() {
				t.Fatal("failed post must not consume the interval")
			}
		})
	}
}

func TestPostTweetPublishFailurePropagates(t *testing.T) {
	d := newMockDispatcher()
	cause := &connection.ActionError{Connection: Platform, Action: twitter.ActionPostTweet, Err: errors.New("429")}
	d.handlers[twitter.ActionPostTweet] = func([]any) (any, error) { return nil, cause }
	j := &mockJournal{}
	svc := NewService(d, nil, j, nil)
	a := newAgent(t, 60)

	_, err := svc.PostTweet(context.Background(), a, "")
	if !errors.Is(err, connection.ErrActionExecutionFailed) {
		t.Fatalf("expected ErrActionExecutionFailed, got %v", err)
	}
	if d.count(twitter.ActionPostTweet) != 1 {
		t.Fatal("publish must not be retried")
	}
	if !a.State().LastTweetTime().IsZero() {
		t.Fatal("failed publish must not consume the interval")
	}
	if j.entries[0].Status != StatusFailed {
		t.Fatalf("expected failed journal entry, got %+v", j.entries[0])
	}
}

// Two concurrent posts inside one interval window: at most one reaches the
// publish action, the other observes the gate.
func TestPostTweetConcurrentRace(t *testing.T) {
	d := newMockDispatcher()
	release := make(chan struct{})
	d.handlers[llm.ActionGenerateText] = func([]any) (any, error) {
		<-release
		return "gm", nil
	}
	svc := NewService(d, nil, nil, nil)
	a := newAgent(t, 3600)

	const n = 8
	var (
		wg      sync.WaitGroup
		barrier sync.WaitGroup
		mu      sync.Mutex
		results []*Result
	)
	barrier.Add(1)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			barrier.Wait()
			res, err := svc.PostTweet(context.Background(), a, "")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}()
	}
	barrier.Done()
	close(release)
	wg.Wait()

	success, skipped := 0, 0
	for _, r := range results {
		switch r.Status {
		case StatusSuccess:
			success++
		case StatusSkipped:
			skipped++
		}
	}
	if success != 1 || skipped != n-1 {
		t.Fatalf("expected 1 success and %d skipped, got %d and %d", n-1, success, skipped)
	}
	if got := d.count(twitter.ActionPostTweet); got != 1 {
		t.Fatalf("publish called %d times", got)
	}
}

func TestPostWithImage(t *testing.T) {
	d := newMockDispatcher()
	img := &mockImages{path: t.TempDir() + "/x.jpeg"}
	svc := NewService(d, img, nil, nil)
	a := newAgent(t, 60)

	res, err := svc.PostWithImage(context.Background(), a, "a cat")
	if err != nil || res.Status != StatusSuccess {
		t.Fatalf("unexpected (%+v, %v)", res, err)
	}
	post, ok := d.last(twitter.ActionPostTweetWithMedia)
	if !ok || post.params[0] != "gm frens" || post.params[1] != img.path {
		t.Fatalf("unexpected media post %+v", post)
	}
}

// Image generation failure aborts the whole post.
func TestPostWithImageFailureDoesNotPublish(t *testing.T) {
	d := newMockDispatcher()
	img := &mockImages{err: errors.New("stability status 403")}
	svc := NewService(d, img, nil, nil)
	a := newAgent(t, 60)

	res, err := svc.PostWithImage(context.Background(), a, "a cat")
	if err == nil || res != nil {
		t.Fatalf("expected failure, got (%+v, %v)", res, err)
	}
	if !errors.Is(err, connection.ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}
	if d.count(twitter.ActionPostTweetWithMedia) != 0 || d.count(twitter.ActionPostTweet) != 0 {
		t.Fatal("publish spy must not be called")
	}
	if !a.State().LastTweetTime().IsZero() {
		t.Fatal("failed post must not consume the interval")
	}
}

// --- Timeline actions ---

func timeline(tweets ...connection.Tweet) func([]any) (any, error) {
	return func([]any) (any, error) { return tweets, nil }
}

func TestReplyRefillsEmptyTimeline(t *testing.T) {
	d := newMockDispatcher()
	d.handlers[twitter.ActionReadTimeline] = timeline(
		connection.Tweet{ID: "1", Text: "rain today", AuthorUsername: "alice"},
		connection.Tweet{ID: "2", Text: "sunny", AuthorUsername: "bob"},
	)
	svc := NewService(d, nil, nil, nil)
	a := newAgent(t, 60)

	res, err := svc.ReplyToTweet(context.Background(), a)
	if err != nil || res.Status != StatusSuccess || res.ReplyText != "gm frens" {
		t.Fatalf("unexpected (%+v, %v)", res, err)
	}
	reply, _ := d.last(twitter.ActionReplyToTweet)
	if reply.params[0] != "1" || reply.params[1] != "gm frens" {
		t.Fatalf("unexpected reply call %+v", reply)
	}
	gen, _ := d.last(llm.ActionGenerateText)
	if !strings.Contains(gen.params[0].(string), "rain today") || gen.params[1] != a.SystemPrompt() {
		t.Fatalf("unexpected generate call %+v", gen)
	}
	if a.State().Pending() != 1 {
		t.Fatalf("expected one tweet left in queue, got %d", a.State().Pending())
	}
	if d.count(twitter.ActionReadTimeline) != 1 {
		t.Fatal("timeline should be read once")
	}
}

func TestReplyNothingQueuedIsSkipped(t *testing.T) {
	d := newMockDispatcher()
	d.handlers[twitter.ActionReadTimeline] = timeline()
	svc := NewService(d, nil, nil, nil)

	res, err := svc.ReplyToTweet(context.Background(), newAgent(t, 60))
	if err != nil || res.Status != StatusSkipped {
		t.Fatalf("unexpected (%+v, %v)", res, err)
	}
	if d.count(llm.ActionGenerateText) != 0 {
		t.Fatal("no generation expected")
	}
}

func TestLikeOtherTweet(t *testing.T) {
	d := newMockDispatcher()
	svc := NewService(d, nil, nil, nil)
	a := newAgent(t, 60)
	a.State().PushTweets(connection.Tweet{ID: "7", AuthorUsername: "alice"})

	res, err := svc.LikeTweet(context.Background(), a)
	if err != nil || res.Status != StatusSuccess {
		t.Fatalf("unexpected (%+v, %v)", res, err)
	}
	like, ok := d.last(twitter.ActionLikeTweet)
	if !ok || like.params[0] != "7" {
		t.Fatalf("unexpected like call %+v", like)
	}
	if d.count(twitter.ActionReadTimeline) != 0 {
		t.Fatal("queued tweet should be used without reading the timeline")
	}
}

func TestLikeOwnTweetQueuesReplies(t *testing.T) {
	d := newMockDispatcher()
	d.handlers[twitter.ActionGetTweetReplies] = timeline(
		connection.Tweet{ID: "r1"}, connection.Tweet{ID: "r2"}, connection.Tweet{ID: "r3"},
	)
	svc := NewService(d, nil, nil, nil)
	a := newAgent(t, 60)
	a.State().PushTweets(connection.Tweet{ID: "own", AuthorID: "42", AuthorUsername: "ZEREBRO"})

	res, err := svc.LikeTweet(context.Background(), a)
	if err != nil || res.Status != StatusSuccess {
		t.Fatalf("unexpected (%+v, %v)", res, err)
	}
	if d.count(twitter.ActionLikeTweet) != 0 {
		t.Fatal("own tweets must not be liked")
	}
	get, _ := d.last(twitter.ActionGetTweetReplies)
	if get.params[0] != "own" {
		t.Fatalf("replies should be fetched by tweet id, got %+v", get.params)
	}
	if got := a.State().Pending(); got != agent.DefaultOwnTweetRepliesCount {
		t.Fatalf("expected %d queued replies, got %d", agent.DefaultOwnTweetRepliesCount, got)
	}
	next, _ := a.State().PopTweet()
	if next.ID != "r1" {
		t.Fatalf("replies should be queued in order, got %q", next.ID)
	}
}

// lookupDispatcher exposes registered connections like connection.Manager.
type lookupDispatcher struct {
	*mockDispatcher
	conns map[string]connection.Connection
}

func (l lookupDispatcher) Get(name string) (connection.Connection, bool) {
	c, ok := l.conns[name]
	return c, ok
}

func TestLikeOwnTweetDetectedFromConnectionSettings(t *testing.T) {
	d := newMockDispatcher()
	d.handlers[twitter.ActionGetTweetReplies] = timeline(connection.Tweet{ID: "r1"})
	svc := NewService(d, nil, nil, nil)
	a, err := agent.New(agent.Definition{
		Name:        "zerebro",
		Connections: map[string]map[string]any{"twitter": {"username": "Bot"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	a.State().PushTweets(connection.Tweet{ID: "own", AuthorUsername: "bot"})

	if _, err := svc.LikeTweet(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	if d.count(twitter.ActionLikeTweet) != 0 || d.count(twitter.ActionGetTweetReplies) != 1 {
		t.Fatalf("own tweet was not detected: like=%d replies=%d",
			d.count(twitter.ActionLikeTweet), d.count(twitter.ActionGetTweetReplies))
	}
}

func TestLikeOwnTweetDetectedFromPlatformConnection(t *testing.T) {
	d := newMockDispatcher()
	d.handlers[twitter.ActionGetTweetReplies] = timeline(connection.Tweet{ID: "r1"})
	conns := map[string]connection.Connection{
		Platform: twitter.New(config.TwitterConfig{Username: "Bot"}),
	}
	svc := NewService(lookupDispatcher{d, conns}, nil, nil, nil)
	a, err := agent.New(agent.Definition{Name: "zerebro"})
	if err != nil {
		t.Fatal(err)
	}
	a.State().PushTweets(connection.Tweet{ID: "own", AuthorUsername: "BOT"})

	if _, err := svc.LikeTweet(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	if d.count(twitter.ActionLikeTweet) != 0 || d.count(twitter.ActionGetTweetReplies) != 1 {
		t.Fatalf("own tweet was not detected: like=%d replies=%d",
			d.count(twitter.ActionLikeTweet), d.count(twitter.ActionGetTweetReplies))
	}
}

func TestReadTimelineFailurePropagates(t *testing.T) {
	d := newMockDispatcher()
	d.handlers[twitter.ActionReadTimeline] = func([]any) (any, error) {
		return nil, &connection.ActionError{Connection: Platform, Action: twitter.ActionReadTimeline, Err: errors.New("401")}
	}
	svc := NewService(d, nil, nil, nil)

	if _, err := svc.LikeTweet(context.Background(), newAgent(t, 60)); !errors.Is(err, connection.ErrActionExecutionFailed) {
		t.Fatalf("expected ErrActionExecutionFailed, got %v", err)
	}
}
