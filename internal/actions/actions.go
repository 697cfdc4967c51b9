// Package actions implements the composite social actions (post, post with
// image, reply, like) on top of the connection dispatcher, and the loop work
// unit that runs them on a schedule.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/agentfi/agentfi-social-agent/internal/agent"
	"github.com/agentfi/agentfi-social-agent/internal/connection"
	"github.com/agentfi/agentfi-social-agent/internal/connection/twitter"
	"github.com/agentfi/agentfi-social-agent/internal/gate"
	"github.com/agentfi/agentfi-social-agent/internal/imagegen"
	"github.com/agentfi/agentfi-social-agent/internal/llm"
)

// Platform is the connection every composite action publishes through.
const Platform = "twitter"

// Result statuses.
const (
	StatusSuccess = "success"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// Action names, also used as loop task names.
const (
	ActionPostTweet     = "post-tweet"
	ActionPostWithImage = "post-with-image"
	ActionReplyToTweet  = "reply-to-tweet"
	ActionLikeTweet     = "like-tweet"
	ActionReadTimeline  = "read-timeline"
)

// ErrTweetTooLong is returned when generated text does not fit in one post.
var ErrTweetTooLong = fmt.Errorf("actions: generated text exceeds %d characters: %w",
	agent.MaxTweetLength, connection.ErrGenerationFailed)

// Result is the outcome of one composite action. Skipped results are policy
// declines (interval not elapsed, nothing queued), not failures. RetryAfter
// is the number of seconds until the next post is allowed on interval skips.
type Result struct {
	Status     string             `json:"status"`
	Message    string             `json:"message"`
	Result     any                `json:"result,omitempty"`
	TweetText  string             `json:"tweetText,omitempty"`
	ReplyText  string             `json:"replyText,omitempty"`
	Timeline   []connection.Tweet `json:"timeline,omitempty"`
	RetryAfter int64              `json:"retryAfter,omitempty"`
}

// --- Dependency interfaces ---

// Dispatcher performs named actions on registered connections.
type Dispatcher interface {
	Perform(ctx context.Context, conn, action string, params []any) (any, error)
	LLMProvider(ctx context.Context, preferred string) (string, error)
}

// connectionLookup is implemented by dispatchers that expose their
// registered connections, such as connection.Manager.
type connectionLookup interface {
	Get(name string) (connection.Connection, bool)
}

type accountNamer interface {
	Username() string
}

// Entry is one journaled action outcome.
type Entry struct {
	ID        uuid.UUID `json:"id"`
	Agent     string    `json:"agent"`
	Action    string    `json:"action"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Text      string    `json:"text,omitempty"`
	TweetID   string    `json:"tweet_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Journal records action outcomes.
type Journal interface {
	Record(ctx context.Context, e Entry) error
}

// StateStore persists agent state snapshots.
type StateStore interface {
	SaveState(ctx context.Context, agentName string, snap agent.Snapshot) error
}

// Service runs composite actions for an agent.
type Service struct {
	dispatcher Dispatcher
	images     imagegen.Generator
	journal    Journal
	states     StateStore
	now        func() time.Time
}

// NewService creates a Service. journal and states may be nil.
func NewService(d Dispatcher, images imagegen.Generator, journal Journal, states StateStore) *Service {
	return &Service{
		dispatcher: d,
		images:     images,
		journal:    journal,
		states:     states,
		now:        time.Now,
	}
}

// PostTweet generates and publishes a post when the agent's tweet interval
// has elapsed. An empty prompt uses the agent's default prompt.
func (s *Service) PostTweet(ctx context.Context, a *agent.Agent, prompt string) (*Result, error) {
	res, err := s.postTweet(ctx, a, prompt)
	s.record(ctx, a, ActionPostTweet, res, err)
	return res, err
}

func (s *Service) postTweet(ctx context.Context, a *agent.Agent, prompt string) (*Result, error) {
	st := a.State()
	rsv, ok, err := st.ReservePost(s.now(), a.TweetInterval())
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.intervalNotElapsed(a), nil
	}

	user, system := postPrompts(a, prompt)
	text, err := s.generateTweet(ctx, a, user, system)
	if err != nil {
		st.CancelPost(rsv)
		return nil, err
	}

	result, err := s.dispatcher.Perform(ctx, Platform, twitter.ActionPostTweet, []any{text})
	if err != nil {
		st.CancelPost(rsv)
		return nil, err
	}
	s.saveState(ctx, a)

	slog.Info("actions: tweet posted", slog.String("agent", a.Name()), slog.Int("chars", utf8.RuneCountInString(text)))
	return &Result{Status: StatusSuccess, Message: "Tweet posted successfully!", Result: result, TweetText: text}, nil
}

// PostWithImage is PostTweet with a generated image attached. If the image
// cannot be generated nothing is published.
func (s *Service) PostWithImage(ctx context.Context, a *agent.Agent, prompt string) (*Result, error) {
	res, err := s.postWithImage(ctx, a, prompt)
	s.record(ctx, a, ActionPostWithImage, res, err)
	return res, err
}

func (s *Service) postWithImage(ctx context.Context, a *agent.Agent, prompt string) (*Result, error) {
	if s.images == nil {
		return nil, fmt.Errorf("actions: no image generator: %w", connection.ErrGenerationFailed)
	}
	st := a.State()
	rsv, ok, err := st.ReservePost(s.now(), a.TweetInterval())
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.intervalNotElapsed(a), nil
	}

	user, system := postPrompts(a, prompt)
	text, err := s.generateTweet(ctx, a, user, system)
	if err != nil {
		st.CancelPost(rsv)
		return nil, err
	}

	imagePrompt := prompt
	if imagePrompt == "" {
		imagePrompt = imagegen.DefaultPrompt
	}
	path, err := s.images.Generate(ctx, imagePrompt)
	if err != nil {
		st.CancelPost(rsv)
		slog.Error("actions: image generation failed", slog.String("agent", a.Name()), slog.String("error", err.Error()))
		if !errors.Is(err, connection.ErrGenerationFailed) {
			err = fmt.Errorf("%w: %v", connection.ErrGenerationFailed, err)
		}
		return nil, fmt.Errorf("actions: generate image: %w", err)
	}
	defer func() {
		if err := imagegen.Remove(path); err != nil {
			slog.Warn("actions: remove image", slog.String("error", err.Error()))
		}
	}()

	result, err := s.dispatcher.Perform(ctx, Platform, twitter.ActionPostTweetWithMedia, []any{text, path})
	if err != nil {
		st.CancelPost(rsv)
		return nil, err
	}
	s.saveState(ctx, a)

	slog.Info("actions: tweet with image posted", slog.String("agent", a.Name()))
	return &Result{Status: StatusSuccess, Message: "Tweet posted successfully!", Result: result, TweetText: text}, nil
}

// ReplyToTweet replies to the next queued timeline tweet.
func (s *Service) ReplyToTweet(ctx context.Context, a *agent.Agent) (*Result, error) {
	res, err := s.replyToTweet(ctx, a)
	s.record(ctx, a, ActionReplyToTweet, res, err)
	return res, err
}

func (s *Service) replyToTweet(ctx context.Context, a *agent.Agent) (*Result, error) {
	tweet, ok, err := s.nextTweet(ctx, a)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Result{Status: StatusSkipped, Message: "No tweets found to reply to"}, nil
	}

	text, err := s.generateTweet(ctx, a, agent.ReplyTweetPrompt(tweet.Text), a.SystemPrompt())
	if err != nil {
		return nil, err
	}
	result, err := s.dispatcher.Perform(ctx, Platform, twitter.ActionReplyToTweet, []any{tweet.ID, text})
	if err != nil {
		return nil, err
	}

	slog.Info("actions: reply posted", slog.String("agent", a.Name()), slog.String("tweet_id", tweet.ID))
	return &Result{
		Status:    StatusSuccess,
		Message:   "Tweet Reply successfully!",
		Result:    result,
		ReplyText: text,
		Timeline:  []connection.Tweet{tweet},
	}, nil
}

// LikeTweet likes the next queued timeline tweet. For the agent's own tweets
// it queues replies to them instead.
func (s *Service) LikeTweet(ctx context.Context, a *agent.Agent) (*Result, error) {
	res, err := s.likeTweet(ctx, a)
	s.record(ctx, a, ActionLikeTweet, res, err)
	return res, err
}

func (s *Service) likeTweet(ctx context.Context, a *agent.Agent) (*Result, error) {
	tweet, ok, err := s.nextTweet(ctx, a)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Result{Status: StatusSkipped, Message: "No tweets found to like"}, nil
	}

	if u := s.ownUsername(a); u != "" && strings.EqualFold(tweet.AuthorUsername, u) {
		out, err := s.dispatcher.Perform(ctx, Platform, twitter.ActionGetTweetReplies, []any{tweet.ID})
		if err != nil {
			return nil, err
		}
		replies, err := tweetsFrom(twitter.ActionGetTweetReplies, out)
		if err != nil {
			return nil, err
		}
		if n := a.OwnTweetRepliesCount(); len(replies) > n {
			replies = replies[:n]
		}
		a.State().PushTweets(replies...)
		s.saveState(ctx, a)
		return &Result{
			Status:   StatusSuccess,
			Message:  fmt.Sprintf("Queued %d replies to own tweet", len(replies)),
			Timeline: replies,
		}, nil
	}

	result, err := s.dispatcher.Perform(ctx, Platform, twitter.ActionLikeTweet, []any{tweet.ID})
	if err != nil {
		return nil, err
	}

	slog.Info("actions: tweet liked", slog.String("agent", a.Name()), slog.String("tweet_id", tweet.ID))
	return &Result{
		Status:   StatusSuccess,
		Message:  "Tweet liked successfully!",
		Result:   result,
		Timeline: []connection.Tweet{tweet},
	}, nil
}

// ownUsername is the agent's account name, or the one configured on the
// platform connection when the agent has none.
func (s *Service) ownUsername(a *agent.Agent) string {
	if u := a.Username(); u != "" {
		return u
	}
	lookup, ok := s.dispatcher.(connectionLookup)
	if !ok {
		return ""
	}
	c, ok := lookup.Get(Platform)
	if !ok {
		return ""
	}
	if n, ok := c.(accountNamer); ok {
		return n.Username()
	}
	return ""
}

// RefreshTimeline reads the home timeline and queues the tweets.
func (s *Service) RefreshTimeline(ctx context.Context, a *agent.Agent) (*Result, error) {
	tweets, err := s.readTimeline(ctx, a)
	if err != nil {
		s.record(ctx, a, ActionReadTimeline, nil, err)
		return nil, err
	}
	a.State().PushTweets(tweets...)
	s.saveState(ctx, a)
	res := &Result{Status: StatusSuccess, Message: fmt.Sprintf("Queued %d tweets", len(tweets)), Timeline: tweets}
	s.record(ctx, a, ActionReadTimeline, res, nil)
	return res, nil
}

// --- helpers ---

// nextTweet pops the queue, reading the timeline first when it is empty.
// The timeline read happens outside the state lock.
func (s *Service) nextTweet(ctx context.Context, a *agent.Agent) (connection.Tweet, bool, error) {
	st := a.State()
	if t, ok := st.PopTweet(); ok {
		s.saveState(ctx, a)
		return t, t.ID != "", nil
	}
	tweets, err := s.readTimeline(ctx, a)
	if err != nil {
		return connection.Tweet{}, false, err
	}
	st.PushTweets(tweets...)
	t, ok := st.PopTweet()
	if ok {
		s.saveState(ctx, a)
	}
	return t, ok && t.ID != "", nil
}

func (s *Service) readTimeline(ctx context.Context, a *agent.Agent) ([]connection.Tweet, error) {
	out, err := s.dispatcher.Perform(ctx, Platform, twitter.ActionReadTimeline, []any{a.Definition().TimelineReadCount})
	if err != nil {
		return nil, err
	}
	return tweetsFrom(twitter.ActionReadTimeline, out)
}

// generateTweet asks the agent's LLM provider for text that fits in one post.
func (s *Service) generateTweet(ctx context.Context, a *agent.Agent, prompt, system string) (string, error) {
	provider, err := s.dispatcher.LLMProvider(ctx, a.Definition().LLMProvider)
	if err != nil {
		return "", err
	}
	out, err := s.dispatcher.Perform(ctx, provider, llm.ActionGenerateText, []any{prompt, system})
	if err != nil {
		return "", err
	}
	text, _ := out.(string)
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("actions: %s returned no text: %w", provider, connection.ErrGenerationFailed)
	}
	if utf8.RuneCountInString(text) > agent.MaxTweetLength {
		return "", ErrTweetTooLong
	}
	return text, nil
}

// postPrompts returns the user and system prompt for a new post. A caller
// prompt is the user message with the post instructions as system prompt.
func postPrompts(a *agent.Agent, prompt string) (string, string) {
	if prompt == "" {
		prompt = a.Definition().DefaultPrompt
	}
	if prompt == "" {
		return agent.PostTweetPrompt(a.Name()), a.SystemPrompt()
	}
	return prompt, agent.PostTweetPrompt(a.Name())
}

func (s *Service) intervalNotElapsed(a *agent.Agent) *Result {
	wait := gate.Remaining(s.now(), a.State().LastTweetTime(), a.TweetInterval())
	return &Result{
		Status:     StatusSkipped,
		Message:    "Tweet interval not elapsed",
		RetryAfter: int64((wait + time.Second - 1) / time.Second),
	}
}

func tweetsFrom(action string, out any) ([]connection.Tweet, error) {
	switch v := out.(type) {
	case []connection.Tweet:
		return v, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("actions: unexpected %s result %T", action, out)
	}
}

func (s *Service) saveState(ctx context.Context, a *agent.Agent) {
	if s.states == nil {
		return
	}
	if err := s.states.SaveState(ctx, a.Name(), a.State().Snapshot()); err != nil {
		slog.Warn("actions: save state failed", slog.String("agent", a.Name()), slog.String("error", err.Error()))
	}
}

func (s *Service) record(ctx context.Context, a *agent.Agent, action string, res *Result, err error) {
	if s.journal == nil {
		return
	}
	e := Entry{
		ID:        uuid.New(),
		Agent:     a.Name(),
		Action:    action,
		CreatedAt: s.now().UTC(),
	}
	switch {
	case err != nil:
		e.Status, e.Message = StatusFailed, err.Error()
	case res != nil:
		e.Status, e.Message = res.Status, res.Message
		e.Text = res.TweetText
		if e.Text == "" {
			e.Text = res.ReplyText
		}
		if len(res.Timeline) == 1 {
			e.TweetID = res.Timeline[0].ID
		}
	}
	if jerr := s.journal.Record(ctx, e); jerr != nil {
		slog.Warn("actions: journal write failed",
			slog.String("agent", a.Name()),
			slog.String("action", action),
			slog.String("error", jerr.Error()),
		)
	}
}
