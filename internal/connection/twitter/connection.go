package twitter

import (
	"context"
	"strings"
	"sync"

	"github.com/agentfi/agentfi-social-agent/internal/connection"
	"github.com/agentfi/agentfi-social-agent/pkg/config"
)

// Action names supported by the twitter connection.
const (
	ActionPostTweet          = "post-tweet"
	ActionPostTweetWithMedia = "post-tweet-with-media"
	ActionReplyToTweet       = "reply-to-tweet"
	ActionLikeTweet          = "like-tweet"
	ActionGetTweetReplies    = "get-tweet-replies"
	ActionReadTimeline       = "read-timeline"
)

const defaultTimelineCount = 10

// Connection is the "twitter" dispatcher connection.
type Connection struct {
	apiURL string

	mu       sync.RWMutex
	client   *Client
	username string

	actions connection.Actions
}

var _ connection.Connection = (*Connection)(nil)

// New creates the connection from static settings. It is configured when a
// bearer token is present.
func New(cfg config.TwitterConfig) *Connection {
	c := &Connection{apiURL: cfg.APIURL, username: strings.ToLower(cfg.Username)}
	if cfg.BearerToken != "" {
		c.client = NewClient(cfg.APIURL, cfg.BearerToken)
	}
	c.actions = connection.Actions{
		ActionPostTweet:          c.postTweet,
		ActionPostTweetWithMedia: c.postTweetWithMedia,
		ActionReplyToTweet:       c.replyToTweet,
		ActionLikeTweet:          c.likeTweet,
		ActionGetTweetReplies:    c.getTweetReplies,
		ActionReadTimeline:       c.readTimeline,
	}
	return c
}

func (c *Connection) Name() string        { return "twitter" }
func (c *Connection) IsLLMProvider() bool { return false }

// Configure accepts bearer_token and username.
func (c *Connection) Configure(_ context.Context, params map[string]any) (bool, error) {
	token := connection.ParamString(params, "bearer_token")
	username := connection.ParamString(params, "username")

	c.mu.Lock()
	defer c.mu.Unlock()
	if username != "" {
		c.username = strings.ToLower(username)
	}
	if token == "" {
		return c.client != nil, nil
	}
	c.client = NewClient(c.apiURL, token)
	return true, nil
}

func (c *Connection) IsConfigured(context.Context) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client != nil
}

// Username returns the configured account name, lowercased.
func (c *Connection) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

func (c *Connection) Perform(ctx context.Context, action string, params []any) (any, error) {
	return c.actions.Run(ctx, c.Name(), action, params)
}

func (c *Connection) ActionNames() []string { return c.actions.Names() }

func (c *Connection) current() (*Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil, connection.ErrNotConfigured
	}
	return c.client, nil
}

// --- actions ---

func (c *Connection) postTweet(ctx context.Context, params []any) (any, error) {
	text, err := connection.StringParam(params, 0, "text")
	if err != nil {
		return nil, err
	}
	cl, err := c.current()
	if err != nil {
		return nil, err
	}
	return cl.PostTweet(ctx, text, "", nil)
}

func (c *Connection) postTweetWithMedia(ctx context.Context, params []any) (any, error) {
	text, err := connection.StringParam(params, 0, "text")
	if err != nil {
		return nil, err
	}
	path, err := connection.StringParam(params, 1, "image_path")
	if err != nil {
		return nil, err
	}
	cl, err := c.current()
	if err != nil {
		return nil, err
	}
	mediaID, err := cl.UploadMedia(ctx, path)
	if err != nil {
		return nil, err
	}
	return cl.PostTweet(ctx, text, "", []string{mediaID})
}

func (c *Connection) replyToTweet(ctx context.Context, params []any) (any, error) {
	tweetID, err := connection.StringParam(params, 0, "tweet_id")
	if err != nil {
		return nil, err
	}
	text, err := connection.StringParam(params, 1, "text")
	if err != nil {
		return nil, err
	}
	cl, err := c.current()
	if err != nil {
		return nil, err
	}
	return cl.PostTweet(ctx, text, tweetID, nil)
}

func (c *Connection) likeTweet(ctx context.Context, params []any) (any, error) {
	tweetID, err := connection.StringParam(params, 0, "tweet_id")
	if err != nil {
		return nil, err
	}
	cl, err := c.current()
	if err != nil {
		return nil, err
	}
	if err := cl.LikeTweet(ctx, tweetID); err != nil {
		return nil, err
	}
	return true, nil
}

func (c *Connection) getTweetReplies(ctx context.Context, params []any) (any, error) {
	tweetID, err := connection.StringParam(params, 0, "tweet_id")
	if err != nil {
		return nil, err
	}
	cl, err := c.current()
	if err != nil {
		return nil, err
	}
	return cl.Replies(ctx, tweetID)
}

func (c *Connection) readTimeline(ctx context.Context, params []any) (any, error) {
	count, err := connection.IntParam(params, 0, "count", defaultTimelineCount)
	if err != nil {
		return nil, err
	}
	cl, err := c.current()
	if err != nil {
		return nil, err
	}
	return cl.Timeline(ctx, count)
}
