// Package twitter implements the social platform connection over the
// Twitter API v2 with bearer token authentication.
package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agentfi/agentfi-social-agent/internal/connection"
)

// DefaultAPIURL is the Twitter API v2 base URL.
const DefaultAPIURL = "https://api.twitter.com/2"

const tweetFields = "author_id,created_at"

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twitter: api returned status %d: %s", e.Status, e.Body)
}

// Client is a minimal Twitter API v2 client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client

	mu     sync.Mutex
	userID string
}

// NewClient creates a client. An empty baseURL selects DefaultAPIURL.
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// --- wire types ---

type tweetData struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	AuthorID  string `json:"author_id"`
	CreatedAt string `json:"created_at"`
}

type userData struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type tweetList struct {
	Data     []tweetData `json:"data"`
	Includes struct {
		Users []userData `json:"users"`
	} `json:"includes"`
}

// PostTweet publishes a tweet and returns its id. replyTo and mediaIDs are optional.
func (c *Client) PostTweet(ctx context.Context, text, replyTo string, mediaIDs []string) (string, error) {
	body := map[string]any{"text": text}
	if replyTo != "" {
		body["reply"] = map[string]string{"in_reply_to_tweet_id": replyTo}
	}
	if len(mediaIDs) > 0 {
		body["media"] = map[string]any{"media_ids": mediaIDs}
	}
	var resp struct {
		Data tweetData `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/tweets", body, &resp); err != nil {
		return "", err
	}
	return resp.Data.ID, nil
}

// LikeTweet likes a tweet on behalf of the authenticated user.
func (c *Client) LikeTweet(ctx context.Context, tweetID string) error {
	uid, err := c.UserID(ctx)
	if err != nil {
		return err
	}
	return c.doJSON(ctx, http.MethodPost, "/users/"+uid+"/likes", map[string]string{"tweet_id": tweetID}, nil)
}

// UserID returns the authenticated user's id, cached after the first lookup.
func (c *Client) UserID(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.userID
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	var resp struct {
		Data userData `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/users/me", nil, &resp); err != nil {
		return "", err
	}
	if resp.Data.ID == "" {
		return "", errors.New("twitter: users/me returned no id")
	}
	c.mu.Lock()
	c.userID = resp.Data.ID
	c.mu.Unlock()
	return resp.Data.ID, nil
}

// Timeline reads up to count tweets from the authenticated user's home timeline.
func (c *Client) Timeline(ctx context.Context, count int) ([]connection.Tweet, error) {
	uid, err := c.UserID(ctx)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("max_results", strconv.Itoa(clampResults(count)))
	q.Set("tweet.fields", tweetFields)
	q.Set("expansions", "author_id")
	q.Set("user.fields", "username")

	var resp tweetList
	if err := c.doJSON(ctx, http.MethodGet, "/users/"+uid+"/timelines/reverse_chronological?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	tweets := resp.tweets()
	if count > 0 && len(tweets) > count {
		tweets = tweets[:count]
	}
	return tweets, nil
}

// Replies returns recent replies in the conversation started by tweetID.
func (c *Client) Replies(ctx context.Context, tweetID string) ([]connection.Tweet, error) {
	q := url.Values{}
	q.Set("query", "conversation_id:"+tweetID)
	q.Set("tweet.fields", tweetFields)
	q.Set("expansions", "author_id")
	q.Set("user.fields", "username")

	var resp tweetList
	if err := c.doJSON(ctx, http.MethodGet, "/tweets/search/recent?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.tweets(), nil
}

// UploadMedia uploads an image file and returns its media id.
func (c *Client) UploadMedia(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("twitter: open media: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("media_category", "tweet_image"); err != nil {
		return "", fmt.Errorf("twitter: build upload: %w", err)
	}
	part, err := mw.CreateFormFile("media", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("twitter: build upload: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("twitter: read media: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("twitter: build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/media/upload", &buf)
	if err != nil {
		return "", fmt.Errorf("twitter: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	if resp.Data.ID == "" {
		return "", errors.New("twitter: media upload returned no id")
	}
	return resp.Data.ID, nil
}

// --- transport ---

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("twitter: marshal request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("twitter: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("twitter: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("twitter: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Body: connection.Truncate(string(respBody), 200)}
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("twitter: unmarshal response: %w", err)
	}
	return nil
}

func (l tweetList) tweets() []connection.Tweet {
	names := make(map[string]string, len(l.Includes.Users))
	for _, u := range l.Includes.Users {
		names[u.ID] = u.Username
	}
	out := make([]connection.Tweet, 0, len(l.Data))
	for _, d := range l.Data {
		t := connection.Tweet{
			ID:             d.ID,
			Text:           d.Text,
			AuthorID:       d.AuthorID,
			AuthorUsername: names[d.AuthorID],
		}
		if ts, err := time.Parse(time.RFC3339, d.CreatedAt); err == nil {
			t.CreatedAt = ts
		}
		out = append(out, t)
	}
	return out
}

// clampResults keeps max_results inside the range the timeline endpoint accepts.
func clampResults(n int) int {
	switch {
	case n < 1:
		return 10
	case n > 100:
		return 100
	default:
		return n
	}
}

