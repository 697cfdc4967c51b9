// Package agent provides agent definitions, the mutable per-agent state and
// the catalog that agent definitions are loaded from.
package agent

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Errors returned by the agent package.
var (
	ErrNotFound   = errors.New("agent: not found")
	ErrValidation = errors.New("agent: validation error")
)

// GeneralName is the shared settings file that is not itself a loadable agent.
const GeneralName = "general"

// Defaults applied to definitions that leave a field unset.
const (
	DefaultTweetIntervalSec     = 900
	DefaultOwnTweetRepliesCount = 2
	DefaultTimelineReadCount    = 10
)

// LoopTask schedules one named action on the background loop.
type LoopTask struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
}

// Definition is the static description of an agent.
type Definition struct {
	Name                 string                    `json:"name"`
	Bio                  []string                  `json:"bio"`
	Traits               []string                  `json:"traits"`
	Examples             []string                  `json:"examples"`
	Username             string                    `json:"username"`
	TweetIntervalSec     *int                      `json:"tweet_interval,omitempty"`
	OwnTweetRepliesCount *int                      `json:"own_tweet_replies_count,omitempty"`
	TimelineReadCount    int                       `json:"timeline_read_count,omitempty"`
	LLMProvider          string                    `json:"llm_provider,omitempty"`
	DefaultPrompt        string                    `json:"default_prompt,omitempty"`
	LoopTasks            []LoopTask                `json:"loop_tasks,omitempty"`
	Connections          map[string]map[string]any `json:"connections,omitempty"`
}

// Validate checks the definition and fills defaults.
func (d *Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if d.TweetIntervalSec == nil {
		v := DefaultTweetIntervalSec
		d.TweetIntervalSec = &v
	} else if *d.TweetIntervalSec < 0 {
		return fmt.Errorf("%w: tweet_interval must be >= 0, got %d", ErrValidation, *d.TweetIntervalSec)
	}
	if d.OwnTweetRepliesCount == nil {
		v := DefaultOwnTweetRepliesCount
		d.OwnTweetRepliesCount = &v
	} else if *d.OwnTweetRepliesCount < 0 {
		return fmt.Errorf("%w: own_tweet_replies_count must be >= 0", ErrValidation)
	}
	if d.TimelineReadCount <= 0 {
		d.TimelineReadCount = DefaultTimelineReadCount
	}
	for i, t := range d.LoopTasks {
		if t.Name == "" || t.Schedule == "" {
			return fmt.Errorf("%w: loop_tasks[%d] needs name and schedule", ErrValidation, i)
		}
	}
	return nil
}

// Agent is a loaded definition together with its runtime state.
type Agent struct {
	def   Definition
	state *State
}

// New validates def and returns an agent with empty state.
func New(def Definition) (*Agent, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &Agent{def: def, state: NewState()}, nil
}

func (a *Agent) Name() string           { return a.def.Name }
func (a *Agent) Definition() Definition { return a.def }
func (a *Agent) State() *State          { return a.state }

// Username returns the platform account name, lowercased. It falls back to
// connections.twitter.username when the top-level field is empty.
func (a *Agent) Username() string {
	if a.def.Username != "" {
		return strings.ToLower(a.def.Username)
	}
	if u, ok := a.def.Connections["twitter"]["username"].(string); ok {
		return strings.ToLower(u)
	}
	return ""
}

// TweetInterval is the minimum spacing between two posts.
func (a *Agent) TweetInterval() time.Duration {
	return time.Duration(*a.def.TweetIntervalSec) * time.Second
}

func (a *Agent) OwnTweetRepliesCount() int { return *a.def.OwnTweetRepliesCount }

// SystemPrompt builds the persona prompt from bio, traits and examples.
func (a *Agent) SystemPrompt() string {
	parts := append([]string(nil), a.def.Bio...)
	if len(a.def.Traits) > 0 {
		parts = append(parts, "\nYour key traits are:")
		for _, t := range a.def.Traits {
			parts = append(parts, "- "+t)
		}
	}
	if len(a.def.Examples) > 0 {
		parts = append(parts, "\nHere are some examples of your style (Please avoid repeating any of these):")
		for _, e := range a.def.Examples {
			parts = append(parts, "- "+e)
		}
	}
	return strings.Join(parts, "\n")
}
