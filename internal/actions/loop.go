package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/agentfi/agentfi-social-agent/internal/agent"
)

type taskFunc func(ctx context.Context, s *Service, a *agent.Agent) (*Result, error)

var loopTasks = map[string]taskFunc{
	ActionPostTweet: func(ctx context.Context, s *Service, a *agent.Agent) (*Result, error) {
		return s.PostTweet(ctx, a, "")
	},
	ActionPostWithImage: func(ctx context.Context, s *Service, a *agent.Agent) (*Result, error) {
		return s.PostWithImage(ctx, a, "")
	},
	ActionReplyToTweet: func(ctx context.Context, s *Service, a *agent.Agent) (*Result, error) {
		return s.ReplyToTweet(ctx, a)
	},
	ActionLikeTweet: func(ctx context.Context, s *Service, a *agent.Agent) (*Result, error) {
		return s.LikeTweet(ctx, a)
	},
	ActionReadTimeline: func(ctx context.Context, s *Service, a *agent.Agent) (*Result, error) {
		return s.RefreshTimeline(ctx, a)
	},
}

type scheduledTask struct {
	name  string
	sched cron.Schedule
	run   taskFunc
	next  time.Time
}

// Loop is the background work unit of one agent: each RunOnce runs the
// agent's loop tasks that are due.
type Loop struct {
	svc   *Service
	agent *agent.Agent

	mu    sync.Mutex
	tasks []*scheduledTask
}

// NewLoop parses the agent's loop task schedules. Schedules use the standard
// five-field cron syntax or descriptors such as "@every 30m".
func NewLoop(svc *Service, a *agent.Agent) (*Loop, error) {
	l := &Loop{svc: svc, agent: a}
	for _, t := range a.Definition().LoopTasks {
		run, ok := loopTasks[t.Name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown loop task %q", agent.ErrValidation, t.Name)
		}
		sched, err := cron.ParseStandard(t.Schedule)
		if err != nil {
			return nil, fmt.Errorf("%w: loop task %q schedule %q: %v", agent.ErrValidation, t.Name, t.Schedule, err)
		}
		l.tasks = append(l.tasks, &scheduledTask{name: t.Name, sched: sched, run: run})
	}
	return l, nil
}

// RunOnce runs every due task once. A task is due on the first call and then
// at each time its schedule yields. Errors of all tasks are joined; skipped
// results are not errors.
func (l *Loop) RunOnce(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.svc.now()
	var errs []error
	for _, t := range l.tasks {
		if ctx.Err() != nil {
			break
		}
		if !t.next.IsZero() && now.Before(t.next) {
			continue
		}
		t.next = t.sched.Next(now)

		res, err := t.run(ctx, l.svc, l.agent)
		if err != nil {
			errs = append(errs, fmt.Errorf("actions: loop task %s: %w", t.name, err))
			continue
		}
		slog.Debug("actions: loop task done",
			slog.String("agent", l.agent.Name()),
			slog.String("task", t.name),
			slog.String("status", res.Status),
			slog.Time("next", t.next),
		)
	}
	return errors.Join(errs...)
}
