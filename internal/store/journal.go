package store

import (
	"context"
	"fmt"

	"github.com/agentfi/agentfi-social-agent/internal/actions"
)

// DefaultJournalLimit caps ListJournal when no limit is given.
const DefaultJournalLimit = 50

// Record appends one action outcome to the journal.
func (s *Store) Record(ctx context.Context, e actions.Entry) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO action_journal (id, agent, action, status, message, text, tweet_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Agent, e.Action, e.Status, e.Message, e.Text, e.TweetID, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: record journal entry: %w", err)
	}
	return nil
}

// ListJournal returns the newest entries of agentName first.
func (s *Store) ListJournal(ctx context.Context, agentName string, limit int) ([]actions.Entry, error) {
	if limit <= 0 {
		limit = DefaultJournalLimit
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, agent, action, status, message, text, tweet_id, created_at
		 FROM action_journal WHERE agent = $1
		 ORDER BY created_at DESC LIMIT $2`, agentName, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list journal: %w", err)
	}
	defer rows.Close()

	entries := []actions.Entry{}
	for rows.Next() {
		var e actions.Entry
		if err := rows.Scan(&e.ID, &e.Agent, &e.Action, &e.Status, &e.Message, &e.Text, &e.TweetID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan journal entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list journal: %w", err)
	}
	return entries, nil
}
