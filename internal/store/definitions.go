package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/agentfi/agentfi-social-agent/internal/agent"
)

// List returns the stored definition names, sorted, without "general".
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT name FROM agent_definitions WHERE name <> $1 ORDER BY name`, agent.GeneralName)
	if err != nil {
		return nil, fmt.Errorf("store: list definitions: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("store: scan definition name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list definitions: %w", err)
	}
	return names, nil
}

// Get loads and validates one definition.
func (s *Store) Get(ctx context.Context, name string) (agent.Definition, error) {
	var data []byte
	err := s.db.QueryRow(ctx,
		`SELECT definition FROM agent_definitions WHERE name = $1`, name).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return agent.Definition{}, fmt.Errorf("%w: %q", agent.ErrNotFound, name)
	}
	if err != nil {
		return agent.Definition{}, fmt.Errorf("store: get definition: %w", err)
	}
	return agent.ParseDefinition(name, data)
}

// UpsertDefinition inserts or replaces a definition.
func (s *Store) UpsertDefinition(ctx context.Context, def agent.Definition) error {
	if def.Name == "" {
		return fmt.Errorf("%w: definition has no name", agent.ErrValidation)
	}
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("store: encode definition: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO agent_definitions (name, definition, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (name) DO UPDATE SET definition = EXCLUDED.definition, updated_at = now()`,
		def.Name, data)
	if err != nil {
		return fmt.Errorf("store: upsert definition: %w", err)
	}
	return nil
}

// SyncDefinitions copies every definition of src into the database in one
// transaction. Invalid source definitions are logged and skipped.
func (s *Store) SyncDefinitions(ctx context.Context, src agent.Catalog) (int, error) {
	names, err := src.List(ctx)
	if err != nil {
		return 0, err
	}
	synced := 0
	err = s.Tx(ctx, func(tx *Store) error {
		for _, name := range names {
			def, err := src.Get(ctx, name)
			if err != nil {
				if errors.Is(err, agent.ErrValidation) {
					slog.Warn("store: skipping invalid definition",
						slog.String("agent", name),
						slog.String("error", err.Error()),
					)
					continue
				}
				return err
			}
			if err := tx.UpsertDefinition(ctx, def); err != nil {
				return err
			}
			synced++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return synced, nil
}
