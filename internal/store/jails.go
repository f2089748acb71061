package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/banledger/internal/ban"
)

// RegisterJail inserts the jail or updates its enabled flag (idempotent upsert).
func (s *Store) RegisterJail(ctx context.Context, name string, enabled bool) error {
	name = ban.NormalizeJail(name)
	if name == "" {
		return fmt.Errorf("register jail: empty name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jails (name, enabled) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET enabled = excluded.enabled
	`, name, boolToInt(enabled))
	if err != nil {
		return fmt.Errorf("register jail: %w", err)
	}

	slog.Debug("registered jail", "jail", name, "enabled", enabled)
	return nil
}

// DisableJail marks the jail disabled. The row stays until Purge finds it
// without remaining bans. Disabling an unknown jail is a no-op.
func (s *Store) DisableJail(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE jails SET enabled = 0 WHERE name = ?`, ban.NormalizeJail(name)); err != nil {
		return fmt.Errorf("disable jail: %w", err)
	}
	return nil
}

// DisableAllJails marks every jail disabled. Run at startup before the
// configured jails re-register themselves.
func (s *Store) DisableAllJails(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE jails SET enabled = 0`); err != nil {
		return fmt.Errorf("disable all jails: %w", err)
	}
	return nil
}

// Jails returns every jail ordered by name.
// Returns empty slice (not nil) if none are registered.
func (s *Store) Jails(ctx context.Context) ([]ban.Jail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT name, enabled FROM jails ORDER BY name COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("query jails: %w", err)
	}
	defer rows.Close()

	jails := []ban.Jail{}
	for rows.Next() {
		var j ban.Jail
		var enabled int
		if err := rows.Scan(&j.Name, &enabled); err != nil {
			return nil, fmt.Errorf("scan jail: %w", err)
		}
		j.Enabled = enabled != 0
		jails = append(jails, j)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jails: %w", err)
	}

	return jails, nil
}

// JailNames returns the names of every jail ordered by name.
func (s *Store) JailNames(ctx context.Context) ([]string, error) {
	jails, err := s.Jails(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(jails))
	for _, j := range jails {
		names = append(names, j.Name)
	}
	return names, nil
}

// jailID resolves a jail name inside a transaction.
func jailID(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM jails WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, unknownJail(name)
	}
	if err != nil {
		return 0, fmt.Errorf("lookup jail %q: %w", name, err)
	}
	return id, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
