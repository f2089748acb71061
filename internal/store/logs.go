package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/banledger/internal/ban"
)

// RecordPosition upserts the read offset and fingerprint of a tracked log file.
func (s *Store) RecordPosition(ctx context.Context, jail, path, fingerprint string, offset int64) error {
	jail = ban.NormalizeJail(jail)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record position: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	id, err := jailID(ctx, tx, jail)
	if err != nil {
		return fmt.Errorf("record position: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO logs (jail_id, path, fingerprint, position) VALUES (?, ?, ?, ?)
		ON CONFLICT(jail_id, path) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			position = excluded.position
	`, id, path, fingerprint, offset); err != nil {
		return fmt.Errorf("record position: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record position: commit: %w", err)
	}
	return nil
}

// ResumePosition returns the stored offset for the file when fingerprint
// matches the stored one.
//
// ok is false when the file was never tracked or its fingerprint changed
// (rotated or truncated); the caller must read from the start. In both cases
// the row is written back with the new fingerprint and offset zero, so no
// separate reset call is needed.
func (s *Store) ResumePosition(ctx context.Context, jail, path, fingerprint string) (offset int64, ok bool, err error) {
	jail = ban.NormalizeJail(jail)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return 0, false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("resume position: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	id, err := jailID(ctx, tx, jail)
	if err != nil {
		return 0, false, fmt.Errorf("resume position: %w", err)
	}

	var stored string
	err = tx.QueryRowContext(ctx,
		`SELECT fingerprint, position FROM logs WHERE jail_id = ? AND path = ?`, id, path,
	).Scan(&stored, &offset)
	switch {
	case err == nil && stored == fingerprint:
		return offset, true, nil
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return 0, false, fmt.Errorf("resume position: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO logs (jail_id, path, fingerprint, position) VALUES (?, ?, ?, 0)
		ON CONFLICT(jail_id, path) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			position = 0
	`, id, path, fingerprint); err != nil {
		return 0, false, fmt.Errorf("resume position: reset: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("resume position: commit: %w", err)
	}
	return 0, false, nil
}

// LogPaths returns the tracked file paths of jail, or of every jail when
// jail is empty. Paths are deduplicated and sorted.
func (s *Store) LogPaths(ctx context.Context, jail string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(); err != nil {
		return nil, err
	}

	query := `SELECT DISTINCT l.path FROM logs l JOIN jails j ON j.id = l.jail_id`
	var args []any
	if jail != "" {
		query += ` WHERE j.name = ?`
		args = append(args, ban.NormalizeJail(jail))
	}
	query += ` ORDER BY l.path COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query log paths: %w", err)
	}
	defer rows.Close()

	paths := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan log path: %w", err)
		}
		paths = append(paths, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log paths: %w", err)
	}

	return paths, nil
}
