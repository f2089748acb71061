package store

import (
	"context"
	"fmt"
	"log/slog"
)

// PurgeResult counts the rows removed by Purge.
type PurgeResult struct {
	Bans  int64 `json:"bans"`
	Jails int64 `json:"jails"`
}

// Purge removes expired ban events and then every disabled jail left without
// ban events, along with its tracked log files.
//
// A ban is expired when time_of_ban + ban_time <= now; permanent bans never
// expire. Expired bans go first so a disabled jail holding only expired bans
// is removed in the same call, while a disabled jail with an active ban
// keeps both.
func (s *Store) Purge(ctx context.Context, now int64) (PurgeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return PurgeResult{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PurgeResult{}, fmt.Errorf("purge: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	rows, err := tx.QueryContext(ctx, `
		SELECT DISTINCT address FROM bans
		WHERE ban_time >= 0 AND time_of_ban + ban_time <= ?
	`, now)
	if err != nil {
		return PurgeResult{}, fmt.Errorf("purge: query expired: %w", err)
	}
	var addresses []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			rows.Close()
			return PurgeResult{}, fmt.Errorf("purge: scan expired: %w", err)
		}
		addresses = append(addresses, a)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return PurgeResult{}, fmt.Errorf("purge: iterate expired: %w", err)
	}
	rows.Close()

	var result PurgeResult

	res, err := tx.ExecContext(ctx, `
		DELETE FROM bans
		WHERE ban_time >= 0 AND time_of_ban + ban_time <= ?
	`, now)
	if err != nil {
		return PurgeResult{}, fmt.Errorf("purge: delete bans: %w", err)
	}
	result.Bans, _ = res.RowsAffected()

	const orphaned = `enabled = 0 AND NOT EXISTS (SELECT 1 FROM bans WHERE bans.jail_id = jails.id)`

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM logs WHERE jail_id IN (SELECT id FROM jails WHERE `+orphaned+`)`); err != nil {
		return PurgeResult{}, fmt.Errorf("purge: delete logs: %w", err)
	}

	res, err = tx.ExecContext(ctx, `DELETE FROM jails WHERE `+orphaned)
	if err != nil {
		return PurgeResult{}, fmt.Errorf("purge: delete jails: %w", err)
	}
	result.Jails, _ = res.RowsAffected()

	s.cache.invalidate(addresses...)

	if err := tx.Commit(); err != nil {
		return PurgeResult{}, fmt.Errorf("purge: commit: %w", err)
	}

	slog.Info("purged ledger", "bans", result.Bans, "jails", result.Jails)
	return result, nil
}
