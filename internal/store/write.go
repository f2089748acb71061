package store

import (
	"context"
	"fmt"

	"github.com/roach88/banledger/internal/ban"
)

// AddBan records a ban event for jail and returns the stored ticket with its
// EventID assigned.
//
// Every call inserts a new row; no deduplication is performed. The caller
// decides BanTime and BanCount (see package escalate); a BanCount below 1 is
// stored as 1. Cached merges for t.Address are invalidated before the
// transaction commits.
func (s *Store) AddBan(ctx context.Context, jail string, t ban.Ticket) (ban.Ticket, error) {
	jail = ban.NormalizeJail(jail)
	if t.Address == "" {
		return ban.Ticket{}, fmt.Errorf("add ban: empty address")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return ban.Ticket{}, err
	}

	// Stale cache is safe, stale storage is not: drop first, even if the
	// insert below fails.
	s.cache.invalidate(t.Address)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ban.Ticket{}, fmt.Errorf("add ban: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	id, err := jailID(ctx, tx, jail)
	if err != nil {
		return ban.Ticket{}, fmt.Errorf("add ban: %w", err)
	}

	stored := t
	stored.Jail = jail
	stored.Restored = false
	if stored.EventID == "" {
		stored.EventID = newEventID()
	}
	if stored.BanCount < 1 {
		stored.BanCount = 1
	}
	// Matched lines are opaque and stored byte for byte.
	stored.Matches = append([]string{}, t.Matches...)

	data := encodeBanData(banData{Matches: stored.Matches, Failures: stored.Attempts})

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO bans
		(event_id, jail_id, address, time_of_ban, ban_time, ban_count, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		stored.EventID,
		id,
		stored.Address,
		stored.Time,
		stored.BanTime,
		stored.BanCount,
		data,
	); err != nil {
		return ban.Ticket{}, fmt.Errorf("add ban: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ban.Ticket{}, fmt.Errorf("add ban: commit: %w", err)
	}

	return stored, nil
}
