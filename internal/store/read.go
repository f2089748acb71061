package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/banledger/internal/ban"
)

// NoBanTimeWindow disables the ban-time window of CurrentQuery.
const NoBanTimeWindow int64 = -1

// Deterministic orderings. The row id breaks timestamp ties in insertion order.
const (
	orderNewestFirst   = "b.time_of_ban DESC, b.id DESC"
	orderChronological = "b.time_of_ban ASC, b.id ASC"
	orderByAddress     = "b.address COLLATE BINARY ASC, b.time_of_ban ASC, b.id ASC"
)

// eventFilter selects ban events. Zero fields do not filter.
type eventFilter struct {
	jail    string
	address string

	// hasMinTime keeps events with time_of_ban >= minTime, or > minTime
	// when strict is set.
	hasMinTime bool
	minTime    int64
	strict     bool
}

func (f eventFilter) where() (string, []any) {
	var clauses []string
	var args []any
	if f.jail != "" {
		clauses = append(clauses, "j.name = ?")
		args = append(args, ban.NormalizeJail(f.jail))
	}
	if f.address != "" {
		clauses = append(clauses, "b.address = ?")
		args = append(args, f.address)
	}
	if f.hasMinTime {
		if f.strict {
			clauses = append(clauses, "b.time_of_ban > ?")
		} else {
			clauses = append(clauses, "b.time_of_ban >= ?")
		}
		args = append(args, f.minTime)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// queryEvents returns the events matching f in the given order.
// Callers hold s.mu.
func (s *Store) queryEvents(ctx context.Context, f eventFilter, order string) ([]ban.Ticket, error) {
	where, args := f.where()
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.event_id, j.name, b.address, b.time_of_ban, b.ban_time, b.ban_count, b.data
		FROM bans b
		JOIN jails j ON j.id = b.jail_id`+where+`
		ORDER BY `+order, args...)
	if err != nil {
		return nil, fmt.Errorf("query bans: %w", err)
	}
	defer rows.Close()

	tickets := []ban.Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bans: %w", err)
	}

	return tickets, nil
}

// scanTicket scans a row into a Ticket.
func scanTicket(rows *sql.Rows) (ban.Ticket, error) {
	var t ban.Ticket
	var data string

	if err := rows.Scan(
		&t.EventID, &t.Jail, &t.Address, &t.Time, &t.BanTime, &t.BanCount, &data,
	); err != nil {
		return ban.Ticket{}, fmt.Errorf("scan ban: %w", err)
	}

	d, err := decodeBanData(data)
	if err != nil {
		return ban.Ticket{}, err
	}
	t.Matches = d.Matches
	t.Attempts = d.Failures

	return t, nil
}

// ListBans returns ban events, most recent first.
//
// An empty jail means all jails. A positive sinceAge keeps events with
// time_of_ban >= now - sinceAge.
// Returns empty slice (not nil) if no events match.
func (s *Store) ListBans(ctx context.Context, jail string, sinceAge int64) ([]ban.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(); err != nil {
		return nil, err
	}

	f := eventFilter{jail: jail}
	if sinceAge > 0 {
		f.hasMinTime = true
		f.minTime = s.nowUnix() - sinceAge
	}
	return s.queryEvents(ctx, f, orderNewestFirst)
}

// HistoryQuery selects the escalation history of one address.
type HistoryQuery struct {
	Address string

	// Jail restricts history to one jail. Ignored when Overall is set;
	// empty means all jails.
	Jail string

	// ForBanTime, when positive, keeps only bans with
	// time_of_ban > now - ForBanTime.
	ForBanTime int64

	// Overall aggregates history across every jail.
	Overall bool
}

// FindBanHistory returns the escalation history for an address: at most one
// record holding the highest ban count in scope and the time and ban time of
// the latest event. Returns empty slice (not nil) when the address has no
// bans in scope.
func (s *Store) FindBanHistory(ctx context.Context, q HistoryQuery) ([]ban.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(); err != nil {
		return nil, err
	}

	f := eventFilter{address: q.Address}
	if !q.Overall {
		f.jail = q.Jail
	}
	if q.ForBanTime > 0 {
		f.hasMinTime = true
		f.strict = true
		f.minTime = s.nowUnix() - q.ForBanTime
	}

	events, err := s.queryEvents(ctx, f, orderChronological)
	if err != nil {
		return nil, fmt.Errorf("find ban history: %w", err)
	}
	if len(events) == 0 {
		return []ban.Record{}, nil
	}

	latest := events[len(events)-1]
	rec := ban.Record{BanCount: latest.BanCount, Time: latest.Time, BanTime: latest.BanTime}
	for _, ev := range events {
		rec.BanCount = max(rec.BanCount, ev.BanCount)
	}
	return []ban.Record{rec}, nil
}

// CurrentQuery selects bans still in effect, used to re-arm bans at startup.
type CurrentQuery struct {
	// Jail restricts the query to one jail; empty merges across jails.
	Jail string

	// ForBanTime is the minimum duration every ban is assumed to last.
	// When set (anything but 0 or NoBanTimeWindow) it also keeps only bans
	// with time_of_ban > From - ForBanTime.
	ForBanTime int64

	// From is the instant to evaluate at. Zero means now.
	From int64
}

// CurrentlyBanned returns, per address, the most recent ban event in scope
// if it is still active at q.From. Active means permanent, or
// time_of_ban + max(ban_time, ForBanTime) > From.
//
// Returned tickets have Restored set and are ordered by address.
func (s *Store) CurrentlyBanned(ctx context.Context, q CurrentQuery) ([]ban.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(); err != nil {
		return nil, err
	}

	from := q.From
	if from == 0 {
		from = s.nowUnix()
	}
	window := q.ForBanTime
	if window == 0 {
		window = NoBanTimeWindow
	}

	f := eventFilter{jail: q.Jail}
	if window != NoBanTimeWindow {
		f.hasMinTime = true
		f.strict = true
		f.minTime = from - window
	}

	events, err := s.queryEvents(ctx, f, orderByAddress)
	if err != nil {
		return nil, fmt.Errorf("current bans: %w", err)
	}

	current := []ban.Ticket{}
	for i, ev := range events {
		// Rows are grouped by address; keep the last row of each group.
		if i+1 < len(events) && events[i+1].Address == ev.Address {
			continue
		}
		if !ev.ActiveAt(from, window) {
			continue
		}
		ev.Restored = true
		current = append(current, ev)
	}
	return current, nil
}
