// Package escalate computes ban durations for repeat offenders.
//
// NextBanDuration is a pure function of an address's ban history and a
// Config. Engine wraps it with a history lookup so callers can stamp a
// ticket right before handing it to the ledger. Escalation state lives only
// in the ledger: asking for a duration never advances it, only a recorded
// ban does.
package escalate

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/roach88/banledger/internal/ban"
	"github.com/roach88/banledger/internal/store"
)

// PriorBans returns the number of bans already recorded in history, taken
// as the highest ban count it carries.
func PriorBans(history []ban.Record) int {
	n := 0
	for _, r := range history {
		n = max(n, r.BanCount)
	}
	return n
}

// NextBanDuration returns the duration in seconds for the next ban of an
// address with the given history.
//
// With n prior bans the result is BanTime * Multipliers[min(n, len-1)],
// capped at MaxTime when MaxTime is positive. Past the end of the table the
// duration stays at the last step. A disabled config, an empty table or a
// permanent BanTime return BanTime unchanged.
func NextBanDuration(history []ban.Record, cfg Config) int64 {
	if !cfg.Enabled || len(cfg.Multipliers) == 0 || cfg.BanTime < 0 {
		return cfg.BanTime
	}

	idx := min(PriorBans(history), len(cfg.Multipliers)-1)
	d := float64(cfg.BanTime) * cfg.Multipliers[idx]
	if cfg.MaxTime > 0 && d > float64(cfg.MaxTime) {
		return cfg.MaxTime
	}
	// Converting a float beyond the int64 range is undefined; saturate so
	// an overflow never reads as a permanent ban.
	if d >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(d)
}

// HistorySource supplies escalation history. *store.Store implements it.
type HistorySource interface {
	FindBanHistory(ctx context.Context, q store.HistoryQuery) ([]ban.Record, error)
}

// Engine resolves per-jail escalation settings and looks up history.
type Engine struct {
	source   HistorySource
	defaults Config
	jails    map[string]Config
}

// NewEngine creates an engine using defaults for every jail not listed in
// jails.
func NewEngine(source HistorySource, defaults Config, jails map[string]Config) *Engine {
	byName := make(map[string]Config, len(jails))
	for name, cfg := range jails {
		byName[ban.NormalizeJail(name)] = cfg
	}
	return &Engine{source: source, defaults: defaults, jails: byName}
}

// Config returns the escalation settings that apply to jail.
func (e *Engine) Config(jail string) Config {
	if cfg, ok := e.jails[ban.NormalizeJail(jail)]; ok {
		return cfg
	}
	return e.defaults
}

// BanTime returns the duration the next ban of t.Address in jail would get.
// Nothing is written.
func (e *Engine) BanTime(ctx context.Context, jail string, t ban.Ticket) (int64, error) {
	cfg := e.Config(jail)
	history, err := e.history(ctx, jail, t.Address, cfg)
	if err != nil {
		return 0, err
	}
	return NextBanDuration(history, cfg), nil
}

// Prepare stamps t with the next ban duration and ban count so it can be
// passed to the ledger's AddBan.
func (e *Engine) Prepare(ctx context.Context, jail string, t ban.Ticket) (ban.Ticket, error) {
	cfg := e.Config(jail)
	history, err := e.history(ctx, jail, t.Address, cfg)
	if err != nil {
		return ban.Ticket{}, err
	}

	t.BanTime = NextBanDuration(history, cfg)
	t.BanCount = PriorBans(history) + 1

	slog.Debug("escalated ban",
		"jail", jail,
		"address", t.Address,
		"bancount", t.BanCount,
		"bantime", t.BanTime,
	)
	return t, nil
}

// history looks up prior bans. It runs even when escalation is disabled so
// the recorded ban count keeps advancing.
func (e *Engine) history(ctx context.Context, jail, address string, cfg Config) ([]ban.Record, error) {
	history, err := e.source.FindBanHistory(ctx, store.HistoryQuery{
		Address:    address,
		Jail:       jail,
		ForBanTime: cfg.ResetAfter,
		Overall:    cfg.OverallJails,
	})
	if err != nil {
		return nil, fmt.Errorf("ban history for %s in %s: %w", address, jail, err)
	}
	return history, nil
}
