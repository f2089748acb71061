package ban

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Permanent is the BanTime sentinel for a ban that never expires.
const Permanent int64 = -1

// Ticket is one recorded decision to block an address.
//
// Tickets returned by the store are snapshots; callers must not mutate the
// Matches slice of a ticket obtained from MergedHistory since it is shared
// with the merge cache.
type Ticket struct {
	// EventID is the store-assigned identifier (UUIDv7) of the ban event.
	// Empty for merged tickets and for tickets not yet written.
	EventID string `json:"event_id,omitempty"`

	// Jail is the jail the event belongs to. Empty for tickets merged
	// across jails.
	Jail string `json:"jail,omitempty"`

	Address  string   `json:"address"`
	Time     int64    `json:"time"`
	BanTime  int64    `json:"bantime"`
	BanCount int      `json:"bancount"`
	Attempts int      `json:"attempts"`
	Matches  []string `json:"matches"`

	// Restored is set on tickets rebuilt from storage after a restart so
	// that ban actions already executed are not run twice. Never persisted.
	Restored bool `json:"restored,omitempty"`
}

// NewTicket creates a ticket for address banned at t.
func NewTicket(address string, t int64, matches ...string) Ticket {
	if matches == nil {
		matches = []string{}
	}
	return Ticket{
		Address: address,
		Time:    t,
		Matches: matches,
	}
}

// IsPermanent reports whether the ban never expires.
func (t Ticket) IsPermanent() bool {
	return t.BanTime < 0
}

// EndTime returns the instant the ban stops being effective.
// The second result is false for permanent bans.
func (t Ticket) EndTime() (int64, bool) {
	if t.IsPermanent() {
		return 0, false
	}
	return t.Time + t.BanTime, true
}

// ActiveAt reports whether the ban is still in effect at instant now,
// treating the ban as lasting at least minBanTime seconds.
func (t Ticket) ActiveAt(now, minBanTime int64) bool {
	if t.IsPermanent() {
		return true
	}
	return t.Time+max(t.BanTime, minBanTime) > now
}

// String renders the ticket in the form used by the CLI text output.
func (t Ticket) String() string {
	return fmt.Sprintf("Ticket: ip=%s time=%d bantime=%d bancount=%d #attempts=%d matches=[%s]",
		t.Address, t.Time, t.BanTime, t.BanCount, t.Attempts, strings.Join(t.Matches, ", "))
}

// Record is one row of escalation history for an address.
type Record struct {
	BanCount int   `json:"bancount"`
	Time     int64 `json:"time"`
	BanTime  int64 `json:"bantime"`
}

// Jail is a named monitoring unit.
type Jail struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// NormalizeJail returns the canonical form of a jail name: trimmed and
// NFC-normalised so that visually identical names map to one row.
func NormalizeJail(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}
