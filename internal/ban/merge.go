package ban

import "sort"

// Merge folds the ban events of a single address into one summary ticket.
//
// Events are ordered by Time ascending (stable, so insertion order breaks
// ties). The merged ticket carries the sum of attempts, the concatenation of
// matches in that order, and the Time, BanTime and BanCount of the latest
// event. Jail is kept only when every event belongs to the same jail.
//
// Returns nil when events is empty.
func Merge(events []Ticket) *Ticket {
	if len(events) == 0 {
		return nil
	}

	ordered := make([]Ticket, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Time < ordered[j].Time
	})

	latest := ordered[len(ordered)-1]
	merged := &Ticket{
		Jail:     latest.Jail,
		Address:  latest.Address,
		Time:     latest.Time,
		BanTime:  latest.BanTime,
		BanCount: latest.BanCount,
		Matches:  []string{},
	}

	for _, ev := range ordered {
		merged.Attempts += ev.Attempts
		merged.Matches = append(merged.Matches, ev.Matches...)
		if ev.Jail != merged.Jail {
			merged.Jail = ""
		}
	}

	return merged
}

// MergeByAddress groups events by address and merges each group.
// The result is ordered by address so repeated queries are reproducible.
func MergeByAddress(events []Ticket) []*Ticket {
	groups := make(map[string][]Ticket)
	var addresses []string
	for _, ev := range events {
		if _, ok := groups[ev.Address]; !ok {
			addresses = append(addresses, ev.Address)
		}
		groups[ev.Address] = append(groups[ev.Address], ev)
	}
	sort.Strings(addresses)

	merged := make([]*Ticket, 0, len(addresses))
	for _, addr := range addresses {
		merged = append(merged, Merge(groups[addr]))
	}
	return merged
}
