// Package ban defines the domain types shared by the ledger: tickets (one
// recorded ban event), jails, and the history records used for escalation.
//
// Tickets are plain values. The only non-trivial logic here is Merge, which
// folds the events of one address into a single summary ticket; the store
// calls it and caches the result.
//
// All timestamps are Unix seconds. A negative BanTime marks a permanent ban.
package ban
