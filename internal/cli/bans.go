package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/banledger/internal/ban"
	"github.com/roach88/banledger/internal/store"
)

// BansOptions holds flags for the bans and merged commands.
type BansOptions struct {
	*RootOptions
	Jail  string
	Since time.Duration
}

// NewBansCommand creates the bans command.
func NewBansCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BansOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "bans",
		Short: "List recorded ban events",
		Long: `List recorded ban events, most recent first.

Examples:
  banledger bans --db ./ledger.db
  banledger bans --db ./ledger.db --jail sshd --since 24h
  banledger bans --db ./ledger.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBans(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Jail, "jail", "", "only events of this jail")
	cmd.Flags().DurationVar(&opts.Since, "since", 0, "only events banned within this long ago")

	return cmd
}

func runBans(opts *BansOptions, cmd *cobra.Command) error {
	st, _, err := openLedger(opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeLedger(st)

	bans, err := st.ListBans(commandContext(cmd), opts.Jail, seconds(opts.Since))
	if err != nil {
		return ledgerError("failed to list bans", err)
	}

	return newFormatter(cmd, opts.RootOptions).Render(bans, func(w io.Writer) {
		if len(bans) == 0 {
			fmt.Fprintln(w, "No bans found.")
			return
		}
		for i := range bans {
			writeTicket(w, &bans[i])
		}
	})
}

// NewMergedCommand creates the merged command.
func NewMergedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BansOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "merged [address]",
		Short: "Show ban history merged per address",
		Long: `Merge every ban event of an address into one ticket: attempts are
summed, matched lines concatenated in ban order, and the time, ban time
and ban count come from the latest event.

Without an address one merged ticket is shown per banned address.

Examples:
  banledger merged --db ./ledger.db 192.0.2.10
  banledger merged --db ./ledger.db --jail sshd --since 168h`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			address := ""
			if len(args) == 1 {
				address = args[0]
			}
			return runMerged(opts, address, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Jail, "jail", "", "only events of this jail")
	cmd.Flags().DurationVar(&opts.Since, "since", 0, "only events banned within this long ago")

	return cmd
}

func runMerged(opts *BansOptions, address string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	st, _, err := openLedger(opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeLedger(st)

	var merged []*ban.Ticket
	if address != "" {
		t, err := st.MergedHistory(ctx, address, opts.Jail, seconds(opts.Since))
		if err != nil {
			return ledgerError("failed to merge history", err)
		}
		if t != nil {
			merged = append(merged, t)
		}
	} else {
		merged, err = st.MergedHistories(ctx, opts.Jail, seconds(opts.Since))
		if err != nil {
			return ledgerError("failed to merge history", err)
		}
	}
	if merged == nil {
		merged = []*ban.Ticket{}
	}

	return newFormatter(cmd, opts.RootOptions).Render(merged, func(w io.Writer) {
		if len(merged) == 0 {
			fmt.Fprintln(w, "No bans found.")
			return
		}
		for _, t := range merged {
			writeTicket(w, t)
		}
	})
}

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Jail    string
	Overall bool
	Window  time.Duration
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <address>",
		Short: "Show the escalation history of an address",
		Long: `Show the escalation input for an address: the highest ban count and
the time and ban time of its latest ban.

Examples:
  banledger history --db ./ledger.db 192.0.2.10 --jail sshd
  banledger history --db ./ledger.db 192.0.2.10 --overall --window 24h`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Jail, "jail", "", "only bans of this jail")
	cmd.Flags().BoolVar(&opts.Overall, "overall", false, "aggregate bans across all jails")
	cmd.Flags().DurationVar(&opts.Window, "window", 0, "only bans newer than this")

	return cmd
}

func runHistory(opts *HistoryOptions, address string, cmd *cobra.Command) error {
	st, _, err := openLedger(opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeLedger(st)

	records, err := st.FindBanHistory(commandContext(cmd), store.HistoryQuery{
		Address:    address,
		Jail:       opts.Jail,
		ForBanTime: seconds(opts.Window),
		Overall:    opts.Overall,
	})
	if err != nil {
		return ledgerError("failed to read ban history", err)
	}

	return newFormatter(cmd, opts.RootOptions).Render(records, func(w io.Writer) {
		if len(records) == 0 {
			fmt.Fprintf(w, "No ban history for %s.\n", address)
			return
		}
		for _, r := range records {
			fmt.Fprintf(w, "bancount=%d time=%d bantime=%d\n", r.BanCount, r.Time, r.BanTime)
		}
	})
}

// CurrentOptions holds flags for the current command.
type CurrentOptions struct {
	*RootOptions
	Jail    string
	BanTime time.Duration
	From    int64
}

// NewCurrentCommand creates the current command.
func NewCurrentCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CurrentOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "current",
		Short: "List bans still in effect",
		Long: `List, per address, the latest ban if it is still in effect. These are
the bans a restarted daemon re-arms.

Examples:
  banledger current --db ./ledger.db
  banledger current --db ./ledger.db --jail sshd --bantime 1h
  banledger current --db ./ledger.db --from 1700000000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCurrent(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Jail, "jail", "", "only bans of this jail")
	cmd.Flags().DurationVar(&opts.BanTime, "bantime", 0, "assume every ban lasts at least this long, and ignore older bans")
	cmd.Flags().Int64Var(&opts.From, "from", 0, "evaluate at this unix time (default now)")

	return cmd
}

func runCurrent(opts *CurrentOptions, cmd *cobra.Command) error {
	st, _, err := openLedger(opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeLedger(st)

	current, err := st.CurrentlyBanned(commandContext(cmd), store.CurrentQuery{
		Jail:       opts.Jail,
		ForBanTime: seconds(opts.BanTime),
		From:       opts.From,
	})
	if err != nil {
		return ledgerError("failed to list current bans", err)
	}

	return newFormatter(cmd, opts.RootOptions).Render(current, func(w io.Writer) {
		if len(current) == 0 {
			fmt.Fprintln(w, "No bans in effect.")
			return
		}
		for i := range current {
			writeTicket(w, &current[i])
		}
	})
}

// seconds converts a flag duration to whole seconds.
func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}
