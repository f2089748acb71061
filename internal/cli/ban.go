package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/banledger/internal/ban"
)

// BanOptions holds flags for the ban and bantime commands.
type BanOptions struct {
	*RootOptions
	Time     int64
	Attempts int
	Matches  []string
}

// NewBanCommand creates the ban command.
func NewBanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ban <jail> <address>",
		Short: "Record a ban event",
		Long: `Record a ban event for an address in a jail.

The ban time and ban count are computed from the address's history using
the jail's escalation settings, then the event is appended to the ledger.

Examples:
  banledger ban --db ./ledger.db sshd 192.0.2.10
  banledger ban --db ./ledger.db sshd 192.0.2.10 --attempts 5 \
    --match "Failed password for root" --match "Failed password for admin"`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBan(opts, args[0], args[1], cmd)
		},
	}

	addTicketFlags(cmd, opts)
	cmd.Flags().IntVar(&opts.Attempts, "attempts", 1, "number of failures that led to the ban")
	cmd.Flags().StringArrayVar(&opts.Matches, "match", nil, "matched log line (repeatable)")

	return cmd
}

func addTicketFlags(cmd *cobra.Command, opts *BanOptions) {
	cmd.Flags().Int64Var(&opts.Time, "time", 0, "unix time of the ban (default now)")
}

func (o *BanOptions) ticket(address string) ban.Ticket {
	t := ban.NewTicket(address, o.Time, o.Matches...)
	if t.Time == 0 {
		t.Time = o.now().Unix()
	}
	t.Attempts = o.Attempts
	return t
}

func runBan(opts *BanOptions, jail, address string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	st, cfg, err := openLedger(opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeLedger(st)

	t, err := newEngine(st, cfg).Prepare(ctx, jail, opts.ticket(address))
	if err != nil {
		return ledgerError("failed to compute ban time", err)
	}

	stored, err := st.AddBan(ctx, jail, t)
	if err != nil {
		return ledgerError("failed to record ban", err)
	}

	return newFormatter(cmd, opts.RootOptions).Render(stored, func(w io.Writer) {
		writeTicket(w, &stored)
	})
}

// BanTimeResult is the bantime command's output.
type BanTimeResult struct {
	Jail    string `json:"jail"`
	Address string `json:"address"`
	BanTime int64  `json:"bantime"`
}

// NewBanTimeCommand creates the bantime command.
func NewBanTimeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "bantime <jail> <address>",
		Short: "Show the ban time the next ban would get",
		Long: `Compute the escalated ban time for the next ban of an address without
recording anything. A negative result means the ban is permanent.

Examples:
  banledger bantime --db ./ledger.db sshd 192.0.2.10
  banledger bantime --config /etc/banledger.yaml sshd 192.0.2.10 --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBanTime(opts, args[0], args[1], cmd)
		},
	}

	addTicketFlags(cmd, opts)

	return cmd
}

func runBanTime(opts *BanOptions, jail, address string, cmd *cobra.Command) error {
	st, cfg, err := openLedger(opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeLedger(st)

	banTime, err := newEngine(st, cfg).BanTime(commandContext(cmd), jail, opts.ticket(address))
	if err != nil {
		return ledgerError("failed to compute ban time", err)
	}

	result := BanTimeResult{Jail: ban.NormalizeJail(jail), Address: address, BanTime: banTime}
	return newFormatter(cmd, opts.RootOptions).Render(result, func(w io.Writer) {
		fmt.Fprintf(w, "[%s] %s bantime=%d\n", result.Jail, result.Address, result.BanTime)
	})
}
