package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

// PurgeOptions holds flags for the purge command.
type PurgeOptions struct {
	*RootOptions
	Now int64
}

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PurgeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove expired bans and retired jails",
		Long: `Remove every ban that has expired, then every disabled jail left
without bans together with its tracked log files. Permanent bans are
never removed.

Examples:
  banledger purge --db ./ledger.db
  banledger purge --db ./ledger.db --now 1700000000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurge(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.Now, "now", 0, "purge as of this unix time (default now)")

	return cmd
}

func runPurge(opts *PurgeOptions, cmd *cobra.Command) error {
	st, _, err := openLedger(opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeLedger(st)

	now := opts.Now
	if now == 0 {
		now = opts.now().Unix()
	}

	result, err := st.Purge(commandContext(cmd), now)
	if err != nil {
		return ledgerError("failed to purge", err)
	}
	slog.Debug("purge complete", "bans", result.Bans, "jails", result.Jails, "now", now)

	return newFormatter(cmd, opts.RootOptions).Render(result, func(w io.Writer) {
		fmt.Fprintf(w, "Purged %d bans and %d jails.\n", result.Bans, result.Jails)
	})
}
