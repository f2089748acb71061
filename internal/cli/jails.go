package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/banledger/internal/ban"
)

// JailsOptions holds flags for the jails command.
type JailsOptions struct {
	*RootOptions
	Sync    bool
	Disable string
}

// NewJailsCommand creates the jails command.
func NewJailsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JailsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "jails",
		Short: "List jails known to the ledger",
		Long: `List the jails recorded in the ledger with their enabled flag.

With --sync every stored jail is first disabled and the jails from the
config file are registered again. Disabled jails are removed by purge once
none of their bans remain.

Examples:
  banledger jails --db ./ledger.db
  banledger jails --config /etc/banledger.yaml --sync
  banledger jails --db ./ledger.db --disable nginx`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJails(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Sync, "sync", false, "register configured jails and disable the rest")
	cmd.Flags().StringVar(&opts.Disable, "disable", "", "mark a jail disabled")

	return cmd
}

func runJails(opts *JailsOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	st, cfg, err := openLedger(opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeLedger(st)

	if opts.Sync {
		if err := syncJails(ctx, st, cfg); err != nil {
			return ledgerError("failed to sync jails", err)
		}
	}
	if opts.Disable != "" {
		if err := st.DisableJail(ctx, opts.Disable); err != nil {
			return ledgerError("failed to disable jail", err)
		}
	}

	jails, err := st.Jails(ctx)
	if err != nil {
		return ledgerError("failed to list jails", err)
	}

	return newFormatter(cmd, opts.RootOptions).Render(jails, func(w io.Writer) {
		if len(jails) == 0 {
			fmt.Fprintln(w, "No jails registered.")
			return
		}
		for _, j := range jails {
			fmt.Fprintf(w, "%-16s %s\n", j.Name, jailState(j))
		}
	})
}

func jailState(j ban.Jail) string {
	if j.Enabled {
		return "enabled"
	}
	return "disabled"
}
