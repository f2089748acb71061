package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/banledger/internal/store"
)

// MigrateOptions holds flags for the migrate command.
type MigrateOptions struct {
	*RootOptions
	To int
}

// MigrateResult is the migrate command's output.
type MigrateResult struct {
	Path    string `json:"path"`
	Version int    `json:"version"`
	Backup  string `json:"backup"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Upgrade the ledger schema",
		Long: `Upgrade the ledger schema to a version. A backup copy of the database
is written next to it before anything changes.

Upgrading to a version not greater than the current one is refused and
leaves the file untouched (exit code 1).

Examples:
  banledger migrate --db ./ledger.db
  banledger migrate --db ./ledger.db --to 1`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.To, "to", store.CurrentSchemaVersion, "target schema version")

	return cmd
}

func runMigrate(opts *MigrateOptions, cmd *cobra.Command) error {
	st, _, err := openLedger(opts.RootOptions, store.WithSchemaVersion(opts.To))
	if err != nil {
		return err
	}
	defer closeLedger(st)

	// Open upgrades a legacy file on its own. Anything else is already at
	// or past the target, which Migrate refuses.
	if st.BackupPath() == "" {
		if err := st.Migrate(commandContext(cmd), opts.To); err != nil {
			return ledgerError("failed to migrate", err)
		}
	}

	result := MigrateResult{Path: st.Path(), Version: st.SchemaVersion(), Backup: st.BackupPath()}
	return newFormatter(cmd, opts.RootOptions).Render(result, func(w io.Writer) {
		fmt.Fprintf(w, "Migrated %s to schema version %d.\n", result.Path, result.Version)
		fmt.Fprintf(w, "Backup: %s\n", result.Backup)
	})
}
