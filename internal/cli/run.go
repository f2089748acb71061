package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/banledger/internal/config"
	"github.com/roach88/banledger/internal/logpos"
	"github.com/roach88/banledger/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Poll bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the ledger daemon",
		Long: `Run the ledger as a long-lived process.

At startup the configured jails are synchronised with the ledger, bans
still in effect are restored, expired state is purged and every configured
log file is followed from its tracked position. Purge then runs every
purge_interval, and read positions are recorded, until SIGINT or SIGTERM.

Example:
  banledger run --config /etc/banledger.yaml
  banledger run --config ./banledger.yaml --db /tmp/ledger.db --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Poll, "poll", false, "poll log files for changes instead of using inotify")

	return cmd
}

func runDaemon(opts *RunOptions, cmd *cobra.Command) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	st, cfg, err := openLedger(opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeLedger(st)
	slog.Info("ledger ready", "path", st.Path(), "schema", st.SchemaVersion())

	if err := syncJails(ctx, st, cfg); err != nil {
		return ledgerError("failed to sync jails", err)
	}

	restored, err := restoreBans(ctx, st, cfg)
	if err != nil {
		return ledgerError("failed to restore bans", err)
	}

	if err := purgeOnce(ctx, st, opts.now()); err != nil {
		return ledgerError("failed to purge", err)
	}

	followers := startFollowers(ctx, st, cfg, opts.Poll)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Restored %d bans.\n", restored)
	fmt.Fprintln(out, "Ledger started. Press Ctrl-C to stop.")

	ticker := time.NewTicker(time.Duration(cfg.PurgeInterval))
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			if err := purgeOnce(ctx, st, opts.now()); err != nil && ctx.Err() == nil {
				slog.Error("purge failed", "error", err)
			}
			followers.checkpoint(ctx)
		}
	}

	followers.stop()
	slog.Info("ledger stopped gracefully")
	fmt.Fprintln(out, "Ledger stopped.")
	return nil
}

// restoreBans logs every ban still in effect in an enabled jail and returns
// how many there are.
func restoreBans(ctx context.Context, st *store.Store, cfg *config.Config) (int, error) {
	total := 0
	for _, name := range cfg.JailNames() {
		if !cfg.Jails[name].IsEnabled() {
			continue
		}
		current, err := st.CurrentlyBanned(ctx, store.CurrentQuery{Jail: name})
		if err != nil {
			return total, fmt.Errorf("jail %s: %w", name, err)
		}
		for _, t := range current {
			slog.Info("restored ban", "jail", t.Jail, "address", t.Address,
				"time", t.Time, "bantime", t.BanTime, "bancount", t.BanCount)
		}
		total += len(current)
	}
	return total, nil
}

func purgeOnce(ctx context.Context, st *store.Store, now time.Time) error {
	result, err := st.Purge(ctx, now.Unix())
	if err != nil {
		return err
	}
	slog.Info("purged expired state", "bans", result.Bans, "jails", result.Jails)
	return nil
}

// followerSet reads every configured log of the enabled jails.
type followerSet struct {
	followers []*logpos.Follower
	wg        sync.WaitGroup
}

func startFollowers(ctx context.Context, st *store.Store, cfg *config.Config, poll bool) *followerSet {
	set := &followerSet{}
	for _, name := range cfg.JailNames() {
		jail := cfg.Jails[name]
		if !jail.IsEnabled() {
			continue
		}
		for _, path := range jail.Logs {
			if _, err := os.Stat(path); err != nil {
				slog.Warn("skipping log", "jail", name, "path", path, "error", err)
				continue
			}
			f, err := logpos.Follow(ctx, st, name, path, logpos.Options{Follow: true, Poll: poll})
			if err != nil {
				slog.Warn("skipping log", "jail", name, "path", path, "error", err)
				continue
			}
			set.followers = append(set.followers, f)
			set.wg.Add(1)
			go set.drain(name, f)
		}
	}
	return set
}

func (s *followerSet) drain(jail string, f *logpos.Follower) {
	defer s.wg.Done()
	for line := range f.Lines() {
		slog.Debug("log line", "jail", jail, "path", f.Path(), "offset", line.Offset, "text", line.Text)
	}
}

func (s *followerSet) checkpoint(ctx context.Context) {
	for _, f := range s.followers {
		if err := f.Checkpoint(ctx); err != nil {
			slog.Error("failed to record log position", "path", f.Path(), "error", err)
		}
	}
}

// stop stops every follower and records its final position.
func (s *followerSet) stop() {
	for _, f := range s.followers {
		if err := f.Stop(); err != nil {
			slog.Warn("error stopping follower", "path", f.Path(), "error", err)
		}
	}
	s.wg.Wait()
	s.checkpoint(context.Background())
}
