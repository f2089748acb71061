package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/banledger/internal/ban"
	"github.com/roach88/banledger/internal/config"
	"github.com/roach88/banledger/internal/escalate"
	"github.com/roach88/banledger/internal/store"
)

// loadConfig reads the config file and applies the --db override.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	return cfg, nil
}

// openLedger loads the config and opens the configured store, upgrading it
// to the current schema.
func openLedger(opts *RootOptions, extra ...store.Option) (*store.Store, *config.Config, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, err
	}

	storeOpts := append([]store.Option{store.WithClock(opts.now)}, extra...)
	slog.Debug("opening ledger", "path", cfg.Database)
	st, err := store.Open(cfg.Database, storeOpts...)
	if err != nil {
		return nil, nil, ledgerError("failed to open ledger", err)
	}
	return st, cfg, nil
}

// closeLedger closes st and logs a failure.
func closeLedger(st *store.Store) {
	if err := st.Close(); err != nil {
		slog.Error("error closing ledger", "error", err)
	}
}

// newEngine builds the escalation engine for the configured jails.
func newEngine(st *store.Store, cfg *config.Config) *escalate.Engine {
	return escalate.NewEngine(st, cfg.EscalationDefaults(), cfg.EscalationByJail())
}

// ledgerError maps store errors to exit codes. Refused operations exit
// with ExitFailure; everything else is a command error.
func ledgerError(message string, err error) *ExitError {
	switch {
	case store.IsUnsupportedMigration(err) && !store.IsStorageUnavailable(err):
		return WrapExitError(ExitFailure, message, err)
	case store.IsUnknownJail(err):
		return WrapExitError(ExitFailure, message, err)
	default:
		return WrapExitError(ExitCommandError, message, err)
	}
}

// errorCode names a failure for error output. Store failures keep their
// store code.
func errorCode(err error) string {
	switch {
	case store.IsUnsupportedMigration(err) && !store.IsStorageUnavailable(err):
		return string(store.ErrCodeUnsupportedMigration)
	case store.IsUnknownJail(err):
		return string(store.ErrCodeUnknownJail)
	case store.IsStorageUnavailable(err):
		return string(store.ErrCodeStorageUnavailable)
	case GetExitCode(err) == ExitCommandError:
		return "COMMAND_ERROR"
	default:
		return "FAILURE"
	}
}

// errorDetails returns the database path of a store failure, if any.
func errorDetails(err error) any {
	var storeErr *store.Error
	if errors.As(err, &storeErr) && storeErr.Path != "" {
		return map[string]string{"path": storeErr.Path}
	}
	return nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM, or when
// the command's own context ends.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan) // Prevent signal handler leak
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	return ctx, cancel
}

// commandContext returns the command's context or Background.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// syncJails marks every stored jail disabled and re-registers the
// configured ones, so jails dropped from the config become purgeable.
func syncJails(ctx context.Context, st *store.Store, cfg *config.Config) error {
	if err := st.DisableAllJails(ctx); err != nil {
		return err
	}
	for _, name := range cfg.JailNames() {
		if err := st.RegisterJail(ctx, name, cfg.Jails[name].IsEnabled()); err != nil {
			return fmt.Errorf("jail %s: %w", name, err)
		}
	}
	return nil
}

// writeTicket writes one ticket per line, prefixed with its jail when the
// ticket belongs to one.
func writeTicket(w io.Writer, t *ban.Ticket) {
	if t.Jail != "" {
		fmt.Fprintf(w, "[%s] %s\n", t.Jail, t)
		return
	}
	fmt.Fprintln(w, t)
}
