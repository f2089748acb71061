package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/banledger/internal/logpos"
)

// FollowOptions holds flags for the follow command.
type FollowOptions struct {
	*RootOptions
	Follow bool
	Poll   bool
}

// FollowResult is the follow command's output.
type FollowResult struct {
	Jail   string   `json:"jail"`
	Path   string   `json:"path"`
	Start  int64    `json:"start"`
	Offset int64    `json:"offset"`
	Lines  []string `json:"lines"`
}

// NewFollowCommand creates the follow command.
func NewFollowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FollowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "follow <jail> <path>",
		Short: "Read a log file from its tracked position",
		Long: `Print the lines of a log file written since the last time it was read
for a jail, then record the new position.

A file whose first line changed (rotated) or that shrank below the stored
position is read from the beginning. The jail must be registered.

Examples:
  banledger follow --db ./ledger.db sshd /var/log/auth.log
  banledger follow --db ./ledger.db sshd /var/log/auth.log --follow`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFollow(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().BoolVarP(&opts.Follow, "follow", "f", false, "keep reading as the file grows until interrupted")
	cmd.Flags().BoolVar(&opts.Poll, "poll", false, "poll for changes instead of using inotify")

	return cmd
}

func runFollow(opts *FollowOptions, jail, path string, cmd *cobra.Command) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	st, _, err := openLedger(opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeLedger(st)

	f, err := logpos.Follow(ctx, st, jail, path, logpos.Options{Follow: opts.Follow, Poll: opts.Poll})
	if err != nil {
		return ledgerError("failed to follow log", err)
	}

	formatter := newFormatter(cmd, opts.RootOptions)
	formatter.VerboseLog("reading %s from offset %d", path, f.Start())

	lines := []string{}
	out := cmd.OutOrStdout()
read:
	for {
		select {
		case line, ok := <-f.Lines():
			if !ok {
				break read
			}
			if opts.Format == "json" {
				lines = append(lines, line.Text)
			} else {
				fmt.Fprintln(out, line.Text)
			}
		case <-ctx.Done():
			break read
		}
	}

	if err := f.Stop(); err != nil {
		slog.Warn("error stopping follower", "path", path, "error", err)
	}
	// The command context may be cancelled already; the position must
	// still be saved.
	if err := f.Checkpoint(context.WithoutCancel(ctx)); err != nil {
		return ledgerError("failed to record position", err)
	}

	result := FollowResult{Jail: jail, Path: path, Start: f.Start(), Offset: f.Offset(), Lines: lines}
	return formatter.Render(result, func(w io.Writer) {
		formatter.VerboseLog("position %d recorded for %s", result.Offset, path)
	})
}
