package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/banledger/internal/ban"
	"github.com/roach88/banledger/internal/config"
	"github.com/roach88/banledger/internal/store"
)

// testNow is the wall clock every command sees.
const testNow int64 = 1700000000

func fixedNow() time.Time {
	return time.Unix(testNow, 0)
}

// execute runs the root command with args and returns what it wrote to
// stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, _, err := executeWithStderr(t, args...)
	return out, err
}

// executeWithStderr is execute that also returns what was written to
// stderr.
func executeWithStderr(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv(config.EnvDatabase, "")
	t.Setenv(config.EnvPurgeInterval, "")

	opts := &RootOptions{Now: fixedNow}
	cmd := newRootCommand(opts)
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	cmd.SetContext(t.Context())

	err := executeCommand(cmd, opts)
	return out.String(), errOut.String(), err
}

// seedLedger creates a ledger with two jails and three ban events.
func seedLedger(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")

	st, err := store.Open(path, store.WithClock(fixedNow))
	require.NoError(t, err)
	defer st.Close()

	ctx := t.Context()
	require.NoError(t, st.RegisterJail(ctx, "sshd", true))
	require.NoError(t, st.RegisterJail(ctx, "nginx", true))

	events := []struct {
		jail   string
		ticket ban.Ticket
	}{
		{"sshd", ban.Ticket{
			Address: "10.0.0.1", Time: 1699999900, BanTime: 600, BanCount: 1, Attempts: 3,
			Matches: []string{"Failed password for root", "Failed password for admin"},
		}},
		{"nginx", ban.Ticket{
			Address: "10.0.0.2", Time: 1699999950, BanTime: 3600, BanCount: 2, Attempts: 5,
			Matches: []string{"GET /wp-login.php"},
		}},
		{"sshd", ban.Ticket{
			Address: "10.0.0.1", Time: 1699999990, BanTime: 1200, BanCount: 2, Attempts: 1,
			Matches: []string{"Invalid user test"},
		}},
	}
	for _, ev := range events {
		_, err := st.AddBan(ctx, ev.jail, ev.ticket)
		require.NoError(t, err)
	}
	return path
}

// writeConfig writes a YAML config file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "banledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}
