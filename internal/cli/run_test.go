package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/banledger/internal/config"
	"github.com/roach88/banledger/internal/logpos"
	"github.com/roach88/banledger/internal/store"
)

func TestRunRestoresAndTracksLogs(t *testing.T) {
	t.Setenv(config.EnvDatabase, "")
	t.Setenv(config.EnvPurgeInterval, "")

	db := seedLedger(t)
	logPath := filepath.Join(t.TempDir(), "auth.log")
	require.NoError(t, os.WriteFile(logPath, []byte("line one\nline two\n"), 0644))
	missing := filepath.Join(t.TempDir(), "gone.log")

	cfg := writeConfig(t, fmt.Sprintf(`
purge_interval: 50ms
jails:
  sshd:
    logs: [%q, %q]
`, logPath, missing))

	buf := &bytes.Buffer{}
	cmd := newRootCommand(&RootOptions{Now: fixedNow})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"run", "--poll", "--config", cfg, "--db", db})

	// Run command with timeout context
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- cmd.ExecuteContext(ctx)
	}()

	select {
	case err := <-errChan:
		require.NoError(t, err, "run exits cleanly when its context ends")
	case <-time.After(5 * time.Second):
		t.Fatal("command did not respect context timeout")
	}

	output := buf.String()
	assert.Contains(t, output, "Restored 1 bans.")
	assert.Contains(t, output, "Ledger started")
	assert.Contains(t, output, "Ledger stopped.")

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()

	jails, err := st.Jails(t.Context())
	require.NoError(t, err)
	require.Len(t, jails, 2)
	assert.Equal(t, "nginx", jails[0].Name)
	assert.False(t, jails[0].Enabled, "jails missing from the config are disabled")
	assert.True(t, jails[1].Enabled)

	fp, err := logpos.Fingerprint(logPath)
	require.NoError(t, err)
	offset, ok, err := st.ResumePosition(t.Context(), "sshd", logPath, fp)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(18), offset)

	paths, err := st.LogPaths(t.Context(), "sshd")
	require.NoError(t, err)
	assert.Equal(t, []string{logPath}, paths, "missing logs are skipped")
}

func TestRunInvalidConfig(t *testing.T) {
	cfg := writeConfig(t, "purge_interval: soon\n")

	_, err := execute(t, "run", "--config", cfg, "--db", filepath.Join(t.TempDir(), "ledger.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunHelpText(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"run", "--help"})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "Run the ledger as a long-lived process")
	assert.Contains(t, output, "--poll")
	assert.Contains(t, output, "--config")
}
