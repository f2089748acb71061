package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/banledger/internal/ban"
	"github.com/roach88/banledger/internal/testutil"
)

// testNow is the fixed wall clock used by store tests.
const testNow int64 = 1700000000

// createTestStore creates a new store in a temp dir with the clock pinned
// at testNow.
func createTestStore(t *testing.T) (*Store, *testutil.Clock) {
	t.Helper()
	clock := testutil.NewClock(time.Unix(testNow, 0))
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clock
}

// createTestTicket creates a ticket with minimal required fields.
func createTestTicket(address string, at int64, attempts int, matches ...string) ban.Ticket {
	t := ban.NewTicket(address, at, matches...)
	t.Attempts = attempts
	t.BanTime = 600
	t.BanCount = 1
	return t
}

// createLegacyDB writes an unversioned legacy database at path.
func createLegacyDB(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open legacy db: %v", err)
	}
	defer db.Close()

	stmts := []string{
		legacySchemaSQL,
		`INSERT INTO jails (name, enabled) VALUES ('sshd', 1), ('nginx', 0)`,
		`INSERT INTO logs (path, firstlinemd5, lastfilepos) VALUES ('/var/log/auth.log', 'a1b2c3', 1234)`,
		`INSERT INTO bans (jail, ip, timeofban, data) VALUES ('sshd', '127.0.0.1', 1388009242, '["abc\n"]')`,
		`INSERT INTO bans (jail, ip, timeofban, data) VALUES ('nginx', '10.0.0.9', 1388009300, '{"matches":["GET /wp-login.php"],"failures":3}')`,
		`INSERT INTO bans (jail, ip, timeofban, data) VALUES ('gone', '10.0.0.7', 1388009400, NULL)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("legacy setup %q: %v", stmt, err)
		}
	}
}

// fileChecksum returns the hex SHA-256 of a file.
func fileChecksum(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func mustRegister(t *testing.T, s *Store, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := s.RegisterJail(t.Context(), name, true); err != nil {
			t.Fatalf("RegisterJail(%q) failed: %v", name, err)
		}
	}
}

func mustAddBan(t *testing.T, s *Store, jail string, tk ban.Ticket) ban.Ticket {
	t.Helper()
	stored, err := s.AddBan(t.Context(), jail, tk)
	if err != nil {
		t.Fatalf("AddBan(%q, %s) failed: %v", jail, tk.Address, err)
	}
	return stored
}
