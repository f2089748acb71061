package store

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

// migration upgrades the schema from version-1 to version.
// Steps run inside the caller's transaction with foreign keys disabled.
type migration struct {
	version int
	name    string
	apply   func(ctx context.Context, tx *sql.Tx) error
}

// migrations is the ordered upgrade pipeline. Append only.
var migrations = []migration{
	{version: 1, name: "jail identity and per-jail log positions", apply: migrateToV1},
	{version: 2, name: "ban time, ban count and event ids", apply: migrateToV2},
}

// Migrate upgrades the store to target.
//
// Fails with ErrCodeUnsupportedMigration, without touching the file, when
// target is not greater than the current version or beyond
// CurrentSchemaVersion. Otherwise a full backup copy of the database is
// written first (see BackupPath) and all steps are applied in a single
// transaction. All other operations wait for Migrate to finish.
func (s *Store) Migrate(ctx context.Context, target int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if target <= s.version {
		return unsupportedMigration("target version %d is not greater than current version %d", target, s.version)
	}
	if target > CurrentSchemaVersion {
		return unsupportedMigration("no migration path to version %d (latest is %d)", target, CurrentSchemaVersion)
	}

	return s.upgrade(ctx, target)
}

// upgrade backs up the file and applies every step in (s.version, target].
// Callers hold s.mu or have exclusive access during Open.
func (s *Store) upgrade(ctx context.Context, target int) error {
	from := s.version

	backup, err := s.backup(ctx, from)
	if err != nil {
		return fmt.Errorf("migrate %d->%d: %w", from, target, err)
	}
	s.backupPath = backup
	slog.Info("migrating ledger schema", "path", s.path, "from", from, "to", target, "backup", backup)

	// foreign_keys cannot change inside a transaction. With a single pooled
	// connection the setting applies to the transaction below.
	var fk int
	if err := s.db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk); err != nil {
		return fmt.Errorf("migrate: read foreign_keys: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return fmt.Errorf("migrate: disable foreign_keys: %w", err)
	}
	defer func() {
		if fk == 1 {
			if _, err := s.db.ExecContext(context.Background(), "PRAGMA foreign_keys = ON"); err != nil {
				slog.Error("failed to re-enable foreign keys", "error", err)
			}
		}
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, m := range migrations {
		if m.version <= from || m.version > target {
			continue
		}
		if err := m.apply(ctx, tx); err != nil {
			return fmt.Errorf("migrate to v%d (%s): %w", m.version, m.name, err)
		}
		slog.Debug("applied migration", "version", m.version, "name", m.name)
	}

	if err := setUserVersion(ctx, tx, target); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate: commit: %w", err)
	}

	s.version = target
	s.cache.reset()
	return nil
}

// backup writes a byte copy of the database file next to it. Pending WAL
// frames are checkpointed first so the copy is self-contained.
func (s *Store) backup(ctx context.Context, version int) (string, error) {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return "", fmt.Errorf("backup: checkpoint: %w", err)
	}

	dst := fmt.Sprintf("%s.v%d-%s.bak", s.path, version, time.Now().UTC().Format("20060102-150405.000000000"))
	if err := copyFile(s.path, dst); err != nil {
		return "", fmt.Errorf("backup: %w", err)
	}
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// legacySchemaSQL is the unversioned layout. Used with IF NOT EXISTS so a
// partial legacy file still upgrades.
const legacySchemaSQL = `
CREATE TABLE IF NOT EXISTS jails (
    name    TEXT NOT NULL UNIQUE,
    enabled INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS logs (
    path         TEXT NOT NULL UNIQUE,
    firstlinemd5 TEXT,
    lastfilepos  INTEGER DEFAULT 0
);
CREATE TABLE IF NOT EXISTS bans (
    jail      TEXT NOT NULL,
    ip        TEXT,
    timeofban INTEGER NOT NULL,
    data      TEXT
);
`

const v1TablesSQL = `
CREATE TABLE jails (
    id      INTEGER PRIMARY KEY AUTOINCREMENT,
    name    TEXT NOT NULL UNIQUE,
    enabled INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE logs (
    jail_id     INTEGER NOT NULL REFERENCES jails(id) ON DELETE CASCADE,
    path        TEXT NOT NULL,
    fingerprint TEXT NOT NULL DEFAULT '',
    position    INTEGER NOT NULL DEFAULT 0,
    UNIQUE(jail_id, path)
);
CREATE TABLE bans (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    jail_id     INTEGER NOT NULL REFERENCES jails(id),
    address     TEXT NOT NULL,
    time_of_ban INTEGER NOT NULL,
    data        TEXT NOT NULL DEFAULT '{}'
);
`

const v2BansSQL = `
CREATE TABLE bans (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id    TEXT NOT NULL UNIQUE,
    jail_id     INTEGER NOT NULL REFERENCES jails(id),
    address     TEXT NOT NULL,
    time_of_ban INTEGER NOT NULL,
    ban_time    INTEGER NOT NULL,
    ban_count   INTEGER NOT NULL DEFAULT 1,
    data        TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_bans_jail_time ON bans(jail_id, time_of_ban, address);
CREATE INDEX IF NOT EXISTS idx_bans_address ON bans(address, jail_id);
`

// migrateToV1 gives jails an identity column, fans the global log set out to
// every jail and re-keys bans by jail id.
func migrateToV1(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, legacySchemaSQL); err != nil {
		return fmt.Errorf("ensure legacy tables: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		ALTER TABLE jails RENAME TO jails_v0;
		ALTER TABLE logs RENAME TO logs_v0;
		ALTER TABLE bans RENAME TO bans_v0;
	`); err != nil {
		return fmt.Errorf("rename legacy tables: %w", err)
	}
	if _, err := tx.ExecContext(ctx, v1TablesSQL); err != nil {
		return fmt.Errorf("create v1 tables: %w", err)
	}

	jails, err := readLegacyJails(ctx, tx)
	if err != nil {
		return err
	}
	logs, err := readLegacyLogs(ctx, tx)
	if err != nil {
		return err
	}
	bans, err := readLegacyBans(ctx, tx)
	if err != nil {
		return err
	}

	// Bans may reference jails the legacy table no longer lists.
	jails = appendOrphanJails(jails, bans)

	ids := make(map[string]int64, len(jails))
	var jailIDs []int64
	for _, j := range jails {
		row := upgradeJailV1(j)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO jails (name, enabled) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
			row.name, row.enabled); err != nil {
			return fmt.Errorf("insert jail %q: %w", row.name, err)
		}
		var id int64
		if err := tx.QueryRowContext(ctx, `SELECT id FROM jails WHERE name = ?`, row.name).Scan(&id); err != nil {
			return fmt.Errorf("jail id %q: %w", row.name, err)
		}
		if !containsID(jailIDs, id) {
			jailIDs = append(jailIDs, id)
		}
		ids[j.name] = id
	}

	for _, l := range logs {
		for _, row := range upgradeLogV1(l, jailIDs) {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO logs (jail_id, path, fingerprint, position) VALUES (?, ?, ?, ?)`,
				row.jailID, row.path, row.fingerprint, row.position); err != nil {
				return fmt.Errorf("insert log %q: %w", row.path, err)
			}
		}
	}

	for _, b := range bans {
		row := upgradeBanV1(b, ids[b.jail])
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO bans (jail_id, address, time_of_ban, data) VALUES (?, ?, ?, ?)`,
			row.jailID, row.address, row.timeOfBan, row.data); err != nil {
			return fmt.Errorf("insert ban: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		DROP TABLE bans_v0;
		DROP TABLE logs_v0;
		DROP TABLE jails_v0;
	`); err != nil {
		return fmt.Errorf("drop legacy tables: %w", err)
	}
	return nil
}

// migrateToV2 adds ban time, ban count and event id to every ban row.
func migrateToV2(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `ALTER TABLE bans RENAME TO bans_v1`); err != nil {
		return fmt.Errorf("rename bans: %w", err)
	}
	if _, err := tx.ExecContext(ctx, v2BansSQL); err != nil {
		return fmt.Errorf("create v2 bans: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, jail_id, address, time_of_ban, data FROM bans_v1 ORDER BY id ASC`)
	if err != nil {
		return fmt.Errorf("query v1 bans: %w", err)
	}
	var old []banRowV1
	for rows.Next() {
		var r banRowV1
		if err := rows.Scan(&r.id, &r.jailID, &r.address, &r.timeOfBan, &r.data); err != nil {
			rows.Close()
			return fmt.Errorf("scan v1 ban: %w", err)
		}
		old = append(old, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate v1 bans: %w", err)
	}
	rows.Close()

	for _, r := range old {
		row := upgradeBanV2(r, newEventID())
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO bans (id, event_id, jail_id, address, time_of_ban, ban_time, ban_count, data)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, row.id, row.eventID, row.jailID, row.address, row.timeOfBan, row.banTime, row.banCount, row.data); err != nil {
			return fmt.Errorf("insert v2 ban: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DROP TABLE bans_v1`); err != nil {
		return fmt.Errorf("drop v1 bans: %w", err)
	}
	return nil
}

func readLegacyJails(ctx context.Context, tx *sql.Tx) ([]jailRowV0, error) {
	rows, err := tx.QueryContext(ctx, `SELECT name, enabled FROM jails_v0 ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("query legacy jails: %w", err)
	}
	defer rows.Close()

	var jails []jailRowV0
	for rows.Next() {
		var j jailRowV0
		if err := rows.Scan(&j.name, &j.enabled); err != nil {
			return nil, fmt.Errorf("scan legacy jail: %w", err)
		}
		jails = append(jails, j)
	}
	return jails, rows.Err()
}

func readLegacyLogs(ctx context.Context, tx *sql.Tx) ([]logRowV0, error) {
	rows, err := tx.QueryContext(ctx, `SELECT path, firstlinemd5, lastfilepos FROM logs_v0 ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("query legacy logs: %w", err)
	}
	defer rows.Close()

	var logs []logRowV0
	for rows.Next() {
		var l logRowV0
		if err := rows.Scan(&l.path, &l.firstLineMD5, &l.lastFilePos); err != nil {
			return nil, fmt.Errorf("scan legacy log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func readLegacyBans(ctx context.Context, tx *sql.Tx) ([]banRowV0, error) {
	rows, err := tx.QueryContext(ctx, `SELECT jail, ip, timeofban, data FROM bans_v0 ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("query legacy bans: %w", err)
	}
	defer rows.Close()

	var bans []banRowV0
	for rows.Next() {
		var b banRowV0
		if err := rows.Scan(&b.jail, &b.ip, &b.timeOfBan, &b.data); err != nil {
			return nil, fmt.Errorf("scan legacy ban: %w", err)
		}
		bans = append(bans, b)
	}
	return bans, rows.Err()
}
