package store

import (
	"database/sql"

	"github.com/roach88/banledger/internal/ban"
)

// LegacyBanTime is the ban duration synthesized for events written before
// ban times were recorded.
const LegacyBanTime int64 = 600

// Row shapes for each schema version. Upgrade functions below are pure so
// each step can be tested without a database.

type jailRowV0 struct {
	name    string
	enabled int
}

type logRowV0 struct {
	path         string
	firstLineMD5 sql.NullString
	lastFilePos  sql.NullInt64
}

type banRowV0 struct {
	jail      string
	ip        sql.NullString
	timeOfBan int64
	data      sql.NullString
}

type jailRowV1 struct {
	name    string
	enabled int
}

type logRowV1 struct {
	jailID      int64
	path        string
	fingerprint string
	position    int64
}

type banRowV1 struct {
	id        int64
	jailID    int64
	address   string
	timeOfBan int64
	data      string
}

type banRowV2 struct {
	id        int64
	eventID   string
	jailID    int64
	address   string
	timeOfBan int64
	banTime   int64
	banCount  int
	data      string
}

// upgradeJailV1 normalizes the legacy jail name and clamps enabled to 0/1.
func upgradeJailV1(j jailRowV0) jailRowV1 {
	enabled := 0
	if j.enabled != 0 {
		enabled = 1
	}
	return jailRowV1{name: ban.NormalizeJail(j.name), enabled: enabled}
}

// upgradeLogV1 assigns a legacy global log entry to every jail. A negative
// or missing position restarts from the beginning of the file.
func upgradeLogV1(l logRowV0, jailIDs []int64) []logRowV1 {
	pos := l.lastFilePos.Int64
	if !l.lastFilePos.Valid || pos < 0 {
		pos = 0
	}
	rows := make([]logRowV1, 0, len(jailIDs))
	for _, id := range jailIDs {
		rows = append(rows, logRowV1{
			jailID:      id,
			path:        l.path,
			fingerprint: l.firstLineMD5.String,
			position:    pos,
		})
	}
	return rows
}

// upgradeBanV1 re-keys a legacy ban by jail id. The data blob is carried
// unchanged; version 2 normalizes it.
func upgradeBanV1(b banRowV0, jailID int64) banRowV1 {
	data := b.data.String
	if !b.data.Valid || data == "" {
		data = "{}"
	}
	return banRowV1{
		jailID:    jailID,
		address:   b.ip.String,
		timeOfBan: b.timeOfBan,
		data:      data,
	}
}

// upgradeBanV2 synthesizes ban time and ban count, assigns an event id and
// rewrites the data blob into the current encoding.
func upgradeBanV2(r banRowV1, eventID string) banRowV2 {
	d := parseLegacyData(r.data)
	return banRowV2{
		id:        r.id,
		eventID:   eventID,
		jailID:    r.jailID,
		address:   r.address,
		timeOfBan: r.timeOfBan,
		banTime:   LegacyBanTime,
		banCount:  1,
		data:      encodeBanData(d),
	}
}

// appendOrphanJails adds a disabled jail for every ban whose jail name is
// missing from the legacy jails table, so no ban is dropped by the upgrade.
func appendOrphanJails(jails []jailRowV0, bans []banRowV0) []jailRowV0 {
	known := make(map[string]bool, len(jails))
	for _, j := range jails {
		known[j.name] = true
	}
	for _, b := range bans {
		if !known[b.jail] {
			known[b.jail] = true
			jails = append(jails, jailRowV0{name: b.jail, enabled: 0})
		}
	}
	return jails
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
