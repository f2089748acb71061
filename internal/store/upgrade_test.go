package store

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpgradeJailV1(t *testing.T) {
	tests := []struct {
		name string
		in   jailRowV0
		want jailRowV1
	}{
		{"enabled", jailRowV0{name: "sshd", enabled: 1}, jailRowV1{name: "sshd", enabled: 1}},
		{"disabled", jailRowV0{name: "sshd", enabled: 0}, jailRowV1{name: "sshd", enabled: 0}},
		{"truthy", jailRowV0{name: "sshd", enabled: 42}, jailRowV1{name: "sshd", enabled: 1}},
		{"padded", jailRowV0{name: "  nginx\t", enabled: 1}, jailRowV1{name: "nginx", enabled: 1}},
		{"decomposed", jailRowV0{name: "cafe\u0301", enabled: 1}, jailRowV1{name: "caf\u00e9", enabled: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, upgradeJailV1(tt.in))
		})
	}
}

func TestUpgradeLogV1(t *testing.T) {
	l := logRowV0{
		path:         "/var/log/auth.log",
		firstLineMD5: sql.NullString{String: "abc", Valid: true},
		lastFilePos:  sql.NullInt64{Int64: 99, Valid: true},
	}

	got := upgradeLogV1(l, []int64{1, 2})
	assert.Equal(t, []logRowV1{
		{jailID: 1, path: "/var/log/auth.log", fingerprint: "abc", position: 99},
		{jailID: 2, path: "/var/log/auth.log", fingerprint: "abc", position: 99},
	}, got)

	t.Run("no jails", func(t *testing.T) {
		assert.Empty(t, upgradeLogV1(l, nil))
	})

	t.Run("null fields", func(t *testing.T) {
		got := upgradeLogV1(logRowV0{path: "/x"}, []int64{3})
		assert.Equal(t, []logRowV1{{jailID: 3, path: "/x", fingerprint: "", position: 0}}, got)
	})

	t.Run("negative position", func(t *testing.T) {
		neg := l
		neg.lastFilePos = sql.NullInt64{Int64: -5, Valid: true}
		got := upgradeLogV1(neg, []int64{1})
		assert.Equal(t, int64(0), got[0].position)
	})
}

func TestUpgradeBanV1(t *testing.T) {
	b := banRowV0{
		jail:      "sshd",
		ip:        sql.NullString{String: "10.0.0.1", Valid: true},
		timeOfBan: 100,
		data:      sql.NullString{String: `["x"]`, Valid: true},
	}
	assert.Equal(t, banRowV1{jailID: 7, address: "10.0.0.1", timeOfBan: 100, data: `["x"]`}, upgradeBanV1(b, 7))

	b.data = sql.NullString{}
	assert.Equal(t, "{}", upgradeBanV1(b, 7).data)

	b.data = sql.NullString{String: "", Valid: true}
	assert.Equal(t, "{}", upgradeBanV1(b, 7).data)
}

func TestUpgradeBanV2(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"empty object", "{}", `{"matches":[],"failures":0}`},
		{"current form", `{"matches":["a"],"failures":2}`, `{"matches":["a"],"failures":2}`},
		{"bare list", `["abc\n"]`, `{"matches":["abc\n"],"failures":0}`},
		{"raw text", "not json <b>", `{"matches":["not json <b>"],"failures":0}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := banRowV1{id: 4, jailID: 2, address: "10.0.0.1", timeOfBan: 100, data: tt.data}
			got := upgradeBanV2(r, "event-1")
			assert.Equal(t, banRowV2{
				id:        4,
				eventID:   "event-1",
				jailID:    2,
				address:   "10.0.0.1",
				timeOfBan: 100,
				banTime:   LegacyBanTime,
				banCount:  1,
				data:      tt.want,
			}, got)
		})
	}
}

func TestAppendOrphanJails(t *testing.T) {
	jails := []jailRowV0{{name: "sshd", enabled: 1}}
	bans := []banRowV0{{jail: "sshd"}, {jail: "gone"}, {jail: "gone"}, {jail: "old"}}

	got := appendOrphanJails(jails, bans)
	assert.Equal(t, []jailRowV0{
		{name: "sshd", enabled: 1},
		{name: "gone", enabled: 0},
		{name: "old", enabled: 0},
	}, got)
}

func TestEncodeBanData_KeepsHTML(t *testing.T) {
	got := encodeBanData(banData{Matches: []string{"GET /?a=<x>&b"}, Failures: 1})
	assert.Equal(t, `{"matches":["GET /?a=<x>&b"],"failures":1}`, got)

	d, err := decodeBanData(got)
	assert.NoError(t, err)
	assert.Equal(t, []string{"GET /?a=<x>&b"}, d.Matches)
}

func TestBanData_RawMatches(t *testing.T) {
	lines := []string{"Invalid user \xff\xfe", "ok"}
	got := encodeBanData(banData{Matches: lines, Failures: 2})
	assert.Equal(t, `{"matches":[],"failures":2,"raw_matches":["SW52YWxpZCB1c2VyIP/+","b2s="]}`, got)

	d, err := decodeBanData(got)
	require.NoError(t, err)
	assert.Equal(t, lines, d.Matches)
	assert.Equal(t, 2, d.Failures)
	assert.Nil(t, d.RawMatches)
}

func TestNewEventID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := newEventID()
		assert.False(t, seen[id], "duplicate event id %s", id)
		seen[id] = true
	}
}
