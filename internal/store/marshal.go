package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// banData is the JSON blob stored in bans.data.
type banData struct {
	Matches  []string `json:"matches"`
	Failures int      `json:"failures"`

	// RawMatches carries the matches instead of Matches when any line is
	// not valid UTF-8, which a JSON string would replace with U+FFFD.
	RawMatches [][]byte `json:"raw_matches,omitempty"`
}

// newEventID returns a time-ordered identifier for a ban event.
func newEventID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// encodeBanData converts banData to JSON TEXT for storage.
// HTML escaping is disabled so matched log lines are stored verbatim;
// lines that are not valid UTF-8 go to raw_matches as base64.
// Encoding string and byte slices and an int cannot fail.
func encodeBanData(d banData) string {
	if d.Matches == nil {
		d.Matches = []string{}
	}
	d.RawMatches = nil
	if !allValidUTF8(d.Matches) {
		d.RawMatches = make([][]byte, len(d.Matches))
		for i, m := range d.Matches {
			d.RawMatches[i] = []byte(m)
		}
		d.Matches = []string{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(d)
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String())
}

// decodeBanData parses JSON TEXT written by encodeBanData.
func decodeBanData(data string) (banData, error) {
	d := banData{Matches: []string{}}
	if data == "" || data == "{}" {
		return d, nil
	}
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		return banData{}, fmt.Errorf("unmarshal ban data: %w", err)
	}
	if d.RawMatches != nil {
		d.Matches = make([]string, len(d.RawMatches))
		for i, m := range d.RawMatches {
			d.Matches[i] = string(m)
		}
		d.RawMatches = nil
	}
	if d.Matches == nil {
		d.Matches = []string{}
	}
	return d, nil
}

func allValidUTF8(lines []string) bool {
	for _, l := range lines {
		if !utf8.ValidString(l) {
			return false
		}
	}
	return true
}

// parseLegacyData accepts every encoding older files used: the current
// object form, a bare JSON list of matches, or arbitrary text which is kept
// as a single opaque match.
func parseLegacyData(data string) banData {
	if d, err := decodeBanData(data); err == nil {
		return d
	}

	var matches []string
	if err := json.Unmarshal([]byte(data), &matches); err == nil {
		if matches == nil {
			matches = []string{}
		}
		return banData{Matches: matches}
	}

	return banData{Matches: []string{data}}
}
