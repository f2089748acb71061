// Package logpos follows log files from the position the ledger last
// recorded for them.
//
// A file is identified by its fingerprint, the hash of its first non-empty
// line. When the fingerprint of a file on disk no longer matches the stored
// one the file was rotated or replaced, and reading restarts at offset zero.
package logpos

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// maxLineSize bounds the first line read for fingerprinting.
const maxLineSize = 1 << 20

// Fingerprint returns the hex SHA-256 of the first non-empty line of the
// file at path, or "" when the file has no such line.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 4096), maxLineSize)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		sum := sha256.Sum256([]byte(line))
		return hex.EncodeToString(sum[:]), nil
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", path, err)
	}
	return "", nil
}
