// Package checksum computes content digests used for optimistic concurrency.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// ETag returns the quoted digest of data suitable for an ETag header.
func ETag(data []byte) string {
	return `"` + Sum(data) + `"`
}

// Matches reports whether an If-Match header value accepts data. An empty
// header or "*" always matches.
func Matches(ifMatch string, data []byte) bool {
	ifMatch = strings.TrimSpace(ifMatch)
	if ifMatch == "" || ifMatch == "*" {
		return true
	}
	sum := Sum(data)
	for _, tag := range strings.Split(ifMatch, ",") {
		tag = strings.TrimPrefix(strings.TrimSpace(tag), "W/")
		if strings.Trim(tag, `"`) == sum {
			return true
		}
	}
	return false
}
