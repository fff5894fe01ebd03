package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Fingerprint derives the cache key for one synthesis input tuple. It
// normalizes every parameter that deterministically affects the output
// into a stable string and hashes it with SHA-256. The requested output
// format is deliberately excluded: transcoded variants share a fingerprint
// and differ only in file extension.
func Fingerprint(backendName, model, voice string, speed float64, text string) string {
	canonical := strings.Join([]string{
		backendName,
		model,
		voice,
		strconv.FormatFloat(speed, 'f', -1, 64),
		text,
	}, "|")

	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
