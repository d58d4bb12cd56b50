package processing

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// NormalizeText trims leading/trailing whitespace and collapses internal
// whitespace runs to single spaces. Idempotent: normalize(normalize(t)) ==
// normalize(t).
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// ContentHash returns the lowercase hex SHA-256 of the normalized text. Two
// chunks with equal normalized text always share a hash.
func ContentHash(text string) string {
	digest := sha256.Sum256([]byte(NormalizeText(text)))
	return hex.EncodeToString(digest[:])
}

// SummaryKey derives the idempotency key for a summary from the project, the
// window bounds, and the sorted contributing memory ids.
func SummaryKey(projectID, start, end string, sourceMemoryIDs []string) string {
	sorted := append([]string(nil), sourceMemoryIDs...)
	sort.Strings(sorted)

	var builder strings.Builder
	builder.WriteString(projectID)
	builder.WriteString("|")
	builder.WriteString(start)
	builder.WriteString("|")
	builder.WriteString(end)
	builder.WriteString("|")
	builder.WriteString(strings.Join(sorted, ","))

	digest := sha256.Sum256([]byte(builder.String()))
	return hex.EncodeToString(digest[:])
}
