package ticket

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint derives the stable identity key for a listing. The primary
// basis is (source, url); when the URL is absent the fallback basis is
// (source, title, open date, place). Cosmetic fields such as the poster
// image never participate, so repeated crawls of the same listing always
// produce the same fingerprint.
func Fingerprint(t Ticket) string {
	parts := []string{string(t.Source)}
	if strings.TrimSpace(t.URL) != "" {
		parts = append(parts, strings.TrimSpace(t.URL))
	} else {
		parts = append(parts,
			strings.TrimSpace(t.Title),
			t.OpenDateLabel(),
			strings.TrimSpace(t.Place),
		)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}
