package store

import (
	"sort"
	"strings"
)

// participantsDelimiter joins the sorted participant list into the canonical
// lookup key. It is not expected to appear inside an E.164 phone number.
const participantsDelimiter = "|"

// ParticipantsKey returns the canonical key for a participant set: the
// participants sorted lexicographically and joined with "|". Any permutation
// of the same set produces the same key. Cardinality is a caller contract
// (>= 2) enforced by validation upstream.
func ParticipantsKey(participants []string) string {
	out := make([]string, 0, len(participants))
	for _, p := range participants {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	sort.Strings(out)
	return strings.Join(out, participantsDelimiter)
}

// splitParticipantsKey is the inverse of ParticipantsKey. The result is
// already in sorted order because the key was built from a sorted list.
func splitParticipantsKey(key string) []string {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	return strings.Split(key, participantsDelimiter)
}
