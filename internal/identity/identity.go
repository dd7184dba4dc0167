// Package identity derives the canonical conversation key for a pair of
// marketplace users, optionally scoped to a product context. The key is
// symmetric under swapping the two participants so that both sides of a
// conversation always land on the same thread, regardless of who opened it.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidParticipants is returned when the two participant ids are equal,
// or either of them is empty.
var ErrInvalidParticipants = errors.New("identity: invalid participants")

// NoContext is the sentinel embedded in the canonical form when a
// conversation is not scoped to a product.
const NoContext = "-"

// idLen is the number of hex characters kept from the SHA-256 digest. 32
// hex chars (128 bits) is plenty to avoid collisions and keeps the id short
// enough for NATS subject tokens and Redis keys.
const idLen = 32

// Resolve computes the conversation id for the unordered pair (userA, userB)
// and an optional product context. The two ids are sorted lexicographically
// before combining, so Resolve(a, b, ctx) == Resolve(b, a, ctx). The
// canonical form is hashed so the result contains no user-controlled bytes
// (participant ids may contain characters that are not valid in NATS
// subjects or Redis key segments).
func Resolve(userA, userB, contextID string) (string, error) {
	if userA == "" || userB == "" {
		return "", fmt.Errorf("%w: empty participant id", ErrInvalidParticipants)
	}
	if userA == userB {
		return "", fmt.Errorf("%w: participants must differ", ErrInvalidParticipants)
	}

	lo, hi := userA, userB
	if lo > hi {
		lo, hi = hi, lo
	}

	ctx := contextID
	if ctx == "" {
		ctx = NoContext
	}

	canonical := strings.Join([]string{lo, hi, ctx}, "\x00")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])[:idLen], nil
}

// Participants reports whether userID is one of the two given participants.
// Membership checks against the account service ultimately decide
// authorization; this helper covers the common case where both participant
// ids are already known to the caller.
func Participants(userA, userB, userID string) bool {
	return userID == userA || userID == userB
}
