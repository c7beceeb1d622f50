// Package ids generates opaque, no-look-alike identifiers for executions and
// events. The alphabet excludes characters that are easily confused when read
// aloud or copied by hand (0/O, 1/I/l, etc.) so ids remain safe to paste into
// logs, URLs, and support tickets.
package ids

import (
	"strings"

	"github.com/google/uuid"
)

// alphabet intentionally omits 0, O, 1, I, L, U, V to avoid visual ambiguity.
const alphabet = "23456789ABCDEFGHJKMNPQRSTWXYZabcdefghjkmnpqrstwxyz"

// ExecutionPrefix prefixes every execution id.
const ExecutionPrefix = "EX"

// EventPrefix prefixes every event id.
const EventPrefix = "EV"

// idLength is the number of alphabet characters following the prefix.
const idLength = 24

// New returns a new identifier of the form "<prefix><idLength chars>". The
// prefix is not counted against idLength: an ExecutionPrefix id is therefore
// 2+24 = 26 characters long. Uniqueness is derived from two concatenated
// random UUIDs, which provides comfortably more entropy than idLength base-50
// characters require.
func New(prefix string) string {
	var b strings.Builder
	b.Grow(len(prefix) + idLength)
	b.WriteString(prefix)

	u1, u2 := uuid.New(), uuid.New()
	entropy := append(u1[:], u2[:]...)
	for i := 0; i < idLength; i++ {
		b.WriteByte(alphabet[int(entropy[i%len(entropy)])%len(alphabet)])
	}
	return b.String()
}

// NewExecutionID returns a new execution identifier.
func NewExecutionID() string { return New(ExecutionPrefix) }

// NewEventID returns a new event identifier.
func NewEventID() string { return New(EventPrefix) }
