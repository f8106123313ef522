// Package user models the per-connection identity record spec.md §3
// describes: created empty on WebSocket open, mutated only by the
// dispatch worker (or the owning emulator controller for turn flags), and
// destroyed on close after every owning emulator proxy has been notified.
package user

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Handle is the WebSocket-layer connection identifier; its concrete type
// is owned by the transport package, but dispatch keys its users map on it.
type Handle string

// User is one connected client's record. Every exported field mutation in
// this package is expected to happen only under the owning registry's
// lock (internal/dispatch); User itself does not lock, by design, because
// spec.md §3 makes the dispatch worker the unique writer.
type User struct {
	ID           uuid.UUID
	Handle       Handle
	Username     string
	ConnectedEmu string
	HasTurn      bool
	RequestedTurn bool
	LastPong     time.Time
	WebPCapable  bool
}

// New returns a freshly opened connection's record: a server-generated
// UUID, an empty username, and no emulator association, matching spec.md
// §3's lifecycle ("created on WebSocket open with empty username").
func New(handle Handle) *User {
	return &User{
		ID:       uuid.New(),
		Handle:   handle,
		LastPong: time.Now(),
	}
}

// ValidUsername reports whether name satisfies spec.md §3/§8's invariants:
// length in [min,max], printable ASCII, no leading/trailing space, and no
// "  " (double-space) substring.
func ValidUsername(name string, min, max int) bool {
	if len(name) < min || len(name) > max {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < 0x20 || c > 0x7E {
			return false
		}
	}
	if strings.HasPrefix(name, " ") || strings.HasSuffix(name, " ") {
		return false
	}
	if strings.Contains(name, "  ") {
		return false
	}
	return true
}
