// Package access decides which Telegram identities may run administrative
// commands.
package access

import "context"

// Checker grants admin rights to the configured owner and admins only. Stored
// roles mirror the configuration at startup and are never consulted here, so
// removing an id from ADMIN_IDS revokes access on the next restart.
type Checker struct {
	configured []int64
	known      map[int64]struct{}
}

// NewChecker builds a Checker from the owner and admin ids. Zero ids and
// duplicates are dropped.
func NewChecker(ownerID int64, adminIDs []int64) *Checker {
	c := &Checker{known: make(map[int64]struct{})}

	for _, id := range append([]int64{ownerID}, adminIDs...) {
		if id == 0 {
			continue
		}
		if _, dup := c.known[id]; dup {
			continue
		}
		c.known[id] = struct{}{}
		c.configured = append(c.configured, id)
	}

	return c
}

// IsAdmin reports whether userID may run administrative commands.
func (c *Checker) IsAdmin(_ context.Context, userID int64) bool {
	if c == nil || userID == 0 {
		return false
	}
	_, ok := c.known[userID]
	return ok
}

// Configured returns the owner and configured admin IDs, owner first.
func (c *Checker) Configured() []int64 {
	if c == nil {
		return nil
	}
	out := make([]int64, len(c.configured))
	copy(out, c.configured)
	return out
}
