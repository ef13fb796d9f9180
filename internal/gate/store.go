package gate

import "time"

// UserState is the per-user flag document consulted first on every request.
type UserState struct {
	UserID int64
	Banned bool
}

// VerificationState tracks a user's verify-by-click challenge. The pending
// token is overwritten, never queued: at most one outstanding challenge per
// user. The state logically expires when now - VerifiedAt reaches the
// configured TTL; there is no separate deletion step.
type VerificationState struct {
	Verified       bool
	VerifiedAt     time.Time
	PendingToken   string
	PendingAddress string // encoded content address awaiting verification, may be empty
}

// Entitlement is a per-user premium grant. A nil ExpiresAt means permanent.
type Entitlement struct {
	UserID    int64
	ExpiresAt *time.Time
}

// Counter names tracked in the daily counters collection.
const (
	CounterVerifications = "verifications"
	CounterClicks        = "clicks"
)

// CounterDay formats a timestamp as the day key used by the counters.
func CounterDay(t time.Time) string { return t.UTC().Format("2006-01-02") }

// Store is the persistent document store consumed by the gate. All per-user
// writes are atomic upserts, so cross-user contention is avoided by
// construction. Implementations must be safe for concurrent use.
type Store interface {
	// UserState returns the flag document for a user, creating it with
	// defaults on first contact.
	UserState(userID int64) (*UserState, error)

	// SetBanned flips the ban flag for a user, creating the document if needed.
	SetBanned(userID int64, banned bool) error

	// CountUsers returns the total number of known users.
	CountUsers() (int64, error)

	// VerificationState returns a user's verification document, defaulting
	// to the zero state when none exists.
	VerificationState(userID int64) (*VerificationState, error)

	// SaveVerificationState upserts a user's verification document.
	SaveVerificationState(userID int64, state *VerificationState) error

	// Entitlement returns a user's entitlement, or nil when none exists.
	Entitlement(userID int64) (*Entitlement, error)

	// SaveEntitlement upserts a user's entitlement. A nil expiry is a
	// permanent grant.
	SaveEntitlement(userID int64, expiresAt *time.Time) error

	// DeleteEntitlement removes a user's entitlement. Deleting a missing
	// entitlement is a no-op and reports false.
	DeleteEntitlement(userID int64) (bool, error)

	// ListEntitlements returns all entitlements, permanent ones included.
	ListEntitlements() ([]*Entitlement, error)

	// ExpiredEntitlements returns user IDs whose non-nil expiry is before now.
	ExpiredEntitlements(now time.Time) ([]int64, error)

	// RecordJoinRequest remembers that a user's join request for a
	// request-mode channel was observed.
	RecordJoinRequest(channelID, userID int64) error

	// HasJoinRequest reports whether a join request is on record. It
	// substitutes for a live membership check on request-mode channels.
	HasJoinRequest(channelID, userID int64) (bool, error)

	// IncrementCounter bumps a named daily counter.
	IncrementCounter(day, name string) error

	// Counter reads a named daily counter, zero when absent.
	Counter(day, name string) (int64, error)

	// DeleteCountersBefore drops counter rows older than the given day key.
	DeleteCountersBefore(day string) error

	// Close closes the store.
	Close() error
}
