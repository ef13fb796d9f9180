package gate

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the gate layer. Callers match with errors.Is and map
// each class to the appropriate user- or admin-facing response.
var (
	// ErrInvalidAddress marks a content token that does not decode to a
	// well-formed message range. Rejected locally, no retry implied.
	ErrInvalidAddress = errors.New("invalid content address")

	// ErrVerificationMismatch marks a stale, absent, or wrong verification
	// token. The user is told to restart the flow.
	ErrVerificationMismatch = errors.New("verification token mismatch")

	// ErrChannelUnavailable marks a requirement channel the bot cannot
	// operate in. Surfaced to the admin, not the end user.
	ErrChannelUnavailable = errors.New("channel unavailable")

	// ErrEntitlementExpired marks a lazily-detected expired entitlement.
	// Both the lazy path and the sweep converge on "not active".
	ErrEntitlementExpired = errors.New("entitlement expired")

	// ErrDependencyDegraded marks a store or transport failure that has no
	// safe fallback. Surfaced to the user as a generic retry-later message.
	ErrDependencyDegraded = errors.New("dependency degraded")
)

// MissingRightsError reports admin rights the bot lacks in a requirement
// channel. It wraps ErrChannelUnavailable so callers can match on the class.
type MissingRightsError struct {
	ChannelID int64
	Rights    []string
}

func (e *MissingRightsError) Error() string {
	return fmt.Sprintf("bot is missing rights in channel %d: %s", e.ChannelID, strings.Join(e.Rights, ", "))
}

func (e *MissingRightsError) Unwrap() error { return ErrChannelUnavailable }

// PartialDeliveryError reports a delivery batch where a subset of items
// failed. The remainder of the batch was still delivered.
type PartialDeliveryError struct {
	Sent   int
	Failed int
}

func (e *PartialDeliveryError) Error() string {
	return fmt.Sprintf("delivered %d of %d messages", e.Sent, e.Sent+e.Failed)
}
