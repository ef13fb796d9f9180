package gate

import (
	"context"
	"fmt"
	"time"
)

// EntitlementService handles premium grant and expiry bookkeeping. An
// entitlement with a nil expiry is permanent; a timed grant on top of an
// active one stacks onto the existing expiry.
type EntitlementService struct {
	store     Store
	transport Transport
	clock     Clock
	logger    Logger
}

// NewEntitlementService creates the service. transport is used only for
// best-effort user notifications and may deliver to no one without affecting
// grant or revoke outcomes.
func NewEntitlementService(store Store, transport Transport, clock Clock, logger Logger) *EntitlementService {
	return &EntitlementService{store: store, transport: transport, clock: clock, logger: logger}
}

// Grant gives or extends an entitlement. A nil duration is a permanent
// grant, idempotent across repeats. A timed grant stacks: if an active timed
// entitlement exists, the new expiry is the existing expiry plus the
// duration; otherwise it is now plus the duration. Two concurrent timed
// grants can both read the same existing expiry and under-stack; that race
// is documented and accepted.
func (s *EntitlementService) Grant(_ context.Context, userID int64, duration *time.Duration) (*time.Time, error) {
	if duration == nil {
		if err := s.store.SaveEntitlement(userID, nil); err != nil {
			return nil, fmt.Errorf("saving permanent entitlement: %w", err)
		}
		s.logger.Info("permanent entitlement granted", "user", userID)
		return nil, nil
	}

	now := s.clock.Now()
	start := now
	existing, err := s.store.Entitlement(userID)
	if err != nil {
		return nil, fmt.Errorf("loading entitlement: %w", err)
	}
	if existing != nil && existing.ExpiresAt != nil && existing.ExpiresAt.After(now) {
		start = *existing.ExpiresAt
	}

	expiresAt := start.Add(*duration)
	if err := s.store.SaveEntitlement(userID, &expiresAt); err != nil {
		return nil, fmt.Errorf("saving entitlement: %w", err)
	}
	s.logger.Info("entitlement granted", "user", userID, "expires_at", expiresAt)
	return &expiresAt, nil
}

// Active reports whether the user holds a currently-active entitlement.
// The predicate is expiresAt == nil || expiresAt > now, computed identically
// here and in the sweep so the lazy and swept paths converge.
func (s *EntitlementService) Active(_ context.Context, userID int64) (bool, error) {
	ent, err := s.store.Entitlement(userID)
	if err != nil {
		return false, fmt.Errorf("loading entitlement: %w", err)
	}
	return s.active(ent), nil
}

func (s *EntitlementService) active(ent *Entitlement) bool {
	if ent == nil {
		return false
	}
	return ent.ExpiresAt == nil || ent.ExpiresAt.After(s.clock.Now())
}

// Lookup returns the user's entitlement, nil when none exists.
func (s *EntitlementService) Lookup(_ context.Context, userID int64) (*Entitlement, error) {
	return s.store.Entitlement(userID)
}

// Revoke deletes a user's entitlement and notifies them best-effort. A
// notification failure does not roll back the deletion. Reports whether an
// entitlement existed.
func (s *EntitlementService) Revoke(ctx context.Context, userID int64) (bool, error) {
	removed, err := s.store.DeleteEntitlement(userID)
	if err != nil {
		return false, fmt.Errorf("deleting entitlement: %w", err)
	}
	if !removed {
		return false, nil
	}
	s.notify(ctx, userID, "Your premium membership has been revoked.\n\nTo renew it, contact the owner.")
	s.logger.Info("entitlement revoked", "user", userID)
	return true, nil
}

// Sweep removes every entitlement whose expiry has passed, notifying each
// user independently. A notification failure for one user never aborts the
// rest. Returns the count actually removed.
func (s *EntitlementService) Sweep(ctx context.Context) (int, error) {
	expired, err := s.store.ExpiredEntitlements(s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("listing expired entitlements: %w", err)
	}

	removed := 0
	for _, userID := range expired {
		s.notify(ctx, userID, "Your premium subscription has expired.\n\nYou are now on the free plan. To renew, contact the owner.")
		ok, err := s.store.DeleteEntitlement(userID)
		if err != nil {
			s.logger.Error("removing expired entitlement failed", "user", userID, "err", err)
			continue
		}
		if ok {
			removed++
		}
	}

	if removed > 0 {
		s.logger.Info("expired entitlements swept", "count", removed)
	}
	return removed, nil
}

// List returns all entitlements, permanent ones included.
func (s *EntitlementService) List(_ context.Context) ([]*Entitlement, error) {
	return s.store.ListEntitlements()
}

func (s *EntitlementService) notify(ctx context.Context, userID int64, text string) {
	if _, err := s.transport.SendMessage(ctx, userID, text, nil); err != nil {
		s.logger.Warn("entitlement notification failed", "user", userID, "err", err)
	}
}
