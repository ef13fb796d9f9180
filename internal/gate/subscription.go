package gate

import (
	"context"
	"fmt"
	"time"
)

// ChannelRequirement is one force-subscribe rule. Request-mode channels are
// satisfied by a recorded join request instead of a live membership check,
// which keeps the transport off the hot path.
type ChannelRequirement struct {
	ChannelID   int64
	Name        string
	InviteLink  string
	RequestMode bool
	// LinkTTL > 0 makes the gate mint a fresh invite link with this expiry
	// for unsatisfied users instead of reusing the stored one.
	LinkTTL time.Duration
}

// JoinTarget is an actionable join control offered for one unsatisfied
// requirement. Unavailable targets could not get an invite link minted and
// are surfaced without blocking the rest of the gate.
type JoinTarget struct {
	Name        string
	URL         string
	Unavailable bool
}

// GateResult is the outcome of one subscription check. When unsatisfied,
// Targets holds one join action per missing requirement and RetryPayload
// carries the original content address for a retry action.
type GateResult struct {
	Satisfied    bool
	Targets      []JoinTarget
	RetryPayload string
}

// SubscriptionGate evaluates force-join requirements across the configured
// channels. All requirements must be satisfied to pass; an empty requirement
// list passes unconditionally.
type SubscriptionGate struct {
	store        Store
	transport    Transport
	requirements []ChannelRequirement
	logger       Logger
	sleep        func(time.Duration)
}

// NewSubscriptionGate creates a gate over the given requirements.
func NewSubscriptionGate(store Store, transport Transport, requirements []ChannelRequirement, logger Logger) *SubscriptionGate {
	return &SubscriptionGate{
		store:        store,
		transport:    transport,
		requirements: requirements,
		logger:       logger,
		sleep:        time.Sleep,
	}
}

// Enabled reports whether any requirement is configured.
func (g *SubscriptionGate) Enabled() bool { return len(g.requirements) > 0 }

// Check evaluates every requirement for the user. retryPayload is the
// original content address, echoed back so the caller can offer a retry
// action once joins are satisfied.
func (g *SubscriptionGate) Check(ctx context.Context, userID int64, retryPayload string) (*GateResult, error) {
	result := &GateResult{Satisfied: true, RetryPayload: retryPayload}

	for _, req := range g.requirements {
		ok, err := g.satisfied(ctx, req, userID)
		if err != nil {
			return nil, err
		}
		if ok {
			continue
		}
		result.Satisfied = false
		result.Targets = append(result.Targets, g.joinTarget(ctx, req))
	}

	return result, nil
}

// satisfied evaluates one requirement. Request-mode channels consult the
// join-request ledger first; a recorded request skips the live check. Any
// transport failure maps to unsatisfied (fail closed).
func (g *SubscriptionGate) satisfied(ctx context.Context, req ChannelRequirement, userID int64) (bool, error) {
	if req.RequestMode {
		requested, err := g.store.HasJoinRequest(req.ChannelID, userID)
		if err != nil {
			return false, fmt.Errorf("reading join-request ledger: %w", err)
		}
		if requested {
			return true, nil
		}
	}

	member, err := g.transport.GetChatMember(ctx, req.ChannelID, userID)
	if err != nil {
		g.logger.Debug("membership check failed", "channel", req.ChannelID, "user", userID, "err", err)
		return false, nil
	}
	return member.Status.Subscribed(), nil
}

// joinTarget builds the join action for an unsatisfied requirement. A fresh
// invite link is minted when the requirement carries a TTL; minting is
// retried once after a rate-limit backoff and then given up, surfacing the
// requirement as unavailable rather than blocking the whole gate.
func (g *SubscriptionGate) joinTarget(ctx context.Context, req ChannelRequirement) JoinTarget {
	target := JoinTarget{Name: req.Name, URL: req.InviteLink}
	if req.LinkTTL <= 0 {
		if target.URL == "" {
			target.Unavailable = true
		}
		return target
	}

	link, err := g.transport.CreateInviteLink(ctx, req.ChannelID, req.LinkTTL, req.RequestMode)
	if err != nil {
		if wait, ok := RetryAfter(err); ok {
			g.sleep(wait)
			link, err = g.transport.CreateInviteLink(ctx, req.ChannelID, req.LinkTTL, req.RequestMode)
		}
	}
	if err != nil {
		g.logger.Warn("minting invite link failed", "channel", req.ChannelID, "err", err)
		if target.URL == "" {
			target.Unavailable = true
		}
		return target
	}

	target.URL = link
	return target
}

// CheckBotAccess verifies the bot holds the admin rights it needs in a
// requirement channel. Failures wrap ErrChannelUnavailable and name the
// missing rights for the admin, not the end user.
func (g *SubscriptionGate) CheckBotAccess(ctx context.Context, channelID, botID int64) error {
	member, err := g.transport.GetChatMember(ctx, channelID, botID)
	if err != nil {
		return fmt.Errorf("%w: checking bot membership in %d: %v", ErrChannelUnavailable, channelID, err)
	}
	if member.Status != StatusAdministrator && member.Status != StatusOwner {
		return fmt.Errorf("%w: bot is not an admin in channel %d", ErrChannelUnavailable, channelID)
	}

	var missing []string
	if !member.CanInviteUsers {
		missing = append(missing, "can_invite_users")
	}
	if !member.CanDeleteMessages {
		missing = append(missing, "can_delete_messages")
	}
	if len(missing) > 0 {
		return &MissingRightsError{ChannelID: channelID, Rights: missing}
	}
	return nil
}
