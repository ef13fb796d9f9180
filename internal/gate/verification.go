package gate

import (
	"context"
	"fmt"
	"time"
)

const verifyTokenLength = 10

// VerifyPrefix marks a start payload as a verification redemption rather
// than a content address.
const VerifyPrefix = "verify_"

// VerificationSession is the per-user timed challenge-response gate.
//
// States: unverified -> token issued -> verified -> (ttl elapsed) -> unverified.
// A TTL of zero or less means verification is disabled: Valid always reports
// true and no challenge should be issued.
type VerificationSession struct {
	store       Store
	shortener   Shortener
	clock       Clock
	tokens      TokenSource
	logger      Logger
	botUsername string
	ttl         time.Duration
}

// NewVerificationSession creates a session gate. botUsername is the bot the
// deep link points back to; ttl bounds how long a successful verification
// stays valid.
func NewVerificationSession(store Store, shortener Shortener, clock Clock, tokens TokenSource, logger Logger, botUsername string, ttl time.Duration) *VerificationSession {
	return &VerificationSession{
		store:       store,
		shortener:   shortener,
		clock:       clock,
		tokens:      tokens,
		logger:      logger,
		botUsername: botUsername,
		ttl:         ttl,
	}
}

// Enabled reports whether verification is required at all.
func (s *VerificationSession) Enabled() bool { return s.ttl > 0 }

// TTL returns the configured validity window.
func (s *VerificationSession) TTL() time.Duration { return s.ttl }

// IssueChallenge mints a fresh challenge for the user and returns the
// (possibly shortened) deep link to present. Any prior pending token and
// address are overwritten: at most one challenge is outstanding per user,
// and the old token becomes permanently unredeemable. Last write wins under
// concurrent duplicate requests; that race is accepted.
func (s *VerificationSession) IssueChallenge(ctx context.Context, userID int64, pendingAddress string) (string, error) {
	state, err := s.store.VerificationState(userID)
	if err != nil {
		return "", fmt.Errorf("loading verification state: %w", err)
	}

	token := s.tokens.Token(verifyTokenLength)
	state.PendingToken = token
	state.PendingAddress = pendingAddress
	if err := s.store.SaveVerificationState(userID, state); err != nil {
		return "", fmt.Errorf("saving challenge: %w", err)
	}

	link := fmt.Sprintf("https://t.me/%s?start=%s%s", s.botUsername, VerifyPrefix, token)
	short := s.shortener.Shorten(ctx, link)
	s.logger.Debug("challenge issued", "user", userID)
	return short, nil
}

// Redeem completes the round trip. On a stale, absent, or wrong token it
// fails with ErrVerificationMismatch. On success it marks the user verified
// as of now, clears the token, bumps the daily verification counter, and
// returns the content address that was pending so the caller can offer
// immediate one-tap delivery (empty if none was pending).
func (s *VerificationSession) Redeem(_ context.Context, userID int64, token string) (string, error) {
	state, err := s.store.VerificationState(userID)
	if err != nil {
		return "", fmt.Errorf("loading verification state: %w", err)
	}
	if state.PendingToken == "" || state.PendingToken != token {
		return "", ErrVerificationMismatch
	}

	now := s.clock.Now()
	state.Verified = true
	state.VerifiedAt = now
	state.PendingToken = ""
	if err := s.store.SaveVerificationState(userID, state); err != nil {
		return "", fmt.Errorf("saving verification: %w", err)
	}

	if err := s.store.IncrementCounter(CounterDay(now), CounterVerifications); err != nil {
		// Stats only, the verification itself already succeeded.
		s.logger.Warn("incrementing verification counter failed", "err", err)
	}

	s.logger.Info("user verified", "user", userID)
	return state.PendingAddress, nil
}

// Valid reports whether the user's verification is currently within its
// validity window. With verification disabled (ttl <= 0) it always reports
// true.
func (s *VerificationSession) Valid(userID int64) (bool, error) {
	if !s.Enabled() {
		return true, nil
	}
	state, err := s.store.VerificationState(userID)
	if err != nil {
		return false, fmt.Errorf("loading verification state: %w", err)
	}
	if !state.Verified {
		return false, nil
	}
	return s.clock.Now().Sub(state.VerifiedAt) < s.ttl, nil
}
