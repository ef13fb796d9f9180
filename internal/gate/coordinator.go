package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CallbackGetFile prefixes the one-tap delivery callback minted after a
// successful verification.
const CallbackGetFile = "get_file_"

// User-facing responses. Kept in one place so the dispatcher and tests share
// them.
const (
	msgBanned         = "You have been banned from using this bot."
	msgInvalidLink    = "Invalid or corrupted file link."
	msgNotFound       = "Files not found."
	msgFetching       = "Please wait, fetching your file(s)..."
	msgRetryLater     = "Something went wrong on our side. Please try again later."
	msgVerifyExpired  = "Link expired or invalid.\n\nPlease request the file again."
	msgChallengeStale = "You are not verified.\n\nPlease verify to get access, or go premium to skip verification."
)

// WebTokenIssuer mints one-time web tokens binding a user to a pending
// content address. Implemented by the web-token store; nil disables the
// browser retrieval path.
type WebTokenIssuer interface {
	Issue(userID int64, address string) (string, error)
}

// CoordinatorConfig carries the deployment knobs the request state machine
// needs.
type CoordinatorConfig struct {
	// StorageChannelID is the private channel holding the content. Its
	// absolute value is the address-scaling magnitude.
	StorageChannelID int64
	// Admins bypass every gate.
	Admins []int64
	// ProtectContent forwards copies with forwarding/saving disabled.
	ProtectContent bool
	// AutoDelete > 0 schedules delivered batches for deletion after this
	// duration.
	AutoDelete time.Duration
	// PremiumURL and TutorialURL decorate the challenge prompt.
	PremiumURL  string
	TutorialURL string
	// WebBaseURL, when set together with a token issuer, adds a one-time
	// browser link to the post-verification response.
	WebBaseURL string
}

// Coordinator is the request-handling state machine. For every inbound
// request it consults ban state, then the entitlement bypass, then
// verification validity, and only then issues a challenge. The subscription
// gate is not evaluated here: it wraps entry to the bot as a dispatcher
// pre-check, independent of the payload.
type Coordinator struct {
	store        Store
	entitlements *EntitlementService
	session      *VerificationSession
	transport    Transport
	scheduler    *ExpiryScheduler
	webTokens    WebTokenIssuer
	clock        Clock
	logger       Logger
	cfg          CoordinatorConfig

	admins    map[int64]bool
	magnitude int64
	sleep     func(time.Duration)
}

// NewCoordinator wires the state machine. webTokens may be nil.
func NewCoordinator(store Store, entitlements *EntitlementService, session *VerificationSession, transport Transport, scheduler *ExpiryScheduler, webTokens WebTokenIssuer, clock Clock, logger Logger, cfg CoordinatorConfig) *Coordinator {
	admins := make(map[int64]bool, len(cfg.Admins))
	for _, id := range cfg.Admins {
		admins[id] = true
	}
	magnitude := cfg.StorageChannelID
	if magnitude < 0 {
		magnitude = -magnitude
	}
	return &Coordinator{
		store:        store,
		entitlements: entitlements,
		session:      session,
		transport:    transport,
		scheduler:    scheduler,
		webTokens:    webTokens,
		clock:        clock,
		logger:       logger,
		cfg:          cfg,
		admins:       admins,
		magnitude:    magnitude,
		sleep:        time.Sleep,
	}
}

// IsAdmin reports whether the user bypasses every gate.
func (c *Coordinator) IsAdmin(userID int64) bool { return c.admins[userID] }

// Magnitude returns the address-scaling magnitude for this deployment.
func (c *Coordinator) Magnitude() int64 { return c.magnitude }

// HandleRequest runs one inbound request through the gate. payload is the
// start parameter: empty for a bare hello, a verification redemption, or an
// encoded content address.
func (c *Coordinator) HandleRequest(ctx context.Context, userID int64, payload string) error {
	state, err := c.store.UserState(userID)
	if err != nil {
		c.reply(ctx, userID, msgRetryLater, nil)
		return fmt.Errorf("%w: loading user state: %v", ErrDependencyDegraded, err)
	}
	if state.Banned {
		// Terminal: no further reads, no state mutation.
		c.reply(ctx, userID, msgBanned, nil)
		return nil
	}

	if token, ok := strings.CutPrefix(payload, VerifyPrefix); ok {
		return c.handleRedemption(ctx, userID, token)
	}
	if payload != "" {
		return c.handleAddress(ctx, userID, payload)
	}

	c.reply(ctx, userID, "Hi there!\n\nI am a file-store bot. Send me a file link to retrieve its content.", nil)
	return nil
}

// handleRedemption completes a verification round trip and offers one-tap
// delivery of the address that was pending.
func (c *Coordinator) handleRedemption(ctx context.Context, userID int64, token string) error {
	pending, err := c.session.Redeem(ctx, userID, token)
	if err != nil {
		if errors.Is(err, ErrVerificationMismatch) {
			c.reply(ctx, userID, msgVerifyExpired, nil)
			return nil
		}
		c.reply(ctx, userID, msgRetryLater, nil)
		return err
	}

	var markup Markup
	if pending != "" {
		row := []Button{{Text: "Get your files", CallbackData: CallbackGetFile + pending}}
		markup = append(markup, row)
		if c.webTokens != nil && c.cfg.WebBaseURL != "" {
			if webToken, err := c.webTokens.Issue(userID, pending); err == nil {
				markup = append(markup, []Button{{Text: "Open in browser", URL: fmt.Sprintf("%s/get/%s", strings.TrimRight(c.cfg.WebBaseURL, "/"), webToken)}})
			} else {
				c.logger.Warn("issuing web token failed", "user", userID, "err", err)
			}
		}
	}

	text := fmt.Sprintf("Successfully verified!\n\nYour access is valid for the next %s.", c.session.TTL())
	c.reply(ctx, userID, text, markup)
	return nil
}

// handleAddress applies the precedence order: admin or active premium bypass
// both remaining gates; a valid verification delivers; otherwise a challenge
// is issued together with a premium upsell.
func (c *Coordinator) handleAddress(ctx context.Context, userID int64, encoded string) error {
	if c.IsAdmin(userID) {
		return c.Deliver(ctx, userID, encoded)
	}
	pro, err := c.entitlements.Active(ctx, userID)
	if err != nil {
		c.reply(ctx, userID, msgRetryLater, nil)
		return err
	}
	if pro {
		return c.Deliver(ctx, userID, encoded)
	}

	valid, err := c.session.Valid(userID)
	if err != nil {
		c.reply(ctx, userID, msgRetryLater, nil)
		return err
	}
	if valid {
		return c.Deliver(ctx, userID, encoded)
	}

	link, err := c.session.IssueChallenge(ctx, userID, encoded)
	if err != nil {
		c.reply(ctx, userID, msgRetryLater, nil)
		return err
	}

	markup := Markup{{Button{Text: "Open link", URL: link}}}
	if c.cfg.TutorialURL != "" {
		markup[0] = append(markup[0], Button{Text: "Tutorial", URL: c.cfg.TutorialURL})
	}
	if c.cfg.PremiumURL != "" {
		markup = append(markup, []Button{{Text: "Buy premium", URL: c.cfg.PremiumURL}})
	}
	c.reply(ctx, userID, msgChallengeStale, markup)
	return nil
}

// Deliver decodes the address, fetches the message range from the storage
// channel, and copies each message to the user. A malformed address is a
// local rejection with no state mutated. Per-item copy failures are logged
// and skipped; only an entirely empty batch reports "not found". After a
// successful batch an auto-delete timer is registered when configured.
func (c *Coordinator) Deliver(ctx context.Context, userID int64, encoded string) error {
	addr, err := DecodeAddress(encoded, c.magnitude)
	if err != nil {
		c.logger.Debug("rejecting malformed address", "user", userID, "err", err)
		c.reply(ctx, userID, msgInvalidLink, nil)
		return nil
	}

	progress, _ := c.transport.SendMessage(ctx, userID, msgFetching, nil)

	messages, err := c.fetchRange(ctx, addr)
	if progress != nil {
		if err := c.transport.DeleteMessages(ctx, userID, []int{progress.ID}); err != nil {
			c.logger.Debug("deleting progress message failed", "err", err)
		}
	}
	if err != nil {
		c.reply(ctx, userID, msgRetryLater, nil)
		return fmt.Errorf("%w: fetching range: %v", ErrDependencyDegraded, err)
	}
	if len(messages) == 0 {
		c.reply(ctx, userID, msgNotFound, nil)
		return nil
	}

	sent := make([]int, 0, len(messages))
	failed := 0
	for _, msg := range messages {
		copied, err := c.copyWithRetry(ctx, userID, msg.ID)
		if err != nil {
			// Partial failure: report, never abort the rest of the batch.
			c.logger.Warn("copying message failed", "message", msg.ID, "user", userID, "err", err)
			failed++
			continue
		}
		sent = append(sent, copied.ID)
	}

	if len(sent) == 0 {
		c.reply(ctx, userID, msgNotFound, nil)
		return nil
	}
	if failed > 0 {
		c.logger.Warn("batch partially delivered", "user", userID, "err", &PartialDeliveryError{Sent: len(sent), Failed: failed})
	}

	if c.cfg.AutoDelete > 0 {
		notice, err := c.transport.SendMessage(ctx, userID,
			fmt.Sprintf("These files will be deleted in %s.", c.cfg.AutoDelete), nil)
		if err == nil && notice != nil {
			sent = append(sent, notice.ID)
		}
		batchID := c.scheduler.ScheduleDeletion(userID, sent, c.cfg.AutoDelete)
		c.logger.Debug("delivery complete", "user", userID, "sent", len(sent), "batch", batchID)
	} else {
		c.logger.Debug("delivery complete", "user", userID, "sent", len(sent))
	}
	return nil
}

// fetchRange resolves the address's message IDs from the storage channel in
// chunks of at most 200, honoring one rate-limit retry per chunk.
func (c *Coordinator) fetchRange(ctx context.Context, addr Address) ([]Message, error) {
	ids := addr.MessageIDs()
	const chunkSize = 200

	var messages []Message
	for start := 0; start < len(ids); start += chunkSize {
		end := min(start+chunkSize, len(ids))
		chunk, err := c.transport.GetMessages(ctx, c.cfg.StorageChannelID, ids[start:end])
		if err != nil {
			if wait, ok := RetryAfter(err); ok {
				c.sleep(wait)
				chunk, err = c.transport.GetMessages(ctx, c.cfg.StorageChannelID, ids[start:end])
			}
		}
		if err != nil {
			return nil, err
		}
		messages = append(messages, chunk...)
	}
	return messages, nil
}

// copyWithRetry copies one message, honoring a single rate-limit retry.
func (c *Coordinator) copyWithRetry(ctx context.Context, userID int64, messageID int) (*Message, error) {
	copied, err := c.transport.CopyMessage(ctx, userID, c.cfg.StorageChannelID, messageID, c.cfg.ProtectContent)
	if err != nil {
		if wait, ok := RetryAfter(err); ok {
			c.sleep(wait)
			return c.transport.CopyMessage(ctx, userID, c.cfg.StorageChannelID, messageID, c.cfg.ProtectContent)
		}
	}
	return copied, err
}

// reply sends a response best-effort; a send failure is logged, not surfaced,
// because there is nowhere left to surface it.
func (c *Coordinator) reply(ctx context.Context, userID int64, text string, markup Markup) {
	if _, err := c.transport.SendMessage(ctx, userID, text, markup); err != nil {
		c.logger.Warn("sending reply failed", "user", userID, "err", err)
	}
}
