package gate

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ChatMemberStatus is the membership status reported by the transport.
type ChatMemberStatus string

const (
	StatusMember        ChatMemberStatus = "member"
	StatusAdministrator ChatMemberStatus = "administrator"
	StatusOwner         ChatMemberStatus = "creator"
	StatusLeft          ChatMemberStatus = "left"
	StatusBanned        ChatMemberStatus = "kicked"
	StatusRestricted    ChatMemberStatus = "restricted"
)

// Subscribed reports whether the status satisfies a join requirement.
func (s ChatMemberStatus) Subscribed() bool {
	return s == StatusMember || s == StatusAdministrator || s == StatusOwner
}

// Chat describes a channel or private chat.
type Chat struct {
	ID         int64
	Title      string
	Username   string
	InviteLink string
}

// ChatMember describes a user's membership in a chat, including the admin
// rights relevant to the bot's own operation.
type ChatMember struct {
	Status            ChatMemberStatus
	CanInviteUsers    bool
	CanDeleteMessages bool
}

// Message is a message reference returned by the transport.
type Message struct {
	ID     int
	ChatID int64
}

// Button is one inline keyboard button. Exactly one of URL or CallbackData
// is set.
type Button struct {
	Text         string
	URL          string
	CallbackData string
}

// Markup is an inline keyboard: rows of buttons.
type Markup [][]Button

// Transport errors mapped from the messaging service.
var (
	// ErrNotParticipant means the queried user is not a member of the chat.
	ErrNotParticipant = errors.New("user is not a participant")

	// ErrForbidden means the bot itself lacks access to the chat.
	ErrForbidden = errors.New("bot is forbidden from the chat")
)

// RateLimitedError signals that the transport asked us to back off. Callers
// must pause for RetryAfter and retry exactly once before surfacing failure.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// RetryAfter extracts the backoff duration when err is a rate-limit signal.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// Transport is the messaging service boundary. Any call may return a
// *RateLimitedError carrying a wait duration.
type Transport interface {
	// GetChat fetches chat metadata.
	GetChat(ctx context.Context, chatID int64) (*Chat, error)

	// GetChatMember fetches a user's membership in a chat. Returns
	// ErrNotParticipant when the user is not a member and ErrForbidden when
	// the bot has no access.
	GetChatMember(ctx context.Context, chatID, userID int64) (*ChatMember, error)

	// CreateInviteLink mints an invite link for a channel. A zero ttl means
	// the link does not expire. requestMode links make joins go through an
	// approval request.
	CreateInviteLink(ctx context.Context, chatID int64, ttl time.Duration, requestMode bool) (string, error)

	// SendMessage sends a text message with an optional inline keyboard.
	SendMessage(ctx context.Context, chatID int64, text string, markup Markup) (*Message, error)

	// CopyMessage copies one message from the storage channel to a user.
	CopyMessage(ctx context.Context, toChatID, fromChatID int64, messageID int, protect bool) (*Message, error)

	// GetMessages resolves up to 200 message IDs from a chat in one call.
	// Callers chunk larger ranges.
	GetMessages(ctx context.Context, chatID int64, messageIDs []int) ([]Message, error)

	// DeleteMessages deletes messages from a chat.
	DeleteMessages(ctx context.Context, chatID int64, messageIDs []int) error
}

// Shortener is the URL-shortening boundary. Shorten never fails: any
// degradation returns the original URL unchanged.
type Shortener interface {
	Shorten(ctx context.Context, url string) string
}

// NopShortener returns every URL unchanged. Used when no shortener is
// configured and in tests.
type NopShortener struct{}

func (NopShortener) Shorten(_ context.Context, url string) string { return url }
