package testutil

import (
	"context"
	"sync"
	"time"

	"filegate/internal/gate"
)

// SentMessage records one SendMessage call.
type SentMessage struct {
	ChatID int64
	Text   string
	Markup gate.Markup
}

// CopiedMessage records one CopyMessage call.
type CopiedMessage struct {
	ToChatID   int64
	FromChatID int64
	MessageID  int
	Protect    bool
}

// InviteCall records one CreateInviteLink call.
type InviteCall struct {
	ChatID      int64
	TTL         time.Duration
	RequestMode bool
}

// DeletedBatch records one DeleteMessages call.
type DeletedBatch struct {
	ChatID     int64
	MessageIDs []int
}

type memberKey struct {
	chatID int64
	userID int64
}

// errQueue pops scripted errors in order; empty means success.
type errQueue struct {
	errs []error
}

func (q *errQueue) push(err error) { q.errs = append(q.errs, err) }

func (q *errQueue) pop() error {
	if len(q.errs) == 0 {
		return nil
	}
	err := q.errs[0]
	q.errs = q.errs[1:]
	return err
}

// MockTransport is a scriptable in-memory gate.Transport. Errors are queued
// per method and consumed one per call, so a rate-limit-then-success sequence
// is a single push. All recorded calls are available for assertions.
type MockTransport struct {
	mu sync.Mutex

	Chats      map[int64]*gate.Chat
	members    map[memberKey]*gate.ChatMember
	InviteLink string

	// Stored maps a chat ID to the message IDs that exist in it. A nil map
	// means every requested ID exists.
	Stored map[int64][]int

	Sent    []SentMessage
	Copied  []CopiedMessage
	Invites []InviteCall
	Deleted []DeletedBatch

	chatErrs   errQueue
	memberErrs errQueue
	inviteErrs errQueue
	sendErrs   errQueue
	copyErrs   errQueue
	getErrs    errQueue
	deleteErrs errQueue

	// FailCopies maps message IDs to errors returned for that copy after the
	// queued errors are drained.
	FailCopies map[int]error

	nextMessageID int
}

func NewMockTransport() *MockTransport {
	return &MockTransport{
		Chats:      make(map[int64]*gate.Chat),
		members:    make(map[memberKey]*gate.ChatMember),
		InviteLink: "https://t.me/+stub",
		FailCopies: make(map[int]error),
	}
}

// SetMember scripts the membership returned for (chatID, userID).
func (m *MockTransport) SetMember(chatID, userID int64, member *gate.ChatMember) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[memberKey{chatID, userID}] = member
}

// SetStatus scripts just the membership status for (chatID, userID).
func (m *MockTransport) SetStatus(chatID, userID int64, status gate.ChatMemberStatus) {
	m.SetMember(chatID, userID, &gate.ChatMember{Status: status})
}

func (m *MockTransport) QueueChatErr(err error)   { m.mu.Lock(); defer m.mu.Unlock(); m.chatErrs.push(err) }
func (m *MockTransport) QueueMemberErr(err error) { m.mu.Lock(); defer m.mu.Unlock(); m.memberErrs.push(err) }
func (m *MockTransport) QueueInviteErr(err error) { m.mu.Lock(); defer m.mu.Unlock(); m.inviteErrs.push(err) }
func (m *MockTransport) QueueSendErr(err error)   { m.mu.Lock(); defer m.mu.Unlock(); m.sendErrs.push(err) }
func (m *MockTransport) QueueCopyErr(err error)   { m.mu.Lock(); defer m.mu.Unlock(); m.copyErrs.push(err) }
func (m *MockTransport) QueueGetErr(err error)    { m.mu.Lock(); defer m.mu.Unlock(); m.getErrs.push(err) }
func (m *MockTransport) QueueDeleteErr(err error) { m.mu.Lock(); defer m.mu.Unlock(); m.deleteErrs.push(err) }

func (m *MockTransport) GetChat(_ context.Context, chatID int64) (*gate.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.chatErrs.pop(); err != nil {
		return nil, err
	}
	if chat, ok := m.Chats[chatID]; ok {
		return chat, nil
	}
	return &gate.Chat{ID: chatID}, nil
}

func (m *MockTransport) GetChatMember(_ context.Context, chatID, userID int64) (*gate.ChatMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.memberErrs.pop(); err != nil {
		return nil, err
	}
	if member, ok := m.members[memberKey{chatID, userID}]; ok {
		return member, nil
	}
	return nil, gate.ErrNotParticipant
}

func (m *MockTransport) CreateInviteLink(_ context.Context, chatID int64, ttl time.Duration, requestMode bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Invites = append(m.Invites, InviteCall{ChatID: chatID, TTL: ttl, RequestMode: requestMode})
	if err := m.inviteErrs.pop(); err != nil {
		return "", err
	}
	return m.InviteLink, nil
}

func (m *MockTransport) SendMessage(_ context.Context, chatID int64, text string, markup gate.Markup) (*gate.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.sendErrs.pop(); err != nil {
		return nil, err
	}
	m.Sent = append(m.Sent, SentMessage{ChatID: chatID, Text: text, Markup: markup})
	m.nextMessageID++
	return &gate.Message{ID: m.nextMessageID, ChatID: chatID}, nil
}

func (m *MockTransport) CopyMessage(_ context.Context, toChatID, fromChatID int64, messageID int, protect bool) (*gate.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.copyErrs.pop(); err != nil {
		return nil, err
	}
	if err, ok := m.FailCopies[messageID]; ok {
		return nil, err
	}
	m.Copied = append(m.Copied, CopiedMessage{
		ToChatID:   toChatID,
		FromChatID: fromChatID,
		MessageID:  messageID,
		Protect:    protect,
	})
	m.nextMessageID++
	return &gate.Message{ID: m.nextMessageID, ChatID: toChatID}, nil
}

func (m *MockTransport) GetMessages(_ context.Context, chatID int64, messageIDs []int) ([]gate.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.getErrs.pop(); err != nil {
		return nil, err
	}

	exists := func(int) bool { return true }
	if m.Stored != nil {
		present := make(map[int]bool, len(m.Stored[chatID]))
		for _, id := range m.Stored[chatID] {
			present[id] = true
		}
		exists = func(id int) bool { return present[id] }
	}

	var messages []gate.Message
	for _, id := range messageIDs {
		if exists(id) {
			messages = append(messages, gate.Message{ID: id, ChatID: chatID})
		}
	}
	return messages, nil
}

func (m *MockTransport) DeleteMessages(_ context.Context, chatID int64, messageIDs []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.deleteErrs.pop(); err != nil {
		return err
	}
	ids := make([]int, len(messageIDs))
	copy(ids, messageIDs)
	m.Deleted = append(m.Deleted, DeletedBatch{ChatID: chatID, MessageIDs: ids})
	return nil
}

// DeletedBatches returns a snapshot of every DeleteMessages call. Safe to
// call while scheduler timers are still firing.
func (m *MockTransport) DeletedBatches() []DeletedBatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DeletedBatch(nil), m.Deleted...)
}

// SentTexts returns the text of every sent message, in order.
func (m *MockTransport) SentTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	texts := make([]string, len(m.Sent))
	for i, s := range m.Sent {
		texts[i] = s.Text
	}
	return texts
}

// CopiedIDs returns the source message ID of every successful copy, in order.
func (m *MockTransport) CopiedIDs() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int, len(m.Copied))
	for i, c := range m.Copied {
		ids[i] = c.MessageID
	}
	return ids
}

var _ gate.Transport = (*MockTransport)(nil)
