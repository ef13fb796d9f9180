package gate

import (
	"context"
	"testing"
	"time"
)

// stubTransport embeds the interface so only the methods a test scripts are
// callable; anything else panics, which catches unexpected calls.
type stubTransport struct {
	Transport

	inviteCalls int
	inviteErrs  []error
	inviteLink  string

	getCalls int
	getErrs  []error

	copyCalls int
	copyErrs  []error

	sent []string
}

func (s *stubTransport) CreateInviteLink(_ context.Context, _ int64, _ time.Duration, _ bool) (string, error) {
	s.inviteCalls++
	if len(s.inviteErrs) > 0 {
		err := s.inviteErrs[0]
		s.inviteErrs = s.inviteErrs[1:]
		return "", err
	}
	return s.inviteLink, nil
}

func (s *stubTransport) GetMessages(_ context.Context, chatID int64, ids []int) ([]Message, error) {
	s.getCalls++
	if len(s.getErrs) > 0 {
		err := s.getErrs[0]
		s.getErrs = s.getErrs[1:]
		return nil, err
	}
	messages := make([]Message, 0, len(ids))
	for _, id := range ids {
		messages = append(messages, Message{ID: id, ChatID: chatID})
	}
	return messages, nil
}

func (s *stubTransport) CopyMessage(_ context.Context, toChatID, _ int64, messageID int, _ bool) (*Message, error) {
	s.copyCalls++
	if len(s.copyErrs) > 0 {
		err := s.copyErrs[0]
		s.copyErrs = s.copyErrs[1:]
		return nil, err
	}
	return &Message{ID: messageID, ChatID: toChatID}, nil
}

func (s *stubTransport) SendMessage(_ context.Context, _ int64, text string, _ Markup) (*Message, error) {
	s.sent = append(s.sent, text)
	return &Message{ID: len(s.sent)}, nil
}

func TestInviteMintRetriesOnceAfterRateLimit(t *testing.T) {
	transport := &stubTransport{
		inviteErrs: []error{&RateLimitedError{RetryAfter: 2 * time.Second}},
		inviteLink: "https://t.me/+fresh",
	}
	g := NewSubscriptionGate(nil, transport, nil, NopLogger{})

	var slept time.Duration
	g.sleep = func(d time.Duration) { slept = d }

	target := g.joinTarget(context.Background(), ChannelRequirement{
		ChannelID: -100111,
		Name:      "Alpha",
		LinkTTL:   time.Minute,
	})

	if slept != 2*time.Second {
		t.Errorf("slept = %s, want the rate-limit wait", slept)
	}
	if transport.inviteCalls != 2 {
		t.Errorf("invite calls = %d, want 2", transport.inviteCalls)
	}
	if target.URL != "https://t.me/+fresh" || target.Unavailable {
		t.Errorf("target = %+v", target)
	}
}

func TestInviteMintGivesUpAfterSecondRateLimit(t *testing.T) {
	transport := &stubTransport{
		inviteErrs: []error{
			&RateLimitedError{RetryAfter: time.Second},
			&RateLimitedError{RetryAfter: time.Second},
		},
	}
	g := NewSubscriptionGate(nil, transport, nil, NopLogger{})
	g.sleep = func(time.Duration) {}

	target := g.joinTarget(context.Background(), ChannelRequirement{ChannelID: -100111, LinkTTL: time.Minute})

	if transport.inviteCalls != 2 {
		t.Errorf("invite calls = %d, want exactly 2", transport.inviteCalls)
	}
	if !target.Unavailable {
		t.Errorf("target = %+v, want unavailable", target)
	}
}

func newRetryCoordinator(transport Transport) *Coordinator {
	c := NewCoordinator(nil, nil, nil, transport, nil, nil, RealClock{}, NopLogger{}, CoordinatorConfig{
		StorageChannelID: -100123,
	})
	c.sleep = func(time.Duration) {}
	return c
}

func TestFetchRangeRetriesOnceAfterRateLimit(t *testing.T) {
	transport := &stubTransport{
		getErrs: []error{&RateLimitedError{RetryAfter: time.Second}},
	}
	c := newRetryCoordinator(transport)

	messages, err := c.fetchRange(context.Background(), Address{Start: 1, End: 3})
	if err != nil {
		t.Fatalf("fetchRange() error = %v", err)
	}
	if len(messages) != 3 {
		t.Errorf("messages = %d, want 3", len(messages))
	}
	if transport.getCalls != 2 {
		t.Errorf("get calls = %d, want 2", transport.getCalls)
	}
}

func TestFetchRangeChunks(t *testing.T) {
	transport := &stubTransport{}
	c := newRetryCoordinator(transport)

	messages, err := c.fetchRange(context.Background(), Address{Start: 1, End: 450})
	if err != nil {
		t.Fatalf("fetchRange() error = %v", err)
	}
	if len(messages) != 450 {
		t.Errorf("messages = %d, want 450", len(messages))
	}
	if transport.getCalls != 3 {
		t.Errorf("get calls = %d, want 3 chunks of at most 200", transport.getCalls)
	}
}

func TestCopyRetriesOnceAfterRateLimit(t *testing.T) {
	transport := &stubTransport{
		copyErrs: []error{&RateLimitedError{RetryAfter: time.Second}},
	}
	c := newRetryCoordinator(transport)

	msg, err := c.copyWithRetry(context.Background(), 42, 7)
	if err != nil {
		t.Fatalf("copyWithRetry() error = %v", err)
	}
	if msg.ID != 7 {
		t.Errorf("msg = %+v", msg)
	}
	if transport.copyCalls != 2 {
		t.Errorf("copy calls = %d, want 2", transport.copyCalls)
	}
}

// bannedStore answers the ban lookup and panics on any other read, proving
// the banned path touches nothing else.
type bannedStore struct {
	Store
}

func (bannedStore) UserState(userID int64) (*UserState, error) {
	return &UserState{UserID: userID, Banned: true}, nil
}

func TestBannedUserShortCircuits(t *testing.T) {
	transport := &stubTransport{}
	c := NewCoordinator(bannedStore{}, nil, nil, transport, nil, nil, RealClock{}, NopLogger{}, CoordinatorConfig{
		StorageChannelID: -100123,
	})

	if err := c.HandleRequest(context.Background(), 42, "some-address"); err != nil {
		t.Fatalf("HandleRequest() error = %v", err)
	}

	if len(transport.sent) != 1 || transport.sent[0] != msgBanned {
		t.Errorf("sent = %v, want only the banned notice", transport.sent)
	}
	if transport.copyCalls != 0 || transport.getCalls != 0 {
		t.Error("banned user reached delivery")
	}
}
