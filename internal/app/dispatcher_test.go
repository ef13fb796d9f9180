package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"filegate/internal/config"
	"filegate/internal/gate"
	"filegate/internal/telegram"
	"filegate/internal/testutil"
)

const (
	ownerID  = int64(900)
	memberID = int64(42)
	chanID   = int64(-100111)
)

// fakeClient extends the mock transport with the update-loop methods.
type fakeClient struct {
	*testutil.MockTransport
	answered []string
}

func (f *fakeClient) GetUpdates(_ context.Context, _ int64, _ time.Duration) ([]telegram.Update, error) {
	return nil, nil
}

func (f *fakeClient) AnswerCallback(_ context.Context, callbackID, _ string) error {
	f.answered = append(f.answered, callbackID)
	return nil
}

type dispatcherFixture struct {
	client   *fakeClient
	store    gate.Store
	dispatch *Dispatcher
}

func newDispatcherFixture(t *testing.T, requirements []gate.ChannelRequirement) *dispatcherFixture {
	t.Helper()

	store := testutil.NewTestStore(t)
	client := &fakeClient{MockTransport: testutil.NewMockTransport()}
	clock := testutil.FixedClock()
	logger := gate.NopLogger{}

	cfg := config.NewConfig(t.TempDir())
	cfg.Bot.Token = "123:abc"
	cfg.Bot.Owner = ownerID
	cfg.Storage.ChannelID = -100123

	subscriptions := gate.NewSubscriptionGate(store, client, requirements, logger)
	session := gate.NewVerificationSession(store, gate.NopShortener{}, clock, testutil.NewStubTokenSource(), logger, "testbot", 10*time.Minute)
	entitlements := gate.NewEntitlementService(store, client, clock, logger)
	scheduler := gate.NewExpiryScheduler(entitlements, store, client, clock, testutil.NewStubIDGenerator(), logger)
	t.Cleanup(scheduler.Stop)

	coordinator := gate.NewCoordinator(store, entitlements, session, client, scheduler, nil, clock, logger, gate.CoordinatorConfig{
		StorageChannelID: cfg.Storage.ChannelID,
		Admins:           cfg.AdminIDs(),
	})
	commands := NewCommands(cfg, store, entitlements, coordinator, clock, client, "testbot", logger)
	dispatch := NewDispatcher(client, coordinator, subscriptions, commands, store, logger, "testbot")

	return &dispatcherFixture{client: client, store: store, dispatch: dispatch}
}

func startUpdate(userID int64, text string) telegram.Update {
	return telegram.Update{
		ID: 1,
		Message: &telegram.UpdateMessage{
			MessageID: 1,
			From:      telegram.Peer{ID: userID},
			Chat:      telegram.ChatRef{ID: userID, Type: "private"},
			Text:      text,
		},
	}
}

func TestJoinRequestRecorded(t *testing.T) {
	f := newDispatcherFixture(t, nil)

	f.dispatch.handle(context.Background(), telegram.Update{
		ID: 1,
		ChatJoinRequest: &telegram.JoinRequest{
			Chat: telegram.ChatRef{ID: chanID},
			From: telegram.Peer{ID: memberID},
		},
	})

	has, err := f.store.HasJoinRequest(chanID, memberID)
	if err != nil {
		t.Fatalf("HasJoinRequest() error = %v", err)
	}
	if !has {
		t.Error("join request not recorded")
	}
}

func TestSubscriptionPreCheck(t *testing.T) {
	requirements := []gate.ChannelRequirement{
		{ChannelID: chanID, Name: "Alpha", InviteLink: "https://t.me/+alpha"},
	}

	t.Run("non-member gets the join prompt and no handler", func(t *testing.T) {
		f := newDispatcherFixture(t, requirements)

		f.dispatch.handle(context.Background(), startUpdate(memberID, "/start some-payload"))

		if len(f.client.Sent) != 1 {
			t.Fatalf("sent = %d messages, want 1", len(f.client.Sent))
		}
		prompt := f.client.Sent[0]
		if !strings.Contains(prompt.Text, "join") {
			t.Errorf("prompt = %q", prompt.Text)
		}
		if len(prompt.Markup) != 2 {
			t.Fatalf("markup rows = %d, want join + try-again", len(prompt.Markup))
		}
		if prompt.Markup[0][0].URL != "https://t.me/+alpha" {
			t.Errorf("join button = %+v", prompt.Markup[0][0])
		}
		if !strings.Contains(prompt.Markup[1][0].URL, "start=some-payload") {
			t.Errorf("retry button = %+v", prompt.Markup[1][0])
		}
	})

	t.Run("member passes through to the handler", func(t *testing.T) {
		f := newDispatcherFixture(t, requirements)
		f.client.SetStatus(chanID, memberID, gate.StatusMember)

		f.dispatch.handle(context.Background(), startUpdate(memberID, "/start"))

		if len(f.client.Sent) != 1 || strings.Contains(f.client.Sent[0].Text, "join") {
			t.Errorf("sent = %v", f.client.SentTexts())
		}
	})

	t.Run("admin bypasses the gate", func(t *testing.T) {
		f := newDispatcherFixture(t, requirements)

		f.dispatch.handle(context.Background(), startUpdate(ownerID, "/start"))

		if len(f.client.Sent) != 1 || strings.Contains(f.client.Sent[0].Text, "join") {
			t.Errorf("sent = %v", f.client.SentTexts())
		}
	})
}

func TestCallbackDelivery(t *testing.T) {
	f := newDispatcherFixture(t, nil)

	token, err := gate.EncodeAddress(3, 4, 100123)
	if err != nil {
		t.Fatalf("EncodeAddress() error = %v", err)
	}

	f.dispatch.handle(context.Background(), telegram.Update{
		ID: 1,
		CallbackQuery: &telegram.CallbackQuery{
			ID:   "cb-1",
			From: telegram.Peer{ID: memberID},
			Data: gate.CallbackGetFile + token,
		},
	})

	if len(f.client.answered) != 1 || f.client.answered[0] != "cb-1" {
		t.Errorf("answered = %v", f.client.answered)
	}
	ids := f.client.CopiedIDs()
	if len(ids) != 2 || ids[0] != 3 || ids[1] != 4 {
		t.Errorf("copied = %v, want [3 4]", ids)
	}
}

func TestAdminCommands(t *testing.T) {
	t.Run("admin stats reply", func(t *testing.T) {
		f := newDispatcherFixture(t, nil)

		f.dispatch.handle(context.Background(), startUpdate(ownerID, "/stats"))

		if len(f.client.Sent) != 1 || !strings.Contains(f.client.Sent[0].Text, "Users:") {
			t.Errorf("sent = %v", f.client.SentTexts())
		}
	})

	t.Run("non-admin commands are ignored", func(t *testing.T) {
		f := newDispatcherFixture(t, nil)

		f.dispatch.handle(context.Background(), startUpdate(memberID, "/stats"))

		if len(f.client.Sent) != 0 {
			t.Errorf("sent = %v", f.client.SentTexts())
		}
	})

	t.Run("genlink round trips through the codec", func(t *testing.T) {
		f := newDispatcherFixture(t, nil)

		f.dispatch.handle(context.Background(), startUpdate(ownerID, "/genlink 17"))

		if len(f.client.Sent) != 1 {
			t.Fatalf("sent = %d messages, want 1", len(f.client.Sent))
		}
		text := f.client.Sent[0].Text
		start := strings.Index(text, "start=")
		if start == -1 {
			t.Fatalf("no link in %q", text)
		}
		addr, err := gate.DecodeAddress(text[start+len("start="):], 100123)
		if err != nil {
			t.Fatalf("DecodeAddress() error = %v", err)
		}
		if addr.Start != 17 || addr.End != 17 {
			t.Errorf("addr = %+v, want [17, 17]", addr)
		}
	})

	t.Run("ban takes effect immediately", func(t *testing.T) {
		f := newDispatcherFixture(t, nil)

		f.dispatch.handle(context.Background(), startUpdate(ownerID, "/ban 42"))

		state, err := f.store.UserState(memberID)
		if err != nil {
			t.Fatalf("UserState() error = %v", err)
		}
		if !state.Banned {
			t.Error("user not banned after /ban")
		}
	})
}
