package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"filegate/internal/gate"
	"filegate/internal/telegram"
)

const pollTimeout = 30 * time.Second

// botClient is the transport surface the app layer needs: the gate's
// Transport plus the update-loop methods. Satisfied by *telegram.Client.
type botClient interface {
	gate.Transport
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Dispatcher is the update loop. It records join requests, runs the
// subscription gate as a pre-check before any handler, and routes /start
// payloads, admin commands, and delivery callbacks.
type Dispatcher struct {
	client        botClient
	coordinator   *gate.Coordinator
	subscriptions *gate.SubscriptionGate
	commands      *Commands
	store         gate.Store
	logger        gate.Logger
	botUsername   string

	offset int64
}

func NewDispatcher(client botClient, coordinator *gate.Coordinator, subscriptions *gate.SubscriptionGate, commands *Commands, store gate.Store, logger gate.Logger, botUsername string) *Dispatcher {
	return &Dispatcher{
		client:        client,
		coordinator:   coordinator,
		subscriptions: subscriptions,
		commands:      commands,
		store:         store,
		logger:        logger,
		botUsername:   botUsername,
	}
}

// Run long-polls for updates until ctx is cancelled. Poll failures are logged
// and retried after a short pause; a single bad update never stops the loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		updates, err := d.client.GetUpdates(ctx, d.offset, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.logger.Warn("polling updates failed", "err", err)
			select {
			case <-time.After(3 * time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		for _, update := range updates {
			d.offset = update.ID + 1
			d.handle(ctx, update)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, update telegram.Update) {
	switch {
	case update.ChatJoinRequest != nil:
		req := update.ChatJoinRequest
		if err := d.store.RecordJoinRequest(req.Chat.ID, req.From.ID); err != nil {
			d.logger.Error("recording join request failed", "channel", req.Chat.ID, "user", req.From.ID, "err", err)
			return
		}
		d.logger.Debug("join request recorded", "channel", req.Chat.ID, "user", req.From.ID)

	case update.CallbackQuery != nil:
		d.handleCallback(ctx, update)

	case update.Message != nil && update.Message.Chat.Type == "private":
		d.handleMessage(ctx, update)
	}
}

func (d *Dispatcher) handleCallback(ctx context.Context, update telegram.Update) {
	cb := update.CallbackQuery
	userID := cb.From.ID

	encoded, ok := strings.CutPrefix(cb.Data, gate.CallbackGetFile)
	if !ok {
		if err := d.client.AnswerCallback(ctx, cb.ID, ""); err != nil {
			d.logger.Debug("answering callback failed", "err", err)
		}
		return
	}

	if err := d.client.AnswerCallback(ctx, cb.ID, "Sending your files..."); err != nil {
		d.logger.Debug("answering callback failed", "err", err)
	}
	if !d.passGate(ctx, userID, encoded) {
		return
	}
	if err := d.coordinator.Deliver(ctx, userID, encoded); err != nil {
		d.logger.Error("callback delivery failed", "user", userID, "err", err)
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, update telegram.Update) {
	msg := update.Message
	userID := msg.From.ID

	if !strings.HasPrefix(msg.Text, "/") {
		return
	}
	fields := strings.Fields(msg.Text)
	command := strings.TrimSuffix(fields[0], "@"+d.botUsername)
	args := fields[1:]

	if command == "/start" {
		payload := ""
		if len(args) > 0 {
			payload = args[0]
		}
		if !d.passGate(ctx, userID, payload) {
			return
		}
		if err := d.coordinator.HandleRequest(ctx, userID, payload); err != nil {
			d.logger.Error("request handling failed", "user", userID, "err", err)
		}
		return
	}

	if d.coordinator.IsAdmin(userID) {
		d.commands.Handle(ctx, userID, command, args)
	}
}

// passGate evaluates the subscription gate. Admins bypass it. When
// unsatisfied it sends the join prompt with one button per missing channel
// and a try-again deep link carrying the original payload, and reports false.
func (d *Dispatcher) passGate(ctx context.Context, userID int64, payload string) bool {
	if d.coordinator.IsAdmin(userID) || !d.subscriptions.Enabled() {
		return true
	}

	result, err := d.subscriptions.Check(ctx, userID, payload)
	if err != nil {
		d.logger.Error("subscription check failed", "user", userID, "err", err)
		d.send(ctx, userID, "Something went wrong on our side. Please try again later.", nil)
		return false
	}
	if result.Satisfied {
		return true
	}

	var markup gate.Markup
	unavailable := 0
	for _, target := range result.Targets {
		if target.Unavailable || target.URL == "" {
			unavailable++
			continue
		}
		name := target.Name
		if name == "" {
			name = "channel"
		}
		markup = append(markup, []gate.Button{{Text: "Join " + name, URL: target.URL}})
	}
	if result.RetryPayload != "" {
		retry := fmt.Sprintf("https://t.me/%s?start=%s", d.botUsername, result.RetryPayload)
		markup = append(markup, []gate.Button{{Text: "Try again", URL: retry}})
	}

	text := "You need to join our channel(s) to use this bot.\n\nJoin below, then try again."
	if unavailable > 0 {
		text += "\n\nSome required channels are temporarily unavailable. Please try again later."
	}
	d.send(ctx, userID, text, markup)
	return false
}

func (d *Dispatcher) send(ctx context.Context, userID int64, text string, markup gate.Markup) {
	if _, err := d.client.SendMessage(ctx, userID, text, markup); err != nil {
		d.logger.Warn("sending message failed", "user", userID, "err", err)
	}
}
