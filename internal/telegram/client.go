// Package telegram implements the gate.Transport boundary over the Telegram
// Bot API using plain HTTP. Responses are the standard {ok, result} envelope;
// failures carry an error_code and optional retry_after parameter.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"filegate/internal/gate"
)

const defaultAPIHost = "https://api.telegram.org"

// Client talks to the Bot API for a single bot token.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     gate.Logger
}

// NewClient creates a Client for the given bot token.
func NewClient(token string, logger gate.Logger) *Client {
	return NewClientWithHost(defaultAPIHost, token, logger)
}

// NewClientWithHost creates a Client against a specific API host. Used by
// tests and local Bot API servers.
func NewClientWithHost(host, token string, logger gate.Logger) *Client {
	if logger == nil {
		logger = gate.NopLogger{}
	}
	return &Client{
		httpClient: &http.Client{Timeout: 90 * time.Second},
		baseURL:    fmt.Sprintf("%s/bot%s", strings.TrimSuffix(host, "/"), token),
		logger:     logger,
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// call posts a JSON request to one Bot API method and decodes the result
// into out (when out is non-nil).
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("reading %s response: %w", method, err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if !envelope.OK {
		return c.apiError(method, &envelope)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("decoding %s result: %w", method, err)
		}
	}
	return nil
}

// apiError maps Bot API failures onto the transport error taxonomy.
func (c *Client) apiError(method string, envelope *apiResponse) error {
	if envelope.ErrorCode == http.StatusTooManyRequests && envelope.Parameters != nil {
		return &gate.RateLimitedError{RetryAfter: time.Duration(envelope.Parameters.RetryAfter) * time.Second}
	}
	if envelope.ErrorCode == http.StatusForbidden {
		return fmt.Errorf("%s: %s: %w", method, envelope.Description, gate.ErrForbidden)
	}
	desc := strings.ToLower(envelope.Description)
	if strings.Contains(desc, "participant_id_invalid") || strings.Contains(desc, "user not found") {
		return fmt.Errorf("%s: %w", method, gate.ErrNotParticipant)
	}
	return fmt.Errorf("%s: api error %d: %s", method, envelope.ErrorCode, envelope.Description)
}

// User is the bot's own identity from getMe.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Me fetches the bot's own identity.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.call(ctx, "getMe", struct{}{}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) GetChat(ctx context.Context, chatID int64) (*gate.Chat, error) {
	var result struct {
		ID         int64  `json:"id"`
		Title      string `json:"title"`
		Username   string `json:"username"`
		InviteLink string `json:"invite_link"`
	}
	params := map[string]any{"chat_id": chatID}
	if err := c.call(ctx, "getChat", params, &result); err != nil {
		return nil, err
	}
	return &gate.Chat{
		ID:         result.ID,
		Title:      result.Title,
		Username:   result.Username,
		InviteLink: result.InviteLink,
	}, nil
}

func (c *Client) GetChatMember(ctx context.Context, chatID, userID int64) (*gate.ChatMember, error) {
	var result struct {
		Status            string `json:"status"`
		CanInviteUsers    bool   `json:"can_invite_users"`
		CanDeleteMessages bool   `json:"can_delete_messages"`
	}
	params := map[string]any{"chat_id": chatID, "user_id": userID}
	if err := c.call(ctx, "getChatMember", params, &result); err != nil {
		return nil, err
	}
	return &gate.ChatMember{
		Status:            gate.ChatMemberStatus(result.Status),
		CanInviteUsers:    result.CanInviteUsers,
		CanDeleteMessages: result.CanDeleteMessages,
	}, nil
}

func (c *Client) CreateInviteLink(ctx context.Context, chatID int64, ttl time.Duration, requestMode bool) (string, error) {
	params := map[string]any{"chat_id": chatID}
	if ttl > 0 {
		params["expire_date"] = time.Now().Add(ttl).Unix()
	}
	if requestMode {
		params["creates_join_request"] = true
	}
	var result struct {
		InviteLink string `json:"invite_link"`
	}
	if err := c.call(ctx, "createChatInviteLink", params, &result); err != nil {
		return "", err
	}
	return result.InviteLink, nil
}

// apiMessage is the wire shape of a Message.
type apiMessage struct {
	MessageID int `json:"message_id"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
}

func (m *apiMessage) toGate() *gate.Message {
	return &gate.Message{ID: m.MessageID, ChatID: m.Chat.ID}
}

func markupParam(markup gate.Markup) map[string]any {
	rows := make([][]map[string]any, 0, len(markup))
	for _, row := range markup {
		buttons := make([]map[string]any, 0, len(row))
		for _, b := range row {
			button := map[string]any{"text": b.Text}
			if b.URL != "" {
				button["url"] = b.URL
			} else {
				button["callback_data"] = b.CallbackData
			}
			buttons = append(buttons, button)
		}
		rows = append(rows, buttons)
	}
	return map[string]any{"inline_keyboard": rows}
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, markup gate.Markup) (*gate.Message, error) {
	params := map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	if len(markup) > 0 {
		params["reply_markup"] = markupParam(markup)
	}
	var result apiMessage
	if err := c.call(ctx, "sendMessage", params, &result); err != nil {
		return nil, err
	}
	return result.toGate(), nil
}

func (c *Client) CopyMessage(ctx context.Context, toChatID, fromChatID int64, messageID int, protect bool) (*gate.Message, error) {
	params := map[string]any{
		"chat_id":      toChatID,
		"from_chat_id": fromChatID,
		"message_id":   messageID,
	}
	if protect {
		params["protect_content"] = true
	}
	var result struct {
		MessageID int `json:"message_id"`
	}
	if err := c.call(ctx, "copyMessage", params, &result); err != nil {
		return nil, err
	}
	return &gate.Message{ID: result.MessageID, ChatID: toChatID}, nil
}

// GetMessages resolves message references by ID. The Bot API has no bulk
// message fetch, so references are built locally; an ID that no longer
// exists surfaces later as a copy failure, which callers already skip.
func (c *Client) GetMessages(_ context.Context, chatID int64, messageIDs []int) ([]gate.Message, error) {
	messages := make([]gate.Message, 0, len(messageIDs))
	for _, id := range messageIDs {
		messages = append(messages, gate.Message{ID: id, ChatID: chatID})
	}
	return messages, nil
}

func (c *Client) DeleteMessages(ctx context.Context, chatID int64, messageIDs []int) error {
	params := map[string]any{
		"chat_id":     chatID,
		"message_ids": messageIDs,
	}
	return c.call(ctx, "deleteMessages", params, nil)
}

// AnswerCallback acknowledges a callback query, optionally with a toast.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	params := map[string]any{"callback_query_id": callbackID}
	if text != "" {
		params["text"] = text
	}
	return c.call(ctx, "answerCallbackQuery", params, nil)
}

// Peer identifies a user in an update.
type Peer struct {
	ID int64 `json:"id"`
}

// ChatRef identifies a chat in an update.
type ChatRef struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// UpdateMessage is an inbound message. Only the fields the dispatcher routes
// on are decoded.
type UpdateMessage struct {
	MessageID int     `json:"message_id"`
	From      Peer    `json:"from"`
	Chat      ChatRef `json:"chat"`
	Text      string  `json:"text"`
}

// CallbackQuery is an inline-button press.
type CallbackQuery struct {
	ID      string         `json:"id"`
	From    Peer           `json:"from"`
	Message *UpdateMessage `json:"message"`
	Data    string         `json:"data"`
}

// JoinRequest is a pending join request to a channel.
type JoinRequest struct {
	Chat ChatRef `json:"chat"`
	From Peer    `json:"from"`
}

// Update is one Bot API update.
type Update struct {
	ID              int64          `json:"update_id"`
	Message         *UpdateMessage `json:"message"`
	CallbackQuery   *CallbackQuery `json:"callback_query"`
	ChatJoinRequest *JoinRequest   `json:"chat_join_request"`
}

// GetUpdates long-polls for updates past offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	params := map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message", "callback_query", "chat_join_request"},
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", params, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

var _ gate.Transport = (*Client)(nil)
