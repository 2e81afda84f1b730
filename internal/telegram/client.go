// Package telegram implements the chat transport: a Bot API client
// using long polling, and a bridge that routes inbound messages
// through the conversation driver.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MaartenKnaepen/home-agent/internal/httpkit"
)

const defaultAPIBase = "https://api.telegram.org"

// pollGrace is added on top of the server-side hold time when bounding
// a getUpdates call, so a dead connection still fails instead of
// hanging the poll loop.
const pollGrace = 15 * time.Second

// Update is one entry from getUpdates. Only message updates are
// relevant here; everything else arrives with a nil Message.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message is an inbound chat message.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

// User identifies the sender. LanguageCode is the IETF tag from the
// sender's client settings, e.g. "nl" or "en-US".
type User struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	Username     string `json:"username"`
	LanguageCode string `json:"language_code"`
}

// Chat identifies the conversation the message belongs to.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// apiResponse is the Bot API envelope wrapping every result.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

// Client talks to the Telegram Bot API over HTTPS. All methods are
// plain request-response; GetUpdates long-polls server-side, so the
// HTTP client carries no overall timeout and deadlines come from ctx.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Bot API client for the given bot token.
func NewClient(token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	// getUpdates holds the connection server-side for the full poll
	// timeout before sending headers, which outlives the shared
	// transport's response header timeout. Disable it here; GetUpdates
	// bounds each call with a context deadline instead.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 0

	return &Client{
		baseURL: defaultAPIBase,
		token:   token,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
		logger: logger,
	}
}

// GetUpdates long-polls for new updates. offset should be one past the
// last update ID already processed; timeoutSec is the server-side hold
// time for the poll.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]Update, error) {
	// The server may hold the connection for timeoutSec before replying.
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second+pollGrace)
	defer cancel()

	params := url.Values{}
	params.Set("offset", strconv.FormatInt(offset, 10))
	params.Set("timeout", strconv.Itoa(timeoutSec))
	params.Set("allowed_updates", `["message"]`)

	raw, err := c.call(ctx, "getUpdates", params)
	if err != nil {
		return nil, err
	}

	var updates []Update
	if err := json.Unmarshal(raw, &updates); err != nil {
		return nil, fmt.Errorf("unmarshal updates: %w", err)
	}
	return updates, nil
}

// SendMessage sends text to a chat. Text longer than the transport
// limit must be chunked by the caller (see Bridge).
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(chatID, 10))
	params.Set("text", text)

	if _, err := c.call(ctx, "sendMessage", params); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// SendTyping shows the "typing…" indicator in the chat. Best-effort;
// callers may ignore the error.
func (c *Client) SendTyping(ctx context.Context, chatID int64) error {
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(chatID, 10))
	params.Set("action", "typing")

	if _, err := c.call(ctx, "sendChatAction", params); err != nil {
		return fmt.Errorf("send chat action: %w", err)
	}
	return nil
}

// Ping verifies the bot token by calling getMe.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, "getMe", nil)
	return err
}

// call posts a Bot API method and unwraps the response envelope.
func (c *Client) call(ctx context.Context, method string, params url.Values) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)

	var body *bytes.Reader
	if params != nil {
		body = bytes.NewReader([]byte(params.Encode()))
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram %s: %w", method, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Bot API errors still carry the JSON envelope, but an
		// intermediary (proxy, load balancer) may return anything.
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		var envelope apiResponse
		if json.Unmarshal([]byte(errBody), &envelope) == nil && envelope.Description != "" {
			return nil, fmt.Errorf("telegram %s: api error %d: %s", method, envelope.ErrorCode, envelope.Description)
		}
		return nil, fmt.Errorf("telegram %s: http %d: %s", method, resp.StatusCode, strings.TrimSpace(errBody))
	}

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("telegram %s: decode response: %w", method, err)
	}
	if !envelope.OK {
		return nil, fmt.Errorf("telegram %s: api error %d: %s", method, envelope.ErrorCode, envelope.Description)
	}
	return envelope.Result, nil
}
