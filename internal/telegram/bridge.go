package telegram

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MaartenKnaepen/home-agent/internal/agent"
)

// TurnHandler abstracts the conversation driver for testability. The
// real implementation is *agent.Driver.
type TurnHandler interface {
	HandleTurn(ctx context.Context, req *agent.Request) string
}

// handleTimeout bounds how long a single inbound message may be
// processed (driver turn + reply send).
const handleTimeout = 5 * time.Minute

// maxMessageLen is the Bot API per-message text limit. Longer replies
// are split into consecutive messages.
const maxMessageLen = 4096

// pollErrorDelay is how long the poll loop pauses after a getUpdates
// failure before trying again.
const pollErrorDelay = 5 * time.Second

// rateWindow is the sliding window for per-sender rate limiting.
const rateWindow = time.Minute

// cleanupInterval controls how often stale rate-limit entries are
// evicted.
const cleanupInterval = 10 * time.Minute

const rejectionMessage = "Sorry, you are not authorized to use this bot."

// BridgeConfig holds the dependencies for a Bridge.
type BridgeConfig struct {
	Client  *Client
	Handler TurnHandler
	Logger  *slog.Logger

	// AllowedUserIDs is the authorization whitelist. Empty means no
	// user is allowed; the bridge refuses everyone.
	AllowedUserIDs []int64

	// PollTimeoutSec is the server-side long-poll hold time.
	PollTimeoutSec int

	// RateLimit caps messages per sender per minute; 0 = unlimited.
	RateLimit int
}

// Bridge long-polls the Bot API for messages, enforces the user
// whitelist, routes authorized messages through the conversation
// driver, and sends replies back in transport-sized chunks.
type Bridge struct {
	client      *Client
	handler     TurnHandler
	logger      *slog.Logger
	allowed     map[int64]bool
	pollTimeout int
	rateLimit   int
	now         func() time.Time

	mu          sync.Mutex
	senderTimes map[int64][]time.Time
	lastCleanup time.Time
}

// NewBridge creates a Telegram message bridge.
func NewBridge(cfg BridgeConfig) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pollTimeout := cfg.PollTimeoutSec
	if pollTimeout <= 0 {
		pollTimeout = 30
	}
	allowed := make(map[int64]bool, len(cfg.AllowedUserIDs))
	for _, id := range cfg.AllowedUserIDs {
		allowed[id] = true
	}
	return &Bridge{
		client:      cfg.Client,
		handler:     cfg.Handler,
		logger:      logger,
		allowed:     allowed,
		pollTimeout: pollTimeout,
		rateLimit:   cfg.RateLimit,
		now:         time.Now,
		senderTimes: make(map[int64][]time.Time),
	}
}

// Start polls for updates and dispatches them until ctx is cancelled.
func (b *Bridge) Start(ctx context.Context) {
	b.logger.Info("telegram bridge started",
		"allowed_users", len(b.allowed),
		"poll_timeout_sec", b.pollTimeout,
	)

	var offset int64
	for {
		if ctx.Err() != nil {
			b.logger.Info("telegram bridge shutting down")
			return
		}

		updates, err := b.client.GetUpdates(ctx, offset, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				b.logger.Info("telegram bridge shutting down")
				return
			}
			b.logger.Error("telegram poll failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(pollErrorDelay):
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			b.handleUpdate(ctx, update)
		}
	}
}

// handleUpdate processes one inbound update: authorization first, then
// the driver, then the chunked reply.
func (b *Bridge) handleUpdate(ctx context.Context, update Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Text == "" {
		b.logger.Debug("telegram ignoring non-text update", "update_id", update.UpdateID)
		return
	}

	userID := msg.From.ID
	if !b.allowed[userID] {
		b.logger.Info("telegram rejected unauthorized user", "user_id", userID)
		if err := b.client.SendMessage(ctx, msg.Chat.ID, rejectionMessage); err != nil {
			b.logger.Warn("telegram rejection send failed", "user_id", userID, "error", err)
		}
		return
	}

	if !b.allowSender(userID) {
		b.logger.Warn("telegram message rate-limited", "user_id", userID)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	b.logger.Info("telegram message received",
		"user_id", userID,
		"chat_id", msg.Chat.ID,
		"message_len", len(msg.Text),
	)

	// Show typing before the potentially long driver turn. Best-effort.
	if err := b.client.SendTyping(ctx, msg.Chat.ID); err != nil {
		b.logger.Debug("telegram typing indicator failed", "error", err)
	}

	reply := b.handler.HandleTurn(ctx, &agent.Request{
		UserID:     userID,
		LocaleHint: msg.From.LanguageCode,
		Text:       msg.Text,
	})
	if reply == "" {
		return
	}

	for _, chunk := range splitMessage(reply, maxMessageLen) {
		if err := b.client.SendMessage(ctx, msg.Chat.ID, chunk); err != nil {
			b.logger.Error("telegram reply send failed",
				"user_id", userID,
				"chat_id", msg.Chat.ID,
				"error", err,
			)
			return
		}
	}

	b.logger.Info("telegram reply sent",
		"user_id", userID,
		"chat_id", msg.Chat.ID,
		"response_len", len(reply),
	)
}

// allowSender checks whether the sender is within the per-minute rate
// limit. Returns true if the message should be processed.
func (b *Bridge) allowSender(userID int64) bool {
	if b.rateLimit <= 0 {
		return true
	}

	now := b.now()
	cutoff := now.Add(-rateWindow)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeCleanupLocked(now)

	// Prune expired timestamps for this sender.
	timestamps := b.senderTimes[userID]
	valid := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}

	if len(valid) >= b.rateLimit {
		b.senderTimes[userID] = valid
		return false
	}

	b.senderTimes[userID] = append(valid, now)
	return true
}

// maybeCleanupLocked evicts stale sender entries. Must be called with
// b.mu held.
func (b *Bridge) maybeCleanupLocked(now time.Time) {
	if now.Sub(b.lastCleanup) < cleanupInterval {
		return
	}
	b.lastCleanup = now

	cutoff := now.Add(-2 * rateWindow)
	for id, timestamps := range b.senderTimes {
		if len(timestamps) == 0 || timestamps[len(timestamps)-1].Before(cutoff) {
			delete(b.senderTimes, id)
		}
	}
}

// splitMessage splits text into chunks of at most maxLen runes,
// preferring to break at a newline and falling back to a hard cut.
func splitMessage(text string, maxLen int) []string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(runes) > maxLen {
		cut := maxLen
		for i := maxLen - 1; i > maxLen/2; i-- {
			if runes[i] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
		// Drop the newline we broke on.
		if len(runes) > 0 && runes[0] == '\n' {
			runes = runes[1:]
		}
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
