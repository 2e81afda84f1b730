// Package agent implements the conversation driver: one inbound user
// message in, one reply out, with profile loading, history windowing,
// model calls, and tool execution in between.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/MaartenKnaepen/home-agent/internal/history"
	"github.com/MaartenKnaepen/home-agent/internal/llm"
	"github.com/MaartenKnaepen/home-agent/internal/prompts"
	"github.com/MaartenKnaepen/home-agent/internal/profile"
	"github.com/MaartenKnaepen/home-agent/internal/tools"
)

// User-visible notices for the failure paths. The raw errors are
// logged with full context but never shown to the user.
const (
	// BusyNotice is returned when the model is rate limiting us even
	// after backoff.
	BusyNotice = "The assistant is a bit busy right now — please try again in a minute."

	// FailureNotice is returned for any other model or tool failure.
	FailureNotice = "Something went wrong while handling that. Please try again."

	// EmptyReplyNotice is returned when the model produced no text.
	EmptyReplyNotice = "I don't have an answer for that one, sorry."
)

// Request is one inbound user turn.
type Request struct {
	UserID     int64
	LocaleHint string // chat locale code, consulted only for brand-new profiles
	Text       string
}

// Response is the driver's result for one turn.
type Response struct {
	Content   string
	Model     string
	RequestID string
	ToolsUsed map[string]int
}

// Driver orchestrates a conversation turn: load profile, load bounded
// history, run the model with tools, persist the new exchange.
type Driver struct {
	logger   *slog.Logger
	profiles *profile.Store
	history  *history.Store
	llm      llm.Client
	registry *tools.Registry

	model         string
	historyPairs  int
	maxToolRounds int
}

// Config holds the driver's dependencies and tuning.
type Config struct {
	Logger   *slog.Logger
	Profiles *profile.Store
	History  *history.Store
	LLM      llm.Client
	Registry *tools.Registry

	Model string
	// HistoryPairs is the pair budget for the context window (default 20).
	HistoryPairs int
	// MaxToolRounds bounds tool-call iterations per turn (default 8).
	MaxToolRounds int
}

// New creates a conversation driver.
func New(cfg Config) *Driver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistoryPairs <= 0 {
		cfg.HistoryPairs = 20
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 8
	}
	return &Driver{
		logger:        logger,
		profiles:      cfg.Profiles,
		history:       cfg.History,
		llm:           cfg.LLM,
		registry:      cfg.Registry,
		model:         cfg.Model,
		historyPairs:  cfg.HistoryPairs,
		maxToolRounds: cfg.MaxToolRounds,
	}
}

// Run executes one turn and returns the model's reply. Errors
// propagate to the caller; use HandleTurn for the user-facing
// notice-translating wrapper.
//
// The user message and the reply are appended to the durable log only
// after the model produced a response: a failed turn leaves no
// orphaned user row. Tool-driven profile saves are durable
// immediately, even if the turn fails afterwards.
func (d *Driver) Run(ctx context.Context, req *Request) (*Response, error) {
	requestID := uuid.NewString()
	logger := d.logger.With("request_id", requestID, "user_id", req.UserID)

	logger.Info("turn started", "message_len", len(req.Text))

	// LoadState: profile (created with locale seeding on first
	// contact) and the full exchange log.
	prof, err := d.profiles.Get(ctx, req.UserID, req.LocaleHint)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	rows, err := d.history.Recent(ctx, req.UserID, 0)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	exchanges := history.FromRows(rows)
	exchanges = append(exchanges, history.NewRequest(llm.Message{Role: "user", Content: req.Text}))

	sess := &tools.Session{Profile: prof, Profiles: d.profiles}
	toolsUsed := make(map[string]int)

	// Infer: model steps until a textual reply, executing tool calls
	// in between. The window is applied on every step because tool
	// traffic grows the in-flight tail.
	var final *llm.ChatResponse
	for round := 0; round < d.maxToolRounds; round++ {
		window := history.Window(exchanges, d.historyPairs)

		messages := make([]llm.Message, 0, len(window)*2+1)
		messages = append(messages, llm.Message{
			Role:    "system",
			Content: prompts.BaseSystemPrompt() + "\n\n" + prompts.ProfileContext(sess.Profile),
		})
		messages = append(messages, history.Flatten(window)...)

		resp, err := d.llm.Chat(ctx, d.model, messages, d.registry.List())
		if err != nil {
			return nil, fmt.Errorf("model request: %w", err)
		}

		if len(resp.Message.ToolCalls) == 0 {
			final = resp
			break
		}

		results := d.executeToolCalls(ctx, logger, sess, resp.Message.ToolCalls, toolsUsed)
		exchanges = append(exchanges,
			history.NewRequest(resp.Message),
			history.NewResponse(results...),
		)
	}

	if final == nil {
		return nil, fmt.Errorf("no final response after %d tool rounds", d.maxToolRounds)
	}

	content := strings.TrimSpace(final.Message.Content)

	// Mutate/Persist: both rows together, only now that a response
	// exists.
	if err := d.history.Append(ctx, req.UserID, "user", req.Text); err != nil {
		return nil, fmt.Errorf("persist user turn: %w", err)
	}
	if err := d.history.Append(ctx, req.UserID, "assistant", content); err != nil {
		return nil, fmt.Errorf("persist assistant turn: %w", err)
	}

	logger.Info("turn completed",
		"model", final.Model,
		"response_len", len(content),
		"tools_used", len(toolsUsed),
		"input_tokens", final.InputTokens,
		"output_tokens", final.OutputTokens,
	)

	return &Response{
		Content:   content,
		Model:     final.Model,
		RequestID: requestID,
		ToolsUsed: toolsUsed,
	}, nil
}

// executeToolCalls runs each requested tool and returns the tool
// result messages. Tool failures are fed back to the model as error
// text rather than aborting the turn — the model can recover or
// apologize.
func (d *Driver) executeToolCalls(ctx context.Context, logger *slog.Logger, sess *tools.Session, calls []llm.ToolCall, toolsUsed map[string]int) []llm.Message {
	results := make([]llm.Message, 0, len(calls))
	for _, tc := range calls {
		name := tc.Function.Name
		toolsUsed[name]++

		out, err := d.registry.Execute(ctx, sess, name, tc.Function.Arguments)
		if err != nil {
			logger.Warn("tool call failed", "tool", name, "error", err)
			out = fmt.Sprintf("Error: %v", err)
		} else {
			logger.Debug("tool call succeeded", "tool", name)
		}

		results = append(results, llm.Message{
			Role:       "tool",
			Content:    out,
			ToolCallID: tc.ID,
		})
	}
	return results
}

// HandleTurn runs one turn and translates failures into user-visible
// notices. It never returns an error to the transport: rate limiting
// surviving retries becomes a "busy" notice, anything else a generic
// one, and an empty reply becomes a fallback message.
func (d *Driver) HandleTurn(ctx context.Context, req *Request) string {
	resp, err := d.Run(ctx, req)
	if err != nil {
		var apiErr *llm.APIError
		if errors.As(err, &apiErr) && apiErr.IsRateLimited() {
			d.logger.Warn("turn rate limited after retries", "user_id", req.UserID, "error", err)
			return BusyNotice
		}
		d.logger.Error("turn failed", "user_id", req.UserID, "error", err)
		return FailureNotice
	}
	if resp.Content == "" {
		return EmptyReplyNotice
	}
	return resp.Content
}
