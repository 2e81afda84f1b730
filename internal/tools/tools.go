// Package tools defines the tools available to the agent.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/MaartenKnaepen/home-agent/internal/jellyseerr"
	"github.com/MaartenKnaepen/home-agent/internal/profile"
)

// Session is the per-turn working state handed to every tool handler.
// Profile is the current user's profile value; handlers that change it
// replace the value and save it immediately, so the effect is durable
// even if a later tool or the final response fails.
type Session struct {
	Profile  profile.UserProfile
	Profiles *profile.Store
}

// Tool represents a callable tool.
type Tool struct {
	Name        string                                                                          `json:"name"`
	Description string                                                                          `json:"description"`
	Parameters  map[string]any                                                                  `json:"parameters"`
	Handler     func(ctx context.Context, sess *Session, args map[string]any) (string, error) `json:"-"`
}

// Registry holds available tools. Lookup is always by registered name;
// the model picks a tool, the driver resolves it here.
type Registry struct {
	tools  map[string]*Tool
	order  []string
	media  *jellyseerr.Client
	logger *slog.Logger
}

// NewRegistry creates a tool registry with the media-request client.
func NewRegistry(media *jellyseerr.Client, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		tools:  make(map[string]*Tool),
		media:  media,
		logger: logger,
	}
	r.registerProfileTools()
	r.registerMediaTools()
	return r
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// List returns all tools in registration order, in the wire format
// the LLM expects.
func (r *Registry) List() []map[string]any {
	var result []map[string]any
	for _, name := range r.order {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a tool by name with the given arguments.
func (r *Registry) Execute(ctx context.Context, sess *Session, name string, args map[string]any) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	return tool.Handler(ctx, sess, args)
}

// ExecuteJSON runs a tool with JSON-encoded arguments.
func (r *Registry) ExecuteJSON(ctx context.Context, sess *Session, name string, argsJSON string) (string, error) {
	var args map[string]any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}
	return r.Execute(ctx, sess, name, args)
}

// stringArg extracts a required string argument.
func stringArg(args map[string]any, key string) (string, error) {
	v, _ := args[key].(string)
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}
