// Homeagent is a personal media assistant reachable over Telegram.
//
// It bridges a Telegram bot to an LLM with tool access to a Jellyseerr
// media-request server, remembering per-user preferences and bounded
// conversation history in SQLite. Configuration is loaded from a single
// YAML file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	homeagent serve              Start the Telegram bridge
//	homeagent ask <question>     Ask a single question (for testing)
//	homeagent version            Print version and build information
//	homeagent -o json version    Output version information as JSON
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/MaartenKnaepen/home-agent/internal/agent"
	"github.com/MaartenKnaepen/home-agent/internal/buildinfo"
	"github.com/MaartenKnaepen/home-agent/internal/config"
	"github.com/MaartenKnaepen/home-agent/internal/history"
	"github.com/MaartenKnaepen/home-agent/internal/jellyseerr"
	"github.com/MaartenKnaepen/home-agent/internal/llm"
	"github.com/MaartenKnaepen/home-agent/internal/profile"
	"github.com/MaartenKnaepen/home-agent/internal/telegram"
	"github.com/MaartenKnaepen/home-agent/internal/tools"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run] so the full
// startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the homeagent command. All OS-level
// dependencies are injected as parameters:
//
//   - ctx controls the lifetime of the process. Cancelling it triggers
//     graceful shutdown of the bridge and background goroutines.
//   - stdout and stderr receive all program output. Structured logs go
//     to stdout; fatal error messages go to stderr.
//   - args is os.Args[1:]. We parse these manually rather than using
//     the flag package to avoid global state that interferes with
//     parallel tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: homeagent ask <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Homeagent - Personal Media Assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: homeagent [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the Telegram bridge")
	fmt.Fprintln(w, "  ask          Ask a single question (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./home-agent.yaml, ~/.config/home-agent/config.yaml, /etc/home-agent/config.yaml")
	return nil
}

// runAsk handles the "homeagent ask <question>" subcommand. It boots
// the full driver against the configured database and processes a
// single question for a synthetic CLI user, printing the reply to
// stdout. Useful for smoke tests without a Telegram round-trip.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn)

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	question := strings.Join(args, " ")

	app, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.db.Close()

	// CLI turns share one well-known identity so repeated asks keep
	// their history and profile.
	const cliUserID = 1

	resp, err := app.driver.Run(ctx, &agent.Request{
		UserID: cliUserID,
		Text:   question,
	})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, resp.Content)
	return nil
}

// runServe handles the "homeagent serve" subcommand: load config, open
// the database, build the driver, and long-poll Telegram until a
// shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting homeagent",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime,
	)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level is known. The
	// initial Info-level logger covers only the startup banner.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"model", cfg.Model.Name,
		"history_pairs", cfg.Agent.HistoryPairs,
	)

	app, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.db.Close()

	// Surface a bad Jellyseerr connection at startup rather than on
	// the first media request. Non-fatal: the service may come up later.
	pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := app.media.Ping(pingCtx); err != nil {
		logger.Warn("jellyseerr not reachable at startup", "url", cfg.Jellyseerr.URL, "error", err)
	} else {
		logger.Info("jellyseerr connected", "url", cfg.Jellyseerr.URL)
	}
	pingCancel()

	tg := telegram.NewClient(cfg.Telegram.BotToken, logger)

	verifyCtx, verifyCancel := context.WithTimeout(ctx, 10*time.Second)
	err = tg.Ping(verifyCtx)
	verifyCancel()
	if err != nil {
		return fmt.Errorf("verify telegram bot token: %w", err)
	}

	bridge := telegram.NewBridge(telegram.BridgeConfig{
		Client:         tg,
		Handler:        app.driver,
		Logger:         logger,
		AllowedUserIDs: cfg.Telegram.AllowedUserIDs,
		PollTimeoutSec: cfg.Telegram.PollTimeoutSec,
		RateLimit:      cfg.Telegram.RateLimitPerMin,
	})

	// SIGINT/SIGTERM cancellation flows through the same ctx used by
	// the bridge's poll loop.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bridge.Start(ctx)

	logger.Info("homeagent stopped")
	return nil
}

// app bundles the wired core components shared by serve and ask.
type app struct {
	db     *sql.DB
	media  *jellyseerr.Client
	driver *agent.Driver
}

// buildApp opens the database and constructs the stores, clients, and
// driver from configuration. The caller owns closing app.db.
func buildApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}

	profiles, err := profile.NewStore(db, cfg.Agent.DefaultLanguage, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	histStore, err := history.NewStore(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	media := jellyseerr.New(cfg.Jellyseerr.URL, cfg.Jellyseerr.APIKey, logger)
	registry := tools.NewRegistry(media, logger)

	// Lazy resolution defers credential use until the first model call,
	// so the process can start and report config problems before any
	// tokens are spent.
	llmClient := llm.NewRetryingClient(
		func() (llm.Client, error) {
			return llm.NewOpenRouterClient(cfg.Model.BaseURL, cfg.Model.APIKey, logger), nil
		},
		llm.WithMaxRetries(cfg.Model.MaxRetries),
		llm.WithBaseDelay(time.Duration(cfg.Model.BaseDelaySec)*time.Second),
		llm.WithMaxDelay(time.Duration(cfg.Model.MaxDelaySec)*time.Second),
		llm.WithRetryLogger(logger),
	)

	driver := agent.New(agent.Config{
		Logger:        logger,
		Profiles:      profiles,
		History:       histStore,
		LLM:           llmClient,
		Registry:      registry,
		Model:         cfg.Model.Name,
		HistoryPairs:  cfg.Agent.HistoryPairs,
		MaxToolRounds: cfg.Agent.MaxToolRounds,
	})

	return &app{db: db, media: media, driver: driver}, nil
}

// newLogger creates a structured text logger writing to w at the given
// level. All log output goes through slog.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
