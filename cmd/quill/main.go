// Command quill is the agent execution engine: a long-lived process that
// serves line-delimited JSON-RPC on standard streams, driving the agent
// loop against the configured model provider. Logs go to stderr; stdout is
// reserved for the RPC wire.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/quillengine/quill/internal/config"
	"github.com/quillengine/quill/internal/rpc"
	"github.com/quillengine/quill/internal/session"
	"github.com/quillengine/quill/internal/tasks"
	"github.com/quillengine/quill/internal/tools"
)

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to the YAML config file")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error")
	provider := flag.String("provider", "", "provider: anthropic, openai, gemini, ollama")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "quill:", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *provider != "" {
		id, err := config.ParseProviderID(*provider)
		if err != nil {
			fmt.Fprintln(os.Stderr, "quill:", err)
			os.Exit(1)
		}
		cfg.Provider = id
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	registry, err := tools.NewRegistry()
	if err != nil {
		logger.Error("failed to build tool registry", "error", err)
		os.Exit(1)
	}

	engine := &engine{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		ledger:   tasks.NewLedger(),
		session:  session.New(cfg.SessionCapacity),
	}
	engine.session.SetSystemMessage(defaultSystemPrompt)

	server := rpc.NewServer(os.Stdout, logger)
	engine.registerMethods(server)
	rpc.SetGlobal(server)

	logger.Info("quill engine ready", "provider", cfg.Provider)
	if err := server.Run(os.Stdin); err != nil {
		logger.Error("rpc serve loop failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func defaultConfigPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.config/quill/config.yaml"
	}
	return ""
}
