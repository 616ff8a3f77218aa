package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codefionn/chatrelay/internal/chat"
	"github.com/codefionn/chatrelay/internal/config"
	"github.com/codefionn/chatrelay/internal/logger"
	"github.com/codefionn/chatrelay/internal/ollama"
	"github.com/codefionn/chatrelay/internal/relay"
	"github.com/codefionn/chatrelay/internal/retry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to the config file")
	listenAddr := flag.String("listen", "", "listen address (overrides config)")
	ollamaURL := flag.String("ollama-url", "", "ollama base URL (overrides config)")
	historyDir := flag.String("history-dir", "", "chat history directory (overrides config)")
	maxContextTokens := flag.Int("max-context-tokens", -1, "token budget for outbound context, 0 disables (overrides config)")
	noAutostart := flag.Bool("no-autostart", false, "never spawn 'ollama serve'")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error, none (overrides config)")
	logPath := flag.String("log-file", "", "write logs to this file in addition to the console")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *ollamaURL != "" {
		cfg.OllamaURL = *ollamaURL
	}
	if *historyDir != "" {
		cfg.HistoryDir = *historyDir
	}
	if *maxContextTokens >= 0 {
		cfg.MaxContextTokens = *maxContextTokens
	}
	if *noAutostart {
		cfg.AutostartBackend = false
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *logPath != "" {
		cfg.LogPath = *logPath
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logger.Global().Close()

	store, err := chat.NewStore(cfg.HistoryDir, cfg.SystemPrompt, cfg.MaxHistoryMessages)
	if err != nil {
		return err
	}

	client := ollama.NewClient(cfg.OllamaURL)
	runner := ollama.NewRunner(client, retry.Policy{
		MaxAttempts: cfg.ReadyMaxAttempts,
		Interval:    time.Duration(cfg.ReadyIntervalSeconds) * time.Second,
	}, cfg.AutostartBackend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := relay.NewServer(cfg, store, client, runner)
	if err := srv.Start(); err != nil {
		return err
	}

	// Warm the backend up front so the first connection does not pay the
	// startup wait; failure here is not fatal, sessions retry on connect.
	if !runner.EnsureStarted(ctx) {
		logger.Error("Ollama backend is not available at startup")
	}

	<-ctx.Done()
	logger.Info("Shutting down")
	return srv.Stop()
}
