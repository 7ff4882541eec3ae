// Command replay re-ingests Mailgun's stored events for one message, for
// webhooks that were lost while the server was down.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/socivy/rebel/internal/app"
	"github.com/socivy/rebel/internal/config"
	"github.com/socivy/rebel/internal/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration")
	profile := flag.String("profile", config.DefaultProfile, "sending profile the message went out on")
	messageID := flag.String("message-id", "", "provider message id, with or without angle brackets")
	flag.Parse()

	id := strings.Trim(strings.TrimSpace(*messageID), "<>")
	if id == "" {
		fmt.Fprintln(os.Stderr, "usage: replay -message-id <id> [-profile NAME] [-config PATH]")
		os.Exit(2)
	}

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	app.ConfigureLogger(cfg.Log)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	client, err := a.Registry.Client(*profile)
	if err != nil {
		logger.Error("unknown profile", "profile", *profile, "error", err)
		os.Exit(1)
	}

	stats, err := a.Reconciler.Replay(ctx, client, id)
	if err != nil {
		logger.Error("replay failed", "message_id", id, "error", err)
		os.Exit(1)
	}
	fmt.Printf("applied=%d missing=%d skipped=%d\n", stats.Applied, stats.Missing, stats.Skipped)
}
