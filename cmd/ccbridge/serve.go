package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ccbridge/ccbridge/internal/assistant"
	"github.com/ccbridge/ccbridge/internal/bridge"
	"github.com/ccbridge/ccbridge/internal/config"
	"github.com/ccbridge/ccbridge/internal/debug"
	"github.com/ccbridge/ccbridge/internal/discordbot"
	"github.com/ccbridge/ccbridge/internal/slackbot"
	"github.com/ccbridge/ccbridge/internal/telegram"
	"github.com/ccbridge/ccbridge/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat bridge (foreground)",
	Long: `Connects every enabled chat platform and serves commands until interrupted.

Platforms are enabled in the config file or by their token variables:
  SLACK_BOT_TOKEN + SLACK_APP_TOKEN   Slack Socket Mode (xoxb-/xapp- tokens)
  TELEGRAM_BOT_TOKEN                  Telegram long polling
  DISCORD_BOT_TOKEN                   Discord gateway

Optional:
  ANTHROPIC_API_KEY                   Needed when assistant.backend is "api"
  CCBRIDGE_HEALTH_PORT                Health check HTTP port (default: 8080, 0 disables)`,
	RunE: runServe,
}

var servePlatforms []string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringSliceVar(&servePlatforms, "platform", nil, "Only start these platforms (slack, telegram, discord)")
	serveCmd.Flags().Int("health-port", 0, "Health check HTTP port (overrides health.port)")
}

// runner is implemented by every platform bot.
type runner interface {
	Run(ctx context.Context) error
}

// connectionReporter matches the adapters' ConnectionReporter interfaces.
type connectionReporter interface {
	SetConnected(name string, connected bool)
}

func runServe(cmd *cobra.Command, _ []string) error {
	if cmd.Flags().Changed("health-port") {
		port, _ := cmd.Flags().GetInt("health-port")
		cfg.Health.Port = port
	}

	platforms := selectPlatforms(cfg.EnabledPlatforms(), servePlatforms)
	if len(platforms) == 0 {
		return fmt.Errorf("no chat platform enabled: set a token such as TELEGRAM_BOT_TOKEN or enable one in %s", loader.Path())
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := telemetry.Init(ctx, "ccbridge", Version); err != nil {
		logger.Warn("telemetry disabled", "err", err)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		telemetry.Shutdown(shutdownCtx)
	}()

	backend, err := assistant.NewBackend(cfg.Assistant)
	if err != nil {
		return err
	}
	a := newApp(cfg, backend)

	var health *bridge.HealthServer
	var reporter connectionReporter
	if cfg.Health.Port > 0 {
		health = bridge.NewHealthServer(cfg.Health.Port)
		reporter = health
	}

	bots := make(map[string]runner, len(platforms))
	for _, p := range platforms {
		bot, err := newPlatformBot(p, cfg, a, reporter)
		if err != nil {
			return fmt.Errorf("create %s bot: %w", p, err)
		}
		bots[p] = bot
		if health != nil {
			health.Register(p)
		}
	}

	loader.Watch(func(c *config.Config) {
		a.directory.Replace(c.Assignments())
		logger.Info("role assignments reloaded", "admins", len(c.Roles.Admins), "users", len(c.Roles.Users))
	})

	g, gctx := errgroup.WithContext(ctx)
	for name, bot := range bots {
		g.Go(func() error {
			if err := bot.Run(gctx); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	if health != nil {
		g.Go(func() error { return health.Start(gctx) })
	}

	logger.Info("ccbridge started",
		"platforms", strings.Join(platforms, ","),
		"backend", backend.Name(),
		"state_dir", cfg.StateDir)

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("ccbridge stopped")
	return err
}

// selectPlatforms filters enabled by the --platform flag, keeping enabled's order.
func selectPlatforms(enabled, only []string) []string {
	if len(only) == 0 {
		return enabled
	}
	want := make(map[string]bool, len(only))
	for _, p := range only {
		want[strings.ToLower(strings.TrimSpace(p))] = true
	}
	var out []string
	for _, p := range enabled {
		if want[p] {
			out = append(out, p)
		}
	}
	return out
}

func newPlatformBot(platform string, c *config.Config, a *app, reporter connectionReporter) (runner, error) {
	switch platform {
	case slackbot.Platform:
		return slackbot.NewBot(slackConfig(c), a.bridge, reporter)
	case telegram.Platform:
		return telegram.NewBot(telegram.Config{
			Token:        c.Telegram.Token,
			APIURL:       c.Telegram.APIURL,
			AllowedChats: c.Telegram.AllowedChats,
			PollTimeout:  c.Telegram.PollTimeout,
			Commands:     telegramCommands(a),
		}, a.bridge, reporter)
	case discordbot.Platform:
		return discordbot.NewBot(c.Discord.Token, a.bridge, reporter)
	default:
		return nil, fmt.Errorf("unknown platform %q", platform)
	}
}

// slackConfig maps the slack section to the adapter's config. --verbose
// also turns on the client's wire-level debug output.
func slackConfig(c *config.Config) slackbot.BotConfig {
	return slackbot.BotConfig{
		BotToken: c.Slack.BotToken,
		AppToken: c.Slack.AppToken,
		Debug:    c.Slack.Debug || debug.Enabled(),
	}
}

func telegramCommands(a *app) []telegram.BotCommand {
	handlers := a.dispatcher.Handlers()
	out := make([]telegram.BotCommand, 0, len(handlers))
	for _, h := range handlers {
		out = append(out, telegram.BotCommand{Command: h.Name, Description: h.Description})
	}
	return out
}
