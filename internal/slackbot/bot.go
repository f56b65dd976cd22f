// Package slackbot connects ccbridge to Slack.
// It uses the slack-go/slack library with Socket Mode for WebSocket-based communication.
package slackbot

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/ccbridge/ccbridge/internal/bridge"
	"github.com/ccbridge/ccbridge/internal/debug"
)

// Platform is the platform name used in session keys and role ids.
const Platform = "slack"

const (
	// maxMessageLen keeps messages under Slack's per-message text limit.
	maxMessageLen    = 3900
	progressInterval = 2 * time.Second
)

var mentionRE = regexp.MustCompile(`<@[A-Z0-9]+>`)

// Bot is a Socket Mode Slack bot that forwards commands to a Handler.
type Bot struct {
	client     SlackAPI
	socketMode *socketmode.Client
	handler    Handler
	health     ConnectionReporter
	logger     *log.Logger

	botUserID string

	userNamesMu sync.RWMutex
	userNames   map[string]string

	lanes *bridge.Lanes
}

// ConnectionReporter receives connection state changes. *bridge.HealthServer
// implements it.
type ConnectionReporter interface {
	SetConnected(name string, connected bool)
}

// BotConfig holds configuration for the Slack bot.
type BotConfig struct {
	BotToken string // xoxb-... Slack bot token
	AppToken string // xapp-... Slack app-level token (for Socket Mode)
	Debug    bool
}

// NewBot creates a new Slack bot. health may be nil.
func NewBot(cfg BotConfig, handler Handler, health ConnectionReporter) (*Bot, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	if cfg.AppToken == "" {
		return nil, fmt.Errorf("app token is required for Socket Mode")
	}
	if !strings.HasPrefix(cfg.AppToken, "xapp-") {
		return nil, fmt.Errorf("app token must start with xapp-")
	}

	client := slack.New(
		cfg.BotToken,
		slack.OptionDebug(cfg.Debug),
		slack.OptionAppLevelToken(cfg.AppToken),
	)
	socketClient := socketmode.New(
		client,
		socketmode.OptionDebug(cfg.Debug),
	)

	b := newBot(client, handler, health)
	b.socketMode = socketClient
	return b, nil
}

func newBot(client SlackAPI, handler Handler, health ConnectionReporter) *Bot {
	return &Bot{
		client:    client,
		handler:   handler,
		health:    health,
		logger:    debug.Logger(Platform),
		userNames: make(map[string]string),
		lanes:     bridge.NewLanes(),
	}
}

// Run starts the bot event loop. Blocks until ctx is canceled and in-flight
// commands have finished.
func (b *Bot) Run(ctx context.Context) error {
	authResp, err := b.client.AuthTest()
	if err != nil {
		b.logger.Warn("failed to get bot user ID", "err", err)
	} else {
		b.botUserID = authResp.UserID
		b.logger.Info("authenticated", "bot_user", b.botUserID, "team", authResp.Team)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-b.socketMode.Events:
				if !ok {
					return
				}
				b.handleEvent(ctx, evt)
			}
		}
	}()

	err = b.socketMode.RunContext(ctx)
	b.lanes.Close()
	b.setConnected(false)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (b *Bot) setConnected(connected bool) {
	if b.health != nil {
		b.health.SetConnected(Platform, connected)
	}
}

func (b *Bot) ack(evt socketmode.Event) {
	if b.socketMode != nil && evt.Request != nil {
		b.socketMode.Ack(*evt.Request)
	}
}

func (b *Bot) handleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		b.logger.Info("connecting to Socket Mode")

	case socketmode.EventTypeConnected:
		b.logger.Info("connected to Socket Mode")
		b.setConnected(true)

	case socketmode.EventTypeConnectionError:
		b.logger.Warn("connection error", "data", evt.Data)
		b.setConnected(false)

	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		b.ack(evt)
		b.handleEventsAPI(ctx, eventsAPIEvent)

	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slack.SlashCommand)
		if !ok {
			return
		}
		b.ack(evt)
		b.handleSlashCommand(ctx, cmd)
	}
}

func (b *Bot) handleSlashCommand(ctx context.Context, cmd slack.SlashCommand) {
	in := bridge.Inbound{
		Platform:  Platform,
		ChannelID: cmd.ChannelID,
		UserID:    cmd.UserID,
		UserName:  cmd.UserName,
		Command:   cmd.Command,
		Text:      cmd.Text,
	}
	b.attachResponders(&in, cmd.ChannelID, "")
	b.dispatch(ctx, in)
}

func (b *Bot) handleEventsAPI(ctx context.Context, event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}

	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		if ev.BotID != "" || ev.User == b.botUserID {
			return
		}
		thread := ev.ThreadTimeStamp
		if thread == "" {
			thread = ev.TimeStamp
		}
		b.handleText(ctx, ev.Channel, thread, ev.User, stripMentions(ev.Text))

	case *slackevents.MessageEvent:
		// Channel messages reach the bot as app mentions; only DMs are read here.
		if ev.ChannelType != "im" || ev.SubType != "" || ev.BotID != "" || ev.User == b.botUserID {
			return
		}
		b.handleText(ctx, ev.Channel, ev.ThreadTimeStamp, ev.User, ev.Text)
	}
}

func (b *Bot) handleText(ctx context.Context, channel, thread, user, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	in := bridge.Inbound{
		Platform:  Platform,
		ChannelID: channel,
		ThreadID:  thread,
		UserID:    user,
		UserName:  b.userName(user),
		Text:      text,
		// Only app mentions and DMs reach here.
		Addressed: true,
	}
	b.attachResponders(&in, channel, thread)
	b.dispatch(ctx, in)
}

// dispatch hands the message to its conversation's lane without blocking the
// event loop.
func (b *Bot) dispatch(ctx context.Context, in bridge.Inbound) {
	accepted := b.lanes.Submit(in, func(in bridge.Inbound) {
		if !b.handler.Handle(ctx, in) {
			b.logger.Debug("ignored message", "channel", in.ChannelID, "user", in.UserID)
		}
	})
	if !accepted {
		b.logger.Debug("dropped message after shutdown", "channel", in.ChannelID)
	}
}

func (b *Bot) attachResponders(in *bridge.Inbound, channel, thread string) {
	opts := func(text string) []slack.MsgOption {
		o := []slack.MsgOption{slack.MsgOptionText(text, false)}
		if thread != "" {
			o = append(o, slack.MsgOptionTS(thread))
		}
		return o
	}

	progress := bridge.NewProgress(
		func(_ context.Context, text string) (string, error) {
			_, ts, err := b.client.PostMessage(channel, opts(text)...)
			return ts, err
		},
		func(_ context.Context, ts, text string) error {
			_, _, _, err := b.client.UpdateMessage(channel, ts, slack.MsgOptionText(text, false))
			return err
		},
		progressInterval, maxMessageLen,
	)

	in.StreamUpdate = progress.Update
	in.Respond = func(ctx context.Context, text string) error {
		if err := progress.Flush(ctx); err != nil {
			b.logger.Debug("progress flush failed", "err", err)
		}
		for _, chunk := range bridge.SplitMessage(text, maxMessageLen) {
			if _, _, err := b.client.PostMessage(channel, opts(chunk)...); err != nil {
				return fmt.Errorf("post to %s: %w", channel, err)
			}
		}
		return nil
	}
}

// userName returns the user's display name, caching lookups.
func (b *Bot) userName(userID string) string {
	b.userNamesMu.RLock()
	name, ok := b.userNames[userID]
	b.userNamesMu.RUnlock()
	if ok {
		return name
	}

	name = userID
	if info, err := b.client.GetUserInfo(userID); err == nil {
		if info.RealName != "" {
			name = info.RealName
		} else if info.Name != "" {
			name = info.Name
		}
	}
	b.userNamesMu.Lock()
	b.userNames[userID] = name
	b.userNamesMu.Unlock()
	return name
}

func stripMentions(text string) string {
	return strings.TrimSpace(mentionRE.ReplaceAllString(text, ""))
}
