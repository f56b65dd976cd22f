package telegram

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"

	"github.com/ccbridge/ccbridge/internal/bridge"
	"github.com/ccbridge/ccbridge/internal/debug"
)

// Platform is the platform name used in session keys and role ids.
const Platform = "telegram"

const (
	maxMessageLen      = 4000
	progressInterval   = 2 * time.Second
	defaultPollTimeout = 30 * time.Second
)

// Handler receives the messages the bot accepts. *bridge.Bridge implements it.
type Handler interface {
	Handle(ctx context.Context, in bridge.Inbound) bool
}

// ConnectionReporter receives connection state changes.
type ConnectionReporter interface {
	SetConnected(name string, connected bool)
}

// Config configures the bot.
type Config struct {
	Token        string
	APIURL       string
	AllowedChats []string
	PollTimeout  time.Duration
	// Commands, when set, are published as the bot's command menu.
	Commands []BotCommand
}

// Bot polls Telegram and forwards messages to a Handler.
type Bot struct {
	client      *Client
	handler     Handler
	health      ConnectionReporter
	allowed     map[string]bool
	pollTimeout time.Duration
	commands    []BotCommand
	logger      *log.Logger

	// self is the bot's own account, from getMe.
	self      User
	mentionRE *regexp.Regexp

	newBackOff func() backoff.BackOff
	lanes      *bridge.Lanes
}

// NewBot creates a bot. health may be nil.
func NewBot(cfg Config, handler Handler, health ConnectionReporter) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram bot token is required")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	allowed := make(map[string]bool, len(cfg.AllowedChats))
	for _, id := range cfg.AllowedChats {
		allowed[id] = true
	}
	return &Bot{
		client:      NewClient(cfg.APIURL, cfg.Token, cfg.PollTimeout+10*time.Second),
		handler:     handler,
		health:      health,
		allowed:     allowed,
		pollTimeout: cfg.PollTimeout,
		commands:    cfg.Commands,
		logger:      debug.Logger(Platform),
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxInterval = time.Minute
			bo.MaxElapsedTime = 0
			return bo
		},
		lanes: bridge.NewLanes(),
	}, nil
}

// Run polls until ctx is cancelled. It fails only when the token is rejected.
func (b *Bot) Run(ctx context.Context) error {
	me, err := b.client.GetMe(ctx)
	if err != nil {
		if IsUnauthorized(err) {
			return fmt.Errorf("telegram token rejected: %w", err)
		}
		b.logger.Warn("getMe failed", "err", err)
	} else {
		b.setSelf(me)
		b.logger.Info("authenticated", "bot", me.Username)
	}
	if len(b.commands) > 0 {
		if err := b.client.SetMyCommands(ctx, b.commands); err != nil {
			b.logger.Warn("setMyCommands failed", "err", err)
		}
	}

	defer func() {
		b.lanes.Close()
		b.setConnected(false)
	}()

	offset := 0
	bo := b.newBackOff()
	for {
		var updates []Update
		err := backoff.RetryNotify(func() error {
			var err error
			updates, err = b.client.GetUpdates(ctx, offset, b.pollTimeout)
			if IsUnauthorized(err) {
				return backoff.Permanent(err)
			}
			return err
		}, backoff.WithContext(bo, ctx), func(err error, next time.Duration) {
			b.setConnected(false)
			b.logger.Warn("getUpdates failed", "err", err, "retry_in", next)
		})
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("telegram polling stopped: %w", err)
		}
		bo.Reset()
		b.setConnected(true)

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if u.Message != nil {
				b.handleMessage(ctx, u.Message)
			}
		}
	}
}

func (b *Bot) setSelf(me User) {
	b.self = me
	b.mentionRE = nil
	if me.Username != "" {
		b.mentionRE = regexp.MustCompile(`(?i)@` + regexp.QuoteMeta(me.Username) + `\b`)
	}
}

// addressed reports whether msg was meant for the bot. Private chats always
// are; in groups it takes a reply to the bot or an @mention.
func (b *Bot) addressed(msg *Message) bool {
	if msg.Chat.Type == "private" {
		return true
	}
	if r := msg.ReplyToMessage; r != nil && r.From != nil && b.self.ID != 0 && r.From.ID == b.self.ID {
		return true
	}
	return b.mentionRE != nil && b.mentionRE.MatchString(msg.Text)
}

func (b *Bot) setConnected(connected bool) {
	if b.health != nil {
		b.health.SetConnected(Platform, connected)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *Message) {
	if msg.From == nil || msg.From.IsBot || msg.Text == "" {
		return
	}
	chat := strconv.FormatInt(msg.Chat.ID, 10)
	if len(b.allowed) > 0 && !b.allowed[chat] {
		b.logger.Debug("message from chat not in allowed_chats", "chat", chat, "user", msg.From.ID)
		return
	}

	name := msg.From.Username
	if name == "" {
		name = msg.From.FirstName
	}
	text := msg.Text
	addressed := b.addressed(msg)
	if b.mentionRE != nil && !strings.HasPrefix(text, "/") {
		text = strings.TrimSpace(b.mentionRE.ReplaceAllString(text, ""))
	}
	if text == "" {
		return
	}
	in := bridge.Inbound{
		Platform:  Platform,
		ChannelID: chat,
		UserID:    strconv.FormatInt(msg.From.ID, 10),
		UserName:  name,
		Text:      text,
		Addressed: addressed,
	}
	if msg.MessageThreadID > 0 {
		in.ThreadID = strconv.Itoa(msg.MessageThreadID)
	}
	b.attachResponders(&in, msg.Chat.ID, msg.MessageThreadID)

	// Submitted from the poll loop, so one chat's messages keep update order.
	accepted := b.lanes.Submit(in, func(in bridge.Inbound) {
		if !b.handler.Handle(ctx, in) {
			b.logger.Debug("ignored message", "chat", chat)
		}
	})
	if !accepted {
		b.logger.Debug("dropped message after shutdown", "chat", chat)
	}
}

func (b *Bot) attachResponders(in *bridge.Inbound, chatID int64, threadID int) {
	progress := bridge.NewProgress(
		func(ctx context.Context, text string) (string, error) {
			m, err := b.client.SendMessage(ctx, chatID, threadID, text)
			if err != nil {
				return "", err
			}
			return strconv.Itoa(m.MessageID), nil
		},
		func(ctx context.Context, id, text string) error {
			messageID, err := strconv.Atoi(id)
			if err != nil {
				return err
			}
			return b.client.EditMessageText(ctx, chatID, messageID, text)
		},
		progressInterval, maxMessageLen,
	)

	in.StreamUpdate = progress.Update
	in.Respond = func(ctx context.Context, text string) error {
		if err := progress.Flush(ctx); err != nil {
			b.logger.Debug("progress flush failed", "err", err)
		}
		for _, chunk := range bridge.SplitMessage(text, maxMessageLen) {
			if _, err := b.client.SendMessage(ctx, chatID, threadID, chunk); err != nil {
				return err
			}
		}
		return nil
	}
}
