// Package discordbot connects ccbridge to Discord over the gateway.
package discordbot

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"

	"github.com/ccbridge/ccbridge/internal/bridge"
	"github.com/ccbridge/ccbridge/internal/debug"
)

// Platform is the platform name used in session keys and role ids.
const Platform = "discord"

const (
	// Discord rejects messages over 2000 characters.
	maxMessageLen    = 1900
	progressInterval = 2 * time.Second
)

var mentionRE = regexp.MustCompile(`<@!?[0-9]+>`)

// Handler receives the messages the bot accepts. *bridge.Bridge implements it.
type Handler interface {
	Handle(ctx context.Context, in bridge.Inbound) bool
}

// ConnectionReporter receives connection state changes.
type ConnectionReporter interface {
	SetConnected(name string, connected bool)
}

// messenger is the subset of *discordgo.Session used to reply.
type messenger interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Bot is a Discord gateway bot that forwards messages to a Handler.
type Bot struct {
	session *discordgo.Session
	api     messenger
	handler Handler
	health  ConnectionReporter
	logger  *log.Logger

	mu     sync.Mutex
	selfID string
	ctx    context.Context

	lanes *bridge.Lanes
}

// NewBot creates a bot for token. health may be nil.
func NewBot(token string, handler Handler, health ConnectionReporter) (*Bot, error) {
	if token == "" {
		return nil, errors.New("discord bot token is required")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	b := newBot(s, handler, health)
	b.session = s
	return b, nil
}

func newBot(api messenger, handler Handler, health ConnectionReporter) *Bot {
	return &Bot{
		api:     api,
		handler: handler,
		health:  health,
		logger:  debug.Logger(Platform),
		ctx:     context.Background(),
		lanes:   bridge.NewLanes(),
	}
}

// Run opens the gateway connection and serves until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()

	b.session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		b.setSelf(r.User.ID)
		b.setConnected(true)
		b.logger.Info("connected", "user", r.User.Username, "guilds", len(r.Guilds))
	})
	b.session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Resumed) {
		b.setConnected(true)
	})
	b.session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		b.logger.Warn("disconnected from gateway")
		b.setConnected(false)
	})
	b.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		b.handleMessage(b.context(), m.Message)
	})

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	<-ctx.Done()

	err := b.session.Close()
	b.lanes.Close()
	b.setConnected(false)
	return err
}

func (b *Bot) context() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ctx
}

func (b *Bot) setSelf(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.selfID = id
}

func (b *Bot) self() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.selfID
}

func (b *Bot) setConnected(connected bool) {
	if b.health != nil {
		b.health.SetConnected(Platform, connected)
	}
}

func (b *Bot) handleMessage(ctx context.Context, m *discordgo.Message) {
	if m == nil || m.Author == nil || m.Author.Bot || m.Author.ID == b.self() {
		return
	}
	addressed := m.GuildID == "" || b.mentionsSelf(m)
	text := strings.TrimSpace(mentionRE.ReplaceAllString(m.Content, ""))
	if text == "" {
		return
	}
	in := bridge.Inbound{
		Platform:  Platform,
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		Text:      text,
		Addressed: addressed,
	}
	b.attachResponders(&in, m.ChannelID)

	// Gateway events arrive in order; the lane keeps them that way per channel.
	accepted := b.lanes.Submit(in, func(in bridge.Inbound) {
		if !b.handler.Handle(ctx, in) {
			b.logger.Debug("ignored message", "channel", m.ChannelID)
		}
	})
	if !accepted {
		b.logger.Debug("dropped message after shutdown", "channel", m.ChannelID)
	}
}

func (b *Bot) mentionsSelf(m *discordgo.Message) bool {
	self := b.self()
	if self == "" {
		return false
	}
	for _, u := range m.Mentions {
		if u != nil && u.ID == self {
			return true
		}
	}
	return strings.Contains(m.Content, "<@"+self+">") || strings.Contains(m.Content, "<@!"+self+">")
}

func (b *Bot) attachResponders(in *bridge.Inbound, channelID string) {
	progress := bridge.NewProgress(
		func(_ context.Context, text string) (string, error) {
			msg, err := b.api.ChannelMessageSend(channelID, text)
			if err != nil {
				return "", err
			}
			return msg.ID, nil
		},
		func(_ context.Context, id, text string) error {
			_, err := b.api.ChannelMessageEdit(channelID, id, text)
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
			if _, err := b.api.ChannelMessageSend(channelID, chunk); err != nil {
				return fmt.Errorf("send to %s: %w", channelID, err)
			}
		}
		return nil
	}
}
