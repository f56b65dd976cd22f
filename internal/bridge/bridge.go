// Package bridge turns chat messages from any platform adapter into
// dispatcher invocations.
package bridge

import (
	"context"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/ccbridge/ccbridge/internal/debug"
	"github.com/ccbridge/ccbridge/internal/dispatch"
	"github.com/ccbridge/ccbridge/internal/roles"
)

// Inbound is one message received by an adapter.
type Inbound struct {
	Platform  string
	ChannelID string
	ThreadID  string
	UserID    string
	UserName  string
	Text      string

	// Command is set when the platform already identified the command
	// (Slack slash commands, Discord interactions); Text then holds only
	// its arguments.
	Command string

	// Addressed is set by the adapter when the message was meant for the
	// bot. Only addressed chatter becomes an implicit ask.
	Addressed bool

	Respond      func(ctx context.Context, text string) error
	StreamUpdate func(ctx context.Context, text string) error
}

// Options tunes message parsing.
type Options struct {
	Prefixes    []string
	ImplicitAsk bool
	Logger      *log.Logger
}

// Bridge connects adapters to a dispatcher.
type Bridge struct {
	dispatcher *dispatch.Dispatcher
	directory  *roles.Directory
	opts       Options
}

// New creates a bridge. Roles are resolved through directory.
func New(d *dispatch.Dispatcher, directory *roles.Directory, opts Options) *Bridge {
	if len(opts.Prefixes) == 0 {
		opts.Prefixes = DefaultPrefixes
	}
	if opts.Logger == nil {
		opts.Logger = debug.Logger("bridge")
	}
	return &Bridge{dispatcher: d, directory: directory, opts: opts}
}

// Directory returns the role directory, for reloading assignments.
func (b *Bridge) Directory() *roles.Directory {
	return b.directory
}

// Handle dispatches the message if it is a command, or an implicit ask when
// enabled. It reports whether the message was dispatched; other chatter is
// ignored. Replies go through in.Respond.
func (b *Bridge) Handle(ctx context.Context, in Inbound) bool {
	name, args, ok := b.command(in)
	if !ok {
		return false
	}

	c := &dispatch.Context{
		Command:      name,
		Args:         args,
		User:         b.directory.Resolve(in.Platform, in.UserID, in.UserName),
		Platform:     in.Platform,
		SessionID:    SessionKey(in.Platform, in.ChannelID, in.ThreadID),
		Respond:      in.Respond,
		StreamUpdate: in.StreamUpdate,
	}
	b.opts.Logger.Debug("inbound command",
		"platform", in.Platform, "user", in.UserID, "role", c.User.Role, "command", name, "session", c.SessionID)
	b.dispatcher.Dispatch(ctx, c)
	return true
}

func (b *Bridge) command(in Inbound) (string, map[string]string, bool) {
	if in.Command != "" {
		return strings.ToLower(strings.TrimLeft(in.Command, "/!")), ParseArgs(in.Text), true
	}
	if name, args, ok := ParseCommand(in.Text, b.opts.Prefixes); ok {
		return name, args, true
	}
	text := strings.TrimSpace(in.Text)
	if b.opts.ImplicitAsk && in.Addressed && text != "" {
		return "ask", map[string]string{"text": text}, true
	}
	return "", nil, false
}
