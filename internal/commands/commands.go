// Package commands provides the built-in chat commands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ccbridge/ccbridge/internal/assistant"
	"github.com/ccbridge/ccbridge/internal/debug"
	"github.com/ccbridge/ccbridge/internal/dispatch"
	"github.com/ccbridge/ccbridge/internal/queue"
	"github.com/ccbridge/ccbridge/internal/roles"
	"github.com/ccbridge/ccbridge/internal/sessionstore"
)

// ErrNothingToAsk is returned by ask without text.
var ErrNothingToAsk = errors.New("nothing to ask")

// Deps are the services the built-in commands use.
type Deps struct {
	Queue    *queue.Queue
	Backend  assistant.Backend
	Sessions *assistant.Sessions
	Logger   *log.Logger
}

type handlers struct {
	Deps
	d *dispatch.Dispatcher
}

// Register adds the built-in commands to d.
func Register(d *dispatch.Dispatcher, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = debug.Logger("commands")
	}
	h := &handlers{Deps: deps, d: d}
	for _, cmd := range []dispatch.Handler{
		{Name: "help", Description: "List the commands you can run", RequiredRole: roles.RoleViewer, Action: h.help},
		{Name: "whoami", Description: "Show your user id and role", RequiredRole: roles.RoleViewer, Action: h.whoami},
		{Name: "status", Description: "Show queued work and the assistant backend", RequiredRole: roles.RoleViewer, Action: h.status},
		{Name: "ask", Description: "Ask the assistant: /ask <prompt>", RequiredRole: roles.RoleUser, Action: h.ask},
		{Name: "new", Description: "Start a new conversation in this chat", RequiredRole: roles.RoleUser, Action: h.newConversation},
		{Name: "sessions", Description: "List stored conversations", RequiredRole: roles.RoleAdmin, Action: h.sessions},
		{Name: "reset", Description: "Clear a conversation: /reset [--session=<id>]", RequiredRole: roles.RoleAdmin, Action: h.reset},
	} {
		d.Register(cmd)
	}
}

func (h *handlers) help(ctx context.Context, c *dispatch.Context) error {
	var sb strings.Builder
	sb.WriteString("Commands:\n")
	for _, cmd := range h.d.Handlers() {
		if !h.d.Allowed(c.User, cmd) {
			continue
		}
		fmt.Fprintf(&sb, "/%s - %s\n", cmd.Name, cmd.Description)
	}
	return c.Reply(ctx, strings.TrimRight(sb.String(), "\n"))
}

func (h *handlers) whoami(ctx context.Context, c *dispatch.Context) error {
	name := c.User.Name
	if name == "" {
		name = c.User.ID
	}
	return c.Reply(ctx, fmt.Sprintf("%s on %s\nid: %s\nrole: %s", name, c.Platform, c.User.ID, c.User.Role))
}

func (h *handlers) status(ctx context.Context, c *dispatch.Context) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Backend: %s\n", h.Backend.Name())

	stats := h.Queue.Stats()
	if len(stats) == 0 {
		sb.WriteString("Queue: idle")
		return c.Reply(ctx, sb.String())
	}
	sb.WriteString("Queue:")
	for _, s := range stats {
		state := "waiting"
		if s.Active {
			state = "running"
		}
		fmt.Fprintf(&sb, "\n  %s: %s, %d pending", s.Key, state, s.Pending)
	}
	return c.Reply(ctx, sb.String())
}

func (h *handlers) ask(ctx context.Context, c *dispatch.Context) error {
	prompt := c.Arg("text")
	if prompt == "" {
		return ErrNothingToAsk
	}
	session := c.SessionID

	if ahead := h.Queue.Len(session); ahead > 0 || h.Queue.Active(session) {
		_ = c.Update(ctx, fmt.Sprintf("Queued behind %d task(s) in this chat.", ahead+1))
	}

	reply, err := queue.Enqueue(h.Queue, session, func() (assistant.Reply, error) {
		conv, _ := h.Sessions.Get(session)
		_ = c.Update(ctx, "Thinking...")
		r, err := h.Backend.Ask(ctx, assistant.Request{
			SessionID:    session,
			Prompt:       prompt,
			Conversation: conv,
		}, func(progress string) {
			if err := c.Update(ctx, progress); err != nil {
				h.Logger.Debug("progress update failed", "session", session, "err", err)
			}
		})
		if err != nil {
			return r, err
		}
		if _, err := h.Sessions.Record(session, h.Backend.Name(), prompt, r); err != nil {
			h.Logger.Warn("conversation not saved", "session", session, "err", err)
		}
		return r, nil
	}).Wait(ctx)
	if err != nil {
		return err
	}

	text := reply.Text
	if text == "" {
		text = "(no response)"
	}
	h.Logger.Debug("answered", "session", session, "cost_usd", reply.CostUSD, "duration", reply.Duration.Round(time.Millisecond))
	return c.Reply(ctx, text)
}

func (h *handlers) newConversation(ctx context.Context, c *dispatch.Context) error {
	if err := h.forget(ctx, c.SessionID); err != nil {
		return err
	}
	return c.Reply(ctx, "Started a new conversation.")
}

func (h *handlers) sessions(ctx context.Context, c *dispatch.Context) error {
	ids, err := h.Sessions.List()
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(ids) == 0 {
		return c.Reply(ctx, "No stored sessions.")
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d stored session(s):", len(ids))
	for _, id := range ids {
		conv, ok := h.Sessions.Get(id)
		if !ok {
			fmt.Fprintf(&sb, "\n  %s (unreadable)", id)
			continue
		}
		marker := ""
		if id == c.SessionID {
			marker = " *"
		}
		fmt.Fprintf(&sb, "\n  %s: %d turn(s), updated %s%s", id, len(conv.Turns), conv.UpdatedAt.Format(time.RFC3339), marker)
	}
	return c.Reply(ctx, sb.String())
}

func (h *handlers) reset(ctx context.Context, c *dispatch.Context) error {
	target := firstNonEmpty(c.Arg("session"), c.Arg("text"), c.SessionID)
	if err := sessionstore.ValidateID(target); err != nil {
		return err
	}
	if err := h.forget(ctx, target); err != nil {
		return err
	}
	return c.Reply(ctx, fmt.Sprintf("Session %s reset.", target))
}

// forget clears a conversation after any work already queued for it.
func (h *handlers) forget(ctx context.Context, session string) error {
	return h.Queue.Do(ctx, session, func() error {
		return h.Sessions.Forget(session)
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
