// Package dispatch routes chat commands to registered handlers.
//
// Dispatch resolves the handler, enforces the permission table, runs the
// handler and turns every failure into exactly one reply to the user. It
// never returns an error to the platform adapter that called it.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/ccbridge/ccbridge/internal/debug"
	"github.com/ccbridge/ccbridge/internal/roles"
	"github.com/ccbridge/ccbridge/internal/telemetry"
)

// PermissionDeniedMessage is sent when the user's role is too low.
const PermissionDeniedMessage = "Permission denied: you do not have access to this command."

// ErrHandlerPanic wraps a value recovered from a panicking handler.
var ErrHandlerPanic = errors.New("handler panicked")

// Outcome labels for metrics.
const (
	outcomeOK      = "ok"
	outcomeUnknown = "unknown"
	outcomeDenied  = "denied"
	outcomeError   = "error"
)

// Action is the behaviour behind a command. It reports results through
// c.Respond and c.StreamUpdate.
type Action func(ctx context.Context, c *Context) error

// Handler is a named command.
type Handler struct {
	Name        string
	Description string
	// RequiredRole, when set, turns on the permission check for this command.
	// It is also a floor: the user needs this role in addition to whatever
	// the permission table requires for Name.
	RequiredRole roles.Role
	Action       Action
}

// Context is built fresh for every command invocation.
type Context struct {
	Command   string
	Args      map[string]string
	User      roles.User
	Platform  string
	SessionID string

	// Respond sends a message back to the user.
	Respond func(ctx context.Context, text string) error
	// StreamUpdate reports progress for a long-running command. Adapters
	// typically edit one message in place.
	StreamUpdate func(ctx context.Context, text string) error
}

// Arg returns the named argument or "".
func (c *Context) Arg(name string) string {
	return c.Args[name]
}

// Reply calls Respond if it is set.
func (c *Context) Reply(ctx context.Context, text string) error {
	if c.Respond == nil {
		return nil
	}
	return c.Respond(ctx, text)
}

// Update calls StreamUpdate if it is set.
func (c *Context) Update(ctx context.Context, text string) error {
	if c.StreamUpdate == nil {
		return nil
	}
	return c.StreamUpdate(ctx, text)
}

// Dispatcher owns a handler registry and the permission table it enforces.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler

	table   *roles.Table
	logger  *log.Logger
	metrics *telemetry.DispatchInstruments
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTable sets the permission table (default: roles.DefaultTable()).
func WithTable(t *roles.Table) Option {
	return func(d *Dispatcher) {
		if t != nil {
			d.table = t
		}
	}
}

// WithLogger sets the logger for handler failures.
func WithLogger(l *log.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a dispatcher with an empty registry.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[string]Handler),
		table:    roles.DefaultTable(),
		logger:   debug.Discard(),
		metrics:  telemetry.NewDispatchInstruments(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Table returns the permission table in use.
func (d *Dispatcher) Table() *roles.Table {
	return d.table
}

// Register adds h, replacing any handler with the same name.
func (d *Dispatcher) Register(h Handler) {
	d.mu.Lock()
	d.handlers[h.Name] = h
	d.mu.Unlock()
}

// Unregister removes the named handler, if any.
func (d *Dispatcher) Unregister(name string) {
	d.mu.Lock()
	delete(d.handlers, name)
	d.mu.Unlock()
}

// Has reports whether a handler is registered under name.
func (d *Dispatcher) Has(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[name]
	return ok
}

// Handlers returns the registered handlers sorted by name.
func (d *Dispatcher) Handlers() []Handler {
	d.mu.RLock()
	out := make([]Handler, 0, len(d.handlers))
	for _, h := range d.handlers {
		out = append(out, h)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Allowed reports whether user passes the permission check for h.
// Handlers without a RequiredRole are open to everyone.
func (d *Dispatcher) Allowed(user roles.User, h Handler) bool {
	if !h.RequiredRole.Valid() {
		return true
	}
	return d.table.CheckPermission(user, h.Name) && roles.HasRole(user.Role, h.RequiredRole)
}

// Dispatch runs the command named in c. It always returns normally; every
// outcome is reported to the user through c.Respond.
func (d *Dispatcher) Dispatch(ctx context.Context, c *Context) {
	ctx, span, start := d.metrics.Start(ctx, c.Command, c.Platform)
	outcome, err := d.dispatch(ctx, c)
	d.metrics.Finish(ctx, span, start, c.Command, outcome, err)
}

func (d *Dispatcher) dispatch(ctx context.Context, c *Context) (string, error) {
	d.mu.RLock()
	h, ok := d.handlers[c.Command]
	d.mu.RUnlock()

	if !ok {
		d.reply(ctx, c, fmt.Sprintf("Unknown command: %s", c.Command))
		return outcomeUnknown, nil
	}

	if !d.Allowed(c.User, h) {
		d.logger.Debug("permission denied", "command", c.Command, "user", c.User.ID, "role", c.User.Role)
		d.reply(ctx, c, PermissionDeniedMessage)
		return outcomeDenied, nil
	}

	if err := runAction(ctx, h.Action, c); err != nil {
		d.logger.Error("command failed", "command", c.Command, "err", err)
		d.reply(ctx, c, "Error: "+err.Error())
		return outcomeError, err
	}
	return outcomeOK, nil
}

func runAction(ctx context.Context, action Action, c *Context) (err error) {
	if action == nil {
		return fmt.Errorf("command %q has no action", c.Command)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return action(ctx, c)
}

// reply delivers text, logging rather than returning a delivery failure.
func (d *Dispatcher) reply(ctx context.Context, c *Context, text string) {
	if err := c.Reply(ctx, text); err != nil {
		d.logger.Warn("reply failed", "command", c.Command, "platform", c.Platform, "err", err)
	}
}
