package main

import (
	"path/filepath"

	"github.com/ccbridge/ccbridge/internal/assistant"
	"github.com/ccbridge/ccbridge/internal/bridge"
	"github.com/ccbridge/ccbridge/internal/commands"
	"github.com/ccbridge/ccbridge/internal/config"
	"github.com/ccbridge/ccbridge/internal/debug"
	"github.com/ccbridge/ccbridge/internal/dispatch"
	"github.com/ccbridge/ccbridge/internal/queue"
	"github.com/ccbridge/ccbridge/internal/roles"
)

// app is the platform-independent core shared by every adapter.
type app struct {
	directory  *roles.Directory
	queue      *queue.Queue
	sessions   *assistant.Sessions
	dispatcher *dispatch.Dispatcher
	bridge     *bridge.Bridge
}

func newApp(c *config.Config, backend assistant.Backend) *app {
	a := &app{
		directory: roles.NewDirectory(c.Assignments()),
		queue:     queue.New(queue.WithLogger(debug.Logger("queue"))),
		sessions:  assistant.NewSessions(sessionsDir(c)),
	}
	a.dispatcher = dispatch.New(
		dispatch.WithTable(permissionTable(c)),
		dispatch.WithLogger(debug.Logger("dispatch")),
	)
	commands.Register(a.dispatcher, commands.Deps{
		Queue:    a.queue,
		Backend:  backend,
		Sessions: a.sessions,
	})
	a.bridge = bridge.New(a.dispatcher, a.directory, bridge.Options{
		Prefixes:    c.Bridge.Prefixes,
		ImplicitAsk: c.Bridge.ImplicitAsk,
		Logger:      debug.Logger("bridge"),
	})
	return a
}

// permissionTable is the built-in table with the configured baseline for
// commands it does not list.
func permissionTable(c *config.Config) *roles.Table {
	entries := make(map[string]roles.Role)
	for _, e := range roles.DefaultTable().Entries() {
		entries[e.Command] = e.Role
	}
	return roles.NewTable(entries, roles.WithBaseline(c.BaselineRole()))
}

func sessionsDir(c *config.Config) string {
	return filepath.Join(c.StateDir, "sessions")
}

func hooksDir(c *config.Config) string {
	return filepath.Join(c.StateDir, "hooks")
}
