package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccbridge/ccbridge/internal/assistant"
	"github.com/ccbridge/ccbridge/internal/bridge"
	"github.com/ccbridge/ccbridge/internal/config"
	"github.com/ccbridge/ccbridge/internal/debug"
	"github.com/ccbridge/ccbridge/internal/dispatch"
)

type echoBackend struct {
	mu      sync.Mutex
	prompts []string
}

func (b *echoBackend) Name() string { return "echo" }

func (b *echoBackend) Ask(_ context.Context, req assistant.Request, onUpdate func(string)) (assistant.Reply, error) {
	b.mu.Lock()
	b.prompts = append(b.prompts, req.Prompt)
	b.mu.Unlock()
	onUpdate("working")
	return assistant.Reply{Text: "echo: " + req.Prompt, ResumeID: "r-1"}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		StateDir: t.TempDir(),
		Bridge:   config.BridgeConfig{Prefixes: []string{"/", "!"}},
		Roles: config.RolesConfig{
			Admins:   []string{"telegram:1"},
			Users:    []string{"2"},
			Default:  "viewer",
			Baseline: "user",
		},
	}
}

type replies struct {
	mu   sync.Mutex
	text []string
}

func (r *replies) respond(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.text = append(r.text, text)
	return nil
}

func send(t *testing.T, a *app, userID, text string) []string {
	t.Helper()
	r := &replies{}
	handled := a.bridge.Handle(context.Background(), bridge.Inbound{
		Platform:  "telegram",
		ChannelID: "100",
		UserID:    userID,
		Text:      text,
		Respond:   r.respond,
	})
	require.True(t, handled)
	return r.text
}

func TestAppRoutesByRole(t *testing.T) {
	backend := &echoBackend{}
	a := newApp(testConfig(t), backend)

	assert.Equal(t, []string{dispatch.PermissionDeniedMessage}, send(t, a, "3", "/ask hi"))
	assert.Equal(t, []string{"echo: hello"}, send(t, a, "2", "/ask hello"))
	assert.Equal(t, []string{dispatch.PermissionDeniedMessage}, send(t, a, "2", "/sessions"))
	assert.Equal(t, []string{"Unknown command: nope"}, send(t, a, "3", "/nope"))

	out := send(t, a, "1", "/sessions")
	require.Len(t, out, 1)
	assert.Contains(t, out[0], "telegram-100: 1 turn(s)")

	conv, ok := a.sessions.Get("telegram-100")
	require.True(t, ok)
	assert.Equal(t, "echo", conv.Backend)
	assert.Equal(t, "r-1", conv.ResumeID)
	assert.Equal(t, []string{"hello"}, backend.prompts)
}

func TestAppDirectoryReload(t *testing.T) {
	c := testConfig(t)
	a := newApp(c, &echoBackend{})
	assert.Equal(t, []string{dispatch.PermissionDeniedMessage}, send(t, a, "3", "/ask hi"))

	c.Roles.Users = append(c.Roles.Users, "telegram:3")
	a.directory.Replace(c.Assignments())
	assert.Equal(t, []string{"echo: hi"}, send(t, a, "3", "/ask hi"))
}

func TestPermissionTableBaseline(t *testing.T) {
	c := testConfig(t)
	c.Roles.Baseline = "admin"
	table := permissionTable(c)

	assert.Equal(t, "admin", table.RequiredRole("deploy").String())
	assert.Equal(t, "viewer", table.RequiredRole("help").String())
}

func TestSelectPlatforms(t *testing.T) {
	enabled := []string{"slack", "telegram", "discord"}

	assert.Equal(t, enabled, selectPlatforms(enabled, nil))
	assert.Equal(t, []string{"slack", "discord"}, selectPlatforms(enabled, []string{"Discord", " slack"}))
	assert.Empty(t, selectPlatforms([]string{"telegram"}, []string{"slack"}))
}

func TestTelegramCommandsMenu(t *testing.T) {
	a := newApp(testConfig(t), &echoBackend{})
	cmds := telegramCommands(a)

	var names []string
	for _, c := range cmds {
		names = append(names, c.Command)
		assert.NotEmpty(t, c.Description)
	}
	assert.Equal(t, []string{"ask", "help", "new", "reset", "sessions", "status", "whoami"}, names)
}

func TestPrintCommands(t *testing.T) {
	lipgloss.SetColorProfile(termenv.Ascii)

	var buf bytes.Buffer
	printCommands(&buf, newApp(testConfig(t), offlineBackend{}))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "COMMAND"))
	assert.Regexp(t, `/sessions\s+admin`, out)
	assert.Regexp(t, `/ask\s+user`, out)
	assert.Regexp(t, `/help\s+viewer`, out)
	assert.Contains(t, out, "Unlisted commands need role user.")
}

func TestSlackConfigFollowsVerbose(t *testing.T) {
	t.Cleanup(func() { debug.SetVerbose(false) })
	c := &config.Config{Slack: config.SlackConfig{BotToken: "xoxb-1", AppToken: "xapp-1"}}

	sc := slackConfig(c)
	assert.Equal(t, "xoxb-1", sc.BotToken)
	assert.Equal(t, "xapp-1", sc.AppToken)
	if !debug.Enabled() {
		assert.False(t, sc.Debug)
	}

	debug.SetVerbose(true)
	assert.True(t, slackConfig(c).Debug)

	c.Slack.Debug = true
	debug.SetVerbose(false)
	assert.True(t, slackConfig(c).Debug)
}
