package assistant

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccbridge/ccbridge/internal/debug"
)

const streamFixture = `not json at all
{"type":"system","subtype":"init","session_id":"abc-123"}
{"type":"assistant","message":{"content":[{"type":"text","text":"Looking at the repo."},{"type":"tool_use","name":"Bash"}]},"session_id":"abc-123"}
{"type":"user","message":{"content":[{"type":"tool_result"}]}}
{"type":"assistant","message":{"content":[{"type":"text","text":"   "}]}}
{"type":"result","subtype":"success","is_error":false,"result":"All tests pass.","session_id":"abc-123","total_cost_usd":0.042,"duration_ms":1500}
`

func TestParseStream(t *testing.T) {
	var updates []string
	res, err := parseStream(strings.NewReader(streamFixture), func(s string) {
		updates = append(updates, s)
	})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, []string{"Looking at the repo.", "Using tool: Bash"}, updates)
	assert.Equal(t, "All tests pass.", res.Result)
	assert.Equal(t, "abc-123", res.SessionID)
	assert.InDelta(t, 0.042, res.TotalCostUSD, 1e-9)
	assert.EqualValues(t, 1500, res.DurationMS)
	assert.False(t, res.IsError)
}

func TestParseStreamWithoutResult(t *testing.T) {
	res, err := parseStream(strings.NewReader(`{"type":"system"}`+"\n"), nil)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestCLIArgs(t *testing.T) {
	b := NewCLIBackend(CLIOptions{ExtraArgs: []string{"--model", "opus"}, Logger: debug.Discard()})
	b.newID = func() string { return "fresh-id" }

	args, id := b.args(Request{Prompt: "hi"})
	assert.Equal(t, "fresh-id", id)
	assert.Equal(t, []string{"-p", "hi", "--output-format", "stream-json", "--verbose",
		"--session-id", "fresh-id", "--model", "opus"}, args)

	args, id = b.args(Request{Prompt: "again", Conversation: Conversation{ResumeID: "old-id"}})
	assert.Equal(t, "old-id", id)
	assert.Contains(t, strings.Join(args, " "), "--resume old-id")
	assert.NotContains(t, args, "--session-id")
}

// fakeClaude re-runs the test binary as TestHelperProcess in the given mode.
func fakeClaude(mode string) func(ctx context.Context, name string, args ...string) *exec.Cmd {
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "CCBRIDGE_HELPER_MODE="+mode)
		return cmd
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	prompt := ""
	for i, a := range args {
		if a == "-p" && i+1 < len(args) {
			prompt = args[i+1]
		}
	}

	switch os.Getenv("CCBRIDGE_HELPER_MODE") {
	case "ok":
		fmt.Println(`{"type":"assistant","message":{"content":[{"type":"text","text":"working"}]}}`)
		fmt.Printf(`{"type":"result","subtype":"success","result":"echo: %s","session_id":"sess-9","total_cost_usd":0.5}`+"\n", prompt)
		os.Exit(0)
	case "error":
		fmt.Println(`{"type":"result","subtype":"error_max_turns","is_error":true,"result":""}`)
		os.Exit(0)
	case "crash":
		fmt.Fprintln(os.Stderr, "boom: not logged in")
		os.Exit(3)
	case "hang":
		time.Sleep(time.Minute)
		os.Exit(0)
	}
	os.Exit(2)
}

func newFakeBackend(mode string, timeout time.Duration) *CLIBackend {
	b := NewCLIBackend(CLIOptions{Timeout: timeout, Logger: debug.Discard()})
	b.command = fakeClaude(mode)
	b.newID = func() string { return "new-id" }
	return b
}

func TestCLIAsk(t *testing.T) {
	b := newFakeBackend("ok", 30*time.Second)

	var updates []string
	reply, err := b.Ask(context.Background(), Request{SessionID: "s", Prompt: "status?"}, func(s string) {
		updates = append(updates, s)
	})
	require.NoError(t, err)
	assert.Equal(t, "echo: status?", reply.Text)
	assert.Equal(t, "sess-9", reply.ResumeID)
	assert.InDelta(t, 0.5, reply.CostUSD, 1e-9)
	assert.Equal(t, []string{"working"}, updates)
}

func TestCLIAskReportedError(t *testing.T) {
	b := newFakeBackend("error", 30*time.Second)
	_, err := b.Ask(context.Background(), Request{Prompt: "x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error_max_turns")
}

func TestCLIAskProcessFailure(t *testing.T) {
	b := newFakeBackend("crash", 30*time.Second)
	_, err := b.Ask(context.Background(), Request{Prompt: "x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not logged in")
}

func TestCLIAskTimeout(t *testing.T) {
	b := newFakeBackend("hang", 200*time.Millisecond)
	_, err := b.Ask(context.Background(), Request{Prompt: "x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestCLIAskMissingBinary(t *testing.T) {
	b := NewCLIBackend(CLIOptions{Path: "/nonexistent/claude-binary", Logger: debug.Discard()})
	_, err := b.Ask(context.Background(), Request{Prompt: "x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start /nonexistent/claude-binary")
}
