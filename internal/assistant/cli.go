package assistant

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/ccbridge/ccbridge/internal/debug"
)

const (
	defaultCLIPath    = "claude"
	defaultCLITimeout = 10 * time.Minute
	maxStreamLine     = 16 << 20
	stderrTail        = 2048
)

// CLIOptions configures CLIBackend.
type CLIOptions struct {
	Path      string
	WorkDir   string
	ExtraArgs []string
	Timeout   time.Duration
	Logger    *log.Logger
}

// CLIBackend runs `claude -p` once per prompt and follows its stream-json
// output. Conversations continue with --resume.
type CLIBackend struct {
	opts CLIOptions

	// newID and command are replaced in tests.
	newID   func() string
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewCLIBackend creates a CLI backend.
func NewCLIBackend(opts CLIOptions) *CLIBackend {
	if opts.Path == "" {
		opts.Path = defaultCLIPath
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultCLITimeout
	}
	if opts.Logger == nil {
		opts.Logger = debug.Logger("assistant")
	}
	return &CLIBackend{
		opts:    opts,
		newID:   func() string { return uuid.New().String() },
		command: exec.CommandContext,
	}
}

// Name implements Backend.
func (b *CLIBackend) Name() string { return "cli" }

// args builds the claude argument list and returns the session id the
// conversation will have afterwards.
func (b *CLIBackend) args(req Request) ([]string, string) {
	args := []string{"-p", req.Prompt, "--output-format", "stream-json", "--verbose"}
	id := req.Conversation.ResumeID
	if id != "" {
		args = append(args, "--resume", id)
	} else {
		id = b.newID()
		args = append(args, "--session-id", id)
	}
	args = append(args, b.opts.ExtraArgs...)
	return args, id
}

// Ask implements Backend.
func (b *CLIBackend) Ask(ctx context.Context, req Request, onUpdate func(string)) (Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()

	args, sessionID := b.args(req)
	cmd := b.command(ctx, b.opts.Path, args...)
	cmd.Dir = b.opts.WorkDir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Reply{}, fmt.Errorf("claude stdout: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Reply{}, fmt.Errorf("start %s: %w", b.opts.Path, err)
	}
	b.opts.Logger.Debug("claude started", "session", req.SessionID, "resume", req.Conversation.ResumeID != "")

	res, parseErr := parseStream(stdout, onUpdate)
	// Drain anything left so Wait does not block on a full pipe.
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Reply{}, fmt.Errorf("claude timed out after %s", b.opts.Timeout)
	}
	if res == nil {
		if waitErr == nil {
			waitErr = parseErr
		}
		if waitErr == nil {
			waitErr = errors.New("no result in output")
		}
		return Reply{}, fmt.Errorf("claude failed: %w%s", waitErr, formatStderr(stderr.String()))
	}
	if res.IsError {
		return Reply{}, fmt.Errorf("claude reported an error: %s", firstNonEmpty(res.Result, res.Subtype))
	}

	if res.SessionID != "" {
		sessionID = res.SessionID
	}
	dur := time.Since(start)
	if res.DurationMS > 0 {
		dur = time.Duration(res.DurationMS) * time.Millisecond
	}
	return Reply{
		Text:     strings.TrimSpace(res.Result),
		ResumeID: sessionID,
		CostUSD:  res.TotalCostUSD,
		Duration: dur,
	}, nil
}

// streamEvent is the subset of claude's stream-json lines we use.
type streamEvent struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`
	Message   *struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
			Name string `json:"name"`
		} `json:"content"`
	} `json:"message"`

	// result lines
	Result       string  `json:"result"`
	IsError      bool    `json:"is_error"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	DurationMS   int64   `json:"duration_ms"`
}

// parseStream reads stream-json lines until EOF and returns the result line,
// or nil when none was seen. Assistant text and tool use go to onUpdate.
func parseStream(r io.Reader, onUpdate func(string)) (*streamEvent, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxStreamLine)

	var result *streamEvent
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "assistant":
			if onUpdate == nil || ev.Message == nil {
				continue
			}
			for _, block := range ev.Message.Content {
				switch block.Type {
				case "text":
					if t := strings.TrimSpace(block.Text); t != "" {
						onUpdate(t)
					}
				case "tool_use":
					onUpdate("Using tool: " + block.Name)
				}
			}
		case "result":
			ev := ev
			result = &ev
		}
	}
	return result, sc.Err()
}

func formatStderr(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(s) > stderrTail {
		s = "..." + s[len(s)-stderrTail:]
	}
	return ": " + s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
