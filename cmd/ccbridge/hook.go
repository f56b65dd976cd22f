package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ccbridge/ccbridge/internal/debug"
	"github.com/ccbridge/ccbridge/internal/hookstate"
	"github.com/ccbridge/ccbridge/internal/ui"
)

// maxHookInput bounds how much of stdin a hook invocation reads.
const maxHookInput = 4 << 20

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Record a Claude Code hook event (reads JSON on stdin)",
	Long: `Reads one Claude Code hook event from stdin and updates per-session hook
state: sub-agent usage, injected rule files and injected directories.

Configure it as a command hook, for example in .claude/settings.json:

  "hooks": {"PostToolUse": [{"hooks": [{"type": "command", "command": "ccbridge hook"}]}]}

Problems are reported on stderr; the exit code is always 0 so the assistant
is never blocked by bookkeeping.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if ui.IsStdinTerminal() {
			reportHookError(os.Stderr, errors.New("expected a hook event on stdin"))
			return
		}
		reportHookError(os.Stderr, runHook(os.Stdin, hooksDir(cfg)))
	},
}

// reportHookError prints err unless --quiet is set. Hooks always exit 0.
func reportHookError(w io.Writer, err error) {
	if err == nil || debug.IsQuiet() {
		return
	}
	fmt.Fprintf(w, "ccbridge hook: %v\n", err)
}

func init() {
	rootCmd.AddCommand(hookCmd)
}

func runHook(r io.Reader, dir string) error {
	data, err := io.ReadAll(io.LimitReader(r, maxHookInput))
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	if len(data) == 0 {
		return errors.New("empty input")
	}
	ev, err := hookstate.ParseEvent(data)
	if err != nil {
		return err
	}
	return hookstate.New(dir).ApplyEvent(ev)
}
