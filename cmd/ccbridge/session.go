package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ccbridge/ccbridge/internal/assistant"
	"github.com/ccbridge/ccbridge/internal/sessionstore"
	"github.com/ccbridge/ccbridge/internal/ui"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and clear stored conversations",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored conversations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listSessions(os.Stdout, assistant.NewSessions(sessionsDir(cfg)))
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a conversation's turns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return showSession(os.Stdout, assistant.NewSessions(sessionsDir(cfg)), args[0])
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear <session-id>...",
	Short: "Delete stored conversations",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return clearSessions(os.Stdout, assistant.NewSessions(sessionsDir(cfg)), args)
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionClearCmd)
}

// clearSessions forgets each id, printing one status line per id. It keeps
// going past failures and returns them joined.
func clearSessions(w io.Writer, sessions *assistant.Sessions, ids []string) error {
	var errs []error
	for _, id := range ids {
		if err := sessions.Forget(id); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			fmt.Fprintf(w, "%s %s\n", ui.RenderStatus(false, id), ui.RenderFail(err.Error()))
			continue
		}
		fmt.Fprintln(w, ui.RenderStatus(true, "Cleared "+id))
	}
	return errors.Join(errs...)
}

func listSessions(w io.Writer, sessions *assistant.Sessions) error {
	ids, err := sessions.List()
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(ids) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("No stored sessions."))
		return nil
	}

	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		conv, ok := sessions.Get(id)
		if !ok {
			rows = append(rows, []string{id, "", "", ui.RenderWarn("unreadable")})
			continue
		}
		rows = append(rows, []string{
			id,
			conv.Backend,
			strconv.Itoa(len(conv.Turns)),
			conv.UpdatedAt.Local().Format(time.DateTime),
		})
	}
	fmt.Fprint(w, ui.RenderTable([]string{"SESSION", "BACKEND", "TURNS", "UPDATED"}, rows))
	return nil
}

func showSession(w io.Writer, sessions *assistant.Sessions, id string) error {
	conv, err := sessions.Store().LoadStrict(id)
	if err != nil {
		if errors.Is(err, sessionstore.ErrNotFound) {
			return fmt.Errorf("no conversation stored for %s", id)
		}
		return err
	}

	fmt.Fprintf(w, "%s %s\n", ui.RenderHeader("session"), id)
	fmt.Fprintf(w, "  backend: %s\n", conv.Backend)
	if conv.ResumeID != "" {
		fmt.Fprintf(w, "  resume:  %s\n", conv.ResumeID)
	}
	fmt.Fprintf(w, "  created: %s\n", conv.CreatedAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "  cost:    $%.4f\n", conv.CostUSD)

	for i, turn := range conv.Turns {
		fmt.Fprintf(w, "\n%s %s\n", ui.RenderAccent(fmt.Sprintf("#%d", i+1)), ui.RenderMuted(turn.At.Local().Format(time.DateTime)))
		fmt.Fprintf(w, "%s %s\n", ui.RenderAccent(">"), indent(turn.Prompt))
		fmt.Fprintln(w, turn.Reply)
	}
	return nil
}

func indent(s string) string {
	return strings.ReplaceAll(s, "\n", "\n  ")
}
