package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ccbridge/ccbridge/internal/assistant"
	"github.com/ccbridge/ccbridge/internal/ui"
)

var commandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "List chat commands and the role each one requires",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		printCommands(os.Stdout, newApp(cfg, offlineBackend{}))
	},
}

func init() {
	rootCmd.AddCommand(commandsCmd)
}

func printCommands(w io.Writer, a *app) {
	table := a.dispatcher.Table()
	handlers := a.dispatcher.Handlers()
	rows := make([][]string, 0, len(handlers))
	for _, h := range handlers {
		label := ui.RenderMuted("anyone")
		if h.RequiredRole.Valid() {
			role := table.RequiredRole(h.Name)
			if h.RequiredRole > role {
				role = h.RequiredRole
			}
			label = ui.RenderRole(role.String())
		}
		rows = append(rows, []string{"/" + h.Name, label, h.Description})
	}
	fmt.Fprint(w, ui.RenderTable([]string{"COMMAND", "ROLE", "DESCRIPTION"}, rows))
	fmt.Fprintf(w, "\n%s\n", ui.RenderMuted(fmt.Sprintf("Unlisted commands need role %s.", table.RequiredRole(""))))
}

// offlineBackend stands in for the assistant when commands are only listed.
type offlineBackend struct {
	assistant.Backend
}

func (offlineBackend) Name() string { return "offline" }
