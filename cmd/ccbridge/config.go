package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ccbridge/ccbridge/internal/config"
	"github.com/ccbridge/ccbridge/internal/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or create the ccbridge configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration (tokens omitted)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return showConfig(os.Stdout, loader)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file interactively",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing config file")
}

func showConfig(w io.Writer, l *config.Loader) error {
	c := l.Current()
	if c == nil {
		c = l.Load()
	}
	switch err := l.FileErr(); {
	case err == nil:
		fmt.Fprintln(w, ui.RenderMuted("# "+l.Path()))
	case errors.Is(err, config.ErrNoConfig):
		fmt.Fprintln(w, ui.RenderMuted("# "+l.Path()+" not found, showing defaults"))
	default:
		fmt.Fprintln(w, ui.RenderWarn("# "+l.Path()+" ignored: "+err.Error()))
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	path := loader.Path()
	if force, _ := cmd.Flags().GetBool("force"); !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	var (
		settings    = config.InitSettings{Backend: "cli"}
		adminsInput string
		confirm     = true
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Assistant backend").
				Description("How ccbridge talks to Claude").
				Options(
					huh.NewOption("Claude Code CLI (claude -p)", "cli"),
					huh.NewOption("Anthropic API (needs ANTHROPIC_API_KEY)", "api"),
				).
				Value(&settings.Backend),

			huh.NewInput().
				Title("Admins").
				Description("Comma-separated user ids, optionally platform:id (e.g. telegram:12345)").
				Value(&adminsInput),
		),

		huh.NewGroup(
			huh.NewInput().
				Title("Slack bot token").
				Description("xoxb-... (optional)").
				EchoMode(huh.EchoModePassword).
				Value(&settings.SlackBot),

			huh.NewInput().
				Title("Slack app token").
				Description("xapp-... for Socket Mode (optional)").
				EchoMode(huh.EchoModePassword).
				Validate(func(s string) error {
					if s != "" && !strings.HasPrefix(s, "xapp-") {
						return fmt.Errorf("app token must start with xapp-")
					}
					return nil
				}).
				Value(&settings.SlackApp),

			huh.NewInput().
				Title("Telegram bot token").
				Description("From @BotFather (optional)").
				EchoMode(huh.EchoModePassword).
				Value(&settings.TelegramToken),

			huh.NewInput().
				Title("Discord bot token").
				Description("Needs the Message Content intent (optional)").
				EchoMode(huh.EchoModePassword).
				Value(&settings.DiscordToken),
		),

		huh.NewGroup(
			huh.NewConfirm().
				Title("Write " + path + "?").
				Affirmative("Write").
				Negative("Cancel").
				Value(&confirm),
		),
	).WithTheme(huh.ThemeDracula())

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Fprintln(os.Stderr, "Config creation cancelled.")
			return nil
		}
		return err
	}
	if !confirm {
		fmt.Fprintln(os.Stderr, "Config creation cancelled.")
		return nil
	}

	settings.Admins = splitList(adminsInput)
	if err := config.WriteInitFile(path, settings); err != nil {
		return err
	}
	fmt.Printf("%s Wrote %s\n", ui.RenderPass(ui.IconPass), path)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
