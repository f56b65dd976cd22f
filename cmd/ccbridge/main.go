package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ccbridge/ccbridge/internal/config"
	"github.com/ccbridge/ccbridge/internal/debug"
	"github.com/ccbridge/ccbridge/internal/ui"
)

var (
	configPath  string
	stateDir    string
	verboseFlag bool // Enable verbose/debug output
	quietFlag   bool // Suppress non-essential output

	loader *config.Loader
	cfg    *config.Config
	logger = debug.Discard()
)

var rootCmd = &cobra.Command{
	Use:   "ccbridge",
	Short: "ccbridge - chat bridge for Claude",
	Long: `ccbridge connects Slack, Telegram and Discord chats to a Claude assistant.
Chat users run slash commands; a role table decides who may run what, and
each conversation's work runs one task at a time.`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("ccbridge version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug.SetVerbose(verboseFlag)
		debug.SetQuiet(quietFlag)
		ui.ApplyColorProfile()
		logger = debug.Logger("ccbridge")

		loader = config.NewLoader(configPath)
		if cmd.Flags().Changed("state-dir") {
			loader.Set("state_dir", stateDir)
		}
		cfg = loader.Load()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $CCBRIDGE_CONFIG or ~/.ccbridge/config.json)")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "State directory for sessions and hook data (overrides state_dir)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output (errors only)")

	rootCmd.Flags().BoolP("version", "V", false, "Print version information")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
