package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"carechat/internal/chat"
	"carechat/internal/tui"
)

const version = "1.0.0"

func main() {
	root := &cobra.Command{
		Use:     "carechat",
		Short:   "Terminal chat client for the care assistant",
		Long:    "carechat connects to the conversational care backend over WebSocket and retrieves the generated doctor summary on demand.",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := chat.LoadConfig(chat.DefaultConfigPath())
			if err != nil {
				return err
			}

			if v, _ := cmd.Flags().GetString("server"); v != "" {
				cfg.ServerURL = v
			} else if env := os.Getenv("CARECHAT_SERVER_URL"); env != "" {
				cfg.ServerURL = env
			}
			if v, _ := cmd.Flags().GetString("api"); v != "" {
				cfg.APIURL = v
			} else if env := os.Getenv("CARECHAT_API_URL"); env != "" {
				cfg.APIURL = env
			}
			if v, _ := cmd.Flags().GetString("theme"); v != "" {
				cfg.Theme = v
			}
			if off, _ := cmd.Flags().GetBool("no-auto-summary"); off {
				cfg.AutoSummary = false
			}

			identity, _ := cmd.Flags().GetString("user")
			if identity == "" {
				identity = chat.RandomIdentity()
			}

			logger, err := chat.NewLogger(identity)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			defer logger.Sync()

			manager := chat.NewManager(chat.ManagerOptions{
				ServerURL:   cfg.ServerURL,
				Identity:    identity,
				AutoSummary: cfg.AutoSummary,
				Log:         logger,
			})
			fetcher := chat.NewFetcher(cfg.APIURL, logger)

			p := tea.NewProgram(tui.NewModel(cfg, manager, fetcher, logger), tea.WithAltScreen())
			if _, err := p.Run(); err != nil {
				return err
			}
			return nil
		},
	}

	root.Flags().String("server", "", "WebSocket endpoint of the chat backend")
	root.Flags().String("api", "", "base URL of the summary API")
	root.Flags().String("user", "", "session identity (a random one is generated when empty)")
	root.Flags().String("theme", "", "color theme: porcelain|midnight")
	root.Flags().Bool("no-auto-summary", false, "do not fetch the summary automatically on summary_ready")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := chat.DefaultConfigPath()
			if path == "" {
				return fmt.Errorf("could not resolve the user config directory")
			}
			if _, err := os.Stat(path); err == nil {
				fmt.Printf("Config already exists at %s\n", path)
				return nil
			}
			if err := chat.SaveConfig(chat.DefaultConfig(), path); err != nil {
				return err
			}
			fmt.Printf("Wrote default config to %s\n", path)
			return nil
		},
	}
	root.AddCommand(configCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
