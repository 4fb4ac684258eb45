package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/dinh2350/lunar-sub002/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive setup: write a starter config file",
		Run: func(cmd *cobra.Command, args []string) {
			runOnboard()
		},
	}
}

func runOnboard() {
	cfg := config.Default()
	path := resolveConfigPath()

	if _, err := os.Stat(path); err == nil {
		overwrite := false
		confirm := huh.NewConfirm().
			Title(fmt.Sprintf("%s already exists. Overwrite?", path)).
			Value(&overwrite)
		if err := confirm.Run(); err != nil || !overwrite {
			fmt.Println("Keeping the existing config.")
			return
		}
	}

	enableTelegram := false
	enableDiscord := false

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Agent name").
				Description("Used in session IDs and logs.").
				Value(&cfg.Agent.Name),
			huh.NewSelect[string]().
				Title("LLM provider").
				Options(
					huh.NewOption("Ollama (local)", "ollama"),
					huh.NewOption("OpenAI-compatible API", "openai"),
				).
				Value(&cfg.Agent.Provider),
			huh.NewInput().
				Title("Model").
				Description("e.g. llama3.1 for Ollama, gpt-4o-mini for OpenAI.").
				Value(&cfg.Agent.Model),
			huh.NewInput().
				Title("Workspace directory").
				Description("Memory files and session transcripts live here.").
				Value(&cfg.Agent.Workspace),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable the Telegram connector?").
				Description("Token is read from TELEGRAM_BOT_TOKEN at startup.").
				Value(&enableTelegram),
			huh.NewConfirm().
				Title("Enable the Discord connector?").
				Description("Token is read from DISCORD_BOT_TOKEN at startup.").
				Value(&enableDiscord),
		),
	)

	if err := form.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Setup cancelled: %v\n", err)
		os.Exit(1)
	}

	cfg.Channels.Telegram.Enabled = enableTelegram
	cfg.Channels.Discord.Enabled = enableDiscord

	if err := config.Save(path, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Wrote %s.\n", path)
	fmt.Println("API keys and bot tokens are never stored in the config file.")
	if cfg.Agent.Provider == "openai" {
		fmt.Println("Set LUNAR_OPENAI_API_KEY before starting the gateway.")
	}
	if enableTelegram {
		fmt.Println("Set TELEGRAM_BOT_TOKEN before starting the gateway.")
	}
	if enableDiscord {
		fmt.Println("Set DISCORD_BOT_TOKEN before starting the gateway.")
	}
	fmt.Println("Start with: lunar gateway")
}
