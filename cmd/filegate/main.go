package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"filegate/internal/app"
	"filegate/internal/config"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads and validates the config from the default location.
func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

var rootCmd = &cobra.Command{
	Use:   "filegate",
	Short: "Content access gate for a Telegram file-store bot",
}

// run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bot, web hook, and background sweeps",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := app.NewApp(ctx, cfg)
		if err != nil {
			return fmt.Errorf("initializing app: %w", err)
		}
		defer a.Close()

		return a.Run(ctx)
	},
}

// sweep command
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one entitlement sweep and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := app.NewApp(ctx, cfg)
		if err != nil {
			return fmt.Errorf("initializing app: %w", err)
		}
		defer a.Close()

		removed, err := a.SweepOnce(ctx)
		if err != nil {
			return fmt.Errorf("sweep failed: %w", err)
		}

		fmt.Printf("Removed %d expired entitlement(s)\n", removed)
		return nil
	},
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])

		// Read the bot token without echoing it.
		fmt.Print("Bot token: ")
		tokenBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("reading token: %w", err)
		}
		cfg.Bot.Token = string(tokenBytes)

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		fmt.Println("Set bot.owner and storage.channel_id before running the bot.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Owner:           %d\n", cfg.Bot.Owner)
		fmt.Printf("Storage channel: %d\n", cfg.Storage.ChannelID)
		fmt.Printf("Verify TTL:      %s\n", cfg.VerifyTTL())
		fmt.Printf("Channels:        %d requirement(s)\n", len(cfg.Channels))
		fmt.Printf("Database:        %s\n", cfg.Database.Type)
		fmt.Printf("Web hook:        %s\n", orNone(cfg.Web.ListenAddr))
		fmt.Printf("Log Dir:         %s\n", cfg.LogDir)
		return nil
	},
}

func orNone(s string) string {
	if s == "" {
		return "(disabled)"
	}
	return s
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(configCmd)
}
