package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/gac1u21/harcapture/internal/config"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	profile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "harcapture",
	Short: "Motion capture client for a human activity recognition server",
	Long: `HARCapture streams accelerometer and gyroscope samples from a sensor feed,
packages the most recent window into a time-series frame and sends it to a
HAR server for classification or as labelled training data.

Three recording modes are available: single (one prediction), continuous
(a prediction every interval) and labelled (training data with a label).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Configure slog based on verbose level
		setupLogging(verboseLevel)

		// The emulator stands in for the remote server and needs no client config
		if cmd.Name() == "emulate" && cfgFile == "" {
			cfg = config.Default()
			return nil
		}

		explicit := cfgFile != ""
		if !explicit {
			cfgFile = defaultConfigPath()
		}

		if !explicit && profile == "" {
			if _, err := os.Stat(cfgFile); errors.Is(err, os.ErrNotExist) {
				slog.Debug("No config file found, using built-in defaults", "path", cfgFile)
				cfg = config.Default()
				return nil
			}
		}

		var err error
		cfg, err = config.LoadWithProfile(cfgFile, profile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/harcapture.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_config from file)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug")

	// Add subcommands
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(emulateCmd)
	rootCmd.AddCommand(encodeCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(cuesCmd)
}

func defaultConfigPath() string {
	return os.ExpandEnv("$HOME/.config/harcapture.yaml")
}

// activeProfile returns the profile in use, for display
func activeProfile() string {
	if profile != "" {
		return profile
	}
	if root, err := config.ValidateConfigurationFormat(cfgFile); err == nil && root.ActiveConfig != "" {
		return root.ActiveConfig
	}
	return "default"
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	slogLevel := slog.LevelInfo
	if level >= 1 {
		slogLevel = slog.LevelDebug
	}

	// Configure text handler for clean terminal output
	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)
}
