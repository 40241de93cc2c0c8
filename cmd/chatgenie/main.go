package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/chatgenie/chatgenie/config"
)

var rootCmd = &cobra.Command{
	Use:   "chatgenie",
	Short: "Real-time chat server and terminal client",
	Long: `chatgenie runs a chat server (serve) and an interactive terminal client (chat).

Without --redis-address everything is kept in memory and only lives as long as the process. With it,
several processes share users, channels, messages and presence through Redis.`,
	SilenceUsage: true,
}

var configPath string

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	config.AddFlags(rootCmd.PersistentFlags())
}

// loadConfig combines the config file, the environment and the command's flags.
func loadConfig(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.ApplyFlags(cmd.Flags()); err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, cfg.Logger(), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
