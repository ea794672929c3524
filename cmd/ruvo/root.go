package main

import (
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-ruvo/internal/config"
	"github.com/teslashibe/go-ruvo/internal/log"
)

var (
	configFile string
	logLevel   string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "ruvo",
	Short:         "RUVO voice companion",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.LogLevel = logLevel
		}
		log.InitWithOptions(log.Options{Level: loaded.LogLevel, File: loaded.LogFile})
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sayCmd)
	rootCmd.AddCommand(voicesCmd)
	rootCmd.AddCommand(keysCmd)
}
