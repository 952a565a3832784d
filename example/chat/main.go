// Command chat is a small chat server and client built on msgnet.
//
//	chat serve --config chat.toml
//	chat client --addr 127.0.0.1:1337
//	chat bench --clients 50 --messages 100
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var (
		configPath string
		logLevel   string
	)

	rootCmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat server and client over msgnet frames",
		Long: `chat runs a message server that welcomes every client and thanks
it for each message, plus an interactive client and a load generator
for talking to it.

Examples:
  chat serve --port 1337
  chat client --addr 127.0.0.1:1337
  chat bench --addr 127.0.0.1:1337 --clients 20`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	load := func() (Config, error) {
		cfg := defaultConfig()
		if configPath != "" {
			var err error
			if cfg, err = loadConfig(configPath); err != nil {
				return Config{}, err
			}
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		return cfg, nil
	}

	rootCmd.AddCommand(
		serveCmd(load),
		clientCmd(load),
		benchCmd(load),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
