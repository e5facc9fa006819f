package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/immxrtalbeast/axenix_mesh/internal/config"
	"github.com/immxrtalbeast/axenix_mesh/lib/logger/slogpretty"
)

var (
	flagConfig  string
	flagName    string
	flagRoom    string
	flagKey     string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "meshclient",
	Short: "Join a mesh room and exchange chat, drawings and files with its members",
	Long: `meshclient connects to a signaling relay, joins a room and keeps a direct
WebRTC connection to every other member. Chat and files are sealed with a key
shared by the room.

Examples:
  meshclient keygen
  meshclient join --name alice --room standup --key <hex>
  meshclient share --name bob --room standup --key <hex> report.pdf`,
}

func Execute() {
	_ = godotenv.Load(".env")

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "config/local.yaml"
	}

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", defaultConfig, "path to config file")
	rootCmd.PersistentFlags().StringVarP(&flagName, "name", "n", "", "display name used as peer id")
	rootCmd.PersistentFlags().StringVarP(&flagRoom, "room", "r", "", "room to join")
	rootCmd.PersistentFlags().StringVar(&flagKey, "key", "", "room key as hex or JWK (overrides client.shared_key)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(joinCmd, shareCmd, keygenCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadPath(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagKey != "" {
		cfg.Client.SharedKey = flagKey
	}
	return cfg, nil
}

// newLogger logs to stderr so stdout stays readable as a chat transcript.
func newLogger(env string) *slog.Logger {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}

	if env == "local" || env == "" {
		opts := slogpretty.PrettyHandlerOptions{
			SlogOpts: &slog.HandlerOptions{Level: level},
		}
		return slog.New(opts.NewPrettyHandler(os.Stderr))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
