package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mirkobrombin/go-relay/v1/config"
	"github.com/mirkobrombin/go-relay/v1/relay"
	"github.com/mirkobrombin/go-relay/v1/store"
)

const version = "1.0.0"

var (
	cfg    config.Config
	logger *slog.Logger

	rootCmd = &cobra.Command{
		Use:   "relay",
		Short: "resilient client for Redis compatible stores",
		Long: fmt.Sprintf(`relay (v%s)

Runs commands and takes locks against a Redis compatible store, reconnecting
transparently when the connection drops. Settings are read from flags, RELAY_*
environment variables, .env files and an optional configuration file.`, version),
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of relay",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "relay v%s\n", version)
		},
	}
)

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"server":         "server",
	"port":           "port",
	"db":             "database",
	"prefix":         "prefix",
	"password":       "password",
	"persistent":     "persistent",
	"persistent-id":  "persistent_id",
	"serializer":     "serializer",
	"retry-count":    "retry_count",
	"retry-interval": "retry_interval",
	"timeout":        "timeout",
	"read-timeout":   "read_timeout",
}

func init() {
	f := rootCmd.PersistentFlags()
	f.String("config", "", "configuration file (yaml, json, toml, env)")
	f.String("log-level", "info", "log level (debug, info, warn, error)")
	f.String("server", "127.0.0.1", "store host")
	f.Int("port", config.DefaultPort, "store port")
	f.Int("db", 0, "database to select after connecting")
	f.String("prefix", "", "prefix applied to every key")
	f.String("password", "", "password used to authenticate")
	f.Bool("persistent", false, "borrow connections from a shared pool")
	f.String("persistent-id", config.DefaultPersistentID, "identity of the shared pool")
	f.String("serializer", "none", "value serializer (none, json, gob)")
	f.Int("retry-count", 3, "reconnect attempts after a lost connection")
	f.Int("retry-interval", 100, "wait between reconnect attempts, in milliseconds")
	f.Duration("timeout", 5*time.Second, "connect timeout")
	f.Duration("read-timeout", 0, "read timeout (0 uses the driver default)")

	rootCmd.AddCommand(versionCmd, execCmd, pingCmd, lockCmd, unlockCmd, serveCmd)
}

func setup(cmd *cobra.Command, _ []string) error {
	level, _ := cmd.Flags().GetString("log-level")
	logger = newLogger(level)
	slog.SetDefault(logger)
	store.SetLogger(logger)

	path, _ := cmd.Flags().GetString("config")
	v, err := config.NewViper(path)
	if err != nil {
		return err
	}
	if err := bindFlags(cmd, v); err != nil {
		return err
	}
	cfg = config.FromViper(v)
	return cfg.Validate()
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func newClient() (*relay.Client, error) {
	return relay.New(cfg, relay.WithLogger(logger))
}
