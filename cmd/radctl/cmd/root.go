// Package cmd holds the radctl subcommands: operator tooling for the
// coordination server's Redis state (the event stream and the connection
// registry).
package cmd

import (
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"go.pilab.hu/radsync/config"
)

var redisURL string

var rootCmd = &cobra.Command{
	Use:   "radctl",
	Short: "radctl is a CLI tool to inspect and maintain the radsync coordination backend",
	Long: `A command-line interface for operating the radiology session coordination
server: inspecting the event stream, reclaiming stuck messages, and cleaning
up stale connection records.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis-url", "",
		"Redis URL (defaults to the server configuration's REDIS_URL)")

	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(connectionsCmd)
}

// loadedConfig resolves server configuration, letting flags override it.
func loadedConfig() (*config.ServerConfig, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if redisURL != "" {
		cfg.RedisURL = redisURL
	}
	return cfg, nil
}

// redisClient dials the configured Redis.
func redisClient(cfg *config.ServerConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}
