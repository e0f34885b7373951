package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"go.pilab.hu/radsync/registry"
)

var connectionsCmd = &cobra.Command{
	Use:     "connections",
	Short:   "Inspect and maintain connection registry records",
	Aliases: []string{"conn"},
}

var connectionsHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show registry health and per-application connection counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadedConfig()
		if err != nil {
			return err
		}
		rdb, err := redisClient(cfg)
		if err != nil {
			return err
		}
		defer rdb.Close()

		reg := registry.New(rdb, cfg.ConnectionTTL)
		health, err := reg.Health(cmd.Context())
		if err != nil {
			return fmt.Errorf("registry health: %w", err)
		}

		out, err := yaml.Marshal(health)
		if err != nil {
			return err
		}
		fmt.Fprint(os.Stdout, string(out))
		return nil
	},
}

var cleanupMaxAge string

var connectionsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove connection records idle past the stale threshold",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadedConfig()
		if err != nil {
			return err
		}
		maxAge := cfg.StaleMaxAge
		if cleanupMaxAge != "" {
			maxAge, err = time.ParseDuration(cleanupMaxAge)
			if err != nil {
				return fmt.Errorf("invalid --max-age: %w", err)
			}
		}

		rdb, err := redisClient(cfg)
		if err != nil {
			return err
		}
		defer rdb.Close()

		reg := registry.New(rdb, cfg.ConnectionTTL)
		removed, err := reg.CleanupStale(cmd.Context(), maxAge)
		if err != nil {
			return fmt.Errorf("cleanup stale: %w", err)
		}

		fmt.Printf("Removed %d stale connection record(s)\n", removed)
		return nil
	},
}

func init() {
	connectionsCleanupCmd.Flags().StringVar(&cleanupMaxAge, "max-age", "",
		"override the stale threshold, e.g. 30m (defaults to STALE_MAX_AGE)")

	connectionsCmd.AddCommand(connectionsHealthCmd)
	connectionsCmd.AddCommand(connectionsCleanupCmd)
}
