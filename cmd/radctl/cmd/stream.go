package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"go.pilab.hu/radsync/redisstream"
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Inspect and maintain the session event stream",
}

var streamInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show stream length and consumer group state",
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

		info, err := redisstream.Info(cmd.Context(), rdb, cfg.StreamName)
		if err != nil {
			return fmt.Errorf("stream info: %w", err)
		}

		out, err := yaml.Marshal(info)
		if err != nil {
			return err
		}
		fmt.Fprint(os.Stdout, string(out))
		return nil
	},
}

var claimConsumer string

var streamClaimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Reclaim messages stuck pending on dead consumers",
	Long: `Claims stream messages that have sat pending longer than the configured
minimum idle time and reassigns them to the given consumer, which will
receive them on its next read.`,
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

		reclaimer := redisstream.NewReclaimer(rdb, cfg.StreamName, cfg.ConsumerGroup, cfg.ReclaimMinIdle)
		claimed, err := reclaimer.ClaimPending(cmd.Context(), claimConsumer)
		if err != nil {
			return fmt.Errorf("claim pending: %w", err)
		}

		fmt.Printf("Claimed %d pending message(s) for consumer %q\n", claimed, claimConsumer)
		return nil
	},
}

func init() {
	streamClaimCmd.Flags().StringVar(&claimConsumer, "consumer", "radctl",
		"consumer name the claimed messages are reassigned to")

	streamCmd.AddCommand(streamInfoCmd)
	streamCmd.AddCommand(streamClaimCmd)
}
