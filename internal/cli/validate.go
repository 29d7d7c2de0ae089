package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jrjohn/arcana-queue/internal/config"
)

func newValidateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration, then print the effective queues",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, q := range cfg.Queues {
				qc := q.QueueConfig.WithDefaults()
				concurrency, _ := cfg.ProcessSettings(q)
				fmt.Fprintf(out, "queue %-20s policy=%-8s max_size=%-6d retries=%d backoff=%s handler=%s concurrency=%d\n",
					q.Name, qc.Policy, qc.MaxSize, qc.MaxRetries, qc.Backoff, q.Handler, concurrency)
			}
			for _, s := range cfg.Schedules {
				fmt.Fprintf(out, "schedule %-17s spec=%q queue=%s singleton=%t\n", s.Name, s.Spec, s.Queue, s.Singleton)
			}
			fmt.Fprintln(out, "config OK")
			return nil
		},
	}
}
