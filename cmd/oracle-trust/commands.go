package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/StrathCole/oracle-trust/pkg/pipeline"
	"github.com/StrathCole/oracle-trust/pkg/resolver"
	"github.com/StrathCole/oracle-trust/pkg/version"
)

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func resolveCmd() *cobra.Command {
	var (
		recordType string
		force      bool
	)
	cmd := &cobra.Command{
		Use:   "resolve <domain>",
		Short: "Resolve a name through the pinned DoH providers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			t, err := newTrust(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer t.Close()

			ans, err := t.resolver.Resolve(cmd.Context(), args[0], recordType, resolver.Options{ForceRefresh: force})
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{
				"provider": ans.Provider,
				"ips":      resolver.ExtractIPs(ans),
				"answer":   ans,
			})
		},
	}
	cmd.Flags().StringVar(&recordType, "type", "A", "Record type")
	cmd.Flags().BoolVar(&force, "force", false, "Bypass the answer cache")
	return cmd
}

func certMonitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "certmonitor",
		Short: "Check provider certificates and record rotations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			t, err := newTrust(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer t.Close()

			report := pipeline.NewCertMonitorJob(newMonitor(cfg, t, logger), logger).Run(cmd.Context())
			pushMetrics(cfg, logger, "certmonitor")
			exitCode = report.ExitCode()
			return printJSON(report)
		},
	}
}

func aggregateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "aggregate [token...]",
		Short: "Aggregate and sign prices without publishing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			t, err := newTrust(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer t.Close()

			agg, err := newAggregator(cfg, t, logger)
			if err != nil {
				return err
			}
			tokens := args
			if len(tokens) == 0 {
				tokens = agg.Tokens()
			}

			out := make(map[string]interface{}, len(tokens))
			for _, id := range tokens {
				snap, err := agg.Aggregate(cmd.Context(), id)
				if err != nil {
					logger.Error("Aggregation failed", "token", id, "error", err)
					out[id] = map[string]string{"error": err.Error()}
					exitCode = 1
					continue
				}
				out[id] = snap
			}
			pushMetrics(cfg, logger, "aggregate")
			return printJSON(out)
		},
	}
}

func publishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Aggregate all tokens, publish the batch and submit its commitment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			t, err := newTrust(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer t.Close()

			agg, err := newAggregator(cfg, t, logger)
			if err != nil {
				return err
			}
			pub, err := newPublisher(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}

			job := pipeline.NewPublishJob(agg, pub, newSubmitter(cfg, logger), cfg.Network, cfg.Job.Budget.ToDuration(), logger)
			report := job.Run(cmd.Context())
			pushMetrics(cfg, logger, "publish")
			exitCode = report.ExitCode()
			return printJSON(report)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(version.AgentString())
		},
	}
}
