package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/abdhe/llm-mediator/pkg/proxy"
	"github.com/abdhe/llm-mediator/pkg/strategy"
)

func estimateCmd() *cobra.Command {
	var (
		duration   time.Duration
		mode       string
		transcript bool
		format     string
	)
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Show the processing strategy and time range for a video",
		Example: `  mediator estimate --duration 95m --format summary
  mediator estimate --duration 20m --transcript --mode fast`,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := strategy.ParseMode(mode)
			if err != nil {
				return err
			}
			in := strategy.Input{Duration: duration, Mode: m, HasTranscript: transcript, Format: format}
			est := strategy.EstimateTime(in, cfg.ChunkConcurrency)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "strategy: %s\n", est.StrategyName())
			fmt.Fprintf(out, "estimate: %s - %s\n", est.Min, est.Max)
			for _, seg := range strategy.Plan(est.Strategy, in) {
				fmt.Fprintf(out, "  %s\n", seg.Description)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 10*time.Minute, "Video length")
	cmd.Flags().StringVar(&mode, "mode", "balanced", "Performance mode: fast, balanced or quality")
	cmd.Flags().BoolVar(&transcript, "transcript", false, "A transcript is available")
	cmd.Flags().StringVar(&format, "format", "detailed", "Output format: detailed, summary, ...")
	return cmd
}

func providersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List the providers the current configuration registers",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := buildRegistry(cfg)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tMODEL\tMODELS\tMULTIMODAL")
			for _, h := range reg.Handles() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", h.Name(), h.Model(), strings.Join(h.Models(), ","), h.Capabilities().Multimodal)
			}
			return w.Flush()
		},
	}
}

func askCmd() *cobra.Command {
	var (
		addr     string
		provider string
		model    string
		mode     string
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Send a prompt to a running mediator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			out, err := proxy.NewClient(conn).Process(ctx, map[string]any{
				"prompt":   args[0],
				"provider": provider,
				"model":    model,
				"mode":     mode,
			})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:50051", "Mediator gRPC address")
	cmd.Flags().StringVar(&provider, "provider", "", "Preferred provider")
	cmd.Flags().StringVar(&model, "model", "", "Model override (requires --provider)")
	cmd.Flags().StringVar(&mode, "mode", "sequential", "sequential or racing")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Request timeout")
	return cmd
}
