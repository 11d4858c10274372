package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/miradorstack/blackbox/internal/client"
	"github.com/miradorstack/blackbox/internal/sim"
	"github.com/miradorstack/blackbox/internal/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "blackbox-sim",
		Short:         "Replay sample incident scenarios against a BLACKBOX server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newScenarioCmd(), newListCmd())
	return root
}

func newScenarioCmd() *cobra.Command {
	var (
		apiURL   string
		delay    time.Duration
		between  time.Duration
		timeout  time.Duration
		logLevel string
	)
	cmd := &cobra.Command{
		Use:   "scenario <name|all>",
		Short: "Publish the events of one scenario, or all of them in order",
		Long: `Publish a canned scenario over the REST API. Every event is stamped with
the current UTC time, so incidents open exactly as they would in production.

Use "blackbox-sim list" to see the available scenario names.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if delay < 0 || between < 0 {
				return fmt.Errorf("--delay and --between must not be negative")
			}

			scenarios := sim.Scenarios()
			if args[0] != "all" {
				sc, err := sim.Lookup(args[0])
				if err != nil {
					return err
				}
				scenarios = []sim.Scenario{sc}
			}

			c := client.New(apiURL, timeout)
			if _, err := c.Status(cmd.Context()); err != nil {
				return fmt.Errorf("cannot reach BLACKBOX API at %s: %w", apiURL, err)
			}

			out := cmd.OutOrStdout()
			runner := &sim.Runner{
				Poster:  c,
				Out:     out,
				Logger:  utils.NewLoggerTo(cmd.ErrOrStderr(), logLevel, false),
				Delay:   delay,
				Between: between,
			}
			reports, err := runner.RunAll(cmd.Context(), scenarios)
			if err != nil {
				return err
			}

			failed := 0
			for _, rep := range reports {
				failed += rep.Failed
			}
			fmt.Fprintln(out, "\n✓ Sample data generation complete!")
			if failed > 0 {
				return fmt.Errorf("%d events were rejected", failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&apiURL, "api", "http://localhost:8000", "Base URL of the BLACKBOX REST API")
	cmd.Flags().DurationVar(&delay, "delay", 0, "Pause between events; 0 keeps each scenario's own pacing")
	cmd.Flags().DurationVar(&between, "between", 2*time.Second, "Pause between scenarios when running all")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "HTTP request timeout")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the available scenarios",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			for _, sc := range sim.Scenarios() {
				fmt.Fprintf(out, "  %-20s %s (%d events)\n", sc.Name, sc.Title, len(sc.Build("preview")))
			}
		},
	}
}
