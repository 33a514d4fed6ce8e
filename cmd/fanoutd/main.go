// Package main is the entry point for the fanoutd daemon and CLI.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"digestfanout/internal/app"
	"digestfanout/internal/config"
	"digestfanout/internal/fanout"
	"digestfanout/internal/schedule"
)

// Set by ldflags.
var (
	version = "dev"
	commit  = "none"
)

// errTickFailed makes the process exit non-zero without a second message.
var errTickFailed = errors.New("tick failed")

func main() {
	if err := rootCmd().Execute(); err != nil {
		if !errors.Is(err, errTickFailed) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fanoutd",
		Short:         "Scheduled digest fanout to email, chat and webhook destinations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", os.Getenv("FANOUT_CONFIG"), "path to config (json or yaml); defaults apply when empty")
	root.AddCommand(serveCmd(), tickCmd(), statusCmd(), runsCmd(), unmuteCmd(), configCmd(), versionCmd())
	return root
}

func openApp(cmd *cobra.Command) (*app.App, error) {
	path, _ := cmd.Flags().GetString("config")
	return app.New(cmd.Context(), path)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the in-process ticker and the HTTP trigger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				_ = a.Close(context.Background())
				return err
			}

			select {
			case <-ctx.Done():
			case <-a.Done():
			}
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 45*time.Second)
			defer stopCancel()
			runErr := a.Err()
			if err := a.Stop(stopCtx); err != nil && runErr == nil {
				return err
			}
			return runErr
		},
	}
}

func tickCmd() *cobra.Command {
	var opts fanout.Options
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one scheduler tick and print the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			res := a.Tick(cmd.Context(), opts)
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.OK {
				return errTickFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.JobID, "job", "", "run only this job id")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "run selected jobs even when their cron is not due")
	return cmd
}

func statusCmd() *cobra.Command {
	var tail int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show lease, muted targets, next runs and recent runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())
			return printJSON(cmd.OutOrStdout(), a.Status(cmd.Context(), tail))
		},
	}
	cmd.Flags().IntVar(&tail, "tail", 20, "number of recent runs to include")
	return cmd
}

func runsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runs <yyyymm>",
		Short: "Print the run log of one month",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())
			entries, err := a.Month(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), entries)
		},
	}
}

func unmuteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unmute <channel> <key>",
		Short: "Clear the circuit breaker mute of one destination",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())
			known, err := a.Unmute(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if !known {
				return fmt.Errorf("no breaker entry for %s %s", args[0], args[1])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unmuted %s %s\n", args[0], args[1])
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	var schedulePath string
	check := &cobra.Command{
		Use:   "check [path]",
		Short: "Validate the service config and, optionally, a schedule document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			if len(args) == 1 {
				path = args[0]
			}
			out := cmd.OutOrStdout()
			if path != "" {
				cfg, err := config.NewConfigManager(path).Parse()
				if err != nil {
					return err
				}
				if err := config.Validate(cfg); err != nil {
					return err
				}
				fmt.Fprintf(out, "config OK: %s\n", path)
			}
			if schedulePath != "" {
				n, err := checkSchedule(schedulePath, out)
				if err != nil {
					return err
				}
				if n > 0 {
					return fmt.Errorf("schedule has %d problem(s)", n)
				}
				fmt.Fprintf(out, "schedule OK: %s\n", schedulePath)
			}
			if path == "" && schedulePath == "" {
				return errors.New("nothing to check: pass a config path or --schedule")
			}
			return nil
		},
	}
	check.Flags().StringVar(&schedulePath, "schedule", "", "schedule document to validate (json or yaml)")
	cmd.AddCommand(check)
	return cmd
}

func checkSchedule(path string, out io.Writer) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	jb, _, err := config.CoerceToJSON(path, raw)
	if err != nil {
		return 0, err
	}
	cfg, err := schedule.Parse(jb)
	if err != nil {
		return 0, err
	}
	problems := schedule.Validate(cfg)
	for _, p := range problems {
		fmt.Fprintf(out, "  - %s\n", p.Error())
	}
	return len(problems), nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fanoutd %s (commit: %s)\n", version, commit)
		},
	}
}
