// Package main provides the vdirector CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/richinex/vdirector/cli"
	"github.com/richinex/vdirector/config"
	"github.com/richinex/vdirector/internal/logging"
)

var (
	// Global flags
	provider string
	verbose  bool

	logger *zap.Logger
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rootCmd := &cobra.Command{
		Use:   "vdirector",
		Short: "LLM director for video job edits",
		Long: `vdirector turns natural-language edit instructions for a processed video job
into audited tool calls against the video service.

Each instruction is classified (payload edit, pipeline replay, or impossible)
and handed to a specialist that only sees the tools of its route. Every
session is bounded by iteration, budget and consecutive-failure limits and
recorded in the audit ledger.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			logger, err = logging.New(verbose)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&provider, "provider", "p", "", "LLM provider (openai, anthropic, deepseek, gemini); defaults to LLM_PROVIDER")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd(ctx))
	rootCmd.AddCommand(runCmd(ctx))
	rootCmd.AddCommand(sessionsCmd(ctx))
	rootCmd.AddCommand(sessionCmd(ctx))
	rootCmd.AddCommand(toolsCmd(ctx))

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadSettings() (config.Settings, error) {
	if provider != "" {
		return config.New(provider)
	}
	return config.Load()
}

func openApp(ctx context.Context) (*cli.App, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, err
	}
	return cli.NewApp(ctx, settings, logger)
}

func serveCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serves POST /execute, POST /execute/stream (SSE), GET /sessions,
GET /sessions/{id}, GET /health and GET /metrics until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()
			return cli.Serve(ctx, app)
		},
	}
}

func runCmd(ctx context.Context) *cobra.Command {
	var req cli.RunRequest

	cmd := &cobra.Command{
		Use:   "run [instruction]",
		Short: "Execute one instruction against a job",
		Long:  `Executes one instruction and prints every session event as a JSON line.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()
			req.Instruction = args[0]
			return cli.Run(ctx, app, req, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&req.JobID, "job", "", "Job id (required)")
	cmd.Flags().StringVar(&req.UserID, "user", "", "User id recorded on the session")
	cmd.Flags().StringVar(&req.Context, "context", "", `Extra identifiers as a JSON object, e.g. '{"template_id":"t1"}'`)
	_ = cmd.MarkFlagRequired("job")

	return cmd
}

func sessionsCmd(ctx context.Context) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recent sessions from the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			l, err := cli.OpenLedger(settings)
			if err != nil {
				return err
			}
			defer l.Close()
			return cli.ListSessions(ctx, l, limit, offset, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "Page offset")

	return cmd
}

func sessionCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "session [id]",
		Short: "Show one session and its actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			l, err := cli.OpenLedger(settings)
			if err != nil {
				return err
			}
			defer l.Close()
			return cli.ShowSession(ctx, l, args[0], cmd.OutOrStdout())
		},
	}
}

func toolsCmd(ctx context.Context) *cobra.Command {
	var group string

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the video tools of a capability group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			registry, closeQuota, err := cli.NewRegistry(ctx, settings, logger)
			if err != nil {
				return err
			}
			defer closeQuota()
			return cli.ListTools(registry, group, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&group, "group", "unified", "Group: payload, replay or unified")

	return cmd
}
