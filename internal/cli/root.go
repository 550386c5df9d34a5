// Package cli defines the jiranotify command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"jiranotify/internal/app"
	"jiranotify/internal/config"
)

// runDaemonFunc and runCheckFunc are replaced in tests.
var (
	runDaemonFunc = runDaemon
	runCheckFunc  = runCheck
)

// NewRootCommand builds the command tree. Running the root command with no
// subcommand starts the daemon.
func NewRootCommand(version string) *cobra.Command {
	var opts config.Options

	run := func(cmd *cobra.Command, _ []string) error {
		return runDaemonFunc(cmd.Context(), opts)
	}

	root := &cobra.Command{
		Use:   "jiranotify",
		Short: "Forward new Jira issues to a Telegram chat",
		Long: `jiranotify polls a Jira project for issues in one status and posts every
issue that appears after startup to a Telegram chat.

Configuration comes from the environment (JIRA_HOST, JIRA_USER,
JIRA_API_TOKEN, JIRA_BOARD_NAME, JIRA_STATUS_NAME, TELEGRAM_BOT_TOKEN,
TELEGRAM_CHAT_ID, CHECK_INTERVAL_MS), an optional dotenv file and an
optional JSON/YAML config file.`,
		Version: version,
		// SilenceUsage prevents usage from being printed on errors
		SilenceUsage: true,
		// SilenceErrors prevents Cobra from printing errors (we handle it in main)
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          run,
	}
	root.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a JSON or YAML config file")
	root.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "path to a dotenv file (missing is fine)")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the notifier daemon (default)",
			Args:  cobra.NoArgs,
			RunE:  run,
		},
		&cobra.Command{
			Use:   "check",
			Short: "Fetch once and print the messages that would be sent",
			Long: `check runs a single Jira query and prints every matching issue formatted
as it would be posted. Nothing is sent and no state is written.`,
			Args: cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runCheckFunc(cmd.Context(), opts, cmd)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "jiranotify", version)
			},
		},
	)
	return root
}

func runDaemon(ctx context.Context, opts config.Options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, opts)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	return a.Err()
}

func runCheck(ctx context.Context, opts config.Options, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	n, err := app.Check(ctx, opts, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if n == 0 {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "no matching issues")
	}
	return nil
}
