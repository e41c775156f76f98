package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kirillkom/knowledge-qa/internal/bootstrap"
	"github.com/kirillkom/knowledge-qa/internal/config"
	"github.com/kirillkom/knowledge-qa/internal/observability/logging"
)

var jsonOutput bool

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "qactl",
		Short: "Operate the knowledge QA engine",
		Long: `qactl runs one-off operations against the same backends the API uses:
ask questions, rebuild the keyword index, manage the answer cache and
publish index events to other replicas.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")

	rootCmd.AddCommand(
		newAskCommand(),
		newStatsCommand(),
		newKeywordCommand(),
		newCacheCommand(),
		newEventsCommand(),
	)
	return rootCmd
}

// withApp wires the engine for a single command and tears it down afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *bootstrap.App) error) error {
	cfg := config.Load()
	logger := logging.NewJSONLoggerTo(os.Stderr, "qactl", cfg.LogLevel)

	app, err := bootstrap.New(cmd.Context(), cfg, "qactl", logger)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(cmd.Context(), app)
}

func printResult(w io.Writer, v any, text string) {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(v)
		return
	}
	fmt.Fprintln(w, text)
}
