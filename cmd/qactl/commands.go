package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/knowledge-qa/internal/bootstrap"
	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

var errBackendMissing = errors.New("backend is not configured")

func newAskCommand() *cobra.Command {
	var mode, user string
	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Answer a question through the full pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				result, err := app.Engine.Ask(ctx, query, mode, user)
				if err != nil {
					return err
				}
				printResult(cmd.OutOrStdout(), result, formatAnswer(result))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "smart", "Answer mode")
	cmd.Flags().StringVar(&user, "user", "", "User id used for cache scoping")
	return cmd
}

func formatAnswer(result domain.QueryResult) string {
	var b strings.Builder
	b.WriteString(result.Answer)
	if len(result.Sources) > 0 {
		b.WriteString("\n\nSources:")
		for _, s := range result.Sources {
			b.WriteString("\n  - ")
			b.WriteString(s)
		}
	}
	return b.String()
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print engine statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(_ context.Context, app *bootstrap.App) error {
				stats := app.Engine.Stats()
				printResult(cmd.OutOrStdout(), stats, fmt.Sprintf("routing=%s primary=%s fallback=%s keyword_index=%d",
					stats.RoutingMode, stats.Primary, stats.Fallback, stats.KeywordIndex))
				return nil
			})
		},
	}
}

func newKeywordCommand() *cobra.Command {
	keywordCmd := &cobra.Command{
		Use:   "keyword",
		Short: "Inspect and rebuild the keyword index",
	}

	keywordCmd.AddCommand(&cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the keyword and lexical indexes from the document store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				if app.Docs == nil || app.Keyword == nil {
					return fmt.Errorf("keyword rebuild: %w", errBackendMissing)
				}
				n, err := app.Keyword.Rebuild(ctx, app.Docs)
				if err != nil {
					return err
				}
				if err := app.Keyword.Save(ctx); err != nil {
					return err
				}
				seeded := 0
				if app.Lexical != nil {
					if seeded, err = bootstrap.SeedLexical(ctx, app.Lexical, app.Docs); err != nil {
						return err
					}
				}
				out := map[string]int{"keyword_documents": n, "lexical_documents": seeded}
				printResult(cmd.OutOrStdout(), out, fmt.Sprintf("indexed %d keyword documents, %d lexical documents", n, seeded))
				return nil
			})
		},
	})

	var topK int
	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a raw keyword lookup",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return withApp(cmd, func(_ context.Context, app *bootstrap.App) error {
				if app.Keyword == nil {
					return fmt.Errorf("keyword search: %w", errBackendMissing)
				}
				hits := app.Keyword.Search(query, topK)
				lines := make([]string, 0, len(hits))
				for _, h := range hits {
					lines = append(lines, fmt.Sprintf("%.3f  %s", h.Score, h.DocumentID))
				}
				printResult(cmd.OutOrStdout(), hits, strings.Join(lines, "\n"))
				return nil
			})
		},
	}
	searchCmd.Flags().IntVarP(&topK, "top", "k", 10, "Number of hits")
	keywordCmd.AddCommand(searchCmd)

	return keywordCmd
}

func newCacheCommand() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the answer cache",
	}

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(_ context.Context, app *bootstrap.App) error {
				if app.Cache == nil {
					return fmt.Errorf("cache stats: %w", errBackendMissing)
				}
				stats := app.Cache.Stats()
				printResult(cmd.OutOrStdout(), stats, fmt.Sprintf("backend=%s size=%d hits=%d misses=%d", stats.Backend, stats.Size, stats.Hits, stats.Misses))
				return nil
			})
		},
	})

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop every cached answer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				if err := app.Engine.ClearCache(ctx); err != nil {
					return err
				}
				printResult(cmd.OutOrStdout(), map[string]string{"status": "cleared"}, "cache cleared")
				return nil
			})
		},
	})

	return cacheCmd
}

func newEventsCommand() *cobra.Command {
	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Publish or consume index events",
	}

	eventsCmd.AddCommand(&cobra.Command{
		Use:   "publish <upsert|delete|reload> [doc_id]",
		Short: "Tell every replica to refresh its indexes",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			event, err := eventFromArgs(args)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				if app.Events == nil {
					return fmt.Errorf("events publish: %w", errBackendMissing)
				}
				if err := app.Events.Publish(ctx, event); err != nil {
					return err
				}
				printResult(cmd.OutOrStdout(), event, fmt.Sprintf("published %s %s", event.Op, event.DocID))
				return nil
			})
		},
	})

	eventsCmd.AddCommand(&cobra.Command{
		Use:   "listen",
		Short: "Apply index events to the local indexes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				if app.Events == nil {
					return fmt.Errorf("events listen: %w", errBackendMissing)
				}
				return app.RunEvents(ctx)
			})
		},
	})

	return eventsCmd
}

func eventFromArgs(args []string) (domain.IndexEvent, error) {
	event := domain.IndexEvent{Op: domain.IndexOp(strings.ToLower(strings.TrimSpace(args[0])))}
	if len(args) > 1 {
		event.DocID = strings.TrimSpace(args[1])
	}
	if err := event.Validate(); err != nil {
		return domain.IndexEvent{}, err
	}
	return event, nil
}
