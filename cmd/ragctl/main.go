package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/arturoeanton/go-git-rag/internal/adapter/store"
	"github.com/arturoeanton/go-git-rag/internal/app"
	"github.com/arturoeanton/go-git-rag/internal/domain"
	"github.com/arturoeanton/go-git-rag/pkg/config"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(config.Load).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type loadFunc func() (*config.Config, error)

func newRootCmd(load loadFunc) *cobra.Command {
	var jsonOut bool

	rootCmd := &cobra.Command{
		Use:          "ragctl",
		Short:        "Operate the repository RAG index",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Print results as JSON")

	// withApp builds the service graph for one command and tears it down afterwards.
	withApp := func(cmd *cobra.Command, fn func(ctx context.Context, a *app.App, out io.Writer) error) error {
		cfg, err := load()
		if err != nil {
			return err
		}
		logger := app.NewLogger(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
		a, err := app.Build(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		runErr := fn(cmd.Context(), a, cmd.OutOrStdout())
		if err := a.Close(context.Background()); err != nil && runErr == nil {
			runErr = err
		}
		return runErr
	}

	render := func(out io.Writer, v any, text func(io.Writer)) error {
		if jsonOut {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		}
		text(out)
		return nil
	}

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Clone or fast-forward the repository mirror",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, out io.Writer) error {
				res, err := a.Repo.Sync(ctx)
				if err != nil {
					return err
				}
				return render(out, res, func(w io.Writer) {
					fmt.Fprintf(w, "head %s (cloned=%t updated=%t)\n", res.Head, res.Cloned, res.Updated)
				})
			})
		},
	}

	var limit, offset int
	commitsCmd := &cobra.Command{
		Use:   "commits",
		Short: "List recent commits and whether they are indexed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, out io.Writer) error {
				commits, err := a.Repo.RecentCommits(ctx, limit, offset)
				if err != nil {
					return err
				}
				return render(out, commits, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "HASH\tAUTHOR\tDATE\tINDEXED\tSUBJECT")
					for _, c := range commits {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", domain.ShortHash(c.Hash), c.Author,
							c.Timestamp.UTC().Format("2006-01-02"), c.Processed, strings.SplitN(c.Message, "\n", 2)[0])
					}
					_ = tw.Flush()
				})
			})
		},
	}
	commitsCmd.Flags().IntVar(&limit, "limit", 20, "Number of commits (1-100)")
	commitsCmd.Flags().IntVar(&offset, "offset", 0, "Number of commits to skip")

	indexCmd := &cobra.Command{
		Use:   "index <hash>...",
		Short: "Embed the given commits synchronously",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, out io.Writer) error {
				report := a.RAG.IndexCommits(ctx, args, func(hash string, done, total int, err error) {
					if err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "[%d/%d] %s failed: %v\n", done, total, hash, err)
						return
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "[%d/%d] %s\n", done, total, hash)
				})
				if err := render(out, report, func(w io.Writer) {
					fmt.Fprintf(w, "indexed %d, skipped %d, failed %d\n", len(report.Indexed), len(report.Skipped), len(report.Failed))
				}); err != nil {
					return err
				}
				if len(report.Failed) > 0 {
					return fmt.Errorf("%d of %d commits failed", len(report.Failed), report.Requested)
				}
				return nil
			})
		},
	}

	var scope []string
	queryCmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Ask a question about the indexed commits",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, out io.Writer) error {
				answer, err := a.RAG.QueryRepository(ctx, strings.Join(args, " "), scope)
				if err != nil {
					return err
				}
				return render(out, answer, func(w io.Writer) {
					fmt.Fprintln(w, answer.Text)
					if len(answer.Sources) > 0 {
						fmt.Fprintln(w, "\nSources:")
					}
					for _, s := range answer.Sources {
						fmt.Fprintf(w, "  %s %s #%d (%.3f)\n", domain.ShortHash(s.CommitHash), s.FilePath, s.ChunkIndex, s.Relevance())
					}
				})
			})
		},
	}
	queryCmd.Flags().StringSliceVar(&scope, "commit", nil, "Restrict the search to these commits (repeatable)")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, out io.Writer) error {
				stats, err := a.RAG.Statistics(ctx)
				if err != nil {
					return err
				}
				return render(out, stats, func(w io.Writer) {
					fmt.Fprintf(w, "embeddings: %d\ncommits:    %d\nprocessed:  %d\n",
						stats.TotalEmbeddings, stats.TotalCommits, stats.ProcessedCommits)
				})
			})
		},
	}

	purgeCmd := &cobra.Command{
		Use:   "purge <hash>",
		Short: "Delete the stored chunks of a commit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, out io.Writer) error {
				n, err := a.RAG.PurgeCommit(ctx, args[0])
				if err != nil {
					return err
				}
				return render(out, map[string]any{"commit": args[0], "deleted": n}, func(w io.Writer) {
					fmt.Fprintf(w, "deleted %d chunks of %s\n", n, args[0])
				})
			})
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			pg, err := store.NewPostgresStore(cmd.Context(), cfg.DatabaseURL, cfg.EmbeddingDimension)
			if err != nil {
				return err
			}
			defer pg.Close()
			if err := pg.Migrate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %s\n", cfg.DSN())
			return nil
		},
	}

	rootCmd.AddCommand(syncCmd, commitsCmd, indexCmd, queryCmd, statsCmd, purgeCmd, migrateCmd)
	return rootCmd
}
