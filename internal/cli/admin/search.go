package admin

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/kbcore/internal/service"
)

// SearchCmd returns the search command
func SearchCmd(newApp AppFactory) *cobra.Command {
	var (
		minScore   float64
		limit      int
		target     string
		sourceType string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the knowledge base",
		Long:  "Embed the query and rank stored chunks or entries by cosine similarity.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFormat, _ := cmd.Flags().GetString("output")

			ctx := context.Background()
			app, cleanup, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			results, err := app.Search.Search(ctx, service.SearchInput{
				Query:      args[0],
				MinScore:   minScore,
				Limit:      limit,
				Target:     service.SearchTarget(target),
				SourceType: sourceType,
			})
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}

			out := cmd.OutOrStdout()
			if outputFormat == "json" {
				return printJSON(out, results)
			}

			if len(results) == 0 {
				fmt.Fprintln(out, "No results found.")
				return nil
			}

			fmt.Fprintf(out, "Found %d results:\n\n", len(results))
			for i, r := range results {
				if r.Target == service.SearchTargetEntries {
					fmt.Fprintf(out, "%d. [entry %d] %s (%.3f)\n", i+1, r.ID, r.Title, r.Score)
				} else {
					fmt.Fprintf(out, "%d. [entry %d, chunk %d] (%.3f)\n", i+1, r.ParentID, r.ChunkIndex, r.Score)
				}
				content := []rune(r.Content)
				if len(content) > 100 {
					content = append(content[:97], []rune("...")...)
				}
				fmt.Fprintf(out, "   %s\n", string(content))
				if i < len(results)-1 {
					fmt.Fprintln(out, strings.Repeat("-", 40))
				}
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&minScore, "min-score", 0, "Minimum cosine similarity in [-1, 1]")
	cmd.Flags().IntVarP(&limit, "limit", "n", service.DefaultSearchLimit, "Maximum number of results")
	cmd.Flags().StringVar(&target, "target", string(service.SearchTargetChunks), "What to rank: chunks or entries")
	cmd.Flags().StringVar(&sourceType, "type", "", "Filter by source type")
	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}
