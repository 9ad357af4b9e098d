package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var smokeTop int

var smokeCmd = &cobra.Command{
	Use:   "smoke [query...]",
	Short: "Run retrieval-only checks against the active index",
	Long: `Runs each query (or smoke.queries from the config) through the hybrid
retriever and prints the top passages. The generator is never called.`,
	RunE: runSmoke,
}

func init() {
	smokeCmd.Flags().IntVarP(&smokeTop, "top", "n", 3, "passages shown per query")
	rootCmd.AddCommand(smokeCmd)
}

func runSmoke(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	queries := args
	if len(queries) == 0 {
		queries = cfg.Smoke.Queries
	}

	a, err := startApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	reports, err := a.Assistant.Smoke(ctx, queries)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	empty := 0
	for _, r := range reports {
		cyan.Fprintf(w, "\n%s ", r.Query)
		fmt.Fprintf(w, "(%s, %d hits)\n", r.Mode, len(r.Hits))
		for _, d := range r.Degraded {
			yellow.Fprintf(w, "  ! %s\n", d)
		}
		if len(r.Hits) == 0 {
			empty++
			red.Fprintln(w, "  no passages found")
			continue
		}
		for i, h := range r.Hits {
			if i == smokeTop {
				break
			}
			fmt.Fprintf(w, "  [%d] %s (%.3f, %s)\n", i+1, h.Chunk.Title, h.Score, h.Source)
		}
	}

	if empty == len(reports) {
		return fmt.Errorf("no query returned any passages")
	}
	fmt.Fprintln(w)
	green.Fprintf(w, "✓ %d/%d queries returned passages\n", len(reports)-empty, len(reports))
	return nil
}
