package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Build a new index generation from the corpus",
	Long: `Chunks and embeds every corpus document, builds the vector and BM25
indexes, validates them and writes a snapshot. Embeddings of unchanged
chunks are reused from the store.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		g, err := a.Rebuild(ctx)
		if err != nil {
			return fmt.Errorf("rebuild failed: %w", err)
		}
		printGeneration(cmd.OutOrStdout(), "Built", g)
		return nil
	},
}

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Promote an optimized copy of the active generation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		g, err := a.Optimize(ctx)
		if err != nil {
			return fmt.Errorf("optimize failed: %w", err)
		}
		printGeneration(cmd.OutOrStdout(), "Optimized", g)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(optimizeCmd)
}
