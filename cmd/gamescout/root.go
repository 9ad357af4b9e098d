package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/xhad/gamescout/pkg/app"
	"github.com/xhad/gamescout/pkg/config"
)

var (
	cfgFile string
	verbose bool

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "gamescout",
	Short: "Game-aware retrieval assistant",
	Long: `gamescout indexes a game wiki corpus and answers questions about the
current game state. Retrieval is hybrid: BM25 keyword search merged with
embedding search over versioned index generations.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	c, err := config.LoadConfig(cfgFile)
	if err != nil {
		return err
	}
	if errs := c.Validate(); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(msgs, "\n  "))
	}

	cfg = c
	logger = app.NewLogger(cfg.Log, cmd.ErrOrStderr(), verbose)
	return nil
}

func newApp(ctx context.Context) (*app.App, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return a, nil
}

// startApp builds the app and activates a generation.
func startApp(ctx context.Context) (*app.App, error) {
	a, err := newApp(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := a.Start(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load index: %w", err)
	}
	return a, nil
}
