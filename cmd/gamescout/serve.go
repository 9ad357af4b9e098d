package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/xhad/gamescout/pkg/watcher"
	"github.com/xhad/gamescout/server"
)

var serveWatch bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve queries over a websocket",
	Long: `Loads the latest snapshot (or builds one) and serves queries from the game
overlay on /ws. /health reports the active generation. With --watch,
corpus edits trigger a rebuild; queries keep using the previous generation
until the new one is promoted.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVarP(&serveWatch, "watch", "w", false, "rebuild when the corpus directory changes (default corpus.watch)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := startApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if serveWatch || cfg.Corpus.Watch {
		w, err := watcher.NewWithConfig(watcher.WatcherConfig{
			Dir:      cfg.Corpus.Dir,
			Debounce: cfg.Corpus.Debounce,
			Logger:   logger.With("component", "watcher"),
			OnChange: func(ctx context.Context) error {
				_, err := a.Rebuild(ctx)
				return err
			},
		})
		if err != nil {
			return err
		}
		go w.Run(ctx)
	}

	srv, err := server.NewWSServer(server.Config{
		Addr:        cfg.Server.Addr,
		MaxInFlight: cfg.Server.MaxInFlight,
		Logger:      logger.With("component", "server"),
	}, a.Assistant)
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx)
}
