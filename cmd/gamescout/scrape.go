package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/xhad/gamescout/pkg/corpus"
	"github.com/xhad/gamescout/pkg/scraper"
)

var (
	scrapeDepth    int
	scrapeCategory string
	scrapeOut      string
	scrapeRebuild  bool
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape [url]",
	Short: "Crawl a game wiki into the corpus directory",
	Long: `Crawls a wiki starting at the given URL (or scraper.base_url) and writes
one JSON document per page into the corpus directory, tagged with the
category, section headers and the region the page describes.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScrape,
}

func init() {
	scrapeCmd.Flags().IntVar(&scrapeDepth, "depth", 0, "maximum crawl depth (default scraper.max_depth)")
	scrapeCmd.Flags().StringVar(&scrapeCategory, "category", "", "category tag added to every page")
	scrapeCmd.Flags().StringVarP(&scrapeOut, "out", "o", "", "output directory (default corpus.dir)")
	scrapeCmd.Flags().BoolVar(&scrapeRebuild, "rebuild", false, "rebuild the index after scraping")
	rootCmd.AddCommand(scrapeCmd)
}

func runScrape(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	baseURL := cfg.Scraper.BaseURL
	if len(args) == 1 {
		baseURL = args[0]
	}
	if baseURL == "" {
		return fmt.Errorf("no url given and scraper.base_url is not set")
	}
	depth := cfg.Scraper.MaxDepth
	if scrapeDepth > 0 {
		depth = scrapeDepth
	}
	out := cfg.Corpus.Dir
	if scrapeOut != "" {
		out = scrapeOut
	}

	bar := getSpinner(cmd.ErrOrStderr(), "📄 Scraping wiki...")
	s, err := scraper.NewWithConfig(scraper.ScraperConfig{
		BaseURL:           baseURL,
		MaxDepth:          depth,
		RateLimit:         cfg.Scraper.RateLimit,
		IgnorePatterns:    cfg.Scraper.IgnorePatterns,
		AllowedExtensions: cfg.Scraper.AllowedExtensions,
		Regions:           cfg.Scraper.Regions,
		Category:          scrapeCategory,
		Logger:            logger.With("component", "scraper"),
		OnProgress: func(string) {
			bar.Add(1)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize scraper: %w", err)
	}

	docs, err := s.Scrape(ctx, baseURL)
	bar.Finish()
	if err != nil {
		return fmt.Errorf("failed to scrape %s: %w", baseURL, err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w)
	green.Fprintf(w, "✓ Scraped %d documents\n", len(docs))

	writeBar := getProgressBar(cmd.ErrOrStderr(), len(docs), "💾 Writing corpus...")
	for _, doc := range docs {
		if _, err := corpus.Write(out, doc); err != nil {
			return err
		}
		writeBar.Add(1)
	}
	writeBar.Finish()
	fmt.Fprintln(w)
	green.Fprintf(w, "✓ Wrote %d documents to %s\n", len(docs), out)

	if !scrapeRebuild {
		return nil
	}
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	g, err := a.Rebuild(ctx)
	if err != nil {
		return err
	}
	printGeneration(w, "Built", g)
	return nil
}
