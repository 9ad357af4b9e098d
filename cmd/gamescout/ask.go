package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/xhad/gamescout/internal/models"
)

var (
	askState models.GameState
	askJSON  bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask for advice about the current game state",
	Long: `Answers a question using the active index. Game state flags narrow the
search; with no question the state alone is used as the query.`,
	RunE: runAsk,
}

func init() {
	f := askCmd.Flags()
	f.StringVar(&askState.Region, "region", "", "current region")
	f.StringVar(&askState.CharacterClass, "class", "", "character class")
	f.StringSliceVar(&askState.Keywords, "keyword", nil, "keywords seen on screen")
	f.StringSliceVar(&askState.PointsOfInterest, "poi", nil, "nearby points of interest")
	f.StringSliceVar(&askState.Quests, "quest", nil, "active quests")
	f.BoolVar(&askJSON, "json", false, "print the response as JSON")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	q := models.Query{Text: strings.Join(args, " "), State: askState}
	if strings.TrimSpace(q.SearchText()) == "" {
		return fmt.Errorf("give a question or at least one game state flag")
	}

	ctx := cmd.Context()
	a, err := startApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	spinner := getSpinner(cmd.ErrOrStderr(), "🤖 Generating advice...")
	resp := a.Assistant.Ask(ctx, q)
	spinner.Finish()

	w := cmd.OutOrStdout()
	if askJSON {
		data, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal response: %w", err)
		}
		fmt.Fprintln(w, string(data))
	} else if resp.Status == models.StatusOK {
		fmt.Fprintln(w)
		for _, line := range resp.Advice {
			cyan.Fprintf(w, "• %s\n", line)
		}
		fmt.Fprintf(w, "\nsources: %s\n", strings.Join(resp.Sources, ", "))
		if resp.Reason != "" {
			yellow.Fprintf(w, "note: %s\n", resp.Reason)
		}
	}

	if resp.Status != models.StatusOK {
		return fmt.Errorf("assistant unavailable: %s", resp.Reason)
	}
	return nil
}
