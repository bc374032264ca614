package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/policy"
	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/replay"
)

var (
	fixturePath string
	seed        uint64
	jsonOutput  bool
	verbose     bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a scripted night session against the soothing policies",
	Long: `Runs every scripted cycle of a fixture through the real control loop with
stubbed collaborators, then compares each decision against the fixture's
expected results. Exits 1 when any cycle diverges.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runReplay,
}

func main() {
	rootCmd.Flags().StringVarP(&fixturePath, "fixture", "f", "", "path to fixture JSON file (required)")
	rootCmd.Flags().Uint64Var(&seed, "seed", 0, "override the fixture's exploration seed")
	rootCmd.Flags().BoolVar(&jsonOutput, "json", false, "emit results as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	_ = rootCmd.MarkFlagRequired("fixture")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runReplay(cmd *cobra.Command, _ []string) error {
	f, err := replay.LoadFixture(fixturePath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("seed") {
		f.Config.Seed = seed
	}
	logger.Debug("fixture loaded",
		zap.String("description", f.Description),
		zap.Int("cycles", len(f.Observations)),
		zap.Uint64("seed", f.Config.Seed))

	results, summary, err := replay.Replay(f)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	diffs := replay.Compare(results, f.ExpectedResults)

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(struct {
			Results     []replay.ReplayResult `json:"results"`
			Summary     replay.ReplaySummary  `json:"summary"`
			Divergences []string              `json:"divergences"`
		}{results, summary, diffs}); err != nil {
			return err
		}
	} else {
		printComparison(results, f.ExpectedResults)
		printSummary(summary)
		for _, d := range diffs {
			fmt.Println("DIVERGE:", d)
		}
	}

	if len(diffs) > 0 {
		logger.Warn("replay diverged", zap.Int("divergences", len(diffs)))
		os.Exit(1)
	}
	return nil
}

func printComparison(results []replay.ReplayResult, expected []replay.FixtureExpectedResult) {
	fmt.Printf("%-12s| %-22s| %-22s| %s\n", "Cycle", "Expected", "Replayed", "Match")
	fmt.Printf("%-12s|%-23s|%-23s|%s\n", "------------", "-----------------------", "-----------------------", "------")

	match, diverge := 0, 0
	for i, r := range results {
		want := "-"
		ok := false
		if i < len(expected) {
			e := expected[i]
			want = outcome(e.Decision, e.Action, e.Subcategory)
			ok = e.Decision == r.Decision &&
				(e.Action == "" || e.Action == r.Action) &&
				(e.Subcategory == "" || e.Subcategory == r.Subcategory)
		}
		mark := "NO"
		if ok {
			mark = "YES"
			match++
		} else {
			diverge++
		}
		fmt.Printf("%-12s| %-22s| %-22s| %s\n", r.CycleID, want, outcome(r.Decision, r.Action, r.Subcategory), mark)
	}
	fmt.Printf("\nSummary: %d total, %d match, %d diverge\n", len(results), match, diverge)
}

func printSummary(s replay.ReplaySummary) {
	fmt.Printf("Decisions: %d act, %d idle, %d skip, %d error\n", s.Acts, s.Idles, s.Skips, s.Errors)
	printTable("Channel policy", s.ChannelTable)
	printTable("Music policy", s.MusicTable)
}

func printTable(title string, t policy.Table) {
	fmt.Printf("\n%s:\n", title)
	for _, state := range sortedKeys(t) {
		row := t[state]
		actions := make([]string, 0, len(row))
		for a := range row {
			actions = append(actions, a)
		}
		sort.Strings(actions)
		for _, a := range actions {
			if row[a] == 0 {
				continue
			}
			fmt.Printf("  %-10s %-18s %8.4f\n", state, a, row[a])
		}
	}
}

func outcome(decision, action, sub string) string {
	switch {
	case sub != "":
		return decision + "/" + action + "/" + sub
	case action != "":
		return decision + "/" + action
	default:
		return decision
	}
}

func sortedKeys(t policy.Table) []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
