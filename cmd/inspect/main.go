package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/config"
	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/logging"
	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/policy"
)

var (
	configPath string
	jsonOut    bool
	last       int
	verbose    bool

	logger *zap.Logger
)

// #region commands

var rootCmd = &cobra.Command{
	Use:          "inspect",
	Short:        "Inspect learned policies and the cycle journal",
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
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Print the channel and music-category Q-tables",
	RunE:  runPolicy,
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Print the most recent control-loop cycles",
	RunE:  runJournal,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON instead of table")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	journalCmd.Flags().IntVar(&last, "last", 20, "show N most recent cycles")

	rootCmd.AddCommand(policyCmd, journalCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// #endregion commands

// #region policy-mode

type qRow struct {
	Policy string  `json:"policy"`
	State  string  `json:"state"`
	Action string  `json:"action"`
	Value  float64 `json:"value"`
}

func runPolicy(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var channel, category policy.Backend
	if cfg.Policy.Backend == "redis" {
		opts := policy.RedisOptions{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
		opts.Key = cfg.Redis.KeyPrefix + ":channel"
		channel = policy.NewRedisBackend(opts)
		opts.Key = cfg.Redis.KeyPrefix + ":music"
		category = policy.NewRedisBackend(opts)
	} else {
		channel = policy.NewSQLiteBackend(cfg.Policy.ChannelPath)
		category = policy.NewSQLiteBackend(cfg.Policy.MusicPath)
	}
	defer channel.Close()
	defer category.Close()

	var rows []qRow
	for _, p := range []struct {
		name    string
		backend policy.Backend
	}{{"channel", channel}, {"music_category", category}} {
		t, err := p.backend.Load(cmd.Context())
		if errors.Is(err, policy.ErrNotFound) {
			logger.Info("no saved table", zap.String("policy", p.name))
			continue
		}
		if err != nil {
			return fmt.Errorf("load %s policy: %w", p.name, err)
		}
		rows = append(rows, tableRows(p.name, t)...)
	}

	if jsonOut {
		return writeJSON(rows)
	}
	fmt.Printf("%-16s %-10s %-18s %10s\n", "POLICY", "STATE", "ACTION", "Q")
	for _, r := range rows {
		fmt.Printf("%-16s %-10s %-18s %10.4f\n", r.Policy, r.State, r.Action, r.Value)
	}
	return nil
}

func tableRows(name string, t policy.Table) []qRow {
	var rows []qRow
	states := make([]string, 0, len(t))
	for s := range t {
		states = append(states, s)
	}
	sort.Strings(states)
	for _, s := range states {
		actions := make([]string, 0, len(t[s]))
		for a := range t[s] {
			actions = append(actions, a)
		}
		sort.Strings(actions)
		for _, a := range actions {
			rows = append(rows, qRow{Policy: name, State: s, Action: a, Value: t[s][a]})
		}
	}
	return rows
}

// #endregion policy-mode

// #region journal-mode

type journalRow struct {
	CycleID     string   `json:"cycle_id"`
	Label       string   `json:"label,omitempty"`
	Confidence  *float64 `json:"confidence,omitempty"`
	Posture     string   `json:"posture"`
	Decision    string   `json:"decision"`
	Action      string   `json:"action,omitempty"`
	Subcategory string   `json:"subcategory,omitempty"`
	Reward      *float64 `json:"reward,omitempty"`
	State       string   `json:"state"`
	Reason      string   `json:"reason,omitempty"`
	CreatedAt   string   `json:"created_at"`
}

func runJournal(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Journal.Path == "" {
		return errors.New("journal is disabled in this config")
	}

	j, err := logging.OpenJournal(cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer j.Close()

	entries, err := j.Recent(last)
	if err != nil {
		return err
	}
	counts, err := j.Counts()
	if err != nil {
		return err
	}

	rows := make([]journalRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, journalRow{
			CycleID:     e.CycleID,
			Label:       e.Label,
			Confidence:  e.Confidence,
			Posture:     e.Posture,
			Decision:    string(e.Decision),
			Action:      e.Action,
			Subcategory: e.Subcategory,
			Reward:      e.Reward,
			State:       e.State,
			Reason:      e.Reason,
			CreatedAt:   e.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}

	if jsonOut {
		return writeJSON(struct {
			Cycles []journalRow              `json:"cycles"`
			Counts map[logging.Decision]int `json:"counts"`
		}{rows, counts})
	}

	fmt.Printf("%-38s %-10s %-6s %-7s %-6s %-7s %-18s %s\n",
		"CYCLE", "LABEL", "CONF", "POSTURE", "STATE", "DECIDE", "ACTION", "REASON")
	for _, r := range rows {
		fmt.Printf("%-38s %-10s %-6s %-7s %-6s %-7s %-18s %s\n",
			r.CycleID, orDash(r.Label), fmtOptFloat(r.Confidence), r.Posture, r.State,
			r.Decision, orDash(joinAction(r.Action, r.Subcategory)), truncate(r.Reason, 40))
	}
	fmt.Printf("\nTotals: %d act, %d idle, %d skip, %d error\n",
		counts[logging.DecisionAct], counts[logging.DecisionIdle],
		counts[logging.DecisionSkip], counts[logging.DecisionError])
	return nil
}

// #endregion journal-mode

// #region helpers

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fmtOptFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func joinAction(action, sub string) string {
	if sub == "" {
		return action
	}
	return action + "/" + sub
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// #endregion helpers

