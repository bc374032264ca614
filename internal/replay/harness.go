package replay

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/emotion"
	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/logging"
	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/orchestrator"
	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/policy"
)

// #region types

// ReplayResult captures the outcome of replaying one scripted cycle.
type ReplayResult struct {
	CycleID     string
	Decision    string // "act" | "idle" | "skip" | "error"
	Action      string
	Subcategory string
	Reason      string
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	TotalCycles  int
	Acts         int
	Idles        int
	Skips        int
	Errors       int
	ChannelTable policy.Table
	MusicTable   policy.Table
}

// #endregion types

// #region script

const segmentSize = 1

// script plays the fixture's collaborators for the current cycle.
type script struct {
	obs FixtureObservation
}

func (s *script) Snapshot() []float32 {
	if s.obs.Insufficient {
		return nil
	}
	return make([]float32, segmentSize)
}

func (s *script) Predict(context.Context, []float32) (emotion.Prediction, error) {
	if s.obs.ClassifierError != "" {
		return emotion.Prediction{}, errors.New(s.obs.ClassifierError)
	}
	return emotion.Prediction{Label: s.obs.Label, Confidence: s.obs.Confidence}, nil
}

func (s *script) Posture(context.Context) (emotion.Posture, error) {
	if s.obs.Posture == "" {
		return emotion.PostureSafe, nil
	}
	return emotion.Posture(s.obs.Posture), nil
}

func (s *script) Soothe(context.Context, string) error {
	if s.obs.ActuatorError != "" {
		return errors.New(s.obs.ActuatorError)
	}
	return nil
}

// music stands in for the music actuator: the category policy chooses and
// learns exactly as in production, but nothing is played.
type music struct {
	s     *script
	store *policy.Store
}

func (m *music) Play(_ context.Context, label string) (string, error) {
	if m.s.obs.ActuatorError != "" {
		return "", errors.New(m.s.obs.ActuatorError)
	}
	return m.store.ChooseAction(label), nil
}

func (m *music) Reward(ctx context.Context, label, category string, reward float64) error {
	if err := m.store.Update(label, category, reward, label); err != nil {
		return err
	}
	return m.store.Save(ctx)
}

// #endregion script

// #region replay

// Replay runs every scripted observation through the control loop in memory
// and returns one result per cycle.
func Replay(f *Fixture) ([]ReplayResult, ReplaySummary, error) {
	cfg := f.Config.withDefaults()
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	channel := policy.New("channel", emotion.Categories, orchestrator.Actions, cfg.Channel,
		policy.NewMemoryBackend(f.ChannelTable), policy.WithRand(rng))
	category := policy.New("music_category", emotion.Categories, emotion.MusicCategories(), cfg.Music,
		policy.NewMemoryBackend(f.MusicTable), policy.WithRand(rng))
	ctx := context.Background()
	channel.Load(ctx)
	category.Load(ctx)

	s := &script{}
	o, err := orchestrator.New(orchestrator.Deps{
		Segments:    s,
		SegmentSize: segmentSize,
		Classifier:  s,
		Posture:     s,
		Voice:       s,
		Music:       &music{s: s, store: category},
		Channel:     channel,
	})
	if err != nil {
		return nil, ReplaySummary{}, fmt.Errorf("build orchestrator: %w", err)
	}

	results := make([]ReplayResult, 0, len(f.Observations))
	for _, obs := range f.Observations {
		s.obs = obs
		res := o.RunCycle(ctx)
		r := ReplayResult{
			CycleID:     obs.CycleID,
			Decision:    string(res.Decision),
			Action:      res.Action,
			Subcategory: res.Subcategory,
		}
		if res.Err != nil {
			r.Reason = res.Err.Error()
		}
		results = append(results, r)
	}
	return results, Summarize(results, channel.Table(), category.Table()), nil
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []ReplayResult, channel, category policy.Table) ReplaySummary {
	s := ReplaySummary{
		TotalCycles:  len(results),
		ChannelTable: channel,
		MusicTable:   category,
	}
	for _, r := range results {
		switch logging.Decision(r.Decision) {
		case logging.DecisionAct:
			s.Acts++
		case logging.DecisionIdle:
			s.Idles++
		case logging.DecisionSkip:
			s.Skips++
		case logging.DecisionError:
			s.Errors++
		}
	}
	return s
}

// Compare reports every cycle whose outcome differs from the expectation.
func Compare(results []ReplayResult, expected []FixtureExpectedResult) []string {
	var diffs []string
	if len(results) != len(expected) {
		diffs = append(diffs, fmt.Sprintf("expected %d results, got %d", len(expected), len(results)))
	}
	for i := 0; i < len(results) && i < len(expected); i++ {
		got, want := results[i], expected[i]
		switch {
		case got.CycleID != want.CycleID:
			diffs = append(diffs, fmt.Sprintf("cycle %d: expected cycle_id=%s, got %s", i, want.CycleID, got.CycleID))
		case got.Decision != want.Decision:
			diffs = append(diffs, fmt.Sprintf("%s: expected decision=%s, got %s (reason: %s)", want.CycleID, want.Decision, got.Decision, got.Reason))
		case want.Action != "" && got.Action != want.Action:
			diffs = append(diffs, fmt.Sprintf("%s: expected action=%s, got %s", want.CycleID, want.Action, got.Action))
		case want.Subcategory != "" && got.Subcategory != want.Subcategory:
			diffs = append(diffs, fmt.Sprintf("%s: expected subcategory=%s, got %s", want.CycleID, want.Subcategory, got.Subcategory))
		}
	}
	return diffs
}

// #endregion replay
