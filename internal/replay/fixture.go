package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/emotion"
	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/policy"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description     string                  `json:"description"`
	Config          FixtureConfig           `json:"config"`
	ChannelTable    policy.Table            `json:"channel_table"`
	MusicTable      policy.Table            `json:"music_table"`
	Observations    []FixtureObservation    `json:"observations"`
	ExpectedResults []FixtureExpectedResult `json:"expected_results"`
}

// FixtureConfig holds the learning parameters for both policies.
type FixtureConfig struct {
	Channel policy.Config `json:"channel"`
	Music   policy.Config `json:"music"`
	Seed    uint64        `json:"seed"`
}

// FixtureObservation scripts what the collaborators report for one cycle.
type FixtureObservation struct {
	CycleID    string  `json:"cycle_id"`
	Label      *string `json:"label"`
	Confidence float64 `json:"confidence"`
	Posture    string  `json:"posture"`

	// Insufficient simulates a buffer shorter than one segment.
	Insufficient bool `json:"insufficient,omitempty"`
	// ClassifierError and ActuatorError make the matching collaborator fail.
	ClassifierError string `json:"classifier_error,omitempty"`
	ActuatorError   string `json:"actuator_error,omitempty"`
}

// FixtureExpectedResult captures the expected outcome per cycle.
type FixtureExpectedResult struct {
	CycleID     string `json:"cycle_id"`
	Decision    string `json:"decision"`
	Action      string `json:"action,omitempty"`
	Subcategory string `json:"subcategory,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("fixture %s: %w", path, err)
	}
	return &f, nil
}

func (f *Fixture) validate() error {
	for i, o := range f.Observations {
		if o.CycleID == "" {
			return fmt.Errorf("observation %d: missing cycle_id", i)
		}
		if o.Posture != "" && !emotion.Posture(o.Posture).Valid() {
			return fmt.Errorf("observation %s: unknown posture %q", o.CycleID, o.Posture)
		}
	}
	return nil
}

// withDefaults fills zero learning configs with the runtime defaults.
func (c FixtureConfig) withDefaults() FixtureConfig {
	if c.Channel == (policy.Config{}) {
		c.Channel = policy.DefaultConfig()
	}
	if c.Music == (policy.Config{}) {
		c.Music = policy.DefaultConfig()
	}
	return c
}

// #endregion fixture-loader
