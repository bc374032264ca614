package orchestrator

// #region imports
import (
	"context"
	"time"

	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/emotion"
	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/logging"
)

// #endregion

// #region state

// State is the control loop's mode.
type State int

const (
	StateIdle   State = iota // quiescent, long poll interval
	StateActive              // recently acted, short poll interval
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "idle"
}

// #endregion

// #region actions

// Mitigation channels learned by the channel policy.
const (
	ActionVoice = "voice"
	ActionMusic = "music"
)

// Actions is the channel policy's action universe.
var Actions = []string{ActionVoice, ActionMusic}

// #endregion

// #region collaborators

// Classifier labels one audio segment.
type Classifier interface {
	Predict(ctx context.Context, segment []float32) (emotion.Prediction, error)
}

// PostureSensor reports the infant's posture.
type PostureSensor interface {
	Posture(ctx context.Context) (emotion.Posture, error)
}

// Publisher receives every cycle's observation.
type Publisher interface {
	Publish(payload any) error
}

// VoiceActuator speaks a soothing phrase for a label.
type VoiceActuator interface {
	Soothe(ctx context.Context, label string) error
}

// MusicActuator plays music for a label and learns which sub-category worked.
type MusicActuator interface {
	Play(ctx context.Context, label string) (string, error)
	Reward(ctx context.Context, label, subcategory string, reward float64) error
}

// Policy is the channel decision table.
type Policy interface {
	ChooseAction(state string) string
	Update(state, action string, reward float64, next string) error
	Save(ctx context.Context) error
	SetEpsilon(eps float64)
}

// SegmentSource exposes the most recent audio window.
type SegmentSource interface {
	Snapshot() []float32
}

// Recorder keeps a durable record of cycles.
type Recorder interface {
	Record(entry logging.CycleEntry) error
}

// #endregion

// #region tuning

// Intervals are the loop's sleep durations.
type Intervals struct {
	Initial time.Duration // before the first classified cycle
	Idle    time.Duration
	Active  time.Duration
}

// DefaultIntervals returns 5s / 60s / 10s.
func DefaultIntervals() Intervals {
	return Intervals{Initial: 5 * time.Second, Idle: 60 * time.Second, Active: 10 * time.Second}
}

// Tuning is a runtime adjustment applied at the next cycle boundary.
type Tuning struct {
	Intervals      Intervals
	ChannelEpsilon float64
	MusicEpsilon   float64
}

// EpsilonSetter is a policy whose exploration rate can be re-tuned.
type EpsilonSetter interface {
	SetEpsilon(eps float64)
}

// #endregion

// #region reward

// RewardFunc scores an applied action. label is the emotion acted on,
// action the channel, subcategory the music category ("" for voice).
type RewardFunc func(label, action, subcategory string) float64

// FlatReward rewards every applied action with v.
func FlatReward(v float64) RewardFunc {
	return func(string, string, string) float64 { return v }
}

// #endregion

// #region cycle-result

// CycleResult describes one pass through the control loop.
type CycleResult struct {
	ID          string
	Observation *emotion.Observation // nil when nothing was published
	Action      string
	Subcategory string
	Reward      *float64
	State       State
	Next        time.Duration
	Decision    logging.Decision
	Err         error
}

// Entry converts the result into a journal row.
func (r CycleResult) Entry() logging.CycleEntry {
	e := logging.CycleEntry{
		CycleID:     r.ID,
		State:       r.State.String(),
		Action:      r.Action,
		Subcategory: r.Subcategory,
		Reward:      r.Reward,
		Decision:    r.Decision,
	}
	if r.Observation != nil {
		if r.Observation.Emotion != nil {
			e.Label = *r.Observation.Emotion
		}
		e.Confidence = r.Observation.Confidence
		e.Posture = string(r.Observation.Posture)
	}
	if r.Err != nil {
		e.Reason = r.Err.Error()
	}
	return e
}

// #endregion
