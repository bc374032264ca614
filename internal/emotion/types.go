package emotion

import "sort"

// #region labels

// Silence is the quiescent label: the classifier heard nothing worth acting on.
const Silence = "silence"

// Categories is the closed set of labels the cry classifier can emit.
var Categories = []string{
	"belly pain", "burping", "discomfort", "hungry", "laugh",
	"lonely", "noise", "scared", "silence", "tired",
}

// IsKnown reports whether label belongs to Categories.
func IsKnown(label string) bool {
	for _, c := range Categories {
		if c == label {
			return true
		}
	}
	return false
}

// #endregion labels

// #region music-map

// MusicCategory maps each label to its preferred music folder.
// "tired" shares the comforting folder because no dedicated one exists.
var MusicCategory = map[string]string{
	"belly pain": "loud_high_pitched",
	"burping":    "rhythmic_rising_pitch",
	"discomfort": "medium_pitch_whiny",
	"hungry":     "rhythmic_rising_pitch",
	"laugh":      "playful_upbeat",
	"lonely":     "warm_soft_comforting",
	"noise":      "noise",
	"scared":     "trembling_pitch",
	"silence":    "silence",
	"tired":      "warm_soft_comforting",
}

// MusicCategories returns the distinct folder names of MusicCategory, sorted.
func MusicCategories() []string {
	seen := make(map[string]struct{}, len(MusicCategory))
	var out []string
	for _, c := range MusicCategory {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// PreferredMusic returns the folder mapped to label, falling back to the silence folder.
func PreferredMusic(label string) string {
	if c, ok := MusicCategory[label]; ok {
		return c
	}
	return MusicCategory[Silence]
}

// #endregion music-map

// #region posture

// Posture is the infant's sleeping position as reported by the posture sensor.
type Posture string

const (
	PostureSafe  Posture = "safe"
	PostureRisky Posture = "risky"
)

// Valid reports whether p is one of the known postures.
func (p Posture) Valid() bool {
	return p == PostureSafe || p == PostureRisky
}

// #endregion posture

// #region prediction

// Prediction is one classifier verdict. Label is nil when the classifier could not decide.
type Prediction struct {
	Label      *string
	Confidence float64
}

// LabelOr returns the label or fallback when none was produced.
func (p Prediction) LabelOr(fallback string) string {
	if p.Label == nil {
		return fallback
	}
	return *p.Label
}

// #endregion prediction

// #region observation

// Observation is the record broadcast to observers once per control-loop cycle.
type Observation struct {
	Emotion    *string  `json:"emotion"`
	Confidence *float64 `json:"confidence"`
	Posture    Posture  `json:"posture"`
}

// NewObservation builds an Observation from a prediction and a posture reading.
// Confidence is reported as null when no label was produced.
func NewObservation(p Prediction, posture Posture) Observation {
	obs := Observation{Emotion: p.Label, Posture: posture}
	if p.Label != nil {
		c := clamp01(p.Confidence)
		obs.Confidence = &c
	}
	return obs
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// #endregion observation
