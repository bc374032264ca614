package logging

import "time"

// #region decisions
// Decision is the outcome recorded for one control-loop cycle.
type Decision string

const (
	DecisionSkip  Decision = "skip"  // not enough audio yet
	DecisionIdle  Decision = "idle"  // quiescent or unlabeled, no action
	DecisionAct   Decision = "act"   // an action was applied and learned from
	DecisionError Decision = "error" // a collaborator or persistence step failed
)
// #endregion decisions

// #region cycle-entry
// CycleEntry is a single row in the cycle_log table.
type CycleEntry struct {
	ID          int64
	CycleID     string
	Label       string // empty when the classifier produced none
	Confidence  *float64
	Posture     string
	State       string // "idle" | "active"
	Action      string // "voice" | "music" | ""
	Subcategory string
	Reward      *float64
	Decision    Decision
	Reason      string
	CreatedAt   time.Time
}
// #endregion cycle-entry
