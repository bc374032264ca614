package policy

import (
	"context"
	"errors"
)

// #region errors

var (
	// ErrNotFound is returned by a Backend that holds no table yet.
	ErrNotFound = errors.New("policy: no stored table")
	// ErrUnknownAction is returned when an action outside the store's universe is updated.
	ErrUnknownAction = errors.New("policy: unknown action")
)

// #endregion errors

// #region table

// Table maps state -> action -> Q-value. Missing entries read as 0.
type Table map[string]map[string]float64

// Get returns Q(state, action), or 0 when the pair was never written.
func (t Table) Get(state, action string) float64 {
	return t[state][action]
}

// Set writes Q(state, action), creating the state row when needed.
func (t Table) Set(state, action string, v float64) {
	row, ok := t[state]
	if !ok {
		row = make(map[string]float64)
		t[state] = row
	}
	row[action] = v
}

// Clone returns a deep copy.
func (t Table) Clone() Table {
	out := make(Table, len(t))
	for s, row := range t {
		cp := make(map[string]float64, len(row))
		for a, v := range row {
			cp[a] = v
		}
		out[s] = cp
	}
	return out
}

// #endregion table

// #region config

// Config holds the learning rate, discount and exploration rate.
type Config struct {
	Alpha   float64 `yaml:"alpha"`
	Gamma   float64 `yaml:"gamma"`
	Epsilon float64 `yaml:"epsilon"`
}

// DefaultConfig returns alpha=0.6, gamma=0.9, epsilon=0.2.
func DefaultConfig() Config {
	return Config{Alpha: 0.6, Gamma: 0.9, Epsilon: 0.2}
}

// #endregion config

// #region backend

// Backend is durable storage for a Table.
type Backend interface {
	// Load returns the stored table, or ErrNotFound when nothing was saved yet.
	Load(ctx context.Context) (Table, error)
	// Save replaces the stored table with t.
	Save(ctx context.Context, t Table) error
	Close() error
}

// #endregion backend
