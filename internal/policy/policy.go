package policy

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"go.uber.org/zap"
)

// #region store-struct

// Store is a tabular Q-learning policy over a closed action set.
// It is not safe for concurrent use; the owning control loop serializes access.
type Store struct {
	name    string
	states  []string
	actions []string
	cfg     Config
	table   Table
	backend Backend
	rng     *rand.Rand
	logger  *zap.Logger
}

// Option customizes a Store.
type Option func(*Store)

// WithRand sets the random source used for exploration and tie-breaking.
func WithRand(r *rand.Rand) Option {
	return func(s *Store) { s.rng = r }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates an empty store. Call Load to restore persisted values.
// actions must not be empty.
func New(name string, states, actions []string, cfg Config, backend Backend, opts ...Option) *Store {
	if len(actions) == 0 {
		panic("policy: empty action set")
	}
	s := &Store{
		name:    name,
		states:  slices.Clone(states),
		actions: slices.Clone(actions),
		cfg:     cfg,
		table:   make(Table),
		backend: backend,
		rng:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With(zap.String("policy", name))
	return s
}

// #endregion store-struct

// #region accessors

// Name identifies the decision domain.
func (s *Store) Name() string { return s.name }

// States returns the declared state universe.
func (s *Store) States() []string { return slices.Clone(s.states) }

// Actions returns the action universe.
func (s *Store) Actions() []string { return slices.Clone(s.actions) }

// Config returns the learning parameters in effect.
func (s *Store) Config() Config { return s.cfg }

// SetEpsilon changes the exploration rate.
func (s *Store) SetEpsilon(eps float64) {
	s.cfg.Epsilon = eps
}

// Value returns Q(state, action).
func (s *Store) Value(state, action string) float64 {
	return s.table.Get(state, action)
}

// Table returns a copy of the current values.
func (s *Store) Table() Table {
	return s.table.Clone()
}

// Seed overwrites the in-memory table; used to start from known values.
func (s *Store) Seed(t Table) {
	s.table = t.Clone()
}

// #endregion accessors

// #region choose-action

// ChooseAction picks an action for state: uniformly at random with probability
// epsilon, otherwise one of the maximizing actions chosen uniformly.
func (s *Store) ChooseAction(state string) string {
	if s.rng.Float64() < s.cfg.Epsilon {
		return s.actions[s.rng.IntN(len(s.actions))]
	}

	best := s.bestActions(state)
	return best[s.rng.IntN(len(best))]
}

func (s *Store) bestActions(state string) []string {
	var best []string
	maxVal := 0.0
	for i, a := range s.actions {
		v := s.table.Get(state, a)
		switch {
		case i == 0 || v > maxVal:
			maxVal = v
			best = append(best[:0], a)
		case v == maxVal:
			best = append(best, a)
		}
	}
	return best
}

// #endregion choose-action

// #region update

// Update applies Q(s,a) += alpha * (reward + gamma * max_a' Q(next,a') - Q(s,a)).
// An unvisited next state contributes 0 to the max term.
func (s *Store) Update(state, action string, reward float64, next string) error {
	if !slices.Contains(s.actions, action) {
		return fmt.Errorf("update %s/%s: %w", state, action, ErrUnknownAction)
	}
	current := s.table.Get(state, action)
	target := reward + s.cfg.Gamma*s.maxValue(next)
	updated := current + s.cfg.Alpha*(target-current)
	s.table.Set(state, action, updated)

	s.logger.Debug("q update",
		zap.String("state", state),
		zap.String("action", action),
		zap.Float64("reward", reward),
		zap.Float64("from", current),
		zap.Float64("to", updated))
	return nil
}

func (s *Store) maxValue(state string) float64 {
	if _, ok := s.table[state]; !ok {
		return 0
	}
	maxVal := s.table.Get(state, s.actions[0])
	for _, a := range s.actions[1:] {
		if v := s.table.Get(state, a); v > maxVal {
			maxVal = v
		}
	}
	return maxVal
}

// #endregion update

// #region persistence

// Save persists the table through the backend.
func (s *Store) Save(ctx context.Context) error {
	if err := s.backend.Save(ctx, s.table); err != nil {
		return fmt.Errorf("save %s policy: %w", s.name, err)
	}
	s.logger.Debug("q table saved", zap.Int("states", len(s.table)))
	return nil
}

// Load restores the table from the backend. Missing or unreadable storage leaves
// an empty table; the condition is logged, never returned.
func (s *Store) Load(ctx context.Context) {
	t, err := s.backend.Load(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		s.logger.Info("no previous q table, starting fresh")
		s.table = make(Table)
	case err != nil:
		s.logger.Warn("q table unreadable, starting fresh", zap.Error(err))
		s.table = make(Table)
	default:
		s.table = t
		s.logger.Info("q table loaded", zap.Int("states", len(t)))
	}
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// #endregion persistence
