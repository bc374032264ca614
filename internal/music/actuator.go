package music

import (
	"context"
	"fmt"
	"math/rand/v2"

	"go.uber.org/zap"

	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/emotion"
	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/policy"
)

// #region actuator

// Actuator plays soothing music. A dedicated policy store learns which music
// category works for each emotion.
type Actuator struct {
	catalog *Catalog
	player  Player
	policy  *policy.Store
	rng     *rand.Rand
	logger  *zap.Logger
}

// NewActuator wires the catalog, player and category policy. rng may be nil.
func NewActuator(catalog *Catalog, player Player, store *policy.Store, rng *rand.Rand, logger *zap.Logger) *Actuator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Actuator{catalog: catalog, player: player, policy: store, rng: rng, logger: logger}
}

// Play picks a category for label, plays a random track from it and returns
// the category actually played. An empty chosen folder falls back to the
// label's preferred folder.
func (a *Actuator) Play(ctx context.Context, label string) (string, error) {
	category := a.policy.ChooseAction(label)
	tracks, err := a.catalog.Tracks(category)
	if err != nil {
		return "", err
	}

	if len(tracks) == 0 {
		preferred := emotion.PreferredMusic(label)
		a.logger.Debug("music category empty, using preferred folder",
			zap.String("chosen", category), zap.String("preferred", preferred))
		category = preferred
		if tracks, err = a.catalog.Tracks(category); err != nil {
			return "", err
		}
	}
	if len(tracks) == 0 {
		return "", fmt.Errorf("%w for %q", ErrNoTracks, label)
	}

	track := tracks[a.rng.IntN(len(tracks))]
	a.logger.Info("playing music", zap.String("emotion", label), zap.String("category", category), zap.String("track", track))
	if err := a.player.Play(ctx, track); err != nil {
		return "", err
	}
	return category, nil
}

// Reward feeds the outcome of a music action back into the category policy and persists it.
func (a *Actuator) Reward(ctx context.Context, label, category string, reward float64) error {
	if err := a.policy.Update(label, category, reward, label); err != nil {
		return fmt.Errorf("reward music category: %w", err)
	}
	return a.policy.Save(ctx)
}

// #endregion actuator
