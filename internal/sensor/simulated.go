package sensor

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/emotion"
)

// Simulated picks safe or risky uniformly at random. It stands in for
// cradles without a posture sensor.
type Simulated struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulated uses rng, or a randomly seeded source when rng is nil.
func NewSimulated(rng *rand.Rand) *Simulated {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Simulated{rng: rng}
}

func (s *Simulated) Posture(context.Context) (emotion.Posture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rng.IntN(2) == 0 {
		return emotion.PostureSafe, nil
	}
	return emotion.PostureRisky, nil
}

// Fixed always reports the same posture.
type Fixed emotion.Posture

func (f Fixed) Posture(context.Context) (emotion.Posture, error) {
	return emotion.Posture(f), nil
}
