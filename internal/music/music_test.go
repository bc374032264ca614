package music

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/emotion"
	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/policy"
)

// #region helpers
type recordingPlayer struct {
	played []string
	err    error
}

func (p *recordingPlayer) Play(_ context.Context, path string) error {
	p.played = append(p.played, path)
	return p.err
}

func writeTracks(t *testing.T, root, category string, names ...string) {
	t.Helper()
	dir := filepath.Join(root, category)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644))
	}
}

func newStore(t *testing.T, seed policy.Table, epsilon float64) (*policy.Store, *policy.MemoryBackend) {
	t.Helper()
	backend := policy.NewMemoryBackend(nil)
	cfg := policy.DefaultConfig()
	cfg.Epsilon = epsilon
	s := policy.New("music_category", emotion.Categories, emotion.MusicCategories(), cfg, backend,
		policy.WithRand(rand.New(rand.NewPCG(7, 7))))
	if seed != nil {
		s.Seed(seed)
	}
	return s, backend
}

// #endregion helpers

// #region catalog-tests
func TestCatalogTracks_FiltersExtensions(t *testing.T) {
	root := t.TempDir()
	writeTracks(t, root, "silence", "b.WAV", "a.mp3", "notes.txt", "cover.jpg")
	require.NoError(t, os.Mkdir(filepath.Join(root, "silence", "nested.mp3"), 0o755))

	tracks, err := NewCatalog(root).Tracks("silence")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "silence", "a.mp3"),
		filepath.Join(root, "silence", "b.WAV"),
	}, tracks)
}

func TestCatalogTracks_MissingFolder(t *testing.T) {
	tracks, err := NewCatalog(t.TempDir()).Tracks("trembling_pitch")
	require.NoError(t, err)
	assert.Empty(t, tracks)
}

// #endregion catalog-tests

// #region actuator-tests
func TestActuatorPlay_UsesGreedyCategory(t *testing.T) {
	root := t.TempDir()
	writeTracks(t, root, "playful_upbeat", "song.mp3")
	writeTracks(t, root, "silence", "white.wav")

	seed := policy.Table{}
	seed.Set("laugh", "playful_upbeat", 2)
	store, _ := newStore(t, seed, 0)
	player := &recordingPlayer{}

	got, err := NewActuator(NewCatalog(root), player, store, nil, nil).Play(context.Background(), "laugh")
	require.NoError(t, err)
	assert.Equal(t, "playful_upbeat", got)
	assert.Equal(t, []string{filepath.Join(root, "playful_upbeat", "song.mp3")}, player.played)
}

func TestActuatorPlay_FallsBackToPreferredFolder(t *testing.T) {
	root := t.TempDir()
	writeTracks(t, root, "rhythmic_rising_pitch", "lullaby.mp3")

	seed := policy.Table{}
	seed.Set("hungry", "noise", 5) // greedy pick has no files
	store, _ := newStore(t, seed, 0)
	player := &recordingPlayer{}

	got, err := NewActuator(NewCatalog(root), player, store, nil, nil).Play(context.Background(), "hungry")
	require.NoError(t, err)
	assert.Equal(t, emotion.PreferredMusic("hungry"), got)
	assert.Len(t, player.played, 1)
}

func TestActuatorPlay_NoTracks(t *testing.T) {
	store, _ := newStore(t, nil, 0)
	player := &recordingPlayer{}

	_, err := NewActuator(NewCatalog(t.TempDir()), player, store, nil, nil).Play(context.Background(), "scared")
	assert.ErrorIs(t, err, ErrNoTracks)
	assert.Empty(t, player.played)
}

func TestActuatorPlay_PlayerError(t *testing.T) {
	root := t.TempDir()
	for _, c := range emotion.MusicCategories() {
		writeTracks(t, root, c, "t.mp3")
	}
	store, _ := newStore(t, nil, 0)
	player := &recordingPlayer{err: errors.New("no audio device")}

	_, err := NewActuator(NewCatalog(root), player, store, nil, nil).Play(context.Background(), "tired")
	assert.ErrorContains(t, err, "no audio device")
}

func TestActuatorReward_UpdatesAndSaves(t *testing.T) {
	store, backend := newStore(t, nil, 0)
	a := NewActuator(NewCatalog(t.TempDir()), &recordingPlayer{}, store, nil, nil)

	require.NoError(t, a.Reward(context.Background(), "lonely", "warm_soft_comforting", 1))

	assert.InDelta(t, 0.6, store.Value("lonely", "warm_soft_comforting"), 1e-9)
	saved, n := backend.Saved()
	assert.Equal(t, 1, n)
	assert.InDelta(t, 0.6, saved.Get("lonely", "warm_soft_comforting"), 1e-9)
}

func TestActuatorReward_UnknownCategory(t *testing.T) {
	store, backend := newStore(t, nil, 0)
	a := NewActuator(NewCatalog(t.TempDir()), &recordingPlayer{}, store, nil, nil)

	err := a.Reward(context.Background(), "lonely", "heavy_metal", 1)
	assert.ErrorIs(t, err, policy.ErrUnknownAction)
	_, n := backend.Saved()
	assert.Zero(t, n)
}

// #endregion actuator-tests

func TestCommandPlayer(t *testing.T) {
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("true(1) not available")
	}
	p, err := NewCommandPlayer([]string{"true"})
	require.NoError(t, err)
	assert.NoError(t, p.Play(context.Background(), "/dev/null"))

	fail, err := NewCommandPlayer([]string{"false"})
	require.NoError(t, err)
	assert.Error(t, fail.Play(context.Background(), "/dev/null"))

	_, err = NewCommandPlayer(nil)
	assert.Error(t, err)
}
