package music

import (
	"context"
	"errors"
)

// ErrNoTracks is returned when neither the chosen nor the preferred folder holds a playable file.
var ErrNoTracks = errors.New("music: no tracks")

// Player plays one audio file and returns when playback ends.
type Player interface {
	Play(ctx context.Context, path string) error
}

// Config locates the catalog and the external player.
type Config struct {
	Dir string `yaml:"dir"`
	// Command is the player argv; the track path is appended as the last argument.
	Command []string `yaml:"command"`
}

// DefaultConfig plays with ffplay from music/categorized_music.
func DefaultConfig() Config {
	return Config{
		Dir:     "music/categorized_music",
		Command: []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet"},
	}
}
