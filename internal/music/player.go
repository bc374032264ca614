package music

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// CommandPlayer shells out to an external audio player.
type CommandPlayer struct {
	argv []string
}

func NewCommandPlayer(argv []string) (*CommandPlayer, error) {
	if len(argv) == 0 {
		return nil, errors.New("music: empty player command")
	}
	return &CommandPlayer{argv: argv}, nil
}

// Play blocks until the player exits. Cancelling ctx kills the player.
func (p *CommandPlayer) Play(ctx context.Context, path string) error {
	args := append(append([]string{}, p.argv[1:]...), path)
	cmd := exec.CommandContext(ctx, p.argv[0], args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("play %s: %w (%s)", path, err, truncate(out, 200))
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
