package speech

import (
	"context"
	"strconv"
)

// Player plays an encoded audio buffer on the local device.
type Player interface {
	Play(ctx context.Context, audio []byte, volume Volume) error
}

// FFPlay plays audio by piping it into ffplay.
type FFPlay struct {
	Binary string
	run    Runner
}

// NewFFPlay returns a player using the given ffplay binary.
func NewFFPlay(binary string) *FFPlay {
	if binary == "" {
		binary = "ffplay"
	}
	return &FFPlay{Binary: binary, run: runCommand}
}

// Play implements Player.
func (p *FFPlay) Play(ctx context.Context, audio []byte, volume Volume) error {
	return p.run(ctx, audio, p.Binary,
		"-nodisp", "-autoexit",
		"-loglevel", "error",
		"-volume", strconv.Itoa(int(volume.Level()*100)),
		"-i", "pipe:0",
	)
}
