package speech

import (
	"context"
	"log/slog"
	"strings"
)

// Chain implements Speaker by trying multiple speakers in order.
// The first successful speaker wins; if all fail, returns a ChainError.
type Chain struct {
	speakers []Speaker
	logger   *slog.Logger
}

// NewChain creates a speaker chain. At least one speaker is required.
func NewChain(logger *slog.Logger, speakers ...Speaker) (*Chain, error) {
	if len(speakers) == 0 {
		return nil, ErrNoSpeakers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		speakers: speakers,
		logger:   logger.With("component", "speech.chain"),
	}, nil
}

// Name implements Speaker.
func (c *Chain) Name() string {
	names := make([]string, len(c.speakers))
	for i, s := range c.speakers {
		names[i] = s.Name()
	}
	return "chain(" + strings.Join(names, ",") + ")"
}

// Speak tries each speaker until one succeeds.
func (c *Chain) Speak(ctx context.Context, u Utterance) error {
	var errs []error

	for i, s := range c.speakers {
		err := s.Speak(ctx, u)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback speaker succeeded", "speaker", s.Name(), "chars", len(u.Text))
			}
			return nil
		}

		errs = append(errs, err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("speaker failed, trying next", "speaker", s.Name(), "error", err)
	}

	return &ChainError{Errors: errs}
}

// Speakers returns the speakers in the chain.
func (c *Chain) Speakers() []Speaker {
	return c.speakers
}

var _ Speaker = (*Chain)(nil)

// Silent logs utterances instead of playing them.
type Silent struct {
	Logger *slog.Logger
}

// Name implements Speaker.
func (s Silent) Name() string { return "none" }

// Speak implements Speaker.
func (s Silent) Speak(ctx context.Context, u Utterance) error {
	if s.Logger != nil {
		s.Logger.Info("speech disabled, skipping utterance", "text", u.Text)
	}
	return ctx.Err()
}
