package speech

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
)

const providerEspeak = "espeak"

// Espeak speaks through a local espeak-ng process.
// Every call starts its own process, so overlapping utterances play concurrently.
type Espeak struct {
	config *Config
	logger *slog.Logger
	run    Runner
}

// NewEspeak creates a local espeak-ng speaker.
func NewEspeak(opts ...Option) *Espeak {
	cfg := DefaultConfig()
	cfg.Binary = "espeak-ng"
	cfg.Apply(opts...)

	return &Espeak{
		config: cfg,
		logger: cfg.Logger.With("component", "speech.espeak"),
		run:    runCommand,
	}
}

// Name implements Speaker.
func (e *Espeak) Name() string {
	return providerEspeak
}

// Speak implements Speaker.
func (e *Espeak) Speak(ctx context.Context, u Utterance) error {
	text := strings.TrimSpace(u.Text)
	if text == "" {
		return ErrEmptyText
	}

	args := e.args(u)
	args = append(args, "--", text)

	e.logger.Debug("speaking", "chars", len(text), "rate", u.Rate, "volume", u.Volume)
	if err := e.run(ctx, nil, e.config.Binary, args...); err != nil {
		return WrapError(providerEspeak, err)
	}
	return nil
}

func (e *Espeak) args(u Utterance) []string {
	args := []string{
		"-s", strconv.Itoa(u.Rate.WordsPerMinute()),
		"-a", strconv.Itoa(amplitude(u.Volume)),
	}
	if e.config.Voice != "" {
		args = append(args, "-v", e.config.Voice)
	}
	return args
}

// espeak amplitude runs 0-200; low volume lands on its default of 100.
func amplitude(v Volume) int {
	return int(v.Level() * 200)
}

var _ Speaker = (*Espeak)(nil)
