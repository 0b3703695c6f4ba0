package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/teslashibe/go-pathguide/internal/config"
	"github.com/teslashibe/go-pathguide/pkg/detection"
	"github.com/teslashibe/go-pathguide/pkg/inference"
	"github.com/teslashibe/go-pathguide/pkg/narration"
	"github.com/teslashibe/go-pathguide/pkg/settings"
	"github.com/teslashibe/go-pathguide/pkg/speech"
)

func newDetector(cfg *config.Config, logger *slog.Logger) (*detection.Adapter, error) {
	y := detection.DefaultYOLOConfig()
	y.ModelPath = cfg.Detector.ModelPath
	if len(cfg.Detector.Labels) > 0 {
		y.Labels = cfg.Detector.Labels
	}
	y.ConfidenceThresh = float32(cfg.Detector.Confidence)
	y.NMSThresh = float32(cfg.Detector.NMS)
	y.InputSize = cfg.Detector.InputSize
	y.Logger = logger

	d, err := detection.NewYOLO(y)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}
	return detection.NewAdapter(d, logger), nil
}

func newProvider(cfg *config.Config, logger *slog.Logger) (*inference.Client, error) {
	n := cfg.Narration
	return inference.NewClient(
		inference.WithBaseURL(n.BaseURL),
		inference.WithAPIKey(n.APIKey),
		inference.WithModel(n.Model),
		inference.WithMaxTokens(n.MaxTokens),
		inference.WithTemperature(n.Temperature),
		inference.WithTimeout(n.Timeout()),
		inference.WithLogger(logger),
	)
}

// newSpeaker builds the configured engines into a fallback chain.
// Engines that cannot be built are skipped with a warning.
func newSpeaker(cfg *config.Config, logger *slog.Logger) (speech.Speaker, error) {
	sc := cfg.Speech
	var speakers []speech.Speaker

	for _, name := range sc.Engines {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "espeak":
			opts := []speech.Option{speech.WithLogger(logger)}
			if sc.EspeakBinary != "" {
				opts = append(opts, speech.WithBinary(sc.EspeakBinary))
			}
			if sc.EspeakVoice != "" {
				opts = append(opts, speech.WithVoice(sc.EspeakVoice))
			}
			speakers = append(speakers, speech.NewEspeak(opts...))

		case "openai":
			opts := []speech.Option{speech.WithAPIKey(sc.OpenAIKey), speech.WithLogger(logger)}
			if sc.OpenAIVoice != "" {
				opts = append(opts, speech.WithVoice(sc.OpenAIVoice))
			}
			o, err := speech.NewOpenAI(speech.NewFFPlay(sc.PlayerBinary), opts...)
			if err != nil {
				logger.Warn("openai speech disabled", "error", err)
				continue
			}
			speakers = append(speakers, o)

		case "none":
			speakers = append(speakers, speech.Silent{Logger: logger})

		default:
			return nil, fmt.Errorf("unknown speech engine %q", name)
		}
	}

	if len(speakers) == 0 {
		logger.Warn("no speech engine available, narration will be silent")
		return speech.Silent{Logger: logger}, nil
	}
	if len(speakers) == 1 {
		return speakers[0], nil
	}
	return speech.NewChain(logger, speakers...)
}

func newDispatcher(cfg *config.Config, provider inference.Provider, speaker speech.Speaker,
	mgr *settings.Manager, live *narration.LiveText, logger *slog.Logger, onNarration func(narration.Narration),
) (*narration.Dispatcher, error) {
	dc := narration.DefaultConfig()
	dc.Provider = provider
	dc.Speaker = speaker
	dc.Settings = mgr
	dc.Live = live
	dc.Logger = logger
	dc.OnNarration = onNarration
	if t := cfg.Narration.Timeout(); t > 0 {
		dc.Timeout = t
	}
	if cfg.Narration.Workers > 0 {
		dc.NarrationWorkers = cfg.Narration.Workers
	}
	if cfg.Narration.QueueSize > 0 {
		dc.NarrationQueue = cfg.Narration.QueueSize
	}
	if cfg.Speech.Workers > 0 {
		dc.SpeechWorkers = cfg.Speech.Workers
	}
	if cfg.Speech.QueueSize > 0 {
		dc.SpeechQueue = cfg.Speech.QueueSize
	}
	return narration.New(dc)
}
