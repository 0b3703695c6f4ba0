// Package speech provides the speech-playback side of guidance narration.
//
// A Speaker turns text into audible speech on the local device. Backends
// include a local espeak-ng process and OpenAI TTS played through ffplay.
// All backends implement Speaker so they can be chained for fallback.
//
// Example usage:
//
//	speaker := speech.NewEspeak(speech.WithVoice("en-us"))
//	err := speaker.Speak(ctx, speech.Utterance{
//	    Text:   "The path bends to the left.",
//	    Rate:   speech.RateMedium,
//	    Volume: speech.VolumeHigh,
//	})
package speech

import (
	"context"
	"fmt"
)

// Speaker plays text aloud.
// Speak blocks until playback completes or ctx is cancelled.
type Speaker interface {
	Speak(ctx context.Context, u Utterance) error

	// Name identifies the backend in logs.
	Name() string
}

// Utterance is one unit of speech.
type Utterance struct {
	Text   string
	Rate   Rate
	Volume Volume
}

// Rate is a discrete speaking rate.
type Rate string

const (
	RateSlow   Rate = "slow"
	RateMedium Rate = "medium"
	RateFast   Rate = "fast"
)

// Volume is a discrete playback volume.
type Volume string

const (
	VolumeLow    Volume = "low"
	VolumeMedium Volume = "medium"
	VolumeHigh   Volume = "high"
)

// ParseRate validates a rate name.
func ParseRate(s string) (Rate, error) {
	switch r := Rate(s); r {
	case RateSlow, RateMedium, RateFast:
		return r, nil
	}
	return "", fmt.Errorf("speech: unknown rate %q (want slow, medium or fast)", s)
}

// ParseVolume validates a volume name.
func ParseVolume(s string) (Volume, error) {
	switch v := Volume(s); v {
	case VolumeLow, VolumeMedium, VolumeHigh:
		return v, nil
	}
	return "", fmt.Errorf("speech: unknown volume %q (want low, medium or high)", s)
}

// WordsPerMinute maps the rate to a synthesizer speaking rate.
// Unknown values fall back to medium.
func (r Rate) WordsPerMinute() int {
	switch r {
	case RateSlow:
		return 150
	case RateFast:
		return 250
	default:
		return 200
	}
}

// Speed returns the rate relative to medium (1.0).
func (r Rate) Speed() float64 {
	return float64(r.WordsPerMinute()) / 200
}

// Level maps the volume to a 0-1 gain. Unknown values fall back to medium.
func (v Volume) Level() float64 {
	switch v {
	case VolumeLow:
		return 0.5
	case VolumeHigh:
		return 1.0
	default:
		return 0.8
	}
}
