// Package settings holds the user profile and guidance tuning that the
// pipeline reads at runtime. The web layer is the only writer.
package settings

import (
	"fmt"
	"strings"
	"time"

	"github.com/teslashibe/go-pathguide/pkg/speech"
)

// Gender selects the honorific used in narration.
type Gender string

const (
	GenderUnspecified Gender = "unspecified"
	GenderMale        Gender = "male"
	GenderFemale      Gender = "female"
)

// AgeGroup selects the age qualifier used in narration.
type AgeGroup string

const (
	AgeUnspecified AgeGroup = "unspecified"
	AgeYoung       AgeGroup = "young"
	AgeMiddle      AgeGroup = "middle"
	AgeElder       AgeGroup = "elder"
)

// Mode is who is operating the device.
type Mode string

const (
	// ModeGuided is the visually-impaired user themselves. Companion
	// messages are rejected in this mode.
	ModeGuided Mode = "guided"

	// ModeCompanion is a family member or helper watching the stream.
	ModeCompanion Mode = "companion"
)

// Defaults for guidance tuning.
const (
	DefaultSlopeThreshold  = 0.41
	DefaultDebounceSeconds = 14.0
)

// Settings is an immutable snapshot. Copy it freely.
type Settings struct {
	Name            string        `json:"name"`
	Gender          Gender        `json:"gender"`
	AgeGroup        AgeGroup      `json:"age_group"`
	SpeechRate      speech.Rate   `json:"speech_rate"`
	SpeechVolume    speech.Volume `json:"speech_volume"`
	Mode            Mode          `json:"user_mode"`
	SlopeThreshold  float64       `json:"slope_threshold"`
	DebounceSeconds float64       `json:"debounce_seconds"`
}

// Raw is the unvalidated form coming from a config file or an HTTP form.
type Raw struct {
	Name            string  `json:"name"`
	Gender          string  `json:"gender"`
	AgeGroup        string  `json:"age_group"`
	SpeechRate      string  `json:"speech_rate"`
	SpeechVolume    string  `json:"speech_volume"`
	Mode            string  `json:"user_mode"`
	SlopeThreshold  float64 `json:"slope_threshold"`
	DebounceSeconds float64 `json:"debounce_seconds"`
}

// Default returns the settings used before anything is configured.
func Default() Settings {
	return Settings{
		Gender:          GenderUnspecified,
		AgeGroup:        AgeUnspecified,
		SpeechRate:      speech.RateMedium,
		SpeechVolume:    speech.VolumeMedium,
		Mode:            ModeGuided,
		SlopeThreshold:  DefaultSlopeThreshold,
		DebounceSeconds: DefaultDebounceSeconds,
	}
}

// Parse validates raw values. Empty enum fields and zero tuning values
// fall back to the defaults.
func Parse(r Raw) (Settings, error) {
	s := Default()
	s.Name = strings.TrimSpace(r.Name)

	if v := norm(r.Gender); v != "" {
		switch g := Gender(v); g {
		case GenderUnspecified, GenderMale, GenderFemale:
			s.Gender = g
		default:
			return Settings{}, fmt.Errorf("invalid gender %q", r.Gender)
		}
	}

	if v := norm(r.AgeGroup); v != "" {
		switch a := AgeGroup(v); a {
		case AgeUnspecified, AgeYoung, AgeMiddle, AgeElder:
			s.AgeGroup = a
		default:
			return Settings{}, fmt.Errorf("invalid age group %q", r.AgeGroup)
		}
	}

	if v := norm(r.SpeechRate); v != "" {
		rate, err := speech.ParseRate(v)
		if err != nil {
			return Settings{}, err
		}
		s.SpeechRate = rate
	}

	if v := norm(r.SpeechVolume); v != "" {
		vol, err := speech.ParseVolume(v)
		if err != nil {
			return Settings{}, err
		}
		s.SpeechVolume = vol
	}

	if v := norm(r.Mode); v != "" {
		switch m := Mode(v); m {
		case ModeGuided, ModeCompanion:
			s.Mode = m
		default:
			return Settings{}, fmt.Errorf("invalid user mode %q", r.Mode)
		}
	}

	if r.SlopeThreshold < 0 {
		return Settings{}, fmt.Errorf("slope threshold must not be negative")
	}
	if r.SlopeThreshold > 0 {
		s.SlopeThreshold = r.SlopeThreshold
	}
	if r.DebounceSeconds < 0 {
		return Settings{}, fmt.Errorf("debounce must not be negative")
	}
	if r.DebounceSeconds > 0 {
		s.DebounceSeconds = r.DebounceSeconds
	}

	return s, nil
}

// Raw converts back to the unvalidated form.
func (s Settings) Raw() Raw {
	return Raw{
		Name:            s.Name,
		Gender:          string(s.Gender),
		AgeGroup:        string(s.AgeGroup),
		SpeechRate:      string(s.SpeechRate),
		SpeechVolume:    string(s.SpeechVolume),
		Mode:            string(s.Mode),
		SlopeThreshold:  s.SlopeThreshold,
		DebounceSeconds: s.DebounceSeconds,
	}
}

// Debounce returns the alert cooldown as a duration.
func (s Settings) Debounce() time.Duration {
	return time.Duration(s.DebounceSeconds * float64(time.Second))
}

func norm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
