package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/teslashibe/go-pathguide/pkg/settings"
)

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Message)
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, &ConfigError{Field: "server.addr", Message: "must be set"})
	}
	if c.Server.MaxUploadMB <= 0 {
		errs = append(errs, &ConfigError{Field: "server.max_upload_mb", Message: "must be positive"})
	}
	if c.Detector.Confidence <= 0 || c.Detector.Confidence > 1 {
		errs = append(errs, &ConfigError{Field: "detector.confidence", Message: "must be in (0, 1]"})
	}
	if c.Detector.NMS <= 0 || c.Detector.NMS > 1 {
		errs = append(errs, &ConfigError{Field: "detector.nms", Message: "must be in (0, 1]"})
	}
	if c.Detector.InputSize <= 0 {
		errs = append(errs, &ConfigError{Field: "detector.input_size", Message: "must be positive"})
	}
	if c.Guidance.SlopeThreshold <= 0 {
		errs = append(errs, &ConfigError{Field: "guidance.slope_threshold", Message: "must be positive"})
	}
	if c.Guidance.DebounceSeconds < 0 {
		errs = append(errs, &ConfigError{Field: "guidance.debounce_seconds", Message: "must not be negative"})
	}
	if c.Narration.Workers < 1 || c.Speech.Workers < 1 {
		errs = append(errs, &ConfigError{Field: "workers", Message: "narration and speech need at least one worker"})
	}
	if c.Narration.TimeoutSeconds <= 0 {
		errs = append(errs, &ConfigError{Field: "narration.timeout_seconds", Message: "must be positive"})
	}
	for _, engine := range c.Speech.Engines {
		switch engine {
		case "espeak", "openai", "none":
		default:
			errs = append(errs, &ConfigError{Field: "speech.engines", Message: fmt.Sprintf("unknown engine %q", engine)})
		}
	}
	if _, err := c.Settings(); err != nil {
		errs = append(errs, &ConfigError{Field: "profile", Message: err.Error()})
	}
	if c.Companion.Enabled && c.Companion.Broker == "" {
		errs = append(errs, &ConfigError{Field: "companion.broker", Message: "required when companion is enabled"})
	}
	if c.Companion.QoS < 0 || c.Companion.QoS > 2 {
		errs = append(errs, &ConfigError{Field: "companion.qos", Message: "must be 0, 1 or 2"})
	}

	return errors.Join(errs...)
}

// Settings converts the profile section and guidance tuning into runtime settings.
func (c *Config) Settings() (settings.Settings, error) {
	return settings.Parse(settings.Raw{
		Name:            c.Profile.Name,
		Gender:          c.Profile.Gender,
		AgeGroup:        c.Profile.AgeGroup,
		SpeechRate:      c.Profile.SpeechRate,
		SpeechVolume:    c.Profile.SpeechVolume,
		Mode:            c.Profile.Mode,
		SlopeThreshold:  c.Guidance.SlopeThreshold,
		DebounceSeconds: c.Guidance.DebounceSeconds,
	})
}
