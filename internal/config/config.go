// Package config loads go-pathguide configuration from a TOML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Default configuration values.
const (
	DefaultAddr           = ":5000"
	DefaultUploadDir      = "uploads"
	DefaultMaxUploadMB    = 300
	DefaultSlopeThreshold = 0.41
	DefaultDebounceSecs   = 14
	DefaultNarrationURL   = "http://localhost:11434/v1"
	DefaultNarrationModel = "qwen2.5:3b"
)

// Server contains HTTP boundary settings.
type Server struct {
	Addr        string `toml:"addr"`
	UploadDir   string `toml:"upload_dir"`
	MaxUploadMB int    `toml:"max_upload_mb"`
	StaticDir   string `toml:"static_dir"`
}

// Video controls file playback.
type Video struct {
	// Pace throttles file playback to the source frame rate.
	Pace bool `toml:"pace"`
}

// Detector configures the path-marker detector network.
type Detector struct {
	ModelPath  string   `toml:"model_path"`
	Labels     []string `toml:"labels"`
	Confidence float64  `toml:"confidence"`
	NMS        float64  `toml:"nms"`
	InputSize  int      `toml:"input_size"`
}

// Guidance holds the direction estimator and throttler tuning.
type Guidance struct {
	SlopeThreshold  float64 `toml:"slope_threshold"`
	DebounceSeconds float64 `toml:"debounce_seconds"`
}

// Narration configures the narration text generator.
type Narration struct {
	BaseURL        string  `toml:"base_url"`
	APIKey         string  `toml:"api_key"`
	Model          string  `toml:"model"`
	MaxTokens      int     `toml:"max_tokens"`
	Temperature    float64 `toml:"temperature"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	Workers        int     `toml:"workers"`
	QueueSize      int     `toml:"queue_size"`
}

// Speech configures speech playback.
type Speech struct {
	// Engines are tried in order: "espeak", "openai", "none".
	Engines      []string `toml:"engines"`
	EspeakBinary string   `toml:"espeak_binary"`
	EspeakVoice  string   `toml:"espeak_voice"`
	OpenAIKey    string   `toml:"openai_api_key"`
	OpenAIVoice  string   `toml:"openai_voice"`
	PlayerBinary string   `toml:"player_binary"`
	Workers      int      `toml:"workers"`
	QueueSize    int      `toml:"queue_size"`
}

// Profile seeds the runtime settings at startup.
type Profile struct {
	Name         string `toml:"name"`
	Gender       string `toml:"gender"`
	AgeGroup     string `toml:"age_group"`
	SpeechRate   string `toml:"speech_rate"`
	SpeechVolume string `toml:"speech_volume"`
	Mode         string `toml:"mode"`
}

// Companion configures the optional MQTT companion bridge.
type Companion struct {
	Enabled      bool   `toml:"enabled"`
	Broker       string `toml:"broker"`
	ClientID     string `toml:"client_id"`
	Username     string `toml:"username"`
	Password     string `toml:"password"`
	MessageTopic string `toml:"message_topic"`
	AlertTopic   string `toml:"alert_topic"`
	QoS          int    `toml:"qos"`
}

// Logging configures the structured logger.
type Logging struct {
	Level string `toml:"level"`
}

// Config is the complete application configuration.
type Config struct {
	Server    Server    `toml:"server"`
	Video     Video     `toml:"video"`
	Detector  Detector  `toml:"detector"`
	Guidance  Guidance  `toml:"guidance"`
	Narration Narration `toml:"narration"`
	Speech    Speech    `toml:"speech"`
	Profile   Profile   `toml:"profile"`
	Companion Companion `toml:"companion"`
	Logging   Logging   `toml:"logging"`
}

// Default returns a configuration with every field populated.
func Default() Config {
	return Config{
		Server: Server{
			Addr:        DefaultAddr,
			UploadDir:   DefaultUploadDir,
			MaxUploadMB: DefaultMaxUploadMB,
			StaticDir:   "./web",
		},
		Video: Video{Pace: true},
		Detector: Detector{
			ModelPath:  "models/weights/best.onnx",
			Labels:     []string{"blind_path"},
			Confidence: 0.5,
			NMS:        0.45,
			InputSize:  640,
		},
		Guidance: Guidance{
			SlopeThreshold:  DefaultSlopeThreshold,
			DebounceSeconds: DefaultDebounceSecs,
		},
		Narration: Narration{
			BaseURL:        DefaultNarrationURL,
			Model:          DefaultNarrationModel,
			MaxTokens:      128,
			Temperature:    0.7,
			TimeoutSeconds: 20,
			Workers:        2,
			QueueSize:      4,
		},
		Speech: Speech{
			Engines:      []string{"espeak"},
			EspeakBinary: "espeak-ng",
			OpenAIVoice:  "shimmer",
			PlayerBinary: "ffplay",
			Workers:      2,
			QueueSize:    4,
		},
		Profile: Profile{
			Name:         "friend",
			Gender:       "unspecified",
			AgeGroup:     "unspecified",
			SpeechRate:   "medium",
			SpeechVolume: "medium",
			Mode:         "guided",
		},
		Companion: Companion{
			Broker:       "tcp://localhost:1883",
			ClientID:     "pathguide",
			MessageTopic: "pathguide/messages",
			AlertTopic:   "pathguide/alerts",
			QoS:          1,
		},
		Logging: Logging{Level: "info"},
	}
}

// DefaultPath returns the default configuration file location.
func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "pathguide", "config.toml")
	}
	return "pathguide.toml"
}

// Load reads the configuration at path (or the default location when path
// is empty), applies environment overrides and validates the result.
// The returned bool reports whether a file was found.
func Load(path string) (*Config, bool, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath()
	}

	exists := false
	file, err := os.Open(path)
	switch {
	case err == nil:
		defer file.Close()
		exists = true
		if err := toml.NewDecoder(file).DisallowUnknownFields().Decode(&cfg); err != nil {
			return nil, false, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, false, fmt.Errorf("open config: %w", err)
	}

	cfg.LoadEnv()

	if err := cfg.Validate(); err != nil {
		return nil, exists, err
	}
	return &cfg, exists, nil
}

// LoadEnv applies environment overrides.
func (c *Config) LoadEnv() {
	if v := os.Getenv("PATHGUIDE_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("PATHGUIDE_UPLOAD_DIR"); v != "" {
		c.Server.UploadDir = v
	}
	if v := os.Getenv("PATHGUIDE_MODEL"); v != "" {
		c.Detector.ModelPath = v
	}
	if v := os.Getenv("PATHGUIDE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		c.Narration.BaseURL = ollamaBaseURL(v)
	}
	if v := os.Getenv("PATHGUIDE_NARRATION_URL"); v != "" {
		c.Narration.BaseURL = v
	}
	if v := os.Getenv("PATHGUIDE_NARRATION_MODEL"); v != "" {
		c.Narration.Model = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if c.Speech.OpenAIKey == "" {
			c.Speech.OpenAIKey = v
		}
	}
	if v := os.Getenv("PATHGUIDE_MQTT_BROKER"); v != "" {
		c.Companion.Broker = v
		c.Companion.Enabled = true
	}
}

// OLLAMA_HOST is usually host:port; the client wants the OpenAI-compatible root.
func ollamaBaseURL(host string) string {
	host = strings.TrimSuffix(host, "/")
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	if !strings.HasSuffix(host, "/v1") {
		host += "/v1"
	}
	return host
}

// Debounce returns the alert debounce interval.
func (g Guidance) Debounce() time.Duration {
	return time.Duration(g.DebounceSeconds * float64(time.Second))
}

// Timeout returns the narration request timeout.
func (n Narration) Timeout() time.Duration {
	return time.Duration(n.TimeoutSeconds) * time.Second
}

// MaxUploadBytes returns the upload limit in bytes.
func (s Server) MaxUploadBytes() int64 {
	return int64(s.MaxUploadMB) * 1024 * 1024
}

// WriteSample writes the default configuration as TOML to path.
// It refuses to overwrite an existing file.
func WriteSample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists: %s", path)
	}
	data, err := toml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("encode sample: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
