package speech

import (
	"log/slog"
	"time"
)

// Config holds speaker configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	// Hosted backends
	APIKey  string
	BaseURL string
	Model   string

	// Voice selection (espeak voice name or OpenAI voice)
	Voice string

	// Binary overrides the executable for process backends.
	Binary string

	// Timeouts
	Timeout time.Duration

	// Retry configuration for hosted backends
	MaxRetries int
	RetryDelay time.Duration

	Logger *slog.Logger
}

// Option is a functional option for configuring speakers.
type Option func(*Config)

// WithAPIKey sets the API key for hosted backends.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithBaseURL overrides the default API URL.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithModel sets the synthesis model.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithVoice sets the voice.
func WithVoice(voice string) Option {
	return func(c *Config) { c.Voice = voice }
}

// WithBinary overrides the executable used by process backends.
func WithBinary(path string) Option {
	return func(c *Config) { c.Binary = path }
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithRetry configures retry behavior for hosted backends.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Timeout:    30 * time.Second,
		MaxRetries: 2,
		RetryDelay: 200 * time.Millisecond,
		Logger:     slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}
