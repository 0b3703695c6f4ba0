package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/teslashibe/go-pathguide/internal/config"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.toml")

	cfg, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected config file to be reported absent")
	}
	if cfg.Guidance.SlopeThreshold != 0.41 {
		t.Errorf("slope threshold: got %v, want 0.41", cfg.Guidance.SlopeThreshold)
	}
	if cfg.Guidance.Debounce() != 14*time.Second {
		t.Errorf("debounce: got %v, want 14s", cfg.Guidance.Debounce())
	}
	if cfg.Narration.Model != "qwen2.5:3b" {
		t.Errorf("narration model: got %q", cfg.Narration.Model)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[guidance]
slope_threshold = 0.3
debounce_seconds = 8

[profile]
name = "Lin"
gender = "female"
age_group = "elder"
mode = "companion"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if cfg.Guidance.SlopeThreshold != 0.3 {
		t.Errorf("slope threshold: got %v", cfg.Guidance.SlopeThreshold)
	}
	if cfg.Guidance.Debounce() != 8*time.Second {
		t.Errorf("debounce: got %v", cfg.Guidance.Debounce())
	}
	if cfg.Profile.Name != "Lin" {
		t.Errorf("profile name: got %q", cfg.Profile.Name)
	}
	if cfg.Server.Addr != config.DefaultAddr {
		t.Errorf("untouched sections keep defaults, got addr %q", cfg.Server.Addr)
	}
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[guidance]\nslope = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := config.Load(path); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}

func TestLoad_InvalidProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[profile]\nspeech_rate = \"turbo\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, _, err := config.Load(path)
	var cfgErr *config.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if cfgErr.Field != "profile" {
		t.Errorf("field: got %q, want profile", cfgErr.Field)
	}
}

func TestLoadEnv_OllamaHost(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "gpu-box:11434")
	t.Setenv("PATHGUIDE_NARRATION_URL", "")

	cfg := config.Default()
	cfg.LoadEnv()

	if cfg.Narration.BaseURL != "http://gpu-box:11434/v1" {
		t.Errorf("base url: got %q", cfg.Narration.BaseURL)
	}
}

func TestLoadEnv_BrokerEnablesCompanion(t *testing.T) {
	t.Setenv("PATHGUIDE_MQTT_BROKER", "tcp://broker:1883")

	cfg := config.Default()
	cfg.LoadEnv()

	if !cfg.Companion.Enabled || cfg.Companion.Broker != "tcp://broker:1883" {
		t.Errorf("companion: %+v", cfg.Companion)
	}
}

func TestWriteSample_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.WriteSample(path); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}
	if err := config.WriteSample(path); err == nil {
		t.Error("expected second WriteSample to refuse overwrite")
	}

	cfg, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("sample should exist")
	}
	if cfg.Detector.InputSize != config.Default().Detector.InputSize {
		t.Errorf("input size: got %d", cfg.Detector.InputSize)
	}
}
