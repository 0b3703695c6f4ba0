package settings

import (
	"fmt"
	"sync"
)

// Manager holds the current settings and handles updates.
type Manager struct {
	settings Settings
	mu       sync.RWMutex

	// OnChange is called after every successful update.
	OnChange func(s Settings)
}

// NewManager creates a manager seeded with initial.
func NewManager(initial Settings) *Manager {
	return &Manager{settings: initial}
}

// Get returns the current settings snapshot.
func (m *Manager) Get() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// Set replaces the settings wholesale.
func (m *Manager) Set(s Settings) {
	m.mu.Lock()
	m.settings = s
	callback := m.OnChange
	m.mu.Unlock()

	if callback != nil {
		callback(s)
	}
}

// Update applies the non-empty fields of params on top of the current
// settings. Nothing is stored if any field is invalid.
func (m *Manager) Update(params map[string]interface{}) (Settings, error) {
	raw := m.Get().Raw()

	for key, value := range params {
		switch key {
		case "name":
			if v, ok := value.(string); ok {
				raw.Name = v
			}
		case "gender":
			if v, ok := value.(string); ok {
				raw.Gender = v
			}
		case "age_group":
			if v, ok := value.(string); ok {
				raw.AgeGroup = v
			}
		case "speech_rate":
			if v, ok := value.(string); ok {
				raw.SpeechRate = v
			}
		case "speech_volume":
			if v, ok := value.(string); ok {
				raw.SpeechVolume = v
			}
		case "user_mode":
			if v, ok := value.(string); ok {
				raw.Mode = v
			}
		case "slope_threshold":
			if v, ok := toFloat(value); ok {
				raw.SlopeThreshold = v
			}
		case "debounce_seconds":
			if v, ok := toFloat(value); ok {
				raw.DebounceSeconds = v
			}
		}
	}

	s, err := Parse(raw)
	if err != nil {
		return Settings{}, fmt.Errorf("validation failed: %w", err)
	}
	m.Set(s)
	return s, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	}
	return 0, false
}
