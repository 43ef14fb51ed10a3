// Package prefs persists small scalar values: the auth token, the configured
// server URL and user preferences.
package prefs

import (
	"encoding/json"
	"strconv"
	"sync"
)

// Keys understood by the client. Only KeyToken and KeyAPIURL gate network calls;
// the rest are opaque preferences surfaced to the front end.
const (
	KeyToken            = "access_token"
	KeyAPIURL           = "apiUrl"
	KeyTheme            = "theme"
	KeyNotifications    = "notifications"
	KeyAutoRefresh      = "autoRefresh"
	KeyRefreshInterval  = "refreshInterval"
	KeyQualityThreshold = "qualityThreshold"

	// Cached aggregates cleared by ClearCache.
	KeyPosts     = "posts"
	KeyAnalytics = "analytics"
	KeyStats     = "stats"
)

// Adapter is the key/value capability the client needs from its host.
// Get reports ok=false for a missing key.
type Adapter interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Remove(key string) error
	RemoveMany(keys ...string) error
}

// Memory is an in-process Adapter
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory creates an empty in-memory adapter
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *Memory) Remove(key string) error {
	return m.RemoveMany(key)
}

func (m *Memory) RemoveMany(keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

// Theme is the display theme preference
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
	ThemeAuto  Theme = "auto"
)

// Preferences are the typed user settings
type Preferences struct {
	Theme                  Theme
	Notifications          bool
	AutoRefresh            bool
	RefreshIntervalMinutes int
	QualityThreshold       float64
}

// DefaultPreferences mirrors a fresh install
func DefaultPreferences() Preferences {
	return Preferences{
		Theme:                  ThemeAuto,
		Notifications:          true,
		AutoRefresh:            true,
		RefreshIntervalMinutes: 5,
		QualityThreshold:       0.6,
	}
}

// LoadPreferences reads every preference key, keeping defaults for missing or
// malformed values.
func LoadPreferences(a Adapter) (Preferences, error) {
	p := DefaultPreferences()

	if v, ok, err := a.Get(KeyTheme); err != nil {
		return p, err
	} else if ok {
		switch Theme(v) {
		case ThemeLight, ThemeDark, ThemeAuto:
			p.Theme = Theme(v)
		}
	}
	if v, ok, err := a.Get(KeyNotifications); err != nil {
		return p, err
	} else if ok {
		var b bool
		if json.Unmarshal([]byte(v), &b) == nil {
			p.Notifications = b
		}
	}
	if v, ok, err := a.Get(KeyAutoRefresh); err != nil {
		return p, err
	} else if ok {
		var b bool
		if json.Unmarshal([]byte(v), &b) == nil {
			p.AutoRefresh = b
		}
	}
	if v, ok, err := a.Get(KeyRefreshInterval); err != nil {
		return p, err
	} else if ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.RefreshIntervalMinutes = n
		}
	}
	if v, ok, err := a.Get(KeyQualityThreshold); err != nil {
		return p, err
	} else if ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			p.QualityThreshold = f
		}
	}
	return p, nil
}

// SavePreference stores a single preference. Booleans are JSON-encoded.
func SavePreference(a Adapter, key string, value any) error {
	switch v := value.(type) {
	case bool:
		data, _ := json.Marshal(v)
		return a.Set(key, string(data))
	case int:
		return a.Set(key, strconv.Itoa(v))
	case float64:
		return a.Set(key, strconv.FormatFloat(v, 'f', -1, 64))
	case Theme:
		return a.Set(key, string(v))
	case string:
		return a.Set(key, v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return a.Set(key, string(data))
	}
}
