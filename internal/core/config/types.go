package config

import "time"

// Config is the librarian configuration, corresponding to librarian.yaml.
type Config struct {
	BaseURL           string          `yaml:"base_url" koanf:"base_url"`
	CacheName         string          `yaml:"cache_name" koanf:"cache_name"`
	Manifest          []string        `yaml:"manifest" koanf:"manifest"`
	APIMarker         string          `yaml:"api_marker" koanf:"api_marker"`
	OfflinePage       string          `yaml:"offline_page" koanf:"offline_page"`
	Search            SearchConfig    `yaml:"search" koanf:"search"`
	Heartbeat         HeartbeatConfig `yaml:"heartbeat" koanf:"heartbeat"`
	ReloadDelay       time.Duration   `yaml:"reload_delay" koanf:"reload_delay"`
	RequestsPerSecond float64         `yaml:"requests_per_second" koanf:"requests_per_second"`
	RequestTimeout    time.Duration   `yaml:"request_timeout" koanf:"request_timeout"`
}

// SearchConfig controls the search-as-you-type box.
type SearchConfig struct {
	Debounce  time.Duration `yaml:"debounce" koanf:"debounce"`
	MinLength int           `yaml:"min_length" koanf:"min_length"`
}

// HeartbeatConfig controls the periodic connectivity check. An interval of
// zero disables it.
type HeartbeatConfig struct {
	Interval time.Duration `yaml:"interval" koanf:"interval"`
	Path     string        `yaml:"path" koanf:"path"`
}
