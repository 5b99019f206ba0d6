package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment overrides, e.g. LIBRARIAN_BASE_URL.
const EnvPrefix = "LIBRARIAN_"

// nestedSections are the config sections whose env names map to dotted keys:
// LIBRARIAN_SEARCH_MIN_LENGTH -> search.min_length.
var nestedSections = []string{"search", "heartbeat"}

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (LIBRARIAN_*). A missing file is not an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	cfg := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("accessing config %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	// Unmarshal merges slices element-wise into the defaults; a configured
	// manifest replaces the default one instead.
	if k.Exists("manifest") {
		cfg.Manifest = k.Strings("manifest")
	}

	return cfg, nil
}

func envKey(name, value string) (string, interface{}) {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	for _, section := range nestedSections {
		if strings.HasPrefix(key, section+"_") {
			key = section + "." + strings.TrimPrefix(key, section+"_")
			break
		}
	}
	if key == "manifest" {
		var entries []string
		for _, e := range strings.Split(value, ",") {
			if e = strings.TrimSpace(e); e != "" {
				entries = append(entries, e)
			}
		}
		return key, entries
	}
	return key, value
}

// Validate checks that the configuration contains usable values.
func (c *Config) Validate() error {
	if _, err := c.Origin(); err != nil {
		return err
	}
	if c.CacheName == "" {
		return errors.New("cache_name is required")
	}
	if c.APIMarker == "" {
		return errors.New("api_marker is required")
	}
	if c.OfflinePage == "" {
		return errors.New("offline_page is required")
	}
	for _, entry := range c.Manifest {
		if _, err := url.Parse(entry); err != nil {
			return fmt.Errorf("invalid manifest entry %q: %w", entry, err)
		}
	}
	if c.Search.Debounce < 0 {
		return errors.New("search.debounce must be non-negative")
	}
	if c.Search.MinLength < 1 {
		return errors.New("search.min_length must be at least 1")
	}
	if c.Heartbeat.Interval < 0 {
		return errors.New("heartbeat.interval must be non-negative")
	}
	if c.Heartbeat.Interval > 0 && c.Heartbeat.Path == "" {
		return errors.New("heartbeat.path is required when the heartbeat is enabled")
	}
	if c.ReloadDelay < 0 {
		return errors.New("reload_delay must be non-negative")
	}
	if c.RequestsPerSecond < 0 {
		return errors.New("requests_per_second must be non-negative")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request_timeout must be positive")
	}
	return nil
}

// Origin parses BaseURL. Only absolute http and https URLs are accepted.
func (c *Config) Origin() (*url.URL, error) {
	if c.BaseURL == "" {
		return nil, errors.New("base_url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base_url %q: %w", c.BaseURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid base_url %q: must be an absolute http(s) URL", c.BaseURL)
	}
	return u, nil
}
