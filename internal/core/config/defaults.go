package config

import "time"

// DefaultManifest is the application shell cached on install.
var DefaultManifest = []string{
	"/",
	"/static/css/style.css",
	"/static/js/script.js",
	"/templates/landing.html",
	"/templates/base.html",
	"/templates/index.html",
}

// DefaultConfig returns a Config pointing at a local development server.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:     "http://localhost:5000",
		CacheName:   "library-app-v1",
		Manifest:    append([]string(nil), DefaultManifest...),
		APIMarker:   "/api/",
		OfflinePage: "/",
		Search: SearchConfig{
			Debounce:  500 * time.Millisecond,
			MinLength: 3,
		},
		Heartbeat: HeartbeatConfig{
			Interval: 30 * time.Second,
			Path:     "/",
		},
		ReloadDelay:       2 * time.Second,
		RequestsPerSecond: 5,
		RequestTimeout:    15 * time.Second,
	}
}
