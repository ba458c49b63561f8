package main

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk shape of vfsrtd's config file (vfsrtd.yaml).
type fileConfig struct {
	Addr              string `yaml:"addr"`
	ServerURL         string `yaml:"serverUrl"`
	ServeLocal        bool   `yaml:"serveLocal"`
	CacheDir          string `yaml:"cacheDir"`
	RegistrationScope string `yaml:"registrationScope"`
	// MirrorDir, when set, mirrors a host directory tree into the active
	// in-memory engine via fsnotify (engine/memengine.FSWatcher) — a
	// dev-mode convenience for editing files on disk and seeing writeFile/
	// fileChanged events without going through the RPC surface at all.
	MirrorDir string `yaml:"mirrorDir"`

	DevProxy struct {
		Enabled bool   `yaml:"enabled"`
		BaseURL string `yaml:"baseUrl"`
	} `yaml:"devProxy"`

	Relay struct {
		ClientID     string   `yaml:"clientId"`
		ClientSecret string   `yaml:"clientSecret"`
		TokenURL     string   `yaml:"tokenUrl"`
		Scopes       []string `yaml:"scopes"`
	} `yaml:"relay"`

	Lifecycle struct {
		ActivateTimeout time.Duration `yaml:"activateTimeout"`
		ProbeAttempts   int           `yaml:"probeAttempts"`
		ProbeInterval   time.Duration `yaml:"probeInterval"`
	} `yaml:"lifecycle"`

	Health struct {
		ProbeInterval   time.Duration `yaml:"probeInterval"`
		MaxAttempts     int           `yaml:"maxAttempts"`
		BackoffBase     time.Duration `yaml:"backoffBase"`
		BackoffCap      time.Duration `yaml:"backoffCap"`
		ContinuousRetry bool          `yaml:"continuousRetry"`
	} `yaml:"health"`
}

func defaultFileConfig() fileConfig {
	var cfg fileConfig
	cfg.Addr = ":4321"
	cfg.CacheDir = "."
	return cfg
}

// loadConfig reads path if it exists (a missing file is not an error —
// an operator may run entirely off env vars and flags), then applies
// environment overrides.
func loadConfig(path string) (fileConfig, error) {
	cfg := defaultFileConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, err
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides lets an operator override the file without editing
// it, the usual escape hatch for containerized deployments.
func applyEnvOverrides(cfg *fileConfig) {
	if v := os.Getenv("TONK_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("TONK_SERVE_LOCAL"); v != "" {
		cfg.ServeLocal = v == "1" || v == "true"
	}
	if v := os.Getenv("VFSRT_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	if v := os.Getenv("VFSRT_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("VFSRT_MIRROR_DIR"); v != "" {
		cfg.MirrorDir = v
	}
}
