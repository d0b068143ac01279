// Package config loads the gateway's configuration surface (spec.md §6):
// proxy-db-type, proxy-port, and the target backend's connection
// parameters. A single gateway instance serves one protocol against one
// backend target — there is no tenant map.
package config

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the gateway.
type Config struct {
	Listen ListenConfig `yaml:"listen"`
	Target TargetConfig `yaml:"target"`
}

// ListenConfig defines the protocol, port and bind address the gateway
// listens on, plus the read-only management surface (spec.md §6 API,
// out of scope as a write surface but still exposed read-only).
type ListenConfig struct {
	ProxyDBType string `yaml:"proxy_db_type"` // "mysql" or "postgresql"
	ProxyPort   int    `yaml:"proxy_port"`
	Bind        string `yaml:"bind"`
	APIPort     int    `yaml:"api_port"`
	APIBind     string `yaml:"api_bind"`
	APIKey      string `yaml:"api_key"`
	TLSCert     string `yaml:"tls_cert"`
	TLSKey      string `yaml:"tls_key"`
}

// TargetConfig is the single backend this gateway's sessions connect to
// (spec.md §6 "target.host/port/username/password/database").
type TargetConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// Redacted returns a copy of the TargetConfig with the password masked,
// suitable for the read-only /config endpoint (SPEC_FULL.md §B).
func (t TargetConfig) Redacted() TargetConfig {
	c := t
	if c.Password != "" {
		c.Password = "***REDACTED***"
	}
	return c
}

// TLSEnabled returns true if both TLS cert and key paths are configured.
func (lc ListenConfig) TLSEnabled() bool {
	return lc.TLSCert != "" && lc.TLSKey != ""
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file with env var substitution.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = substituteEnvVars(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Listen.ProxyPort == 0 {
		if cfg.Listen.ProxyDBType == "postgresql" {
			cfg.Listen.ProxyPort = 5432
		} else {
			cfg.Listen.ProxyPort = 3307
		}
	}
	if cfg.Listen.Bind == "" {
		cfg.Listen.Bind = "0.0.0.0"
	}
	if cfg.Listen.APIPort == 0 {
		cfg.Listen.APIPort = 8080
	}
	if cfg.Listen.APIBind == "" {
		cfg.Listen.APIBind = "127.0.0.1"
	}
}

func validate(cfg *Config) error {
	if cfg.Listen.ProxyDBType != "mysql" && cfg.Listen.ProxyDBType != "postgresql" {
		return fmt.Errorf("listen.proxy_db_type: unsupported %q (must be mysql or postgresql)", cfg.Listen.ProxyDBType)
	}
	if cfg.Target.Host == "" {
		return fmt.Errorf("target: host is required")
	}
	if cfg.Target.Port == 0 {
		return fmt.Errorf("target: port is required")
	}
	if cfg.Target.Database == "" {
		return fmt.Errorf("target: database is required")
	}
	if cfg.Target.Username == "" {
		return fmt.Errorf("target: username is required")
	}
	return nil
}

// Watcher watches a config file for changes and calls the callback with the new config.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher creates a new config file watcher.
func NewWatcher(path string, callback func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching config file: %w", err)
	}

	cw := &Watcher{
		path:     path,
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}

	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	// Debounce timer to avoid rapid reloads
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					cw.reload()
				})
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[config] watcher error: %v", err)
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cfg, err := Load(cw.path)
	if err != nil {
		log.Printf("[config] hot-reload failed: %v", err)
		return
	}

	log.Printf("[config] configuration reloaded from %s", cw.path)
	cw.callback(cfg)
}

// Stop stops the config watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
