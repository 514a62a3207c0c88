// Package config loads the domdiff server configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/domdiff/signer"
)

// SecretEnv overrides the configured signing secret.
const SecretEnv = "DOMDIFF_SECRET"

// Config holds the full server configuration.
type Config struct {
	Listen       string        `yaml:"listen"`
	DBPath       string        `yaml:"db_path"` // empty: in-memory snapshots
	Secret       string        `yaml:"secret"`
	Signing      string        `yaml:"signing"` // hmac-sha256 | blake2b | blake3
	TemplatesDir string        `yaml:"templates_dir"`
	MaxBodyKB    int           `yaml:"max_body_kb"`
	MaxUploadMB  int           `yaml:"max_upload_mb"`
	RateLimit    int           `yaml:"rate_limit"` // requests per minute and client, 0 disables
	Sanitize     bool          `yaml:"sanitize"`
	SnapshotTTL  time.Duration `yaml:"snapshot_ttl"`
	Components   []Component   `yaml:"components"`
}

// Component declares a template-backed component.
type Component struct {
	Name     string         `yaml:"name"`
	Template string         `yaml:"template"` // file name under templates_dir
	State    map[string]any `yaml:"state"`
	Writable []string       `yaml:"writable"`
}

// Default returns sane defaults. The secret is left empty.
func Default() *Config {
	return &Config{
		Listen:       ":8090",
		Signing:      string(signer.HMACSHA256),
		TemplatesDir: "templates",
		MaxBodyKB:    256,
		MaxUploadMB:  10,
	}
}

// Load reads a YAML file over the defaults, applies the environment
// override and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.FromEnv()
	return cfg, cfg.Validate()
}

// FromEnv applies environment overrides.
func (c *Config) FromEnv() {
	if s := os.Getenv(SecretEnv); s != "" {
		c.Secret = s
	}
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if len(c.Secret) < signer.MinSecretLen {
		return fmt.Errorf("secret must be at least %d bytes (or set %s)", signer.MinSecretLen, SecretEnv)
	}
	if _, err := signer.ParseAlgorithm(c.Signing); err != nil {
		return fmt.Errorf("signing: %w", err)
	}
	if c.MaxBodyKB <= 0 {
		return fmt.Errorf("max_body_kb must be > 0")
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("max_upload_mb must be > 0")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must be >= 0")
	}
	if c.SnapshotTTL < 0 {
		return fmt.Errorf("snapshot_ttl must be >= 0")
	}
	seen := make(map[string]bool, len(c.Components))
	for i, comp := range c.Components {
		if comp.Name == "" || comp.Template == "" {
			return fmt.Errorf("components[%d]: name and template are required", i)
		}
		if seen[comp.Name] {
			return fmt.Errorf("components[%d]: duplicate name %q", i, comp.Name)
		}
		seen[comp.Name] = true
	}
	return nil
}

// MaxBodyBytes returns the JSON body limit in bytes.
func (c *Config) MaxBodyBytes() int64 { return int64(c.MaxBodyKB) * 1024 }

// MaxUploadBytes returns the upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 { return int64(c.MaxUploadMB) * 1024 * 1024 }
