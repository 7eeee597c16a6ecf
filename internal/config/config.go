package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RemoteConfig describes the target site server.
type RemoteConfig struct {
	URL          string        `yaml:"url"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	Insecure     bool          `yaml:"insecure"`
	CACert       string        `yaml:"ca_cert"`
	Timeout      time.Duration `yaml:"timeout"`
	RetryMax     *int          `yaml:"retry_max"` // retries after the first attempt
	RetryWaitMin time.Duration `yaml:"retry_wait_min"`
	RetryWaitMax time.Duration `yaml:"retry_wait_max"`
	RetryMethods []string      `yaml:"retry_methods"`
}

// SiteConfig describes the site being created on the remote side.
type SiteConfig struct {
	ID           string   `yaml:"id"`
	LegacyID     string   `yaml:"legacy_id"` // portal id of the exported site
	Languages    []string `yaml:"languages"`
	ExtensionIDs []string `yaml:"extension_ids"`
}

// StoreConfig locates the intermediate document store.
type StoreConfig struct {
	Path      string `yaml:"path"`
	ImportDir string `yaml:"import_dir"`
}

// MigrationConfig selects what gets migrated.
type MigrationConfig struct {
	Folders              []string `yaml:"folders"`
	ContentTypes         []string `yaml:"content_types"`
	ExcludedContentTypes []string `yaml:"excluded_content_types"`
	// SubdepartmentVocabulary names the remote vocabulary Document
	// subdepartments are checked against. Empty disables the check.
	SubdepartmentVocabulary string `yaml:"subdepartment_vocabulary"`
}

// ServeConfig configures the HTTP job API.
type ServeConfig struct {
	Listen string `yaml:"listen"`
}

// Config holds all configuration (config file + CLI overrides).
type Config struct {
	Remote    RemoteConfig    `yaml:"remote"`
	Site      SiteConfig      `yaml:"site"`
	Store     StoreConfig     `yaml:"store"`
	Migration MigrationConfig `yaml:"migration"`
	Serve     ServeConfig     `yaml:"serve"`
}

// ValidationError is a fatal configuration problem detected before any
// remote mutation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration %s: %s", e.Field, e.Message)
}

// Default retry policy of the remote transport: six attempts in total.
const (
	DefaultRetryMax     = 5
	DefaultRetryWaitMin = 1 * time.Second
	DefaultRetryWaitMax = 30 * time.Second
	DefaultTimeout      = 5 * time.Minute
)

// DefaultRetryMethods are the HTTP methods the transport may retry.
var DefaultRetryMethods = []string{"HEAD", "GET", "POST", "DELETE", "PUT"}

// Load reads a YAML config file and applies defaults for anything unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML config data and applies defaults.
func Parse(data []byte) (*Config, error) {
	c := &Config{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	c.applyDefaults()
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Remote.RetryMax == nil {
		n := DefaultRetryMax
		c.Remote.RetryMax = &n
	}
	if c.Remote.RetryWaitMin == 0 {
		c.Remote.RetryWaitMin = DefaultRetryWaitMin
	}
	if c.Remote.RetryWaitMax == 0 {
		c.Remote.RetryWaitMax = DefaultRetryWaitMax
	}
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = DefaultTimeout
	}
	if len(c.Remote.RetryMethods) == 0 {
		c.Remote.RetryMethods = DefaultRetryMethods
	}
	if c.Site.LegacyID == "" {
		c.Site.LegacyID = "plone_portal"
	}
	if c.Serve.Listen == "" {
		c.Serve.Listen = ":8080"
	}
}

// Validate checks the settings a migration run cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Remote.URL == "" {
		errs = append(errs, &ValidationError{"remote.url", "is required"})
	}
	if c.Site.ID == "" {
		errs = append(errs, &ValidationError{"site.id", "is required"})
	}
	if _, err := c.DefaultLanguage(); err != nil {
		errs = append(errs, err)
	}
	for _, name := range c.Migration.Folders {
		if strings.HasSuffix(name, "/") {
			errs = append(errs, &ValidationError{"migration.folders",
				fmt.Sprintf("migration folder path %s must not end with a trailing slash - please remove it", name)})
		}
	}
	return errors.Join(errs...)
}

// DefaultLanguage returns the first configured site language.
func (c *Config) DefaultLanguage() (string, error) {
	if c.Site.Languages == nil {
		return "", &ValidationError{"site.languages", "YAML configuration has no site.languages configuration"}
	}
	if len(c.Site.Languages) == 0 || c.Site.Languages[0] == "" {
		return "", &ValidationError{"site.languages", "YAML configuration has empty site.languages configuration"}
	}
	return c.Site.Languages[0], nil
}

// RetryAttempts returns the total number of attempts per request.
func (c *Config) RetryAttempts() int {
	if c.Remote.RetryMax == nil {
		return DefaultRetryMax + 1
	}
	return *c.Remote.RetryMax + 1
}
