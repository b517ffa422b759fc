// Package config loads the .translatr.yaml project configuration.
//
// Values are resolved in layers, each overriding the previous one:
//
//  1. built-in defaults
//  2. .translatr.yaml in the project root
//  3. a .env file in the project root (loaded into the process environment)
//  4. TRANSLATR_* environment variables
//
// Command-line flags are applied by the caller on top of the result.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// FileName is the project configuration file name.
const FileName = ".translatr.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TRANSLATR_"

// Defaults.
const (
	DefaultAPIURL           = "http://localhost:8787"
	DefaultTarget           = "main"
	DefaultSource           = "src/main/res/values/strings.xml"
	DefaultResDir           = "src/main/res"
	DefaultPrefix           = "values"
	DefaultFileName         = "strings.xml"
	DefaultCacheDir         = "build/translatr"
	DefaultMaxRetries       = 3
	DefaultRetryDelay       = 2 * time.Second
	DefaultRequestTimeout   = 30 * time.Second
	DefaultPollInitialDelay = 1 * time.Second
	DefaultPollMaxDelay     = 10 * time.Second
	DefaultPollTimeout      = 5 * time.Minute
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "console"
)

// Config is the resolved configuration of one project.
type Config struct {
	// Target names the fingerprint record ("main", "debug", "lib/ui").
	Target string `yaml:"target,omitempty" envconfig:"TRANSLATR_TARGET"`

	APIURL string `yaml:"api_url,omitempty" envconfig:"TRANSLATR_API_URL"`
	APIKey string `yaml:"api_key,omitempty" envconfig:"TRANSLATR_API_KEY"`
	Proxy  string `yaml:"proxy,omitempty" envconfig:"TRANSLATR_PROXY"`

	// Source is the source strings.xml, relative to the project root.
	Source   string `yaml:"source,omitempty" envconfig:"TRANSLATR_SOURCE"`
	ResDir   string `yaml:"res_dir,omitempty" envconfig:"TRANSLATR_RES_DIR"`
	Prefix   string `yaml:"prefix,omitempty" envconfig:"TRANSLATR_PREFIX"`
	FileName string `yaml:"file_name,omitempty" envconfig:"TRANSLATR_FILE_NAME"`
	// Languages restricts the languages written. Empty means all.
	Languages []string `yaml:"languages,omitempty" envconfig:"TRANSLATR_LANGUAGES"`
	CacheDir  string   `yaml:"cache_dir,omitempty" envconfig:"TRANSLATR_CACHE_DIR"`

	MaxRetries       int           `yaml:"max_retries,omitempty" envconfig:"TRANSLATR_MAX_RETRIES"`
	RetryDelay       time.Duration `yaml:"retry_delay,omitempty" envconfig:"TRANSLATR_RETRY_DELAY"`
	RequestTimeout   time.Duration `yaml:"request_timeout,omitempty" envconfig:"TRANSLATR_REQUEST_TIMEOUT"`
	PollInitialDelay time.Duration `yaml:"poll_initial_delay,omitempty" envconfig:"TRANSLATR_POLL_INITIAL_DELAY"`
	PollMaxDelay     time.Duration `yaml:"poll_max_delay,omitempty" envconfig:"TRANSLATR_POLL_MAX_DELAY"`
	// PollTimeout is the longest the job may go without visible activity.
	PollTimeout time.Duration `yaml:"poll_timeout,omitempty" envconfig:"TRANSLATR_POLL_TIMEOUT"`

	FailOnError bool `yaml:"fail_on_error,omitempty" envconfig:"TRANSLATR_FAIL_ON_ERROR"`

	LogLevel  string `yaml:"log_level,omitempty" envconfig:"TRANSLATR_LOG_LEVEL"`
	LogFormat string `yaml:"log_format,omitempty" envconfig:"TRANSLATR_LOG_FORMAT"`

	// Root is the absolute project root.
	Root string `yaml:"-" ignored:"true"`
	// File is the configuration file that was read, empty when none exists.
	File string `yaml:"-" ignored:"true"`
}

// Load resolves the configuration of the project at root.
func Load(root string) (*Config, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}
	cfg := &Config{Root: absRoot}

	path := filepath.Join(absRoot, FileName)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		cfg.File = path
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := loadDotEnv(filepath.Join(absRoot, ".env")); err != nil {
		return nil, err
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("reading %s* environment: %w", EnvPrefix, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadDotEnv loads path into the environment without overriding variables
// that are already set. A missing file is fine.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	setDefault(&c.Target, DefaultTarget)
	setDefault(&c.APIURL, DefaultAPIURL)
	setDefault(&c.Source, DefaultSource)
	setDefault(&c.ResDir, DefaultResDir)
	setDefault(&c.Prefix, DefaultPrefix)
	setDefault(&c.FileName, DefaultFileName)
	setDefault(&c.CacheDir, DefaultCacheDir)
	setDefault(&c.LogLevel, DefaultLogLevel)
	setDefault(&c.LogFormat, DefaultLogFormat)

	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.PollInitialDelay == 0 {
		c.PollInitialDelay = DefaultPollInitialDelay
	}
	if c.PollMaxDelay == 0 {
		c.PollMaxDelay = DefaultPollMaxDelay
	}
	if c.PollTimeout == 0 {
		c.PollTimeout = DefaultPollTimeout
	}

	c.Languages = normalizeList(c.Languages)
}

func setDefault(field *string, value string) {
	if strings.TrimSpace(*field) == "" {
		*field = value
	}
}

// normalizeList trims entries, drops empty ones and removes duplicates.
func normalizeList(list []string) []string {
	if len(list) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, item := range list {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Validate checks a configuration with defaults applied.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api_url %q must be an absolute http(s) URL", c.APIURL)
	}
	if c.Proxy != "" {
		if _, err := url.Parse(c.Proxy); err != nil {
			return fmt.Errorf("proxy %q: %w", c.Proxy, err)
		}
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be >= 1")
	}
	if c.RetryDelay < 0 || c.RequestTimeout < 0 || c.PollInitialDelay < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if c.PollMaxDelay < c.PollInitialDelay {
		return fmt.Errorf("poll_max_delay (%s) cannot be shorter than poll_initial_delay (%s)", c.PollMaxDelay, c.PollInitialDelay)
	}
	if c.PollTimeout <= 0 {
		return fmt.Errorf("poll_timeout must be positive")
	}
	if strings.ContainsAny(c.Prefix, `/\`) {
		return fmt.Errorf("prefix %q must not contain path separators", c.Prefix)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log_format %q is not one of console, json", c.LogFormat)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Resolved paths
// ---------------------------------------------------------------------------

func (c *Config) abs(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}

// SourcePath returns the absolute source file path.
func (c *Config) SourcePath() string {
	return c.abs(c.Source)
}

// AbsResDir returns the absolute resource directory.
func (c *Config) AbsResDir() string {
	return c.abs(c.ResDir)
}

// AbsCacheDir returns the absolute cache directory.
func (c *Config) AbsCacheDir() string {
	return c.abs(c.CacheDir)
}

// ---------------------------------------------------------------------------
// Writing
// ---------------------------------------------------------------------------

// Template returns a starter .translatr.yaml.
func Template() []byte {
	sample := Config{
		APIURL:   DefaultAPIURL,
		Source:   DefaultSource,
		ResDir:   DefaultResDir,
		CacheDir: DefaultCacheDir,
	}
	data, _ := yaml.Marshal(&sample)
	return data
}

// WriteTemplate creates root/.translatr.yaml. It fails if the file exists.
func WriteTemplate(root string) (string, error) {
	path := filepath.Join(root, FileName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(Template()); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}
