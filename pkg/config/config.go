package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed config.toml.sample
var configTemplate string

// Search backends.
const (
	BackendLocal       = "local"
	BackendNestAPI     = "nestapi"
	BackendMeilisearch = "meilisearch"
)

const (
	defaultHitsPerPage      = 25
	defaultDebounce         = 750 * time.Millisecond
	defaultSyncInterval     = 6 * time.Hour
	defaultOptimizeInterval = 24 * time.Hour
	defaultListenAddr       = "localhost:8000"
	defaultOrganization     = "OWASP"
	defaultAttributePrefix  = "idx_"
)

type Config struct {
	StorageDir string                 `toml:"storage_dir"`
	Web        WebConfig              `toml:"web"`
	Search     SearchConfig           `toml:"search"`
	NestAPI    NestAPIConfig          `toml:"nest_api"`
	Meili      MeiliConfig            `toml:"meilisearch"`
	Sentry     SentryConfig           `toml:"sentry"`
	GitHub     GitHubConfig           `toml:"github"`
	Indexes    map[string]IndexConfig `toml:"indexes,omitempty"`
}

type WebConfig struct {
	Listen string `toml:"listen"`
	// Compress enables gzip responses.
	Compress bool `toml:"compress"`
	// EventSocket is the Unix socket a separate sync process publishes
	// index updates on. Defaults to events.sock in the storage directory.
	EventSocket string `toml:"event_socket"`
}

type SearchConfig struct {
	// Backend is one of "local", "nestapi" or "meilisearch".
	Backend     string   `toml:"backend"`
	HitsPerPage int      `toml:"hits_per_page"`
	Debounce    Duration `toml:"debounce"`
	// OptimizeInterval controls how often the local indexes are optimized.
	OptimizeInterval Duration `toml:"optimize_interval"`
}

type NestAPIConfig struct {
	BaseURL         string   `toml:"base_url"`
	AttributePrefix string   `toml:"attribute_prefix"`
	Timeout         Duration `toml:"timeout"`
}

type MeiliConfig struct {
	Host   string `toml:"host"`
	APIKey string `toml:"api_key"`
}

type SentryConfig struct {
	DSN         string `toml:"dsn"`
	Environment string `toml:"environment"`
}

type GitHubConfig struct {
	Token        string   `toml:"token"`
	Organization string   `toml:"organization"`
	SyncInterval Duration `toml:"sync_interval"`
	// Disabled turns off periodic sync in the web server.
	Disabled bool `toml:"disabled"`
}

// IndexConfig overrides the built-in settings of one index.
type IndexConfig struct {
	PageTitle     string `toml:"page_title,omitempty"`
	DefaultSortBy string `toml:"default_sort_by,omitempty"`
	DefaultOrder  string `toml:"default_order,omitempty"`
	HitsPerPage   int    `toml:"hits_per_page,omitempty"`
}

type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func GetDefaultConfig() (*Config, error) {
	c := &Config{}
	if err := c.applyDefaults(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadConfig reads the TOML file at configPath. A missing file yields the
// defaults. Environment overrides are applied last.
func LoadConfig(configPath string) (*Config, error) {
	var c Config

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := toml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("unmarshaling config: %w", err)
		}
	}

	if err := c.applyDefaults(); err != nil {
		return nil, err
	}
	c.applyEnv()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() error {
	if c.StorageDir == "" {
		storageDir, err := GetDefaultStorageDir()
		if err != nil {
			return fmt.Errorf("getting default storage directory: %w", err)
		}
		c.StorageDir = storageDir
	}
	if c.Web.Listen == "" {
		c.Web.Listen = defaultListenAddr
	}
	if c.Web.EventSocket == "" {
		c.Web.EventSocket = filepath.Join(c.StorageDir, "events.sock")
	}
	if c.Search.Backend == "" {
		c.Search.Backend = BackendLocal
	}
	if c.Search.HitsPerPage <= 0 {
		c.Search.HitsPerPage = defaultHitsPerPage
	}
	if c.Search.Debounce.Duration <= 0 {
		c.Search.Debounce = Duration{defaultDebounce}
	}
	if c.Search.OptimizeInterval.Duration <= 0 {
		c.Search.OptimizeInterval = Duration{defaultOptimizeInterval}
	}
	if c.NestAPI.AttributePrefix == "" {
		c.NestAPI.AttributePrefix = defaultAttributePrefix
	}
	if c.NestAPI.Timeout.Duration <= 0 {
		c.NestAPI.Timeout = Duration{10 * time.Second}
	}
	if c.GitHub.Organization == "" {
		c.GitHub.Organization = defaultOrganization
	}
	if c.GitHub.SyncInterval.Duration <= 0 {
		c.GitHub.SyncInterval = Duration{defaultSyncInterval}
	}
	if c.Indexes == nil {
		c.Indexes = make(map[string]IndexConfig)
	}
	return nil
}

func (c *Config) applyEnv() {
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		c.Sentry.DSN = dsn
	}
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		c.GitHub.Token = token
	}
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Search.Backend {
	case BackendLocal:
	case BackendNestAPI:
		if c.NestAPI.BaseURL == "" {
			return fmt.Errorf("search backend %q requires nest_api.base_url", c.Search.Backend)
		}
	case BackendMeilisearch:
		if c.Meili.Host == "" {
			return fmt.Errorf("search backend %q requires meilisearch.host", c.Search.Backend)
		}
	default:
		return fmt.Errorf("unknown search backend %q", c.Search.Backend)
	}
	return nil
}

func (c *Config) SaveConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(configPath, data, 0644)
}

// SaveTemplateConfig writes the commented sample configuration with the
// storage directory filled in.
func (c *Config) SaveTemplateConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	storageDir := c.StorageDir
	if storageDir == "" {
		var err error
		if storageDir, err = GetDefaultStorageDir(); err != nil {
			return fmt.Errorf("getting default storage directory: %w", err)
		}
	}

	template := strings.Replace(configTemplate, "/home/user/.local/share/nest", storageDir, 1)
	return os.WriteFile(configPath, []byte(template), 0644)
}

// Index returns the overrides for name, or the zero value.
func (c *Config) Index(name string) IndexConfig {
	return c.Indexes[name]
}

// GetDefaultStorageDir returns $XDG_DATA_HOME/nest, creating it if needed.
func GetDefaultStorageDir() (string, error) {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	dir := filepath.Join(dataDir, "nest")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating storage directory %s: %w", dir, err)
	}
	return dir, nil
}

func GetConfigDir() (string, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting user home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	dir := filepath.Join(configDir, "nest")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating config directory %s: %w", dir, err)
	}
	return dir, nil
}

// GetDefaultConfigPath returns $NEST_CONFIG, or config.toml in the config
// directory.
func GetDefaultConfigPath() (string, error) {
	if p := os.Getenv("NEST_CONFIG"); p != "" {
		return p, nil
	}
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.toml"), nil
}
