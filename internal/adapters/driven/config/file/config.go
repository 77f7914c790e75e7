package file

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/watchtower-labs/watchtower/internal/core/domain"
)

// Defaults applied when the [global] table leaves fields unset.
const (
	DefaultCadence             = time.Hour
	DefaultPolitenessDelay     = 2 * time.Second
	DefaultMaxFailures         = 5
	DefaultMaxConcurrentPolls  = 4
	DefaultBaseBackoff         = 30 * time.Second
	DefaultMaxBackoff          = 30 * time.Minute
	DefaultPublishSink         = "jsonl"
	defaultConfigFileName      = "config.toml"
	defaultConfigDirectoryName = ".watchtower"
)

// duration parses TOML duration strings ("30m", "2s").
type duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for go-toml.
func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

func (d duration) or(fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return time.Duration(d)
}

// Global holds scheduler-wide and publishing settings.
type Global struct {
	// DataDir is where the SQLite store lives. Empty means the default
	// under the user's home directory.
	DataDir string `toml:"data_dir"`

	// MaxConcurrentPolls caps polls in flight across all sources.
	MaxConcurrentPolls int `toml:"max_concurrent_polls"`

	// BaseBackoff is the first retry delay after a failed poll.
	BaseBackoff duration `toml:"base_backoff"`

	// MaxBackoff caps the retry delay.
	MaxBackoff duration `toml:"max_backoff"`

	// DefaultCadence applies to sources that declare no cadence.
	DefaultCadence duration `toml:"default_cadence"`

	// PublishSink selects the delivery boundary: "jsonl" or "http".
	PublishSink string `toml:"publish_sink"`

	// PublishURL is the endpoint for the http sink.
	PublishURL string `toml:"publish_url"`

	// PublishToken is the bearer credential for the http sink, optional.
	PublishToken string `toml:"publish_token"`

	// PublishDir is the output directory for the jsonl sink. Empty means
	// <data_dir>/published.
	PublishDir string `toml:"publish_dir"`
}

// SourceEntry is one [[sources]] table.
type SourceEntry struct {
	ID                     string            `toml:"id"`
	Kind                   string            `toml:"kind"`
	Name                   string            `toml:"name"`
	Endpoint               string            `toml:"endpoint"`
	Cadence                duration          `toml:"cadence"`
	PolitenessDelay        duration          `toml:"politeness_delay"`
	MaxConsecutiveFailures int               `toml:"max_consecutive_failures"`
	Enabled                *bool             `toml:"enabled"`
	Config                 map[string]string `toml:"config"`
}

// Config is the parsed and validated configuration file.
type Config struct {
	Global  Global        `toml:"global"`
	Entries []SourceEntry `toml:"sources"`

	path string
}

// DefaultPath returns the default config file location,
// ~/.watchtower/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, defaultConfigDirectoryName, defaultConfigFileName), nil
}

// Load reads and validates the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.path = path

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Path returns the file the configuration was loaded from.
func (c *Config) Path() string {
	return c.path
}

func (c *Config) applyDefaults() {
	if c.Global.MaxConcurrentPolls <= 0 {
		c.Global.MaxConcurrentPolls = DefaultMaxConcurrentPolls
	}
	if c.Global.PublishSink == "" {
		c.Global.PublishSink = DefaultPublishSink
	}
}

func (c *Config) validate() error {
	if c.Global.PublishSink != "jsonl" && c.Global.PublishSink != "http" {
		return fmt.Errorf("global.publish_sink %q must be jsonl or http: %w",
			c.Global.PublishSink, domain.ErrInvalidInput)
	}
	if c.Global.PublishSink == "http" && c.Global.PublishURL == "" {
		return fmt.Errorf("global.publish_url is required for the http sink: %w",
			domain.ErrInvalidInput)
	}

	seen := make(map[string]bool)
	for i, entry := range c.Entries {
		if entry.ID == "" {
			return fmt.Errorf("sources[%d]: id is required: %w", i, domain.ErrInvalidInput)
		}
		if seen[entry.ID] {
			return fmt.Errorf("sources[%d]: duplicate id %q: %w", i, entry.ID, domain.ErrInvalidInput)
		}
		seen[entry.ID] = true

		if !domain.SourceKind(entry.Kind).Valid() {
			return fmt.Errorf("source %s: unknown kind %q: %w", entry.ID, entry.Kind, domain.ErrUnsupportedKind)
		}
		if entry.Endpoint == "" {
			return fmt.Errorf("source %s: endpoint is required: %w", entry.ID, domain.ErrInvalidInput)
		}
	}
	return nil
}

// Sources maps the config entries onto domain sources, applying defaults.
func (c *Config) Sources() []domain.Source {
	sources := make([]domain.Source, 0, len(c.Entries))
	for _, entry := range c.Entries {
		name := entry.Name
		if name == "" {
			name = entry.ID
		}

		maxFailures := entry.MaxConsecutiveFailures
		if maxFailures <= 0 {
			maxFailures = DefaultMaxFailures
		}

		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}

		config := entry.Config
		if config == nil {
			config = map[string]string{}
		}

		sources = append(sources, domain.Source{
			ID:                     entry.ID,
			Kind:                   domain.SourceKind(entry.Kind),
			Name:                   name,
			Endpoint:               entry.Endpoint,
			Config:                 config,
			Cadence:                entry.Cadence.or(c.Global.DefaultCadence.or(DefaultCadence)),
			PolitenessDelay:        entry.PolitenessDelay.or(DefaultPolitenessDelay),
			MaxConsecutiveFailures: maxFailures,
			Enabled:                enabled,
		})
	}
	return sources
}

// BaseBackoff returns the configured or default scheduler base backoff.
func (c *Config) BaseBackoff() time.Duration {
	return c.Global.BaseBackoff.or(DefaultBaseBackoff)
}

// MaxBackoff returns the configured or default scheduler backoff cap.
func (c *Config) MaxBackoff() time.Duration {
	return c.Global.MaxBackoff.or(DefaultMaxBackoff)
}
