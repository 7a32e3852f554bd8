package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// KRIST_PAYOUT_PRIVATE_KEY or KRIST_PAYOUT_LOG_LEVEL.
const EnvPrefix = "KRIST_PAYOUT"

// Config aggregates application configuration values.
type Config struct {
	NodeURL        string        `mapstructure:"node_url"`
	PrivateKey     string        `mapstructure:"private_key"`
	ServiceName    string        `mapstructure:"service_name"`
	Exclude        []string      `mapstructure:"exclude"`
	HelloTimeout   time.Duration `mapstructure:"hello_timeout"`
	CallTimeout    time.Duration `mapstructure:"call_timeout"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	MetricsAddr    string        `mapstructure:"metrics_addr"`

	Roster  RosterConfig  `mapstructure:"roster"`
	Logging LoggingConfig `mapstructure:"log"`
}

// RosterConfig selects where recipients come from. PostgresDSN wins
// over Static when both are set.
type RosterConfig struct {
	// Static entries are "address" or "address:name".
	Static      []string `mapstructure:"static"`
	PostgresDSN string   `mapstructure:"postgres_dsn"`
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	Format        string `mapstructure:"format"` // text|json
	IncludeCaller bool   `mapstructure:"caller"`
}

const (
	defaultNodeURL        = "https://krist.dev"
	defaultHelloTimeout   = 5 * time.Second
	defaultCallTimeout    = 30 * time.Second
	defaultMaxConcurrency = 16
	defaultLoggingLevel   = "info"
	defaultLoggingFormat  = "text"
)

var serviceNameRe = regexp.MustCompile(`^[a-z0-9]{1,64}\.kst$`)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid configuration")

// SetDefaults registers every key with its default so that environment
// variables are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("node_url", defaultNodeURL)
	v.SetDefault("private_key", "")
	v.SetDefault("service_name", "")
	v.SetDefault("exclude", []string{})
	v.SetDefault("hello_timeout", defaultHelloTimeout)
	v.SetDefault("call_timeout", defaultCallTimeout)
	v.SetDefault("max_concurrency", defaultMaxConcurrency)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("roster.static", []string{})
	v.SetDefault("roster.postgres_dsn", "")
	v.SetDefault("log.level", defaultLoggingLevel)
	v.SetDefault("log.format", defaultLoggingFormat)
	v.SetDefault("log.caller", false)
}

// Load reads configuration from path (optional), the environment and any
// flags already bound to v, in increasing order of precedence.
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = viper.New()
	}

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Exclude = splitList(cfg.Exclude)
	cfg.Roster.Static = splitList(cfg.Roster.Static)

	return cfg, nil
}

// Validate checks the values needed to run the payout service.
func (c Config) Validate() error {
	var errs []error

	if u, err := url.Parse(c.NodeURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("node_url %q must be an http(s) URL", c.NodeURL))
	}
	if !serviceNameRe.MatchString(c.ServiceName) {
		errs = append(errs, fmt.Errorf("service_name %q must look like name.kst", c.ServiceName))
	}
	if c.PrivateKey == "" {
		errs = append(errs, errors.New("private_key is required to send payouts"))
	}
	if c.HelloTimeout <= 0 {
		errs = append(errs, fmt.Errorf("hello_timeout must be positive, got %s", c.HelloTimeout))
	}
	if c.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("call_timeout must be positive, got %s", c.CallTimeout))
	}
	if c.MaxConcurrency < 1 {
		errs = append(errs, fmt.Errorf("max_concurrency must be at least 1, got %d", c.MaxConcurrency))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// StaticParticipant splits a roster.static entry into address and name.
func StaticParticipant(entry string) (address, name string) {
	address, name, _ = strings.Cut(strings.TrimSpace(entry), ":")
	return strings.TrimSpace(address), strings.TrimSpace(name)
}

// splitList flattens comma separated items and drops blanks, so lists
// given as a single environment variable behave like YAML lists.
func splitList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
