package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Keys shared by flags and environment variables. Environment variables are
// the upper-case form, e.g. FEED_BASE_URL.
const (
	KeyEnvironment       = "env"
	KeyLogLevel          = "log_level"
	KeyHTTPTimeout       = "http_timeout"
	KeyAddress           = "address"
	KeyFeedBaseURL       = "feed_base_url"
	KeyPollInterval      = "poll_interval"
	KeyFeedErrorPolicy   = "feed_error_policy"
	KeyCredentialsFile   = "google_application_credentials"
	KeyFCMProjectID      = "fcm_project_id"
	KeyNotifyConcurrency = "notify_concurrency"
	KeyNotifyMaxBackoff  = "notify_max_backoff"
)

type Config struct {
	Environment string
	LogLevel    zerolog.Level
	HTTPTimeout time.Duration
	Address     string
	FeedBaseURL string

	PollInterval    time.Duration
	FeedErrorPolicy string

	// Push notifications
	CredentialsFile   string
	FCMProjectID      string
	NotifyConcurrency int
	NotifyMaxBackoff  time.Duration

	Cache *CacheConfig
}

type Option func(*Config)

// WithEnvironment allows setting the environment
func WithEnvironment(env string) Option {
	return func(c *Config) {
		c.Environment = env
	}
}

// WithLogLevel allows setting the log level
func WithLogLevel(level string) Option {
	return func(c *Config) {
		parsedLevel, err := zerolog.ParseLevel(level)
		if err != nil || level == "" {
			parsedLevel = zerolog.InfoLevel
		}
		c.LogLevel = parsedLevel
	}
}

// WithHTTPTimeout allows setting the HTTP timeout
func WithHTTPTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.HTTPTimeout = timeout
	}
}

func WithAddress(address string) Option {
	return func(c *Config) {
		c.Address = address
	}
}

func WithFeedBaseURL(url string) Option {
	return func(c *Config) {
		c.FeedBaseURL = strings.TrimSuffix(url, "/")
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.PollInterval = interval
	}
}

func WithFeedErrorPolicy(policy string) Option {
	return func(c *Config) {
		c.FeedErrorPolicy = strings.ToLower(policy)
	}
}

// WithCredentialsFile sets the Firebase service account file.
func WithCredentialsFile(path string) Option {
	return func(c *Config) {
		c.CredentialsFile = path
	}
}

func WithFCMProjectID(projectID string) Option {
	return func(c *Config) {
		c.FCMProjectID = projectID
	}
}

func WithNotifyConcurrency(n int) Option {
	return func(c *Config) {
		c.NotifyConcurrency = n
	}
}

func WithNotifyMaxBackoff(d time.Duration) Option {
	return func(c *Config) {
		c.NotifyMaxBackoff = d
	}
}

func WithCacheConfig(cache *CacheConfig) Option {
	return func(c *Config) {
		c.Cache = cache
	}
}

// New creates a new configuration with default values
func New(opts ...Option) *Config {
	cfg := &Config{
		Environment:       "production",
		LogLevel:          zerolog.InfoLevel,
		HTTPTimeout:       10 * time.Second,
		Address:           ":8000",
		FeedBaseURL:       "https://gbfs.velobixi.com/gbfs/fr",
		PollInterval:      10 * time.Second,
		FeedErrorPolicy:   "fatal",
		FCMProjectID:      "bix-brother",
		NotifyConcurrency: 1,
		NotifyMaxBackoff:  300 * time.Second,
		Cache:             NewCacheConfig(),
	}

	// Apply options
	for _, opt := range opts {
		opt(cfg)
	}

	return cfg
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	if c.CredentialsFile == "" {
		return fmt.Errorf("%s is not set", strings.ToUpper(KeyCredentialsFile))
	}
	if c.FeedBaseURL == "" {
		return fmt.Errorf("%s is not set", strings.ToUpper(KeyFeedBaseURL))
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.FeedErrorPolicy != "fatal" && c.FeedErrorPolicy != "retry" {
		return fmt.Errorf("invalid feed error policy %q: want fatal or retry", c.FeedErrorPolicy)
	}
	if c.NotifyConcurrency < 1 {
		return fmt.Errorf("notify concurrency must be at least 1, got %d", c.NotifyConcurrency)
	}
	if c.NotifyMaxBackoff <= 0 {
		return fmt.Errorf("notify max backoff must be positive, got %s", c.NotifyMaxBackoff)
	}
	return nil
}

// InitializeLogging sets up logging based on the configuration
func (c *Config) InitializeLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(c.LogLevel)

	// Setup console logger for development environments
	if c.Environment == "local" || c.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
}

// NewViper returns a viper instance reading the environment, with every
// default registered.
func NewViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	defaults := New()
	v.SetDefault(KeyEnvironment, defaults.Environment)
	v.SetDefault(KeyLogLevel, defaults.LogLevel.String())
	v.SetDefault(KeyHTTPTimeout, defaults.HTTPTimeout)
	v.SetDefault(KeyAddress, defaults.Address)
	v.SetDefault(KeyFeedBaseURL, defaults.FeedBaseURL)
	v.SetDefault(KeyPollInterval, defaults.PollInterval)
	v.SetDefault(KeyFeedErrorPolicy, defaults.FeedErrorPolicy)
	v.SetDefault(KeyCredentialsFile, "")
	v.SetDefault(KeyFCMProjectID, defaults.FCMProjectID)
	v.SetDefault(KeyNotifyConcurrency, defaults.NotifyConcurrency)
	v.SetDefault(KeyNotifyMaxBackoff, defaults.NotifyMaxBackoff)
	setCacheDefaults(v, defaults.Cache)

	return v
}

// Load builds the configuration from v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := New(
		WithEnvironment(v.GetString(KeyEnvironment)),
		WithLogLevel(v.GetString(KeyLogLevel)),
		WithHTTPTimeout(v.GetDuration(KeyHTTPTimeout)),
		WithAddress(v.GetString(KeyAddress)),
		WithFeedBaseURL(v.GetString(KeyFeedBaseURL)),
		WithPollInterval(v.GetDuration(KeyPollInterval)),
		WithFeedErrorPolicy(v.GetString(KeyFeedErrorPolicy)),
		WithCredentialsFile(v.GetString(KeyCredentialsFile)),
		WithFCMProjectID(v.GetString(KeyFCMProjectID)),
		WithNotifyConcurrency(v.GetInt(KeyNotifyConcurrency)),
		WithNotifyMaxBackoff(v.GetDuration(KeyNotifyMaxBackoff)),
		WithCacheConfig(loadCacheConfig(v)),
	)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
