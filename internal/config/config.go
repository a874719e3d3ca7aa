package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        App        `mapstructure:"app"`
	Logging    Logging    `mapstructure:"logging"`
	Database   Database   `mapstructure:"database"`
	Providers  Providers  `mapstructure:"providers"`
	Classifier Classifier `mapstructure:"classifier"`
	Analysis   Analysis   `mapstructure:"analysis"`
	Embedding  Embedding  `mapstructure:"embedding"`
	Clustering Clustering `mapstructure:"clustering"`
	Ranking    Ranking    `mapstructure:"ranking"`
	Digest     Digest     `mapstructure:"digest"`
	Workers    Workers    `mapstructure:"workers"`
	Capture    Capture    `mapstructure:"capture"`
	Server     Server     `mapstructure:"server"`
	Delivery   Delivery   `mapstructure:"delivery"`
}

// App holds general application configuration
type App struct {
	Debug    bool   `mapstructure:"debug"`
	DataDir  string `mapstructure:"data_dir"`
	Timezone string `mapstructure:"timezone"`
}

// Logging holds logger configuration
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// Database holds storage configuration
type Database struct {
	Driver       string `mapstructure:"driver"` // sqlite or postgres
	DSN          string `mapstructure:"dsn"`    // postgres connection string
	Path         string `mapstructure:"path"`   // sqlite file
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// Providers holds AI provider configuration and the fallback policy
type Providers struct {
	Primary               string          `mapstructure:"primary"`
	FallbackOrder         []string        `mapstructure:"fallback_order"`
	MaxRetriesPerProvider int             `mapstructure:"max_retries_per_provider"`
	BaseBackoffMS         int             `mapstructure:"base_backoff_ms"`
	Timeout               string          `mapstructure:"timeout"`
	RequestsPerSecond     float64         `mapstructure:"requests_per_second"`
	Gemini                ProviderAccount `mapstructure:"gemini"`
	OpenAI                ProviderAccount `mapstructure:"openai"`
	Anthropic             ProviderAccount `mapstructure:"anthropic"`
}

// ProviderAccount holds credentials and model settings for one provider
type ProviderAccount struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	BaseURL     string  `mapstructure:"base_url"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float32 `mapstructure:"temperature"`
}

// Classifier holds classification settings
type Classifier struct {
	ConfidenceThreshold float64  `mapstructure:"confidence_threshold"`
	FlaggedCategory     string   `mapstructure:"flagged_category"`
	Categories          []string `mapstructure:"categories"`
	MaxInputChars       int      `mapstructure:"max_input_chars"`
}

// Analysis holds political analysis settings
type Analysis struct {
	MaxInputChars int `mapstructure:"max_input_chars"`
}

// Embedding holds embedding provider settings
type Embedding struct {
	Provider   string `mapstructure:"provider"` // gemini or openai
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
	CacheTTL   string `mapstructure:"cache_ttl"`
}

// Clustering holds DBSCAN settings
type Clustering struct {
	Epsilon        float64 `mapstructure:"epsilon"`
	MinPoints      int     `mapstructure:"min_points"`
	TargetMin      int     `mapstructure:"target_min"`
	TargetMax      int     `mapstructure:"target_max"`
	EpsilonStep    float64 `mapstructure:"epsilon_step"`
	MaxAdjustments int     `mapstructure:"max_adjustments"`
}

// Ranking holds importance scoring settings
type Ranking struct {
	HalfLifeHours    float64 `mapstructure:"half_life_hours"`
	Aggregation      string  `mapstructure:"aggregation"` // mean or max
	MinQualityWeight float64 `mapstructure:"min_quality_weight"`
	LengthTarget     int     `mapstructure:"length_target"`
}

// Digest holds digest assembly and scheduling settings
type Digest struct {
	Title              string  `mapstructure:"title"`
	MaxClusters        int     `mapstructure:"max_clusters"`
	DiversityThreshold float64 `mapstructure:"diversity_threshold"`
	Window             string  `mapstructure:"window"`
	ScheduleTime       string  `mapstructure:"schedule_time"` // HH:MM in app.timezone
	GenerateTimeout    string  `mapstructure:"generate_timeout"`
}

// Workers holds item pipeline settings
type Workers struct {
	Concurrency  int    `mapstructure:"concurrency"`
	BatchSize    int    `mapstructure:"batch_size"`
	PollInterval string `mapstructure:"poll_interval"` // How often serve drains pending items
}

// Capture holds ingest settings
type Capture struct {
	DedupTTL      string `mapstructure:"dedup_ttl"`
	MaxBodyChars  int    `mapstructure:"max_body_chars"`
	FetchTimeout  string `mapstructure:"fetch_timeout"`
	RespectRobots bool   `mapstructure:"respect_robots"` // Check robots.txt before fetching a URL
	Feeds         Feeds  `mapstructure:"feeds"`
}

// Feeds holds RSS/Atom import settings
type Feeds struct {
	URLs        []string `mapstructure:"urls"`
	Interval    string   `mapstructure:"interval"`  // Import period under serve
	MaxItems    int      `mapstructure:"max_items"` // Newest entries per feed
	Lookback    string   `mapstructure:"lookback"`  // Older entries are skipped
	Concurrency int      `mapstructure:"concurrency"`
}

// Server holds HTTP API settings
type Server struct {
	Addr         string `mapstructure:"addr"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	AdminAPIKey  string `mapstructure:"admin_api_key"` // Bearer key for mutating routes; empty disables the check
	CORS         CORS   `mapstructure:"cors"`
}

// CORS holds cross-origin settings for the HTTP API
type CORS struct {
	Enabled        bool     `mapstructure:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Delivery holds digest delivery channels
type Delivery struct {
	Timeout  string   `mapstructure:"timeout"`
	Email    Email    `mapstructure:"email"`
	Slack    Webhook  `mapstructure:"slack"`
	Discord  Webhook  `mapstructure:"discord"`
	Telegram Telegram `mapstructure:"telegram"`
}

// Email holds SMTP delivery configuration
type Email struct {
	From          string   `mapstructure:"from"`
	To            []string `mapstructure:"to"`
	SubjectPrefix string   `mapstructure:"subject_prefix"`
	SMTP          SMTP     `mapstructure:"smtp"`
}

// SMTP holds SMTP server settings
type SMTP struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Webhook holds a chat webhook endpoint
type Webhook struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

// Telegram holds Telegram bot delivery settings
type Telegram struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	BaseURL  string `mapstructure:"base_url"`
}

var globalConfig *Config

// Load loads the configuration from various sources
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".polibrief")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := postProcessConfig(config); err != nil {
		return nil, fmt.Errorf("error post-processing config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.data_dir", ".polibrief")
	viper.SetDefault("app.timezone", "UTC")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.path", "polibrief.db")
	viper.SetDefault("database.max_open_conns", 25)

	viper.SetDefault("providers.primary", "gemini")
	viper.SetDefault("providers.fallback_order", []string{"openai", "anthropic"})
	viper.SetDefault("providers.max_retries_per_provider", 3)
	viper.SetDefault("providers.base_backoff_ms", 500)
	viper.SetDefault("providers.timeout", "30s")
	viper.SetDefault("providers.requests_per_second", 0)
	viper.SetDefault("providers.gemini.model", "gemini-2.0-flash")
	viper.SetDefault("providers.gemini.max_tokens", 2048)
	viper.SetDefault("providers.gemini.temperature", 0.2)
	viper.SetDefault("providers.openai.model", "gpt-4o-mini")
	viper.SetDefault("providers.openai.max_tokens", 2048)
	viper.SetDefault("providers.openai.temperature", 0.2)
	viper.SetDefault("providers.anthropic.model", "claude-3-5-haiku-latest")
	viper.SetDefault("providers.anthropic.max_tokens", 2048)
	viper.SetDefault("providers.anthropic.temperature", 0.2)

	viper.SetDefault("classifier.confidence_threshold", 0.7)
	viper.SetDefault("classifier.flagged_category", "political")
	viper.SetDefault("classifier.categories", []string{
		"political", "technology", "business", "science", "health", "culture", "sports", "other",
	})
	viper.SetDefault("classifier.max_input_chars", 4000)

	viper.SetDefault("analysis.max_input_chars", 20000)

	viper.SetDefault("embedding.provider", "gemini")
	viper.SetDefault("embedding.model", "text-embedding-004")
	viper.SetDefault("embedding.dimensions", 768)
	viper.SetDefault("embedding.cache_ttl", "24h")

	viper.SetDefault("clustering.epsilon", 0.35)
	viper.SetDefault("clustering.min_points", 2)
	viper.SetDefault("clustering.target_min", 3)
	viper.SetDefault("clustering.target_max", 5)
	viper.SetDefault("clustering.epsilon_step", 0.05)
	viper.SetDefault("clustering.max_adjustments", 4)

	viper.SetDefault("ranking.half_life_hours", 24)
	viper.SetDefault("ranking.aggregation", "mean")
	viper.SetDefault("ranking.min_quality_weight", 0.5)
	viper.SetDefault("ranking.length_target", 800)

	viper.SetDefault("digest.title", "Political Digest")
	viper.SetDefault("digest.max_clusters", 5)
	viper.SetDefault("digest.diversity_threshold", 0.85)
	viper.SetDefault("digest.window", "24h")
	viper.SetDefault("digest.schedule_time", "07:00")
	viper.SetDefault("digest.generate_timeout", "10m")

	viper.SetDefault("workers.concurrency", 4)
	viper.SetDefault("workers.batch_size", 50)
	viper.SetDefault("workers.poll_interval", "1m")

	viper.SetDefault("capture.dedup_ttl", "24h")
	viper.SetDefault("capture.max_body_chars", 200000)
	viper.SetDefault("capture.fetch_timeout", "20s")
	viper.SetDefault("capture.respect_robots", true)
	viper.SetDefault("capture.feeds.urls", []string{})
	viper.SetDefault("capture.feeds.interval", "30m")
	viper.SetDefault("capture.feeds.max_items", 20)
	viper.SetDefault("capture.feeds.lookback", "48h")
	viper.SetDefault("capture.feeds.concurrency", 4)

	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "120s")
	viper.SetDefault("server.admin_api_key", "")
	viper.SetDefault("server.cors.enabled", false)
	viper.SetDefault("server.cors.allowed_origins", []string{"*"})

	viper.SetDefault("delivery.timeout", "30s")
	viper.SetDefault("delivery.email.smtp.port", 587)
	viper.SetDefault("delivery.email.subject_prefix", "[polibrief]")
}

// bindEnvironmentVariables sets up flexible environment variable binding
func bindEnvironmentVariables() {
	bindEnvKeys("providers.gemini.api_key", []string{
		"GEMINI_API_KEY",
		"GOOGLE_GEMINI_API_KEY",
		"GOOGLE_AI_API_KEY",
	})
	bindEnvKeys("providers.openai.api_key", []string{"OPENAI_API_KEY"})
	bindEnvKeys("providers.anthropic.api_key", []string{"ANTHROPIC_API_KEY"})

	bindEnvKeys("database.dsn", []string{"DATABASE_URL", "POSTGRES_DSN"})

	bindEnvKeys("delivery.slack.webhook_url", []string{"SLACK_WEBHOOK_URL"})
	bindEnvKeys("delivery.discord.webhook_url", []string{"DISCORD_WEBHOOK_URL"})
	bindEnvKeys("delivery.telegram.bot_token", []string{"TELEGRAM_BOT_TOKEN"})
	bindEnvKeys("delivery.telegram.chat_id", []string{"TELEGRAM_CHAT_ID"})
	bindEnvKeys("delivery.email.smtp.host", []string{"SMTP_HOST"})
	bindEnvKeys("delivery.email.smtp.username", []string{"SMTP_USERNAME", "SMTP_USER"})
	bindEnvKeys("delivery.email.smtp.password", []string{"SMTP_PASSWORD"})
}

// bindEnvKeys binds the first found environment variable to a viper key
func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(viperKey, value)
			return
		}
	}
}

// postProcessConfig applies post-processing to configuration values
func postProcessConfig(config *Config) error {
	if config.App.DataDir != "" {
		config.App.DataDir = expandPath(config.App.DataDir)
	}
	if config.Database.Path != "" {
		config.Database.Path = expandPath(config.Database.Path)
	}

	config.Providers.Primary = strings.ToLower(strings.TrimSpace(config.Providers.Primary))
	for i, name := range config.Providers.FallbackOrder {
		config.Providers.FallbackOrder[i] = strings.ToLower(strings.TrimSpace(name))
	}
	config.Ranking.Aggregation = strings.ToLower(config.Ranking.Aggregation)

	durations := map[string]string{
		"providers.timeout":       config.Providers.Timeout,
		"embedding.cache_ttl":     config.Embedding.CacheTTL,
		"digest.window":           config.Digest.Window,
		"digest.generate_timeout": config.Digest.GenerateTimeout,
		"capture.dedup_ttl":       config.Capture.DedupTTL,
		"capture.fetch_timeout":   config.Capture.FetchTimeout,
		"capture.feeds.interval":  config.Capture.Feeds.Interval,
		"capture.feeds.lookback":  config.Capture.Feeds.Lookback,
		"workers.poll_interval":   config.Workers.PollInterval,
		"server.read_timeout":     config.Server.ReadTimeout,
		"server.write_timeout":    config.Server.WriteTimeout,
		"delivery.timeout":        config.Delivery.Timeout,
	}

	for key, duration := range durations {
		if duration != "" {
			if _, err := time.ParseDuration(duration); err != nil {
				return fmt.Errorf("invalid duration for %s: %s", key, duration)
			}
		}
	}

	return nil
}

// expandPath expands ~ and environment variables in paths
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

var knownProviders = map[string]bool{"gemini": true, "openai": true, "anthropic": true}

// validateConfig ensures the configuration is internally consistent
func validateConfig(config *Config) error {
	var errors []string

	switch config.Database.Driver {
	case "sqlite":
		if config.Database.Path == "" {
			errors = append(errors, "database.path is required for the sqlite driver")
		}
	case "postgres":
		if config.Database.DSN == "" {
			errors = append(errors, "database.dsn is required for the postgres driver. Set DATABASE_URL")
		}
	default:
		errors = append(errors, fmt.Sprintf("Unknown database driver: %s. Supported: sqlite, postgres", config.Database.Driver))
	}

	if !knownProviders[config.Providers.Primary] {
		errors = append(errors, fmt.Sprintf("Unknown primary provider: %s. Supported: gemini, openai, anthropic", config.Providers.Primary))
	}
	for _, name := range config.Providers.FallbackOrder {
		if !knownProviders[name] {
			errors = append(errors, fmt.Sprintf("Unknown fallback provider: %s", name))
		}
	}
	if config.Providers.MaxRetriesPerProvider < 1 {
		errors = append(errors, "providers.max_retries_per_provider must be at least 1")
	}
	if config.Providers.BaseBackoffMS < 0 {
		errors = append(errors, "providers.base_backoff_ms must not be negative")
	}

	if t := config.Classifier.ConfidenceThreshold; t < 0 || t > 1 {
		errors = append(errors, fmt.Sprintf("classifier.confidence_threshold must be within [0,1], got %v", t))
	}
	if config.Classifier.FlaggedCategory == "" {
		errors = append(errors, "classifier.flagged_category is required")
	} else if !contains(config.Classifier.Categories, config.Classifier.FlaggedCategory) {
		errors = append(errors, fmt.Sprintf("classifier.categories must include the flagged category %q", config.Classifier.FlaggedCategory))
	}

	if config.Ranking.Aggregation != "mean" && config.Ranking.Aggregation != "max" {
		errors = append(errors, fmt.Sprintf("ranking.aggregation must be mean or max, got %q", config.Ranking.Aggregation))
	}
	if config.Ranking.HalfLifeHours <= 0 {
		errors = append(errors, "ranking.half_life_hours must be positive")
	}

	if config.Clustering.Epsilon <= 0 || config.Clustering.Epsilon > 2 {
		errors = append(errors, "clustering.epsilon must be within (0,2]")
	}
	if config.Clustering.TargetMin > config.Clustering.TargetMax {
		errors = append(errors, "clustering.target_min must not exceed clustering.target_max")
	}

	if config.Digest.MaxClusters < 1 {
		errors = append(errors, "digest.max_clusters must be at least 1")
	}
	if _, err := time.Parse("15:04", config.Digest.ScheduleTime); err != nil {
		errors = append(errors, fmt.Sprintf("digest.schedule_time must be HH:MM, got %q", config.Digest.ScheduleTime))
	}
	if _, err := time.LoadLocation(config.App.Timezone); err != nil {
		errors = append(errors, fmt.Sprintf("app.timezone is not a valid IANA zone: %q", config.App.Timezone))
	}

	if config.Delivery.Email.SMTP.Host != "" {
		if config.Delivery.Email.From == "" {
			errors = append(errors, "delivery.email.from is required when SMTP is configured")
		}
		if len(config.Delivery.Email.To) == 0 {
			errors = append(errors, "delivery.email.to needs at least one recipient when SMTP is configured")
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Location returns the configured time zone, UTC when unset or invalid.
func (a App) Location() *time.Location {
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil || a.Timezone == "" {
		return time.UTC
	}
	return loc
}

// TimeoutDuration returns the per-call provider timeout.
func (p Providers) TimeoutDuration() time.Duration { return durationOr(p.Timeout, 30*time.Second) }

// BaseBackoff returns the fallback base backoff.
func (p Providers) BaseBackoff() time.Duration {
	return time.Duration(p.BaseBackoffMS) * time.Millisecond
}

// Account returns the account settings of a named provider.
func (p Providers) Account(name string) (ProviderAccount, bool) {
	switch name {
	case "gemini":
		return p.Gemini, true
	case "openai":
		return p.OpenAI, true
	case "anthropic":
		return p.Anthropic, true
	}
	return ProviderAccount{}, false
}

// CacheTTLDuration returns how long embeddings stay cached.
func (e Embedding) CacheTTLDuration() time.Duration { return durationOr(e.CacheTTL, 24*time.Hour) }

// WindowDuration returns the digest window length.
func (d Digest) WindowDuration() time.Duration { return durationOr(d.Window, 24*time.Hour) }

// GenerateTimeoutDuration bounds one digest run.
func (d Digest) GenerateTimeoutDuration() time.Duration {
	return durationOr(d.GenerateTimeout, 10*time.Minute)
}

// HalfLife returns the freshness half-life.
func (r Ranking) HalfLife() time.Duration {
	return time.Duration(r.HalfLifeHours * float64(time.Hour))
}

// PollIntervalDuration returns the pending-item polling period of serve.
func (w Workers) PollIntervalDuration() time.Duration { return durationOr(w.PollInterval, time.Minute) }

// DedupTTLDuration returns how long capture hashes stay in the memory cache.
func (c Capture) DedupTTLDuration() time.Duration { return durationOr(c.DedupTTL, 24*time.Hour) }

// IntervalDuration returns the feed import period of serve.
func (f Feeds) IntervalDuration() time.Duration { return durationOr(f.Interval, 30*time.Minute) }

// LookbackDuration returns how far back feed entries are imported.
func (f Feeds) LookbackDuration() time.Duration { return durationOr(f.Lookback, 48*time.Hour) }

// FetchTimeoutDuration bounds a page download for URL-only captures.
func (c Capture) FetchTimeoutDuration() time.Duration { return durationOr(c.FetchTimeout, 20*time.Second) }

// ReadTimeoutDuration returns the HTTP read timeout.
func (s Server) ReadTimeoutDuration() time.Duration { return durationOr(s.ReadTimeout, 15*time.Second) }

// WriteTimeoutDuration returns the HTTP write timeout.
func (s Server) WriteTimeoutDuration() time.Duration {
	return durationOr(s.WriteTimeout, 120*time.Second)
}

// TimeoutDuration returns the per-delivery timeout.
func (d Delivery) TimeoutDuration() time.Duration { return durationOr(d.Timeout, 30*time.Second) }

func durationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// Reset clears the global configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viper.Reset()
}

// ConfigFileUsed returns the path of the loaded config file, "" when none was found.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
