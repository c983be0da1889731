// Package config loads the two-layer (base + profile overlay) YAML
// configuration plus the required environment variables, and validates both
// against typed, range-checked fields before the pipeline starts. Unknown
// top-level sections in the YAML tree are rejected by name (unknown keys
// inside a known section are ignored), and every validation failure is
// collected into one multi-line, path-annotated error so a
// misconfigured deployment fails fast with a complete diagnosis rather than
// one field at a time.
package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Secrets holds the required platform/LLM credentials, sourced from the
// process environment (optionally backed by a .env file in development).
type Secrets struct {
	APIID          int    `env:"API_ID,required"`
	APIHash        string `env:"API_HASH,required"`
	Phone          string `env:"PHONE,required"`
	LLMAPIKey      string `env:"LLM_API_KEY,required"`
	TargetChannel  string `env:"TARGET_CHANNEL"`
	PersonalHandle string `env:"PERSONAL_HANDLE"`
	StatusToken    string `env:"STATUS_REPORTER_TOKEN"`
	Profile        string `env:"PROFILE" envDefault:"default"`
}

// Paths holds filesystem layout; the *_pattern fields are templated with
// {profile, data_dir, logs_dir, sessions_dir}.
type Paths struct {
	DataDir            string `mapstructure:"data_dir"`
	LogsDir            string `mapstructure:"logs_dir"`
	SessionsDir        string `mapstructure:"sessions_dir"`
	DBFilePattern      string `mapstructure:"db_file_pattern"`
	LogFilePattern     string `mapstructure:"log_file_pattern"`
	SessionFilePattern string `mapstructure:"session_file_pattern"`
}

// RetryPolicy configures the storage engine's busy-retry backoff.
type RetryPolicy struct {
	MaxAttempts       int     `mapstructure:"max_attempts"`
	BaseDelaySeconds  float64 `mapstructure:"base_delay_seconds"`
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
}

// Database configures the embedded storage engine's connection behavior.
type Database struct {
	TimeoutSeconds int         `mapstructure:"timeout_seconds"`
	BusyTimeoutMS  int         `mapstructure:"busy_timeout_ms"`
	Retry          RetryPolicy `mapstructure:"retry"`
}

// Healthcheck configures the listener's liveness heartbeat file.
type Healthcheck struct {
	HeartbeatPath   string `mapstructure:"heartbeat_path"`
	IntervalSeconds int    `mapstructure:"interval_seconds"`
	MaxAgeSeconds   int    `mapstructure:"max_age_seconds"`
}

// Listener configures the ingestion listener's subscription mode and
// per-message size filter.
type Listener struct {
	Mode             string      `mapstructure:"mode"`
	MinMessageLength int         `mapstructure:"min_message_length"`
	ChannelWhitelist []string    `mapstructure:"channel_whitelist"`
	ChannelBlacklist []string    `mapstructure:"channel_blacklist"`
	ManualChannels   []string    `mapstructure:"manual_channels"`
	Healthcheck      Healthcheck `mapstructure:"healthcheck"`
}

// Filters configures the keyword-exclusion gate shared by ingestion.
type Filters struct {
	ExcludeKeywords []string `mapstructure:"exclude_keywords"`
}

// Processor configures the daily selection/dedup run.
type Processor struct {
	ScheduleTime            string  `mapstructure:"schedule_time"`
	Timezone                string  `mapstructure:"timezone"`
	DuplicateThreshold      float64 `mapstructure:"duplicate_threshold"`
	TopN                    int     `mapstructure:"top_n"`
	ExcludeCount            int     `mapstructure:"exclude_count"`
	UseDBSCAN               bool    `mapstructure:"use_dbscan"`
	DBSCANEps               float64 `mapstructure:"dbscan_eps"`
	DBSCANMinSamples        int     `mapstructure:"dbscan_min_samples"`
	DuplicateTimeWindowDays int     `mapstructure:"duplicate_time_window_days"`
}

// Embeddings configures the embedding model source.
type Embeddings struct {
	Model               string `mapstructure:"model"`
	LocalPath           string `mapstructure:"local_path"`
	Endpoint            string `mapstructure:"endpoint"`
	RemoteEndpoint      string `mapstructure:"remote_endpoint"`
	EnableFallback      bool   `mapstructure:"enable_fallback"`
	AllowRemoteDownload bool   `mapstructure:"allow_remote_download"`
	Dimensions          int    `mapstructure:"dimensions"`
}

// Moderation configures the auto/interactive moderation gate.
type Moderation struct {
	Auto               bool     `mapstructure:"auto"`
	Enabled            bool     `mapstructure:"enabled"`
	FinalTopN          int      `mapstructure:"final_top_n"`
	TimeoutHours       int      `mapstructure:"timeout_hours"`
	CancelKeywords     []string `mapstructure:"cancel_keywords"`
	PublishAllKeywords []string `mapstructure:"publish_all_keywords"`
}

// Publication configures digest delivery.
type Publication struct {
	Channel        string `mapstructure:"channel"`
	PreviewChannel string `mapstructure:"preview_channel"`
	HeaderTemplate string `mapstructure:"header_template"`
	FooterTemplate string `mapstructure:"footer_template"`
	NotifyAccount  string `mapstructure:"notify_account"`
}

// LLM configures the provider and prompt templates for the selection stage.
type LLM struct {
	Provider    string            `mapstructure:"provider"`
	Model       string            `mapstructure:"model"`
	MaxTokens   int               `mapstructure:"max_tokens"`
	Temperature float64           `mapstructure:"temperature"`
	Prompts     map[string]string `mapstructure:"prompts"`
}

// Category configures one selection bucket: how many slots of the daily
// digest it gets and the one-line description the LLM prompt uses to
// tell categories apart.
type Category struct {
	Quota       int    `mapstructure:"quota"`
	Description string `mapstructure:"description"`
}

// Cleanup configures retention/garbage-collection of old rows.
type Cleanup struct {
	RawMessagesDays int  `mapstructure:"raw_messages_days"`
	PublishedDays   int  `mapstructure:"published_days"`
	RunWeekly       bool `mapstructure:"run_weekly"`
}

// Rotate configures log-file rotation.
type Rotate struct {
	Enabled     bool `mapstructure:"enabled"`
	MaxBytes    int  `mapstructure:"max_bytes"`
	BackupCount int  `mapstructure:"backup_count"`
}

// Logging configures the process logger.
type Logging struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	Datefmt string `mapstructure:"datefmt"`
	File    string `mapstructure:"file"`
	Rotate  Rotate `mapstructure:"rotate"`
}

// Config is the fully merged, validated configuration tree.
type Config struct {
	Secrets Secrets

	Paths       Paths               `mapstructure:"paths"`
	Database    Database            `mapstructure:"database"`
	Listener    Listener            `mapstructure:"listener"`
	Filters     Filters             `mapstructure:"filters"`
	Processor   Processor           `mapstructure:"processor"`
	Embeddings  Embeddings          `mapstructure:"embeddings"`
	Moderation  Moderation          `mapstructure:"moderation"`
	Publication Publication         `mapstructure:"publication"`
	LLM         LLM                 `mapstructure:"llm"`
	Categories  map[string]Category `mapstructure:"categories"`
	Cleanup     Cleanup             `mapstructure:"cleanup"`
	Logging     Logging             `mapstructure:"logging"`
}

// CategoryOrder returns the configured category keys in a stable
// (alphabetical) order, so quota redistribution in engine/selection sees
// a deterministic iteration order across runs.
func (c Config) CategoryOrder() []string {
	order := make([]string, 0, len(c.Categories))
	for k := range c.Categories {
		order = append(order, k)
	}
	sort.Strings(order)
	return order
}

// CategoryCounts returns the per-category quota map engine/selection
// needs, keyed the same as Categories.
func (c Config) CategoryCounts() map[string]int {
	out := make(map[string]int, len(c.Categories))
	for k, v := range c.Categories {
		out[k] = v.Quota
	}
	return out
}

// CategoryDescriptions returns the per-category prompt description map
// engine/selection needs, keyed the same as Categories.
func (c Config) CategoryDescriptions() map[string]string {
	out := make(map[string]string, len(c.Categories))
	for k, v := range c.Categories {
		out[k] = v.Description
	}
	return out
}

var sections = []string{
	"paths", "database", "listener", "filters", "processor",
	"embeddings", "moderation", "publication", "llm", "categories", "cleanup", "logging",
}

// Load reads base.yaml, deep-merges <profile>.yaml on top of it (profile
// from PROFILE, default "default"), parses the required environment
// variables (optionally from a .env file), and validates the result. An
// environment, read or unknown-section error returns at once; validation
// failures are accumulated and returned as one multi-line error.
func Load(configDir string) (Config, error) {
	_ = godotenv.Load()

	var secrets Secrets
	if err := env.Parse(&secrets); err != nil {
		return Config{}, fmt.Errorf("invalid_env: %w", err)
	}

	base := viper.New()
	base.SetConfigName("base")
	base.SetConfigType("yaml")
	base.AddConfigPath(configDir)
	setDefaults(base)
	if err := base.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return Config{}, fmt.Errorf("invalid_config: reading base.yaml: %w", err)
		}
	}

	overlay := viper.New()
	overlay.SetConfigName(secrets.Profile)
	overlay.SetConfigType("yaml")
	overlay.AddConfigPath(configDir)
	if err := overlay.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return Config{}, fmt.Errorf("invalid_config: reading profile %q: %w", secrets.Profile, err)
		}
	}

	merged := base
	for _, key := range overlay.AllKeys() {
		merged.Set(key, overlay.Get(key))
	}

	if err := rejectUnknownKeys(merged); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := merged.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid_config: unmarshal: %w", err)
	}
	cfg.Secrets = secrets

	cfg.applyPathTemplates()

	if errs := cfg.Validate(); len(errs) > 0 {
		return Config{}, formatValidationErrors(errs)
	}
	return cfg, nil
}

func isNotFound(err error) bool {
	_, ok := err.(viper.ConfigFileNotFoundError)
	return ok
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("paths.data_dir", "./data")
	v.SetDefault("paths.logs_dir", "./logs")
	v.SetDefault("paths.sessions_dir", "./sessions")
	v.SetDefault("paths.db_file_pattern", "{data_dir}/{profile}.db")
	v.SetDefault("paths.log_file_pattern", "{logs_dir}/{profile}.log")
	v.SetDefault("paths.session_file_pattern", "{sessions_dir}/{profile}.session")

	v.SetDefault("database.timeout_seconds", 30)
	v.SetDefault("database.busy_timeout_ms", 30000)
	v.SetDefault("database.retry.max_attempts", 5)
	v.SetDefault("database.retry.base_delay_seconds", 0.5)
	v.SetDefault("database.retry.backoff_multiplier", 2.0)

	v.SetDefault("listener.mode", "subscriptions")
	v.SetDefault("listener.min_message_length", 50)
	v.SetDefault("listener.healthcheck.heartbeat_path", "./data/heartbeat")
	v.SetDefault("listener.healthcheck.interval_seconds", 60)
	v.SetDefault("listener.healthcheck.max_age_seconds", 180)

	v.SetDefault("processor.schedule_time", "09:00")
	v.SetDefault("processor.timezone", "UTC")
	v.SetDefault("processor.duplicate_threshold", 0.78)
	v.SetDefault("processor.top_n", 20)
	v.SetDefault("processor.exclude_count", 0)
	v.SetDefault("processor.use_dbscan", false)
	v.SetDefault("processor.dbscan_eps", 0.22)
	v.SetDefault("processor.dbscan_min_samples", 2)
	v.SetDefault("processor.duplicate_time_window_days", 60)

	v.SetDefault("embeddings.model", "paraphrase-multilingual")
	v.SetDefault("embeddings.endpoint", "http://localhost:11434")
	v.SetDefault("embeddings.enable_fallback", false)
	v.SetDefault("embeddings.allow_remote_download", false)
	v.SetDefault("embeddings.dimensions", 384)

	v.SetDefault("moderation.auto", true)
	v.SetDefault("moderation.enabled", true)
	v.SetDefault("moderation.final_top_n", 20)
	v.SetDefault("moderation.timeout_hours", 2)

	v.SetDefault("llm.provider", "generative")
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.temperature", 0.4)

	v.SetDefault("categories.wb.quota", 5)
	v.SetDefault("categories.wb.description", "Wildberries: новости, изменения условий, комиссии, акции продавцов")
	v.SetDefault("categories.ozon.quota", 5)
	v.SetDefault("categories.ozon.description", "Ozon: новости, изменения условий, комиссии, акции продавцов")
	v.SetDefault("categories.general.quota", 5)
	v.SetDefault("categories.general.description", "Общие новости e-commerce, не относящиеся к конкретной площадке")

	v.SetDefault("cleanup.raw_messages_days", 14)
	v.SetDefault("cleanup.published_days", 60)
	v.SetDefault("cleanup.run_weekly", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.rotate.enabled", true)
	v.SetDefault("logging.rotate.max_bytes", 100<<20)
	v.SetDefault("logging.rotate.backup_count", 7)
}

func rejectUnknownKeys(v *viper.Viper) error {
	allowed := make(map[string]bool, len(sections))
	for _, s := range sections {
		allowed[s] = true
	}
	for _, key := range v.AllKeys() {
		top := strings.SplitN(key, ".", 2)[0]
		if !allowed[top] {
			return fmt.Errorf("invalid_config: unrecognized section %q (at key %q)", top, key)
		}
	}
	return nil
}

// applyPathTemplates expands the {profile, data_dir, logs_dir, sessions_dir}
// placeholders in the *_pattern fields.
func (c *Config) applyPathTemplates() {
	replacer := strings.NewReplacer(
		"{profile}", c.Secrets.Profile,
		"{data_dir}", c.Paths.DataDir,
		"{logs_dir}", c.Paths.LogsDir,
		"{sessions_dir}", c.Paths.SessionsDir,
	)
	c.Paths.DBFilePattern = filepath.Clean(replacer.Replace(c.Paths.DBFilePattern))
	c.Paths.LogFilePattern = filepath.Clean(replacer.Replace(c.Paths.LogFilePattern))
	c.Paths.SessionFilePattern = filepath.Clean(replacer.Replace(c.Paths.SessionFilePattern))
}

var phoneRegexp = regexp.MustCompile(`^\+\d{10,15}$`)

// Validate checks every range/enum/regex constraint named in the schema,
// returning every violation found rather than stopping at the first.
func (c Config) Validate() []error {
	var errs []error
	add := func(path string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
	}

	if c.Secrets.APIID <= 0 {
		add("secrets.API_ID", fmt.Errorf("must be > 0, got %d", c.Secrets.APIID))
	}
	if len(c.Secrets.APIHash) != 32 {
		add("secrets.API_HASH", fmt.Errorf("must be 32 chars, got %d", len(c.Secrets.APIHash)))
	}
	if !phoneRegexp.MatchString(c.Secrets.Phone) {
		add("secrets.PHONE", fmt.Errorf("must match +<10-15 digits>, got %q", c.Secrets.Phone))
	}
	if len(c.Secrets.LLMAPIKey) < 20 {
		add("secrets.LLM_API_KEY", fmt.Errorf("must be >= 20 chars"))
	}

	if c.Database.TimeoutSeconds < 1 || c.Database.TimeoutSeconds > 300 {
		add("database.timeout_seconds", rangeErr(c.Database.TimeoutSeconds, 1, 300))
	}
	if c.Database.BusyTimeoutMS < 1 || c.Database.BusyTimeoutMS > 60000 {
		add("database.busy_timeout_ms", rangeErr(c.Database.BusyTimeoutMS, 1, 60000))
	}
	if c.Database.Retry.MaxAttempts < 1 || c.Database.Retry.MaxAttempts > 20 {
		add("database.retry.max_attempts", rangeErr(c.Database.Retry.MaxAttempts, 1, 20))
	}
	if c.Database.Retry.BaseDelaySeconds < 0.1 || c.Database.Retry.BaseDelaySeconds > 10 {
		add("database.retry.base_delay_seconds", rangeErrF(c.Database.Retry.BaseDelaySeconds, 0.1, 10))
	}
	if c.Database.Retry.BackoffMultiplier < 1 || c.Database.Retry.BackoffMultiplier > 5 {
		add("database.retry.backoff_multiplier", rangeErrF(c.Database.Retry.BackoffMultiplier, 1, 5))
	}

	if c.Listener.Mode != "subscriptions" && c.Listener.Mode != "manual" {
		add("listener.mode", fmt.Errorf(`must be "subscriptions" or "manual", got %q`, c.Listener.Mode))
	}
	if c.Listener.MinMessageLength < 10 || c.Listener.MinMessageLength > 1000 {
		add("listener.min_message_length", rangeErr(c.Listener.MinMessageLength, 10, 1000))
	}

	if _, err := time.Parse("15:04", c.Processor.ScheduleTime); err != nil {
		add("processor.schedule_time", fmt.Errorf(`must be "HH:MM", got %q`, c.Processor.ScheduleTime))
	}
	if _, err := time.LoadLocation(c.Processor.Timezone); err != nil {
		add("processor.timezone", fmt.Errorf("unknown timezone %q", c.Processor.Timezone))
	}
	if c.Processor.DuplicateThreshold < 0.5 || c.Processor.DuplicateThreshold > 1.0 {
		add("processor.duplicate_threshold", rangeErrF(c.Processor.DuplicateThreshold, 0.5, 1.0))
	}
	if c.Processor.TopN < 1 || c.Processor.TopN > 100 {
		add("processor.top_n", rangeErr(c.Processor.TopN, 1, 100))
	}
	if c.Processor.ExcludeCount < 0 || c.Processor.ExcludeCount > 50 {
		add("processor.exclude_count", rangeErr(c.Processor.ExcludeCount, 0, 50))
	}
	if c.Processor.DuplicateTimeWindowDays < 7 || c.Processor.DuplicateTimeWindowDays > 180 {
		add("processor.duplicate_time_window_days", rangeErr(c.Processor.DuplicateTimeWindowDays, 7, 180))
	}

	if c.Embeddings.Dimensions < 1 || c.Embeddings.Dimensions > 8192 {
		add("embeddings.dimensions", rangeErr(c.Embeddings.Dimensions, 1, 8192))
	}
	if !c.Embeddings.EnableFallback && c.Embeddings.LocalPath == "" && c.Embeddings.Endpoint == "" && !c.Embeddings.AllowRemoteDownload {
		add("embeddings.endpoint", fmt.Errorf("no local_path, endpoint, or allow_remote_download set, and fallback disabled"))
	}

	if c.Moderation.TimeoutHours < 1 || c.Moderation.TimeoutHours > 24 {
		add("moderation.timeout_hours", rangeErr(c.Moderation.TimeoutHours, 1, 24))
	}

	if c.LLM.Provider != "generative" && c.LLM.Provider != "chat" {
		add("llm.provider", fmt.Errorf(`must be "generative" or "chat", got %q`, c.LLM.Provider))
	}
	if c.LLM.MaxTokens < 128 || c.LLM.MaxTokens > 8192 {
		add("llm.max_tokens", rangeErr(c.LLM.MaxTokens, 128, 8192))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		add("llm.temperature", rangeErrF(c.LLM.Temperature, 0, 2))
	}

	if len(c.Categories) == 0 {
		add("categories", fmt.Errorf("at least one category must be configured"))
	}
	for name, cat := range c.Categories {
		if cat.Quota < 0 || cat.Quota > 50 {
			add(fmt.Sprintf("categories.%s.quota", name), rangeErr(cat.Quota, 0, 50))
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		add("logging.level", fmt.Errorf("must be one of debug/info/warn/error, got %q", c.Logging.Level))
	}
	validFormats := map[string]bool{"json": true, "pretty": true}
	if !validFormats[c.Logging.Format] {
		add("logging.format", fmt.Errorf("must be one of json/pretty, got %q", c.Logging.Format))
	}

	return errs
}

func rangeErr(v, lo, hi int) error {
	return fmt.Errorf("must be in [%d, %d], got %d", lo, hi, v)
}

func rangeErrF(v, lo, hi float64) error {
	return fmt.Errorf("must be in [%s, %s], got %s",
		strconv.FormatFloat(lo, 'g', -1, 64),
		strconv.FormatFloat(hi, 'g', -1, 64),
		strconv.FormatFloat(v, 'g', -1, 64))
}

func formatValidationErrors(errs []error) error {
	var b strings.Builder
	b.WriteString("invalid_config: configuration validation failed:\n")
	for _, e := range errs {
		b.WriteString("  - ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return fmt.Errorf("%s", b.String())
}
