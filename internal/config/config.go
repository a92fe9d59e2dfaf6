// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/bugscope/internal/scheduler"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	GitHub     GitHubConfig     `mapstructure:"github"`
	DB         DBConfig         `mapstructure:"db"`
	Broker     BrokerConfig     `mapstructure:"broker"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Semantic   SemanticConfig   `mapstructure:"semantic"`
	Tasks      TasksConfig      `mapstructure:"tasks"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	// Projects seeds the in-memory repository. Postgres deployments keep
	// tracked projects in the dbms table.
	Projects []ProjectConfig `mapstructure:"projects"`
}

// ProjectConfig is one tracked DBMS.
type ProjectConfig struct {
	Name       string `mapstructure:"name"`
	Repository string `mapstructure:"repository"`
	Label      string `mapstructure:"label"`
}

// ServerConfig controls the admin HTTP server.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
	// APIKey, when set, is required on /v1 routes.
	APIKey string `mapstructure:"api_key"`
}

// GitHubConfig configures the issue tracker client and search.
type GitHubConfig struct {
	Token          string `mapstructure:"token"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	Label          string `mapstructure:"label"`
	PerPage        int    `mapstructure:"per_page"`
	PageDelayMs    int    `mapstructure:"page_delay_ms"`
}

// DBConfig controls access to Postgres. An empty DSN selects the
// in-memory repository.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	EnsureSchema           bool   `mapstructure:"ensure_schema"`
}

// BrokerConfig selects the task queue. An empty URL selects the in-memory
// queue.
type BrokerConfig struct {
	URL                   string `mapstructure:"url"`
	Prefix                string `mapstructure:"prefix"`
	PollIntervalMs        int    `mapstructure:"poll_interval_ms"`
	ConnectTimeoutSeconds int    `mapstructure:"connect_timeout_seconds"`
	QueueDepth            int    `mapstructure:"queue_depth"`
}

// ScheduleConfig holds the periodic fetch schedule, "<minute> <hour>".
type ScheduleConfig struct {
	Fetch   string `mapstructure:"fetch"`
	Enabled bool   `mapstructure:"enabled"`
}

// ClassifierConfig locates the model artifact and tunes keyword matching.
type ClassifierConfig struct {
	ArtifactDir     string  `mapstructure:"artifact_dir"`
	KeywordsFile    string  `mapstructure:"keywords_file"`
	FuzzyWeight     float64 `mapstructure:"fuzzy_weight"`
	SemanticWeight  float64 `mapstructure:"semantic_weight"`
	OverlapWeight   float64 `mapstructure:"overlap_weight"`
	AcceptanceFloor float64 `mapstructure:"acceptance_floor"`
}

// SemanticConfig locates optional word vectors.
type SemanticConfig struct {
	VectorsPath string `mapstructure:"vectors_path"`
	VocabPath   string `mapstructure:"vocab_path"`
}

// Enabled reports whether word vectors are configured.
func (s SemanticConfig) Enabled() bool {
	return s.VectorsPath != "" && s.VocabPath != ""
}

// TasksConfig holds retry and polling knobs.
type TasksConfig struct {
	MaxRetries          int `mapstructure:"max_retries"`
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
}

// WorkerConfig sizes the worker pool.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// LoggingConfig toggles zap development features and file output.
type LoggingConfig struct {
	Development bool              `mapstructure:"development"`
	Level       string            `mapstructure:"level"`
	File        LoggingFileConfig `mapstructure:"file"`
}

// LoggingFileConfig configures the rotating log file.
type LoggingFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BUGSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// bindLegacyEnv accepts the unprefixed variable names used by existing
// deployments. The prefixed name wins when both are set.
func bindLegacyEnv(v *viper.Viper) error {
	for key, env := range map[string]string{
		"github.token":   "GITHUB_TOKEN",
		"broker.url":     "REDIS_BROKER_URL",
		"db.dsn":         "DATABASE_URL",
		"schedule.fetch": "FETCH_SCHEDULE",
	} {
		prefixed := "BUGSCOPE_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("github.timeout_seconds", 30)
	v.SetDefault("github.label", "fuzz/sqlancer")
	v.SetDefault("github.per_page", 100)
	v.SetDefault("github.page_delay_ms", 2000)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.ensure_schema", false)
	v.SetDefault("broker.prefix", "bugscope")
	v.SetDefault("broker.poll_interval_ms", 1000)
	v.SetDefault("broker.connect_timeout_seconds", 30)
	v.SetDefault("broker.queue_depth", 256)
	v.SetDefault("schedule.fetch", "0 0")
	v.SetDefault("schedule.enabled", true)
	v.SetDefault("classifier.fuzzy_weight", 0.4)
	v.SetDefault("classifier.semantic_weight", 0.4)
	v.SetDefault("classifier.overlap_weight", 0.2)
	v.SetDefault("classifier.acceptance_floor", 0.7)
	v.SetDefault("tasks.max_retries", 3)
	v.SetDefault("tasks.poll_interval_seconds", 5)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.max_age_days", 28)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.GitHub.PerPage <= 0 || c.GitHub.PerPage > 100 {
		return fmt.Errorf("github.per_page must be in [1,100]")
	}
	if c.GitHub.PageDelayMs < 0 {
		return fmt.Errorf("github.page_delay_ms must be >= 0")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Tasks.MaxRetries <= 0 {
		return fmt.Errorf("tasks.max_retries must be > 0")
	}
	if c.Tasks.PollIntervalSeconds <= 0 {
		return fmt.Errorf("tasks.poll_interval_seconds must be > 0")
	}
	if c.Broker.URL == "" && c.Broker.QueueDepth <= 0 {
		return fmt.Errorf("broker.queue_depth must be > 0 for the in-memory queue")
	}
	if c.Schedule.Enabled {
		if _, err := scheduler.ParseSchedule(c.Schedule.Fetch); err != nil {
			return fmt.Errorf("schedule.fetch: %w", err)
		}
	}
	if (c.Semantic.VectorsPath == "") != (c.Semantic.VocabPath == "") {
		return fmt.Errorf("semantic.vectors_path and semantic.vocab_path must be set together")
	}
	for i, p := range c.Projects {
		if p.Name == "" || !strings.Contains(p.Repository, "/") {
			return fmt.Errorf("projects[%d]: name and owner/repo repository are required", i)
		}
	}
	w := c.Classifier
	if w.FuzzyWeight < 0 || w.SemanticWeight < 0 || w.OverlapWeight < 0 {
		return fmt.Errorf("classifier weights must be >= 0")
	}
	if w.AcceptanceFloor < 0 || w.AcceptanceFloor >= 1 {
		return fmt.Errorf("classifier.acceptance_floor must be in [0,1)")
	}
	return nil
}

// PageDelay returns the courtesy delay between page requests.
func (c Config) PageDelay() time.Duration {
	return time.Duration(c.GitHub.PageDelayMs) * time.Millisecond
}

// PollInterval returns the consumer poll interval.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Tasks.PollIntervalSeconds) * time.Second
}
