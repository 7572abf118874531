// Package config loads the analysis service configuration from defaults, an
// optional YAML file and NAIA_-prefixed environment variables.
package config

import (
	"fmt"
	"math"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the analysis service.
type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	TSDB        TSDBConfig        `mapstructure:"tsdb"`
	Redis       RedisConfig       `mapstructure:"redis"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Behavior    BehaviorConfig    `mapstructure:"behavior"`
	Correlation CorrelationConfig `mapstructure:"correlation"`
	Cluster     ClusterConfig     `mapstructure:"cluster"`
	Match       MatchConfig       `mapstructure:"match"`
	Learn       LearnConfig       `mapstructure:"learn"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig holds the health/metrics HTTP listener settings.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds the metadata store configuration.
type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ConnString builds a pgx connection string.
func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// TSDBConfig holds the raw sample store configuration. QuestDB speaks the
// Postgres wire protocol, so the client connects with pgx.
type TSDBConfig struct {
	QuestDB QuestDBConfig `mapstructure:"questdb"`
}

// QuestDBConfig holds QuestDB connection settings.
type QuestDBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	Table    string `mapstructure:"table"`
}

// ConnString builds a pgx connection string for the QuestDB pg-wire port.
func (q QuestDBConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		q.User, q.Password, q.Host, q.Port, q.Database)
}

// RedisConfig holds cache and stage-lock settings.
type RedisConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

// NATSConfig holds event publisher settings.
type NATSConfig struct {
	URL        string `mapstructure:"url"`
	Enabled    bool   `mapstructure:"enabled"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// BehaviorConfig tunes the behavioral aggregator stage.
type BehaviorConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	Lookback   time.Duration `mapstructure:"lookback"`
	MinSamples int           `mapstructure:"min_samples"`
	MaxSamples int           `mapstructure:"max_samples"`
	RateSample int           `mapstructure:"rate_sample"`
	BatchSize  int           `mapstructure:"batch_size"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
}

// CorrelationConfig tunes the correlation processor stage.
type CorrelationConfig struct {
	Interval              time.Duration `mapstructure:"interval"`
	SignificanceThreshold float64       `mapstructure:"significance_threshold"`
	ResampleInterval      time.Duration `mapstructure:"resample_interval"`
	MaxPoints             int           `mapstructure:"max_points"`
}

// ClusterConfig tunes the cluster detector stage.
type ClusterConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	MinCohesion     float64       `mapstructure:"min_cohesion"`
	MinMembers      int           `mapstructure:"min_members"`
	PrefixMinTokens int           `mapstructure:"prefix_min_tokens"`
}

// MatchWeights are the fixed combination weights of the four sub-scores.
// They must sum to 1.
type MatchWeights struct {
	Naming      float64 `mapstructure:"naming"`
	Correlation float64 `mapstructure:"correlation"`
	Range       float64 `mapstructure:"range"`
	Rate        float64 `mapstructure:"rate"`
}

// MatchConfig tunes the pattern matcher stage.
type MatchConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	PublishThreshold float64       `mapstructure:"publish_threshold"`
	ReevaluateWindow time.Duration `mapstructure:"reevaluate_window"`
	Weights          MatchWeights  `mapstructure:"weights"`
}

// LearnConfig tunes the pattern learner stage.
type LearnConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	LearningRate float64       `mapstructure:"learning_rate"`
	BatchSize    int           `mapstructure:"batch_size"`
}

// MaintenanceConfig tunes the maintenance stage.
type MaintenanceConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	InactivityWindow time.Duration `mapstructure:"inactivity_window"`
	DecayFactor      float64       `mapstructure:"decay_factor"`
	SuggestionTTL    time.Duration `mapstructure:"suggestion_ttl"`
}

// SchedulerConfig holds cross-stage scheduling settings.
type SchedulerConfig struct {
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

// Load reads configuration from the optional file at configPath, then applies
// NAIA_-prefixed environment overrides, then validates.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("NAIA")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("server.port", 8086)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "naia")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "naia")
	v.SetDefault("database.postgres.sslmode", "disable")

	v.SetDefault("tsdb.questdb.host", "localhost")
	v.SetDefault("tsdb.questdb.port", 8812)
	v.SetDefault("tsdb.questdb.user", "admin")
	v.SetDefault("tsdb.questdb.password", "quest")
	v.SetDefault("tsdb.questdb.database", "qdb")
	v.SetDefault("tsdb.questdb.table", "point_data")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", true)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", true)
	v.SetDefault("nats.max_retries", 3)

	v.SetDefault("behavior.interval", "5m")
	v.SetDefault("behavior.lookback", "6h")
	v.SetDefault("behavior.min_samples", 10)
	v.SetDefault("behavior.max_samples", 1000)
	v.SetDefault("behavior.rate_sample", 256)
	v.SetDefault("behavior.batch_size", 100)
	v.SetDefault("behavior.cache_ttl", "15m")

	v.SetDefault("correlation.interval", "10m")
	v.SetDefault("correlation.significance_threshold", 0.7)
	v.SetDefault("correlation.resample_interval", "30s")
	v.SetDefault("correlation.max_points", 500)

	v.SetDefault("cluster.interval", "15m")
	v.SetDefault("cluster.min_cohesion", 0.6)
	v.SetDefault("cluster.min_members", 2)
	v.SetDefault("cluster.prefix_min_tokens", 1)

	v.SetDefault("match.interval", "15m")
	v.SetDefault("match.publish_threshold", 0.5)
	v.SetDefault("match.reevaluate_window", "24h")
	v.SetDefault("match.weights.naming", 0.35)
	v.SetDefault("match.weights.correlation", 0.25)
	v.SetDefault("match.weights.range", 0.25)
	v.SetDefault("match.weights.rate", 0.15)

	v.SetDefault("learn.interval", "5m")
	v.SetDefault("learn.learning_rate", 0.1)
	v.SetDefault("learn.batch_size", 200)

	v.SetDefault("maintenance.interval", "24h")
	v.SetDefault("maintenance.inactivity_window", "168h")
	v.SetDefault("maintenance.decay_factor", 0.95)
	v.SetDefault("maintenance.suggestion_ttl", "72h")

	v.SetDefault("scheduler.lock_timeout", "10m")
}

// Validate rejects configurations that would make a stage run pointless to
// retry: malformed weights, thresholds outside [0,1] or missing connection
// targets.
func (c *Config) Validate() error {
	w := c.Match.Weights
	sum := w.Naming + w.Correlation + w.Range + w.Rate
	if math.Abs(sum-1) > 1e-9 {
		return fmt.Errorf("match weights must sum to 1, got %g", sum)
	}
	for name, val := range map[string]float64{
		"match.weights.naming":               w.Naming,
		"match.weights.correlation":          w.Correlation,
		"match.weights.range":                w.Range,
		"match.weights.rate":                 w.Rate,
		"correlation.significance_threshold": c.Correlation.SignificanceThreshold,
		"cluster.min_cohesion":               c.Cluster.MinCohesion,
		"match.publish_threshold":            c.Match.PublishThreshold,
		"learn.learning_rate":                c.Learn.LearningRate,
		"maintenance.decay_factor":           c.Maintenance.DecayFactor,
	} {
		if val < 0 || val > 1 {
			return fmt.Errorf("%s must be within [0,1], got %g", name, val)
		}
	}
	if c.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if c.TSDB.QuestDB.Host == "" {
		return fmt.Errorf("tsdb.questdb.host is required")
	}
	if c.TSDB.QuestDB.Table == "" {
		return fmt.Errorf("tsdb.questdb.table is required")
	}
	return nil
}
