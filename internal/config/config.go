// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SRO_HTTP_TIMEOUT_SECONDS.
const EnvPrefix = "SRO"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging  LoggingConfig            `mapstructure:"logging"`
	HTTP     HTTPConfig               `mapstructure:"http"`
	Rotator  RotatorConfig            `mapstructure:"rotator"`
	Registry RegistryConfig           `mapstructure:"registry"`
	Services map[string]ServiceConfig `mapstructure:"services"`
	Collect  CollectConfig            `mapstructure:"collect"`
	Cache    CacheConfig              `mapstructure:"cache"`
	Output   OutputConfig             `mapstructure:"output"`
	Sheets   SheetsConfig             `mapstructure:"sheets"`
	DB       DBConfig                 `mapstructure:"db"`
	Storage  StorageConfig            `mapstructure:"storage"`
	PubSub   PubSubConfig             `mapstructure:"pubsub"`
	Schedule ScheduleConfig           `mapstructure:"schedule"`
	Server   ServerConfig             `mapstructure:"server"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
	// Dir receives one <command>.log file per invocation when set.
	Dir string `mapstructure:"dir"`
}

// HTTPConfig configures the registry HTTP client.
type HTTPConfig struct {
	TimeoutSeconds       int     `mapstructure:"timeout_seconds"`
	UserAgent            string  `mapstructure:"user_agent"`
	ProxyURL             string  `mapstructure:"proxy_url"`
	MaxAttempts          int     `mapstructure:"max_attempts"`
	RetryMinDelaySeconds float64 `mapstructure:"retry_min_delay_seconds"`
	RetryMaxDelaySeconds float64 `mapstructure:"retry_max_delay_seconds"`
	RatePerSecond        float64 `mapstructure:"rate_per_second"`
	Burst                int     `mapstructure:"burst"`
}

// RotatorConfig points at the egress IP rotation service.
type RotatorConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	Token          string `mapstructure:"token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// RegistryConfig holds settings shared by both registries.
type RegistryConfig struct {
	DateFormat string `mapstructure:"date_format"`
}

// ServiceConfig holds per-registry settings.
type ServiceConfig struct {
	BaseURL            string `mapstructure:"base_url"`
	PageSize           int    `mapstructure:"page_size"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// CollectConfig describes one collection run.
type CollectConfig struct {
	Services []string       `mapstructure:"services"`
	From     string         `mapstructure:"from"`
	To       string         `mapstructure:"to"`
	Filters  map[string]any `mapstructure:"filters"`
	UseCache bool           `mapstructure:"use_cache"`
	Window   int            `mapstructure:"window"`
	Shard    int            `mapstructure:"shard"`
	Shards   int            `mapstructure:"shards"`
}

// CacheConfig selects the ID cache backend.
type CacheConfig struct {
	Backend  string `mapstructure:"backend"`
	Dir      string `mapstructure:"dir"`
	RedisURL string `mapstructure:"redis_url"`
	TTLHours int    `mapstructure:"ttl_hours"`
}

// OutputConfig selects the row sink.
type OutputConfig struct {
	Backend           string `mapstructure:"backend"`
	Dir               string `mapstructure:"dir"`
	SaveAttempts      int    `mapstructure:"save_attempts"`
	SaveDelaySeconds  int    `mapstructure:"save_delay_seconds"`
	WorksheetTemplate string `mapstructure:"worksheet"`
}

// SheetsConfig locates the Google spreadsheet.
type SheetsConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	SpreadsheetID   string `mapstructure:"spreadsheet_id"`
}

// DBConfig controls access to the Postgres sink.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// StorageConfig selects where finished artifacts are uploaded.
type StorageConfig struct {
	Backend   string   `mapstructure:"backend"`
	Prefix    string   `mapstructure:"prefix"`
	LocalDir  string   `mapstructure:"local_dir"`
	GCSBucket string   `mapstructure:"gcs_bucket"`
	S3        S3Config `mapstructure:"s3"`
}

// S3Config configures the S3 artifact backend.
type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	PathStyle bool   `mapstructure:"path_style"`
}

// PubSubConfig holds metadata for run notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ScheduleConfig drives the daily trigger.
type ScheduleConfig struct {
	At           string `mapstructure:"at"`
	Timezone     string `mapstructure:"timezone"`
	LookbackDays int    `mapstructure:"lookback_days"`
}

// ServerConfig controls the status server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

var clockRe = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// Load builds a Config from .env files, disk and the environment.
func Load(path string, envFiles ...string) (Config, error) {
	if err := loadDotEnv(envFiles...); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

// loadDotEnv loads secrets such as the rotator token without overriding the
// real environment. A missing default .env is not an error.
func loadDotEnv(files ...string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_attempts", 5)
	v.SetDefault("http.retry_min_delay_seconds", 5)
	v.SetDefault("http.retry_max_delay_seconds", 10)
	v.SetDefault("http.rate_per_second", 5)
	v.SetDefault("http.burst", 5)
	v.SetDefault("rotator.timeout_seconds", 30)
	v.SetDefault("registry.date_format", "02.01.2006")
	v.SetDefault("services.nostroy.base_url", "https://reestr.nostroy.ru/api")
	v.SetDefault("services.nostroy.page_size", 1000)
	v.SetDefault("services.nostroy.insecure_skip_verify", true)
	v.SetDefault("services.nopriz.base_url", "https://reestr.nopriz.ru/api")
	v.SetDefault("services.nopriz.page_size", 1000)
	v.SetDefault("collect.services", []string{"nostroy", "nopriz"})
	v.SetDefault("collect.use_cache", true)
	v.SetDefault("collect.window", 50)
	v.SetDefault("collect.shards", 1)
	v.SetDefault("cache.backend", "file")
	v.SetDefault("cache.dir", "cache")
	v.SetDefault("cache.ttl_hours", 72)
	v.SetDefault("output.backend", "xlsx")
	v.SetDefault("output.dir", "output")
	v.SetDefault("output.save_attempts", 300)
	v.SetDefault("output.save_delay_seconds", 10)
	v.SetDefault("output.worksheet", "{service}")
	v.SetDefault("db.table", "sro_members")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("storage.backend", "none")
	v.SetDefault("storage.prefix", "sro")
	v.SetDefault("schedule.at", "03:00")
	v.SetDefault("schedule.timezone", "Europe/Moscow")
	v.SetDefault("schedule.lookback_days", 7)
	v.SetDefault("server.port", 8080)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.HTTP.TimeoutSeconds <= 0 {
		return errors.New("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return errors.New("http.max_attempts must be > 0")
	}
	if c.HTTP.RetryMinDelaySeconds < 0 || c.HTTP.RetryMaxDelaySeconds < c.HTTP.RetryMinDelaySeconds {
		return errors.New("http.retry_max_delay_seconds must be >= http.retry_min_delay_seconds >= 0")
	}
	if c.Rotator.Endpoint != "" && c.Rotator.Token == "" {
		return errors.New("rotator.token must be set when rotator.endpoint is set")
	}
	for _, name := range c.Collect.Services {
		if _, ok := c.Services[name]; !ok {
			return fmt.Errorf("collect.services: unknown service %q", name)
		}
	}
	if c.Collect.Window <= 0 {
		return errors.New("collect.window must be > 0")
	}
	if c.Collect.Shards <= 0 || c.Collect.Shard < 0 || c.Collect.Shard >= c.Collect.Shards {
		return fmt.Errorf("collect.shard must be in [0, %d)", c.Collect.Shards)
	}
	if err := c.validateBackends(); err != nil {
		return err
	}
	if !clockRe.MatchString(c.Schedule.At) {
		return fmt.Errorf("schedule.at %q must be HH:MM", c.Schedule.At)
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	if c.Schedule.LookbackDays < 0 {
		return errors.New("schedule.lookback_days must be >= 0")
	}
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	return nil
}

func (c Config) validateBackends() error {
	switch c.Cache.Backend {
	case "file":
	case "redis":
		if c.Cache.RedisURL == "" {
			return errors.New("cache.redis_url must be set for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend %q must be one of file, redis", c.Cache.Backend)
	}

	switch c.Output.Backend {
	case "xlsx", "xlsx_grouped":
		if c.Output.SaveAttempts <= 0 {
			return errors.New("output.save_attempts must be > 0")
		}
	case "sheets":
		if c.Sheets.CredentialsFile == "" || c.Sheets.SpreadsheetID == "" {
			return errors.New("sheets.credentials_file and sheets.spreadsheet_id are required for the sheets backend")
		}
	case "postgres":
		if c.DB.DSN == "" {
			return errors.New("db.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("output.backend %q must be one of xlsx, xlsx_grouped, sheets, postgres", c.Output.Backend)
	}

	backends := []string{"none", "local", "gcs", "s3"}
	if !slices.Contains(backends, c.Storage.Backend) {
		return fmt.Errorf("storage.backend %q must be one of %s", c.Storage.Backend, strings.Join(backends, ", "))
	}
	switch {
	case c.Storage.Backend == "local" && c.Storage.LocalDir == "":
		return errors.New("storage.local_dir is required for the local backend")
	case c.Storage.Backend == "gcs" && c.Storage.GCSBucket == "":
		return errors.New("storage.gcs_bucket is required for the gcs backend")
	case c.Storage.Backend == "s3" && c.Storage.S3.Bucket == "":
		return errors.New("storage.s3.bucket is required for the s3 backend")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return errors.New("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// Timeout returns the per-attempt HTTP timeout.
func (c HTTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetryDelays returns the bounds of the random pause between attempts.
func (c HTTPConfig) RetryDelays() (time.Duration, time.Duration) {
	return seconds(c.RetryMinDelaySeconds), seconds(c.RetryMaxDelaySeconds)
}

// SaveDelay returns the pause between locked-file save attempts.
func (c OutputConfig) SaveDelay() time.Duration {
	return time.Duration(c.SaveDelaySeconds) * time.Second
}

// Worksheet returns the worksheet title for service.
func (c OutputConfig) Worksheet(service string) string {
	return strings.ReplaceAll(c.WorksheetTemplate, "{service}", service)
}

// TTL returns the Redis key lifetime, zero meaning no expiry.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
