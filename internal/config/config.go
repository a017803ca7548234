// Package config loads and validates gateway configuration via Viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/docgen-gateway/internal/storage/local"
)

// Validation modes for uploaded file extensions.
const (
	ValidationStrict  = "strict"
	ValidationLenient = "lenient"
)

// Output directory lock backends.
const (
	LockNone  = "none"
	LockLocal = "local"
	LockRedis = "redis"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	CORS       CORSConfig       `mapstructure:"cors"`
	API        APIConfig        `mapstructure:"api"`
	Paths      PathsConfig      `mapstructure:"paths"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Validation ValidationConfig `mapstructure:"validation"`
	Resolver   ResolverConfig   `mapstructure:"resolver"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
	Static     StaticConfig     `mapstructure:"static"`
	Storage    StorageConfig    `mapstructure:"storage"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int   `mapstructure:"port"`
	MaxUploadBytes         int64 `mapstructure:"max_upload_bytes"`
	ShutdownTimeoutSeconds int   `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CORSConfig lists origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// APIConfig names the public routes.
type APIConfig struct {
	GeneratePath   string `mapstructure:"generate_path"`
	DownloadPrefix string `mapstructure:"download_prefix"`
}

// PathsConfig locates the working directory and the two data directories.
// Relative upload/output paths are resolved against WorkDir.
type PathsConfig struct {
	WorkDir   string `mapstructure:"work_dir"`
	UploadDir string `mapstructure:"upload_dir"`
	OutputDir string `mapstructure:"output_dir"`
}

// WorkerConfig describes the external generation program.
type WorkerConfig struct {
	Command        string   `mapstructure:"command"`
	Args           []string `mapstructure:"args"`
	Env            []string `mapstructure:"env"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
}

// ValidationConfig governs which uploads are accepted.
type ValidationConfig struct {
	Mode              string   `mapstructure:"mode"`
	AllowedExtensions []string `mapstructure:"allowed_extensions"`
}

// ResolverConfig describes the artifact naming convention of the worker.
type ResolverConfig struct {
	Prefix    string `mapstructure:"prefix"`
	Extension string `mapstructure:"extension"`
}

// JobsConfig tunes the per-request job lifecycle.
type JobsConfig struct {
	CleanupStaged  bool   `mapstructure:"cleanup_staged"`
	Lock           string `mapstructure:"lock"`
	LockTTLSeconds int    `mapstructure:"lock_ttl_seconds"`
}

// StaticConfig enables hosting of a static front-end.
type StaticConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// StorageConfig selects where resolved artifacts are mirrored.
type StorageConfig struct {
	Backend string       `mapstructure:"backend"`
	Bucket  string       `mapstructure:"bucket"`
	Prefix  string       `mapstructure:"prefix"`
	Local   local.Config `mapstructure:"local"`
}

// PubSubConfig holds metadata for job event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// DatabaseConfig controls the optional job audit log.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// RedisConfig is used by the redis lock backend.
type RedisConfig struct {
	URL       string `mapstructure:"url"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TracingConfig controls OpenTelemetry tracing. Spans are exported to Cloud
// Trace only when ProjectID is set.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// RateLimitConfig throttles uploads per client IP. GenerateRPS of zero
// disables the limiter.
type RateLimitConfig struct {
	GenerateRPS   float64 `mapstructure:"generate_rps"`
	GenerateBurst int     `mapstructure:"generate_burst"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DOCGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Cloud Run injects PORT.
	if err := v.BindEnv("server.port", "DOCGEN_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind port env: %w", err)
	}

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

	if err := cfg.ResolvePaths(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.max_upload_bytes", 64<<20)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("api.generate_path", "/generate-sop")
	v.SetDefault("api.download_prefix", "/download")
	v.SetDefault("paths.work_dir", ".")
	v.SetDefault("paths.upload_dir", "temp_uploads")
	v.SetDefault("paths.output_dir", "output")
	v.SetDefault("worker.command", "python3")
	v.SetDefault("worker.args", []string{"query_and_generate.py"})
	v.SetDefault("worker.env", []string{"PYTHONIOENCODING=utf-8", "PYTHONUTF8=1"})
	v.SetDefault("worker.timeout_seconds", 0)
	v.SetDefault("validation.mode", ValidationStrict)
	v.SetDefault("validation.allowed_extensions", []string{".xlsx", ".xls", ".pdf"})
	v.SetDefault("resolver.prefix", "SOP_")
	v.SetDefault("resolver.extension", ".xlsx")
	v.SetDefault("jobs.cleanup_staged", true)
	v.SetDefault("jobs.lock", LockLocal)
	v.SetDefault("jobs.lock_ttl_seconds", 600)
	v.SetDefault("static.enabled", false)
	v.SetDefault("static.dir", "static")
	v.SetDefault("storage.backend", "none")
	v.SetDefault("storage.prefix", "artifacts")
	v.SetDefault("database.table", "generation_jobs")
	v.SetDefault("redis.key_prefix", "docgen:lock:")
	v.SetDefault("logging.development", true)
	v.SetDefault("tracing.enabled", true)
	v.SetDefault("tracing.service_name", "docgen-gateway")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("rate_limit.generate_rps", 0)
	v.SetDefault("rate_limit.generate_burst", 5)
}

// ResolvePaths makes WorkDir absolute and anchors relative data directories
// under it.
func (c *Config) ResolvePaths() error {
	workDir := c.Paths.WorkDir
	if workDir == "" {
		workDir = "."
	}
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return fmt.Errorf("resolve paths.work_dir: %w", err)
	}
	c.Paths.WorkDir = abs
	c.Paths.UploadDir = anchor(abs, c.Paths.UploadDir)
	c.Paths.OutputDir = anchor(abs, c.Paths.OutputDir)
	if c.Static.Dir != "" {
		c.Static.Dir = anchor(abs, c.Static.Dir)
	}
	return nil
}

func anchor(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, filepath.Clean(p))
}

// Validate enforces required values and reasonable limits.
//
//nolint:gocognit // flat list of independent checks
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Paths.UploadDir == "" || c.Paths.OutputDir == "" {
		return fmt.Errorf("paths.upload_dir and paths.output_dir are required")
	}
	if strings.TrimSpace(c.Worker.Command) == "" {
		return fmt.Errorf("worker.command is required")
	}
	if c.Worker.TimeoutSeconds < 0 {
		return fmt.Errorf("worker.timeout_seconds must be >= 0")
	}
	for _, kv := range c.Worker.Env {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("worker.env entry %q must be KEY=VALUE", kv)
		}
	}
	switch c.Validation.Mode {
	case ValidationStrict, ValidationLenient:
	default:
		return fmt.Errorf("validation.mode must be %q or %q", ValidationStrict, ValidationLenient)
	}
	if !strings.HasPrefix(c.Resolver.Extension, ".") {
		return fmt.Errorf("resolver.extension must start with a dot")
	}
	switch c.Jobs.Lock {
	case LockNone, LockLocal:
	case LockRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("redis.url must be set when jobs.lock is %q", LockRedis)
		}
	default:
		return fmt.Errorf("jobs.lock must be one of none, local, redis")
	}
	switch c.Storage.Backend {
	case "", "none", "memory":
	case "local":
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}
	if c.RateLimit.GenerateRPS < 0 {
		return fmt.Errorf("rate_limit.generate_rps must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Static.Enabled {
		if info, err := os.Stat(c.Static.Dir); err != nil || !info.IsDir() {
			return fmt.Errorf("static.dir %q must be an existing directory", c.Static.Dir)
		}
	}
	return nil
}

// WorkerTimeout returns the worker deadline; zero means unbounded.
func (c Config) WorkerTimeout() time.Duration {
	return time.Duration(c.Worker.TimeoutSeconds) * time.Second
}

// LockTTL bounds how long a crashed holder can keep the output directory lock.
func (c Config) LockTTL() time.Duration {
	return time.Duration(c.Jobs.LockTTLSeconds) * time.Second
}

// ShutdownTimeout bounds graceful HTTP shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
