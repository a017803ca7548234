package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
paths:
  work_dir: ` + dir + `
  upload_dir: in
  output_dir: /srv/out
worker:
  command: /usr/bin/generate
  args: ["--fast"]
  env: ["LANG=C.UTF-8"]
  timeout_seconds: 45
validation:
  mode: lenient
jobs:
  lock: none
  cleanup_staged: false
logging:
  development: false
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, dir, cfg.Paths.WorkDir)
	assert.Equal(t, filepath.Join(dir, "in"), cfg.Paths.UploadDir)
	assert.Equal(t, "/srv/out", cfg.Paths.OutputDir)
	assert.Equal(t, "/usr/bin/generate", cfg.Worker.Command)
	assert.Equal(t, []string{"--fast"}, cfg.Worker.Args)
	assert.Equal(t, []string{"LANG=C.UTF-8"}, cfg.Worker.Env)
	assert.Equal(t, 45*time.Second, cfg.WorkerTimeout())
	assert.Equal(t, ValidationLenient, cfg.Validation.Mode)
	assert.Equal(t, LockNone, cfg.Jobs.Lock)
	assert.False(t, cfg.Jobs.CleanupStaged)
	assert.False(t, cfg.Logging.Development)
	// untouched defaults survive
	assert.Equal(t, "SOP_", cfg.Resolver.Prefix)
	assert.Equal(t, ".xlsx", cfg.Resolver.Extension)
	assert.Equal(t, "/generate-sop", cfg.API.GeneratePath)
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, wd, cfg.Paths.WorkDir)
	assert.Equal(t, filepath.Join(wd, "temp_uploads"), cfg.Paths.UploadDir)
	assert.Equal(t, filepath.Join(wd, "output"), cfg.Paths.OutputDir)
	assert.Equal(t, []string{".xlsx", ".xls", ".pdf"}, cfg.Validation.AllowedExtensions)
	assert.Equal(t, []string{"PYTHONIOENCODING=utf-8", "PYTHONUTF8=1"}, cfg.Worker.Env)
	assert.Equal(t, ValidationStrict, cfg.Validation.Mode)
	assert.Equal(t, LockLocal, cfg.Jobs.Lock)
	assert.True(t, cfg.Jobs.CleanupStaged)
	assert.Zero(t, cfg.WorkerTimeout())
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout())
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "docgen-gateway", cfg.Tracing.ServiceName)
	assert.InDelta(t, 1.0, cfg.Tracing.SampleRatio, 0)
	assert.Zero(t, cfg.RateLimit.GenerateRPS)
	assert.Equal(t, 5, cfg.RateLimit.GenerateBurst)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:     ServerConfig{Port: 8080},
		Paths:      PathsConfig{UploadDir: "/tmp/in", OutputDir: "/tmp/out"},
		Worker:     WorkerConfig{Command: "gen"},
		Validation: ValidationConfig{Mode: ValidationStrict},
		Resolver:   ResolverConfig{Prefix: "SOP_", Extension: ".xlsx"},
		Jobs:       JobsConfig{Lock: LockLocal},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"missing output dir", func(c *Config) { c.Paths.OutputDir = "" }, "paths.output_dir"},
		{"missing command", func(c *Config) { c.Worker.Command = " " }, "worker.command"},
		{"negative timeout", func(c *Config) { c.Worker.TimeoutSeconds = -1 }, "worker.timeout_seconds"},
		{"bad env entry", func(c *Config) { c.Worker.Env = []string{"NOVALUE"} }, "worker.env"},
		{"bad validation mode", func(c *Config) { c.Validation.Mode = "loose" }, "validation.mode"},
		{"bad extension", func(c *Config) { c.Resolver.Extension = "xlsx" }, "resolver.extension"},
		{"bad lock", func(c *Config) { c.Jobs.Lock = "etcd" }, "jobs.lock"},
		{"redis lock without url", func(c *Config) { c.Jobs.Lock = LockRedis }, "redis.url"},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = "gcs" }, "storage.bucket"},
		{"local without base dir", func(c *Config) { c.Storage.Backend = "local" }, "storage.local.base_dir"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"negative rate limit", func(c *Config) { c.RateLimit.GenerateRPS = -1 }, "rate_limit.generate_rps"},
		{"sample ratio above one", func(c *Config) { c.Tracing.SampleRatio = 1.5 }, "tracing.sample_ratio"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"static dir missing", func(c *Config) {
			c.Static.Enabled = true
			c.Static.Dir = "/definitely/not/here"
		}, "static.dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
