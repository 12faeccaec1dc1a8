// Package config loads the settings of terra applications.
//
// Settings start from Default, are overlaid by an optional YAML file and
// then by TERRA_-prefixed environment variables. A .env file in the
// working directory is loaded into the environment first.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/gogpu/terra/layer"
	"github.com/gogpu/terra/quadtree"
	"github.com/gogpu/terra/storage"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "TERRA_"

type (
	Config struct {
		Cache   Cache          `yaml:"cache" envPrefix:"CACHE_"`
		Storage storage.Config `yaml:"storage" envPrefix:"STORAGE_"`
		// Backend names the GPU backend; empty or "auto" picks the best.
		Backend string `yaml:"backend" env:"BACKEND"`
		// ShaderDir overrides the embedded shaders and enables hot reload.
		ShaderDir string  `yaml:"shader_dir" env:"SHADER_DIR"`
		Log       Log     `yaml:"log" envPrefix:"LOG_"`
		Metrics   Metrics `yaml:"metrics" envPrefix:"METRICS_"`
		Demo      Demo    `yaml:"demo" envPrefix:"DEMO_"`
	}

	Cache struct {
		FrameBudget       int   `yaml:"frame_budget" env:"FRAME_BUDGET"`
		StreamingBudget   int   `yaml:"streaming_budget" env:"STREAMING_BUDGET"`
		StreamConcurrency int   `yaml:"stream_concurrency" env:"STREAM_CONCURRENCY"`
		ReadbackBuffers   int   `yaml:"readback_buffers" env:"READBACK_BUFFERS"`
		ReadbackMaxLevel  uint8 `yaml:"readback_max_level" env:"READBACK_MAX_LEVEL"`
		// Capacities overrides the per-level slot counts, root first.
		Capacities []int `yaml:"capacities" env:"CAPACITIES"`
	}

	Log struct {
		Level  string `yaml:"level" env:"LEVEL"`
		Format string `yaml:"format" env:"FORMAT"`
	}

	Metrics struct {
		// Addr is the listen address of the /metrics endpoint; empty
		// disables it.
		Addr string `yaml:"addr" env:"ADDR"`
	}

	Demo struct {
		Seed      int64 `yaml:"seed" env:"SEED"`
		SeedStore bool  `yaml:"seed_store" env:"SEED_STORE"`
		Frames    int   `yaml:"frames" env:"FRAMES"`
	}
)

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Cache: Cache{
			FrameBudget:      16,
			StreamingBudget:  128,
			ReadbackBuffers:  64,
			ReadbackMaxLevel: layer.LevelCell1M,
		},
		Storage: storage.Config{Backend: storage.BackendMemory},
		Backend: "auto",
		Log:     Log{Level: "info", Format: "text"},
		Demo:    Demo{SeedStore: true, Frames: 120},
	}
}

// Load reads the settings. An empty path skips the YAML file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings for consistency.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	cc := c.Cache
	check(cc.FrameBudget > 0, "cache.frame_budget must be positive, got %d", cc.FrameBudget)
	check(cc.StreamingBudget > 0, "cache.streaming_budget must be positive, got %d", cc.StreamingBudget)
	check(cc.StreamConcurrency >= 0, "cache.stream_concurrency must not be negative, got %d", cc.StreamConcurrency)
	check(cc.ReadbackBuffers > 0, "cache.readback_buffers must be positive, got %d", cc.ReadbackBuffers)
	check(cc.ReadbackMaxLevel <= quadtree.MaxLevel, "cache.readback_max_level %d above %d", cc.ReadbackMaxLevel, quadtree.MaxLevel)
	if len(cc.Capacities) > 0 {
		check(len(cc.Capacities) == quadtree.MaxLevel+1, "cache.capacities needs %d levels, got %d", quadtree.MaxLevel+1, len(cc.Capacities))
		for level, n := range cc.Capacities {
			check(n > 0, "cache.capacities[%d] must be positive, got %d", level, n)
		}
	}

	check(c.Storage.CacheBytes >= 0, "storage.cache_bytes must not be negative, got %d", c.Storage.CacheBytes)
	switch c.Storage.Backend {
	case "", storage.BackendMemory, storage.BackendRedis:
	case storage.BackendFile, storage.BackendBadger, storage.BackendSQLite:
		check(c.Storage.Path != "" || c.Storage.Backend == storage.BackendBadger,
			"storage.path is required for the %s backend", c.Storage.Backend)
	default:
		errs = append(errs, fmt.Errorf("storage.backend: %w: %q", storage.ErrUnknownBackend, c.Storage.Backend))
	}
	if c.Storage.Backend == storage.BackendRedis {
		check(c.Storage.Redis.Addr != "", "storage.redis.addr is required for the redis backend")
	}

	_, err := c.Log.SlogLevel()
	check(err == nil, "log.level: %v", err)
	check(c.Log.Format == "text" || c.Log.Format == "json", "log.format must be text or json, got %q", c.Log.Format)
	check(c.Demo.Frames >= 0, "demo.frames must not be negative, got %d", c.Demo.Frames)

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// SlogLevel parses Level.
func (l Log) SlogLevel() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(l.Level))
	return level, err
}

// Handler returns a slog handler writing to w in the configured format.
func (l Log) Handler(w io.Writer) (slog.Handler, error) {
	level, err := l.SlogLevel()
	if err != nil {
		return nil, fmt.Errorf("config: log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.NewJSONHandler(w, opts), nil
	}
	return slog.NewTextHandler(w, opts), nil
}
