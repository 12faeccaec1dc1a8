package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gogpu/terra/layer"
	"github.com/gogpu/terra/quadtree"
)

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("storage: unknown backend")

// Store reads and writes tiles. Implementations are safe for concurrent
// use.
type Store interface {
	// ReadTile returns the stored bytes of a tile. ok is false when the
	// tile does not exist; that is not an error.
	ReadTile(ctx context.Context, t layer.Type, node quadtree.VNode) (data []byte, ok bool, err error)

	// WriteTile stores a tile, replacing any previous data.
	WriteTile(ctx context.Context, t layer.Type, node quadtree.VNode, data []byte) error

	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config selects and configures a backend.
type Config struct {
	Backend string `yaml:"backend" env:"BACKEND"`
	// Path is the directory (file, badger) or database file (sqlite).
	Path string `yaml:"path" env:"PATH"`
	// Compress wraps the backend in zstd compression.
	Compress bool `yaml:"compress" env:"COMPRESS"`
	// CacheBytes keeps up to this many bytes of recently used tiles in
	// memory; zero disables the cache.
	CacheBytes int64       `yaml:"cache_bytes" env:"CACHE_BYTES"`
	Redis      RedisConfig `yaml:"redis" envPrefix:"REDIS_"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr     string        `yaml:"addr" env:"ADDR"`
	Password string        `yaml:"password" env:"PASSWORD"`
	DB       int           `yaml:"db" env:"DB"`
	TTL      time.Duration `yaml:"ttl" env:"TTL"`
}

// Open creates the store described by cfg. Compression wraps the backend,
// the tile cache wraps compression, and operations on the result are timed
// into the storage latency histogram.
func Open(cfg Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Backend {
	case "", BackendMemory:
		s = NewMemory()
	case BackendFile:
		s, err = NewFileStore(cfg.Path)
	case BackendBadger:
		s, err = NewBadger(cfg.Path)
	case BackendSQLite:
		s, err = NewSQLite(cfg.Path)
	case BackendRedis:
		s, err = NewRedis(cfg.Redis)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Compress {
		s, err = NewCompressed(s)
		if err != nil {
			return nil, err
		}
	}
	if cfg.CacheBytes > 0 {
		s = NewCached(s, cfg.CacheBytes)
	}
	slogger().Info("tile store opened", "backend", cfg.Backend, "path", cfg.Path,
		"compress", cfg.Compress, "cache_bytes", cfg.CacheBytes)
	return NewInstrumented(s), nil
}

// Key returns the canonical key of a tile, shared by all key-value
// backends.
func Key(t layer.Type, node quadtree.VNode) string {
	return fmt.Sprintf("%s/%d/%d/%d/%d", t, node.Face(), node.Level(), node.X(), node.Y())
}
