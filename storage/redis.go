package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gogpu/terra/layer"
	"github.com/gogpu/terra/quadtree"
)

// Redis stores tiles in a redis server.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Store = (*Redis)(nil)

// NewRedis connects to the server in cfg. A zero TTL keeps tiles forever.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("storage: connect to redis at %s: %w", cfg.Addr, err)
	}
	return &Redis{client: client, ttl: cfg.TTL}, nil
}

func (r *Redis) key(t layer.Type, node quadtree.VNode) string {
	return "tile:" + Key(t, node)
}

func (r *Redis) ReadTile(ctx context.Context, t layer.Type, node quadtree.VNode) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, r.key(t, node)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: redis get %s %s: %w", t, node, err)
	}
	return data, true, nil
}

func (r *Redis) WriteTile(ctx context.Context, t layer.Type, node quadtree.VNode, data []byte) error {
	if err := r.client.Set(ctx, r.key(t, node), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("storage: redis set %s %s: %w", t, node, err)
	}
	return nil
}

func (r *Redis) Close() error { return r.client.Close() }
