package secret

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowcore/dagflow/internal/config"
)

// RedisResolver resolves secrets from a Redis hash per name. Field values
// are stored as Redis hash fields under key "secret:<name>".
type RedisResolver struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisResolver wraps an existing client. ctx bounds every lookup; pass
// context.Background() for a resolver with no per-call deadline.
func NewRedisResolver(client *redis.Client, ctx context.Context) *RedisResolver {
	return &RedisResolver{client: client, ctx: ctx}
}

// NewRedisResolverFromConfig parses cfg.RedisURL, applies the configured
// password/DB/pool size, and pings before returning, so a misconfigured
// resolver fails at construction rather than on the first secret lookup.
func NewRedisResolverFromConfig(cfg config.SecretsConfig) (*RedisResolver, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("secret: parse redis url: %w", err)
	}
	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	opts.DB = cfg.RedisDB
	opts.PoolSize = cfg.RedisPoolSize

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("secret: connect to redis: %w", err)
	}

	return NewRedisResolver(client, context.Background()), nil
}

func (r *RedisResolver) Resolve(name, field string) (string, error) {
	key := "secret:" + name
	val, err := r.client.HGet(r.ctx, key, field).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("secret: no value for %s.%s", name, field)
	}
	if err != nil {
		return "", fmt.Errorf("secret: redis lookup %s.%s: %w", name, field, err)
	}
	return val, nil
}
