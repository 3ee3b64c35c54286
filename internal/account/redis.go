package account

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const expKeyPrefix = "exp:"

// Redis keeps experience as plain counters under "exp:<name>".
type Redis struct {
	client *redis.Client
}

func NewRedis(url string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Redis{client: redis.NewClient(opt)}, nil
}

func (r *Redis) AddExperience(ctx context.Context, name string, amount int) error {
	return r.client.IncrBy(ctx, expKeyPrefix+name, int64(amount)).Err()
}
