package authflowrepo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-oidc-provider/internal/errors"
	"github.com/redis/go-redis/v9"
)

// RedisRepo shares interaction state between server instances.
type RedisRepo struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

func NewRedisRepo(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisRepo {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisRepo{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (r *RedisRepo) key(id string) string {
	return r.keyPrefix + ":interaction:" + id
}

func (r *RedisRepo) Write(ctx context.Context, state *AuthFlowState) (string, error) {
	if state == nil {
		return "", fmt.Errorf("[RedisRepo.Write] state is required")
	}
	s := *state
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(&s)
	if err != nil {
		return "", fmt.Errorf("[RedisRepo.Write] %w", err)
	}
	id := uuid.NewString()
	if err := r.client.Set(ctx, r.key(id), data, r.ttl).Err(); err != nil {
		return "", fmt.Errorf("[RedisRepo.Write] %w", err)
	}
	return id, nil
}

func (r *RedisRepo) Read(ctx context.Context, id string) (*AuthFlowState, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("[RedisRepo.Read] %w", err)
	}
	var s AuthFlowState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("[RedisRepo.Read] %w", err)
	}
	return &s, nil
}

func (r *RedisRepo) Clear(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("[RedisRepo.Clear] %w", err)
	}
	return nil
}
