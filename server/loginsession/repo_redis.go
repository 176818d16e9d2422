package loginsession

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jrsteele09/go-oidc-provider/internal/errors"
	"github.com/jrsteele09/go-oidc-provider/oauthmodel"
	"github.com/redis/go-redis/v9"
)

// RedisLoginSessionRepo keeps sessions in redis so any instance can serve the cookie.
type RedisLoginSessionRepo struct {
	client    redis.UniversalClient
	keyPrefix string
}

func NewRedisLoginSessionRepo(client redis.UniversalClient, keyPrefix string) *RedisLoginSessionRepo {
	return &RedisLoginSessionRepo{client: client, keyPrefix: keyPrefix}
}

func (r *RedisLoginSessionRepo) key(cookieID string) string {
	return r.keyPrefix + ":session:" + cookieID
}

func (r *RedisLoginSessionRepo) Upsert(ctx context.Context, cookieID string, session *oauthmodel.Session, ttl time.Duration) error {
	if cookieID == "" || session == nil {
		return fmt.Errorf("[RedisLoginSessionRepo.Upsert] cookie id and session are required")
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("[RedisLoginSessionRepo.Upsert] %w", err)
	}
	if err := r.client.Set(ctx, r.key(cookieID), data, ttl).Err(); err != nil {
		return fmt.Errorf("[RedisLoginSessionRepo.Upsert] %w", err)
	}
	return nil
}

func (r *RedisLoginSessionRepo) Get(ctx context.Context, cookieID string) (*oauthmodel.Session, error) {
	data, err := r.client.Get(ctx, r.key(cookieID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("[RedisLoginSessionRepo.Get] %w", err)
	}
	var s oauthmodel.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("[RedisLoginSessionRepo.Get] %w", err)
	}
	return &s, nil
}

func (r *RedisLoginSessionRepo) Delete(ctx context.Context, cookieID string) error {
	if err := r.client.Del(ctx, r.key(cookieID)).Err(); err != nil {
		return fmt.Errorf("[RedisLoginSessionRepo.Delete] %w", err)
	}
	return nil
}
