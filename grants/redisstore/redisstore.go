package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jrsteele09/go-oidc-provider/grants"
	"github.com/jrsteele09/go-oidc-provider/internal/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	DefaultKeyPrefix    = "oidc:"
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
	connectMaxTries     = 5
)

var _ grants.Store = (*Store)(nil)

// takeScript reads and deletes a key in one step.
var takeScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v then
	redis.call('DEL', KEYS[1])
end
return v
`)

// Config holds the redis connection settings.
type Config struct {
	Addr      string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
}

// Store keeps each grant as a JSON blob with a TTL matching its expiration. Subject and
// client index sets support RemoveAll; their stale members are pruned by RemoveExpired.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
	nowTime   func() time.Time
}

type Option func(*Store)

func WithNowTime(now func() time.Time) Option {
	return func(s *Store) {
		s.nowTime = now
	}
}

// New wraps an existing client, e.g. one pointed at miniredis in tests.
func New(client redis.UniversalClient, keyPrefix string, opts ...Option) *Store {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	s := &Store{client: client, keyPrefix: keyPrefix, nowTime: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect dials redis, retrying the initial ping with exponential backoff.
func Connect(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	})
	_, err := backoff.Retry(ctx, func() (string, error) {
		return client.Ping(ctx).Result()
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(connectMaxTries),
		backoff.WithNotify(func(err error, d time.Duration) {
			log.Warn().Err(err).Dur("retry_in", d).Str("addr", cfg.Addr).Msg("redis not reachable")
		}),
	)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("[redisstore.Connect] failed to connect to redis: %w", err)
	}
	return New(client, cfg.KeyPrefix, opts...), nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying client so other stores can share the connection.
func (s *Store) Client() redis.UniversalClient {
	return s.client
}

func (s *Store) grantKey(key string) string {
	return s.keyPrefix + "grant:" + key
}

func (s *Store) subjectIndex(subject string) string {
	return s.keyPrefix + "idx:sub:" + subject
}

func (s *Store) clientIndex(client string) string {
	return s.keyPrefix + "idx:client:" + client
}

func (s *Store) Get(ctx context.Context, key string) (*grants.PersistedGrant, error) {
	data, err := s.client.Get(ctx, s.grantKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errors.ErrNotFound
		}
		return nil, fmt.Errorf("[redisstore.Get] %w", err)
	}
	return s.decode(data)
}

func (s *Store) Set(ctx context.Context, grant *grants.PersistedGrant) error {
	var ttl time.Duration
	if grant.Expiration != nil {
		ttl = grant.Expiration.Sub(s.nowTime())
		if ttl <= 0 {
			return s.Remove(ctx, grant.Key)
		}
	}
	data, err := json.Marshal(grant)
	if err != nil {
		return fmt.Errorf("[redisstore.Set] encode: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.grantKey(grant.Key), data, ttl)
		if grant.SubjectID != "" {
			pipe.SAdd(ctx, s.subjectIndex(grant.SubjectID), grant.Key)
		}
		if grant.ClientID != "" {
			pipe.SAdd(ctx, s.clientIndex(grant.ClientID), grant.Key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("[redisstore.Set] %w", err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.grantKey(key)).Err(); err != nil {
		return fmt.Errorf("[redisstore.Remove] %w", err)
	}
	return nil
}

func (s *Store) Take(ctx context.Context, key string) (*grants.PersistedGrant, error) {
	res, err := takeScript.Run(ctx, s.client, []string{s.grantKey(key)}).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errors.ErrNotFound
		}
		return nil, fmt.Errorf("[redisstore.Take] %w", err)
	}
	return s.decode([]byte(res))
}

func (s *Store) GetAll(ctx context.Context, filter grants.Filter) ([]*grants.PersistedGrant, error) {
	return s.scanIndex(ctx, filter)
}

func (s *Store) RemoveAll(ctx context.Context, filter grants.Filter) (int, error) {
	matches, err := s.scanIndex(ctx, filter)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, g := range matches {
		removed, err := s.client.Del(ctx, s.grantKey(g.Key)).Result()
		if err != nil {
			return n, fmt.Errorf("[redisstore.RemoveAll] %w", err)
		}
		n += int(removed)
		if err := s.unindex(ctx, g); err != nil {
			return n, fmt.Errorf("[redisstore.RemoveAll] %w", err)
		}
	}
	return n, nil
}

// RemoveExpired prunes index entries whose grant has expired. Redis expires the grants
// themselves through their TTL.
func (s *Store) RemoveExpired(ctx context.Context, batchSize int) (int, error) {
	removed := 0
	iter := s.client.Scan(ctx, 0, s.keyPrefix+"idx:*", int64(batchSize)).Iterator()
	for iter.Next(ctx) && removed < batchSize {
		idx := iter.Val()
		members, err := s.client.SMembers(ctx, idx).Result()
		if err != nil {
			return removed, fmt.Errorf("[redisstore.RemoveExpired] %w", err)
		}
		for _, m := range members {
			if removed >= batchSize {
				break
			}
			exists, err := s.client.Exists(ctx, s.grantKey(m)).Result()
			if err != nil {
				return removed, fmt.Errorf("[redisstore.RemoveExpired] %w", err)
			}
			if exists == 0 {
				if err := s.client.SRem(ctx, idx, m).Err(); err != nil {
					return removed, fmt.Errorf("[redisstore.RemoveExpired] %w", err)
				}
				removed++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("[redisstore.RemoveExpired] %w", err)
	}
	return removed, nil
}

func (s *Store) scanIndex(ctx context.Context, filter grants.Filter) ([]*grants.PersistedGrant, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	idx := s.clientIndex(filter.ClientID)
	if filter.SubjectID != "" {
		idx = s.subjectIndex(filter.SubjectID)
	}
	members, err := s.client.SMembers(ctx, idx).Result()
	if err != nil {
		return nil, fmt.Errorf("[redisstore.scanIndex] %w", err)
	}
	out := make([]*grants.PersistedGrant, 0, len(members))
	for _, m := range members {
		g, err := s.Get(ctx, m)
		if errors.Is(err, errors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter.Matches(g) {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *Store) unindex(ctx context.Context, g *grants.PersistedGrant) error {
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		if g.SubjectID != "" {
			pipe.SRem(ctx, s.subjectIndex(g.SubjectID), g.Key)
		}
		if g.ClientID != "" {
			pipe.SRem(ctx, s.clientIndex(g.ClientID), g.Key)
		}
		return nil
	})
	return err
}

func (s *Store) decode(data []byte) (*grants.PersistedGrant, error) {
	var g grants.PersistedGrant
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("[redisstore] decode grant: %w", err)
	}
	if g.Expired(s.nowTime()) {
		return nil, errors.ErrNotFound
	}
	return &g, nil
}
