package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/similarwords/anagramd/internal/config"
	"github.com/similarwords/anagramd/internal/model"
)

const (
	keyPrefix = "anagram:sig:"
	genPrefix = "anagram:gen:"
)

// setIfCurrent writes a class only while the signature's generation still
// matches the one read before the store load. A missing generation is "0".
var setIfCurrent = redis.NewScript(`
local gen = redis.call("GET", KEYS[1]) or "0"
if gen ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
else
	redis.call("SET", KEYS[2], ARGV[2])
end
return 1
`)

// Redis stores each class as a JSON list under a hashed signature key.
// Concurrent misses on the same key share one store load. Every Add bumps a
// per-signature generation, and a loaded class is only written back when no
// Add happened during the load. Generation keys carry no TTL.
type Redis struct {
	rdb    *redis.Client
	ttl    time.Duration
	group  singleflight.Group
	log    zerolog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// NewRedis connects to cfg.Addr and verifies the connection with a PING.
func NewRedis(cfg config.RedisConfig, log zerolog.Logger) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return newRedis(rdb, cfg.TTL, log), nil
}

func newRedis(rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *Redis {
	return &Redis{
		rdb: rdb,
		ttl: ttl,
		log: log.With().Str("component", "redis-cache").Logger(),
	}
}

func (r *Redis) key(signature string) string {
	return keyPrefix + hashSignature(signature)
}

func (r *Redis) genKey(signature string) string {
	return genPrefix + hashSignature(signature)
}

func hashSignature(signature string) string {
	sum := sha256.Sum256([]byte(signature))
	return fmt.Sprintf("%x", sum[:16])
}

// generation reads the current generation of a signature. ok is false when
// Redis could not be read, in which case nothing may be written back.
func (r *Redis) generation(ctx context.Context, genKey string) (gen string, ok bool) {
	gen, err := r.rdb.Get(ctx, genKey).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "0", true
	case err != nil:
		r.log.Error().Err(err).Str("key", genKey).Msg("cache generation read failed")
		return "", false
	}
	return gen, true
}

func (r *Redis) get(ctx context.Context, key string) ([]string, bool) {
	data, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Error().Err(err).Str("key", key).Msg("cache get failed")
		}
		return nil, false
	}
	var words []string
	if err := json.Unmarshal(data, &words); err != nil {
		r.log.Error().Err(err).Str("key", key).Msg("cache unmarshal failed")
		return nil, false
	}
	return words, true
}

func (r *Redis) set(ctx context.Context, genKey, key, gen string, words []string) {
	if words == nil {
		words = []string{}
	}
	data, err := json.Marshal(words)
	if err != nil {
		r.log.Error().Err(err).Str("key", key).Msg("cache marshal failed")
		return
	}
	written, err := setIfCurrent.Run(ctx, r.rdb, []string{genKey, key}, gen, data, r.ttl.Milliseconds()).Int()
	if err != nil {
		r.log.Error().Err(err).Str("key", key).Msg("cache set failed")
		return
	}
	if written == 0 {
		r.log.Debug().Str("key", key).Msg("class changed during load, not cached")
	}
}

// Load returns the cached class, loading it at most once across concurrent
// misses. Redis errors degrade to a store load.
func (r *Redis) Load(ctx context.Context, signature string, load func(ctx context.Context) ([]string, error)) ([]string, error) {
	key := r.key(signature)
	if words, ok := r.get(ctx, key); ok {
		r.hits.Add(1)
		return words, nil
	}
	r.misses.Add(1)

	genKey := r.genKey(signature)
	val, err, _ := r.group.Do(key, func() (any, error) {
		gen, genOK := r.generation(ctx, genKey)
		if words, ok := r.get(ctx, key); ok {
			return words, nil
		}
		words, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if genOK {
			r.set(ctx, genKey, key, gen, words)
		}
		return words, nil
	})
	if err != nil {
		return nil, err
	}
	return val.([]string), nil
}

// Add bumps the signature's generation and drops the cached class, so the
// next lookup reloads it with word and no in-flight load can write back a
// class that predates it.
func (r *Redis) Add(ctx context.Context, signature, _ string) {
	key := r.key(signature)
	r.group.Forget(key)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, r.genKey(signature))
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		r.log.Error().Err(err).Str("key", key).Msg("cache invalidate failed")
	}
}

// Rebuild deletes every cached class. Classes are reloaded lazily, so all is
// never called. Generation keys are kept so loads in flight stay fenced.
func (r *Redis) Rebuild(ctx context.Context, _ func(ctx context.Context) ([]model.Word, error)) error {
	var deleted int64
	iter := r.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := r.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("deleting key %s: %w", iter.Val(), err)
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scanning cache keys: %w", err)
	}
	r.log.Info().Int64("keys_deleted", deleted).Msg("cache reset")
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *Redis) Stats() (hits, misses int64) {
	return r.hits.Load(), r.misses.Load()
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
