package artifact

import (
	"context"
	"fmt"
	"strings"

	rediscommon "github.com/lyzr/mend/common/redis"
)

// RedisStore keeps artifacts as Redis string values keyed by path. Useful
// for single-node deployments where the worker and API don't share a disk.
type RedisStore struct {
	redis *rediscommon.Client
}

// NewRedisStore creates a Redis-backed artifact store
func NewRedisStore(client *rediscommon.Client) *RedisStore {
	return &RedisStore{redis: client}
}

// Put stores content at the path key (no expiry; artifacts are history)
func (s *RedisStore) Put(ctx context.Context, path string, content []byte) error {
	return s.redis.Set(ctx, s.key(path), string(content), 0)
}

// Get retrieves content; ErrNotFound for missing paths
func (s *RedisStore) Get(ctx context.Context, path string) ([]byte, error) {
	val, err := s.redis.Get(ctx, s.key(path))
	if err != nil {
		if strings.Contains(err.Error(), "key not found") {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	return []byte(val), nil
}

// Exists reports whether a path has content
func (s *RedisStore) Exists(ctx context.Context, path string) (bool, error) {
	return s.redis.Exists(ctx, s.key(path))
}

func (s *RedisStore) key(path string) string {
	return fmt.Sprintf("artifact:%s", path)
}
