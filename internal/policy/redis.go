package policy

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// #region redis-backend

// RedisBackend stores one hash per state under "<key>:q:<state>" with
// action -> value fields, plus a set "<key>:states" indexing the rows.
type RedisBackend struct {
	client redis.UniversalClient
	key    string
	owned  bool
}

// RedisOptions configures a RedisBackend connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// NewRedisBackend dials a dedicated client for this backend.
func NewRedisBackend(opts RedisOptions) *RedisBackend {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &RedisBackend{client: client, key: opts.Key, owned: true}
}

// NewRedisBackendWithClient shares an existing client; Close leaves it open.
func NewRedisBackendWithClient(client redis.UniversalClient, key string) *RedisBackend {
	return &RedisBackend{client: client, key: key}
}

func (b *RedisBackend) statesKey() string { return b.key + ":states" }

func (b *RedisBackend) rowKey(state string) string { return b.key + ":q:" + state }

// Ping verifies the server is reachable.
func (b *RedisBackend) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// #endregion redis-backend

// #region load
// Load reads every indexed state row.
func (b *RedisBackend) Load(ctx context.Context) (Table, error) {
	states, err := b.client.SMembers(ctx, b.statesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("read state index: %w", err)
	}
	if len(states) == 0 {
		return nil, ErrNotFound
	}

	t := make(Table, len(states))
	for _, state := range states {
		fields, err := b.client.HGetAll(ctx, b.rowKey(state)).Result()
		if err != nil {
			return nil, fmt.Errorf("read row %s: %w", state, err)
		}
		for action, raw := range fields {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("parse %s/%s: %w", state, action, err)
			}
			t.Set(state, action, v)
		}
	}
	return t, nil
}

// #endregion load

// #region save
// Save rewrites all rows in a MULTI/EXEC transaction.
func (b *RedisBackend) Save(ctx context.Context, t Table) error {
	old, err := b.client.SMembers(ctx, b.statesKey()).Result()
	if err != nil {
		return fmt.Errorf("read state index: %w", err)
	}

	pipe := b.client.TxPipeline()
	for _, state := range old {
		pipe.Del(ctx, b.rowKey(state))
	}
	pipe.Del(ctx, b.statesKey())
	for state, row := range t {
		if len(row) == 0 {
			continue
		}
		fields := make(map[string]interface{}, len(row))
		for action, v := range row {
			fields[action] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		pipe.HSet(ctx, b.rowKey(state), fields)
		pipe.SAdd(ctx, b.statesKey(), state)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write q table: %w", err)
	}
	return nil
}

// #endregion save

// Close closes the client when this backend created it.
func (b *RedisBackend) Close() error {
	if !b.owned {
		return nil
	}
	return b.client.Close()
}
