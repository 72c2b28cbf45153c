package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"automation/internal/notify"
)

const notificationTTL = 30 * 24 * time.Hour

// RedisConfig holds connection settings for the notification store.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Redis is a go-redis implementation of the notification store: one JSON
// value per notification plus a time-scored index for period queries.
type Redis struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedis(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("redis connection established",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
	)
	return &Redis{rdb: rdb, logger: logger}, nil
}

// newRedisFromClient wires an existing client; used by tests with miniredis.
func newRedisFromClient(rdb *redis.Client, logger *zap.Logger) *Redis {
	return &Redis{rdb: rdb, logger: logger}
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

func notificationKey(id string) string {
	return "notification:" + id
}

const notificationIndex = "notifications:by_time"

// Save implements notify.Store.
func (r *Redis) Save(ctx context.Context, n *notify.SmartNotification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, notificationKey(n.ID), data, notificationTTL)
	pipe.ZAdd(ctx, notificationIndex, redis.Z{
		Score:  float64(n.CreatedAt.UnixMilli()),
		Member: n.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store notification %s: %w", n.ID, err)
	}

	r.logger.Debug("notification stored",
		zap.String("notification_id", n.ID),
		zap.String("recipient_id", n.RecipientID),
	)
	return nil
}

func (r *Redis) Get(ctx context.Context, id string) (*notify.SmartNotification, error) {
	data, err := r.rdb.Get(ctx, notificationKey(id)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("notification %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get notification %s: %w", id, err)
	}

	var n notify.SmartNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("unmarshal notification %s: %w", id, err)
	}
	return &n, nil
}

func (r *Redis) MarkRead(ctx context.Context, id string, at time.Time) error {
	n, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	n.IsRead = true
	n.ReadAt = &at

	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := r.rdb.Set(ctx, notificationKey(id), data, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("mark notification %s read: %w", id, err)
	}
	return nil
}

// ListSince returns notifications created at or after the cutoff, oldest
// first, via the time-scored index.
func (r *Redis) ListSince(ctx context.Context, since time.Time) ([]*notify.SmartNotification, error) {
	ids, err := r.rdb.ZRangeByScore(ctx, notificationIndex, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", since.UnixMilli()),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("query notification index: %w", err)
	}

	out := make([]*notify.SmartNotification, 0, len(ids))
	for _, id := range ids {
		n, err := r.Get(ctx, id)
		if err != nil {
			// Index entries can outlive expired values.
			continue
		}
		out = append(out, n)
	}
	return out, nil
}
