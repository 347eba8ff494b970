package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
)

const pendingValue = "pending"

// RedisStore Store поверх redis. Вызовы идут через circuit breaker: при открытом
// breaker хранилище сразу отвечает ErrUnavailable.
type RedisStore struct {
	client  *redis.Client
	ttl     time.Duration
	breaker *gobreaker.CircuitBreaker[any]
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    ttl,
		breaker: gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:        "idempotency-redis",
			MaxRequests: 1,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		}),
	}
}

var _ Store = (*RedisStore)(nil)

func storeKey(key string) string {
	return fmt.Sprintf("checkout:idempotency:%s", key)
}

func (r *RedisStore) do(fn func() (any, error)) (any, error) {
	res, err := r.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return res, err
}

func (r *RedisStore) Begin(ctx context.Context, key string) (int64, bool, error) {
	k := storeKey(key)
	res, err := r.do(func() (any, error) {
		ok, err := r.client.SetNX(ctx, k, pendingValue, min(InFlightTTL, r.ttl)).Result()
		if err != nil {
			return nil, fmt.Errorf("redis setnx failed: %w", err)
		}
		if ok {
			return "", nil
		}
		v, err := r.client.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			// expired between the two calls
			return pendingValue, nil
		}
		if err != nil {
			return nil, fmt.Errorf("redis get failed: %w", err)
		}
		return v, nil
	})
	if err != nil {
		return 0, false, err
	}
	switch v := res.(string); v {
	case "":
		return 0, false, nil
	case pendingValue:
		return 0, false, ErrInFlight
	default:
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("malformed idempotency value %q: %w", v, err)
		}
		return id, true, nil
	}
}

func (r *RedisStore) Complete(ctx context.Context, key string, orderID int64) error {
	_, err := r.do(func() (any, error) {
		if err := r.client.Set(ctx, storeKey(key), strconv.FormatInt(orderID, 10), r.ttl).Err(); err != nil {
			return nil, fmt.Errorf("redis set failed: %w", err)
		}
		return nil, nil
	})
	return err
}

func (r *RedisStore) Abort(ctx context.Context, key string) error {
	_, err := r.do(func() (any, error) {
		if err := r.client.Del(ctx, storeKey(key)).Err(); err != nil {
			return nil, fmt.Errorf("redis delete failed: %w", err)
		}
		return nil, nil
	})
	return err
}
