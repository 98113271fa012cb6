// Package rate implementa los techos fixed-window del broker: llamadas
// salientes a proveedores (keyed "provider:user") y endpoints OAuth inbound
// (keyed por IP).
package rate

import (
	"context"
	"fmt"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

// Result es el veredicto de una ventana. RetryAfter solo viene en rechazos.
type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// Key arma la clave saliente por proveedor y usuario.
func Key(provider, userID string) string {
	return provider + ":" + userID
}

// redisLimiter cuenta hits por slot de ventana con INCR y deja que redis
// expire el contador. Compartido entre instancias del broker.
type redisLimiter struct {
	client *rdb.Client
	prefix string
	max    int64
	window time.Duration
}

func NewRedisLimiter(client *rdb.Client, prefix string, max int, window time.Duration) Limiter {
	if prefix == "" {
		prefix = "rl:"
	}
	return &redisLimiter{client: client, prefix: prefix, max: int64(max), window: window}
}

func (l *redisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	slot := time.Now().UTC().Truncate(l.window)

	pipe := l.client.TxPipeline()
	hits := pipe.Incr(ctx, l.slotKey(key, slot))
	// NX: la expiración la fija quien abre la ventana, el resto no la pisa
	pipe.ExpireNX(ctx, l.slotKey(key, slot), l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("rate: incr %s: %w", key, err)
	}

	return verdict(hits.Val(), l.max, slot.Add(l.window)), nil
}

func (l *redisLimiter) slotKey(key string, slot time.Time) string {
	return fmt.Sprintf("%s%s:%d", l.prefix, key, slot.Unix())
}

// verdict traduce el contador del slot a un Result.
func verdict(hits, limit int64, slotEnd time.Time) Result {
	res := Result{
		Allowed:   hits <= limit,
		Remaining: max(limit-hits, 0),
	}
	if !res.Allowed {
		res.RetryAfter = max(time.Until(slotEnd), time.Second)
	}
	return res
}
