// Package cache provee el key-value store efímero del broker.
//
// Todo el estado cross-request de vida corta (authorization states, codes,
// access/refresh tokens opacos, ventanas de rate limit) vive acá con TTL.
// Backends: memory (desarrollo/testing) y Redis (producción).
package cache

import (
	"context"
	"time"
)

// Client define las operaciones del KV store.
type Client interface {
	// Get obtiene un valor. Retorna ErrNotFound si no existe o expiró.
	Get(ctx context.Context, key string) (string, error)

	// GetDel obtiene y elimina atómicamente. Es la primitiva de los entities
	// single-use: dos consumidores concurrentes del mismo code/refresh ven
	// exactamente un hit; el que pierde recibe ErrNotFound (fail closed).
	GetDel(ctx context.Context, key string) (string, error)

	// Set guarda un valor con TTL. ttl == 0 significa sin expiración.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete elimina una key. Idempotente.
	Delete(ctx context.Context, key string) error

	// Ping verifica la conexión.
	Ping(ctx context.Context) error

	// Close cierra la conexión.
	Close() error
}

// Config configuración para crear un cliente de cache.
type Config struct {
	Driver   string // "memory" | "redis"
	Addr     string
	Password string
	DB       int
	Prefix   string // prefijo para todas las keys
}

var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "cache: key not found" }

// IsNotFound verifica si el error es porque la key no existe.
func IsNotFound(err error) bool {
	_, ok := err.(errNotFound)
	return ok
}

// New crea un cliente de cache según la configuración.
func New(cfg Config) (Client, error) {
	switch cfg.Driver {
	case "redis":
		return NewRedis(cfg)
	default:
		return NewMemory(cfg.Prefix), nil
	}
}
