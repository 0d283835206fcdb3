// Package credstore persists the session token and the cached user record
// between runs. It holds no logic beyond get/set/clear; deciding whether the
// stored session is still valid belongs to the session package.
package credstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"onebookreader/pkg/domain"
)

// Store is the credential store contract.
type Store interface {
	Token(ctx context.Context) (string, bool, error)
	User(ctx context.Context) (domain.User, bool, error)
	// Set replaces token and user together.
	Set(ctx context.Context, token string, user domain.User) error
	Clear(ctx context.Context) error
	Close() error
}

// Driver names accepted by Open.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
)

// Config selects and configures a Store implementation.
type Config struct {
	Driver        string
	RedisAddr     string
	RedisPassword string
	RedisPrefix   string
	RedisTTL      time.Duration
	SQLitePath    string
}

// Open builds the store named by cfg.Driver.
func Open(cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverSQLite:
		return NewSQLiteStore(cfg.SQLitePath)
	case DriverRedis:
		return NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisPrefix, cfg.RedisTTL)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown credential store driver: %s", cfg.Driver)
	}
}
