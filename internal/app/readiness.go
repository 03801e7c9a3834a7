// Package app wires application components and startup helpers.
//
// It provides dependency injection and application initialization.
// The package coordinates between different layers and provides
// a clean application bootstrap process.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Pinger is the minimal interface for a database pool capable of Ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BuildReadinessChecks returns the db and redis readiness checks backing
// GET /readyz.
func BuildReadinessChecks(pool Pinger, redisClient *redis.Client) (
	dbCheck func(ctx context.Context) error,
	redisCheck func(ctx context.Context) error,
) {
	dbCheck = func(ctx context.Context) error {
		if pool == nil {
			return fmt.Errorf("db not configured")
		}
		return pool.Ping(ctx)
	}
	redisCheck = func(ctx context.Context) error {
		if redisClient == nil {
			return fmt.Errorf("redis not configured")
		}
		return redisClient.Ping(ctx).Err()
	}
	return dbCheck, redisCheck
}
