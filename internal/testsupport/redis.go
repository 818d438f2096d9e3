package testsupport

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// StartRedis runs an in-process Redis server for the lifetime of the test.
func StartRedis(t testing.TB) *miniredis.Miniredis {
	t.Helper()
	return miniredis.RunT(t)
}

// NewRedisClient starts a miniredis server and returns a client bound to it.
func NewRedisClient(t testing.TB) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	srv := StartRedis(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client, srv
}
