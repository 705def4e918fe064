package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tempmail/lease/internal/storage/memory"
	"tempmail/lease/internal/storage/redis"
)

type pingerFunc func() error

func (f pingerFunc) Health() error { return f() }

func TestHealthChecker(t *testing.T) {
	t.Run("全部健康", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), zap.NewNop())

		hc := NewHealthChecker(memory.NewStore(), client, zap.NewNop())
		results := hc.CheckHealth(context.Background())

		assert.Equal(t, "OK", results["database"])
		assert.Equal(t, "OK", results["redis"])
		assert.True(t, Healthy(results))

		rec := httptest.NewRecorder()
		hc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("数据库故障时存活检查失败", func(t *testing.T) {
		hc := NewHealthChecker(pingerFunc(func() error { return errors.New("db down") }), nil, zap.NewNop())

		results := hc.CheckHealth(context.Background())
		require.Contains(t, results["database"], "db down")
		assert.NotContains(t, results, "redis")
		assert.False(t, Healthy(results))

		rec := httptest.NewRecorder()
		hc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("redis故障只影响就绪检查", func(t *testing.T) {
		redisDown := pingerFunc(func() error { return errors.New("redis down") })
		hc := NewHealthChecker(memory.NewStore(), redisDown, zap.NewNop())

		rec := httptest.NewRecorder()
		hc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = httptest.NewRecorder()
		hc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
