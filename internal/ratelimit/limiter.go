// Package ratelimit 提供按 key 计数的限流器，HTTP 中间件、机器人命令和 SMTP 共用。
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter 判断某个 key 的本次请求是否放行
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Local 进程内的令牌桶限流，每个 key 一个 rate.Limiter，长时间未访问的 key 会被回收
type Local struct {
	mu          sync.Mutex
	entries     map[string]*entry
	limit       rate.Limit
	burst       int
	maxIdle     time.Duration
	nextCleanup time.Time
}

// NewLocal 创建限流器，perMinute 为每分钟允许的次数，同时作为突发上限
func NewLocal(perMinute int) *Local {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &Local{
		entries: make(map[string]*entry),
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   perMinute,
		maxIdle: 10 * time.Minute,
	}
}

// NewLocalRate 直接指定每秒速率和突发上限
func NewLocalRate(perSecond float64, burst int) *Local {
	if burst <= 0 {
		burst = 1
	}
	return &Local{
		entries: make(map[string]*entry),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		maxIdle: 10 * time.Minute,
	}
}

// Allow 实现 Limiter，本地实现不会返回错误
func (l *Local) Allow(_ context.Context, key string) (bool, error) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.nextCleanup) {
		for k, e := range l.entries {
			if now.Sub(e.lastAccess) > l.maxIdle {
				delete(l.entries, k)
			}
		}
		l.nextCleanup = now.Add(time.Minute)
	}

	e, ok := l.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.lastAccess = now

	return e.limiter.AllowN(now, 1), nil
}

// Len 当前跟踪的 key 数量
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
