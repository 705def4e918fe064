package smtp

import (
	"context"
	"sync"

	"tempmail/lease/internal/ratelimit"
)

// ConnectionLimiter 按来源 IP 限制 SMTP 并发连接数和新建连接速率
type ConnectionLimiter struct {
	maxConns int
	rate     *ratelimit.Local

	mu      sync.Mutex
	current map[string]int
}

// NewConnectionLimiter 创建连接限流器
//
// 参数:
//   - maxConns: 每个 IP 的最大并发连接数
//   - perSecond: 每个 IP 每秒允许的新建连接数
func NewConnectionLimiter(maxConns int, perSecond float64) *ConnectionLimiter {
	if maxConns <= 0 {
		maxConns = 1
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &ConnectionLimiter{
		maxConns: maxConns,
		rate:     ratelimit.NewLocalRate(perSecond, burst),
		current:  make(map[string]int),
	}
}

// Acquire 获取连接许可
func (l *ConnectionLimiter) Acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current[ip] >= l.maxConns {
		return false
	}
	if ok, _ := l.rate.Allow(context.Background(), ip); !ok {
		return false
	}

	l.current[ip]++
	return true
}

// Release 释放连接
func (l *ConnectionLimiter) Release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current[ip] <= 1 {
		delete(l.current, ip)
		return
	}
	l.current[ip]--
}

// Current 某个 IP 当前的连接数
func (l *ConnectionLimiter) Current(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current[ip]
}
