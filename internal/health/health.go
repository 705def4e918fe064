package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

// Pinger 可被探测的依赖
type Pinger interface {
	Health() error
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	checks map[string]Pinger
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器，store 作为存活检查，redis 为 nil 时跳过
func NewHealthChecker(store Pinger, redis Pinger, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		checks: map[string]Pinger{"database": store},
		logger: logger,
	}
	if redis != nil {
		hc.checks["redis"] = redis
	}

	hc.addChecks()
	return hc
}

func (hc *HealthChecker) addChecks() {
	hc.health.AddLivenessCheck("database", hc.timed("database", hc.checks["database"]))

	// redis 只影响限流，不判定进程存活
	if redis, ok := hc.checks["redis"]; ok {
		hc.health.AddReadinessCheck("redis", hc.timed("redis", redis))
	}
}

func (hc *HealthChecker) timed(name string, p Pinger) healthcheck.Check {
	return healthcheck.Timeout(func() error {
		if err := p.Health(); err != nil {
			hc.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			return err
		}
		return nil
	}, 5*time.Second)
}

// Handler 返回健康检查处理器，提供 /live 和 /ready
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// CheckHealth 执行全部检查并返回汇总结果
func (hc *HealthChecker) CheckHealth(ctx context.Context) map[string]string {
	results := make(map[string]string, len(hc.checks)+1)
	for name, p := range hc.checks {
		if ctx.Err() != nil {
			results[name] = "ERROR: " + ctx.Err().Error()
			continue
		}
		if err := p.Health(); err != nil {
			results[name] = fmt.Sprintf("ERROR: %v", err)
		} else {
			results[name] = "OK"
		}
	}
	results["timestamp"] = time.Now().Format(time.RFC3339)
	return results
}

// Healthy 所有检查是否都通过
func Healthy(results map[string]string) bool {
	for name, v := range results {
		if name != "timestamp" && v != "OK" {
			return false
		}
	}
	return true
}
