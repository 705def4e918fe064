package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AccessChecker 判断用户能否读取某个地址的邮件
type AccessChecker interface {
	CanAccess(ctx context.Context, userID, email string) (bool, error)
}

// LeaseGuard 收件箱访问控制：有效租约的邮箱只对持有者开放
type LeaseGuard struct {
	leases AccessChecker
	log    *zap.Logger
}

// NewLeaseGuard 创建收件箱访问中间件
func NewLeaseGuard(leases AccessChecker, log *zap.Logger) *LeaseGuard {
	if log == nil {
		log = zap.NewNop()
	}
	return &LeaseGuard{leases: leases, log: log}
}

// RequireAccess 检查路径参数 param 中的地址
func (g *LeaseGuard) RequireAccess(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		address := strings.ToLower(strings.TrimSpace(c.Param(param)))
		if address == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "address required"})
			return
		}

		userID := UserID(c)
		ok, err := g.leases.CanAccess(c.Request.Context(), userID, address)
		if err != nil {
			g.log.Error("lease lookup failed", zap.String("address", address), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		if !ok {
			g.log.Warn("inbox access denied",
				zap.String("address", address),
				zap.String("user_id", userID),
				zap.String("ip", c.ClientIP()),
			)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "mailbox is leased by another user"})
			return
		}

		c.Set("address", address)
		c.Next()
	}
}
