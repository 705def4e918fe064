package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RoleChecker 判断用户是否为管理员
type RoleChecker interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// AdminAuth 管理员权限中间件
type AdminAuth struct {
	roles RoleChecker
	log   *zap.Logger
}

// NewAdminAuth 创建管理员权限中间件
func NewAdminAuth(roles RoleChecker, log *zap.Logger) *AdminAuth {
	if log == nil {
		log = zap.NewNop()
	}
	return &AdminAuth{roles: roles, log: log}
}

// RequireAdmin 要求 admin 角色，必须放在 RequireAuth 之后
func (a *AdminAuth) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := UserID(c)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		isAdmin, err := a.roles.IsAdmin(c.Request.Context(), userID)
		if err != nil {
			a.log.Error("role lookup failed", zap.String("user_id", userID), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		if !isAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required"})
			return
		}

		c.Next()
	}
}
