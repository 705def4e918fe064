package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/lease/internal/domain"
	"tempmail/lease/internal/service"
)

// AdminHandler 角色管理和手动清理
type AdminHandler struct {
	roles   *service.RoleService
	cleanup *service.CleanupService
	log     *zap.Logger
}

// NewAdminHandler 创建管理处理器
func NewAdminHandler(roles *service.RoleService, cleanup *service.CleanupService, log *zap.Logger) *AdminHandler {
	return &AdminHandler{roles: roles, cleanup: cleanup, log: log}
}

type setRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

type roleResponse struct {
	UserID string             `json:"userId"`
	Role   domain.Role        `json:"role"`
	Policy *domain.RolePolicy `json:"policy,omitempty"`
}

// SetRole godoc
// @Summary 设置用户角色
// @Tags Admin
// @Accept json
// @Produce json
// @Param userId path string true "用户ID"
// @Param request body setRoleRequest true "角色"
// @Success 200 {object} roleResponse
// @Failure 400 {object} Response
// @Router /v1/admin/users/{userId}/role [put]
func (h *AdminHandler) SetRole(c *gin.Context) {
	userID := c.Param("userId")
	if userID == "" {
		BadRequest(c, MsgUserIDRequired)
		return
	}

	var req setRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	policy, err := h.roles.SetRole(c.Request.Context(), userID, req.Role)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	role, _ := domain.ParseRole(req.Role)
	h.log.Info("role changed", zap.String("user_id", userID), zap.String("role", string(role)))
	Success(c, roleResponse{UserID: userID, Role: role, Policy: &policy})
}

// GetRole 查询用户角色，没有记录时为 regular
func (h *AdminHandler) GetRole(c *gin.Context) {
	userID := c.Param("userId")
	role, err := h.roles.GetRole(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, roleResponse{UserID: userID, Role: role})
}

// Sweep 立即执行一次清理
func (h *AdminHandler) Sweep(c *gin.Context) {
	result, err := h.cleanup.Run(c.Request.Context())
	if err != nil {
		// 部分失败时仍返回统计
		h.log.Error("manual sweep finished with errors", zap.Error(err))
		if result == nil {
			InternalError(c, MsgInternalError)
			return
		}
	}
	Success(c, result)
}
