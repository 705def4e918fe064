package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/lease/internal/domain"
	"tempmail/lease/internal/middleware"
	"tempmail/lease/internal/service"
)

// LeaseHandler 租约接口，持有者是 JWT 中的 user_id
type LeaseHandler struct {
	leases *service.LeaseService
	log    *zap.Logger
}

// NewLeaseHandler 创建租约处理器
func NewLeaseHandler(leases *service.LeaseService, log *zap.Logger) *LeaseHandler {
	return &LeaseHandler{leases: leases, log: log}
}

type createCustomRequest struct {
	LocalPart string `json:"localPart" binding:"required"`
}

type selectLeaseRequest struct {
	Email string `json:"email" binding:"required"`
}

type leaseStatusResponse struct {
	Email  string             `json:"email"`
	Status domain.LeaseStatus `json:"status"`
}

type existsResponse struct {
	Email  string `json:"email"`
	Exists bool   `json:"exists"`
}

type domainsResponse struct {
	Domains []string `json:"domains"`
	Default string   `json:"default"`
}

// Domains godoc
// @Summary 可分配的域名
// @Tags Leases
// @Produce json
// @Success 200 {object} domainsResponse
// @Router /v1/domains [get]
func (h *LeaseHandler) Domains(c *gin.Context) {
	validator := h.leases.Validator()
	Success(c, domainsResponse{
		Domains: validator.Domains(),
		Default: validator.DefaultDomain(),
	})
}

// Create godoc
// @Summary 分配随机邮箱
// @Tags Leases
// @Produce json
// @Success 201 {object} domain.Allocation
// @Failure 409 {object} Response
// @Router /v1/leases [post]
func (h *LeaseHandler) Create(c *gin.Context) {
	allocation, err := h.leases.Create(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Created(c, allocation)
}

// CreateCustom godoc
// @Summary 分配自定义邮箱
// @Tags Leases
// @Accept json
// @Produce json
// @Param request body createCustomRequest true "本地部分"
// @Success 201 {object} domain.Allocation
// @Failure 400 {object} Response
// @Failure 409 {object} Response
// @Router /v1/leases/custom [post]
func (h *LeaseHandler) CreateCustom(c *gin.Context) {
	var req createCustomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	allocation, err := h.leases.CreateCustom(c.Request.Context(), middleware.UserID(c), req.LocalPart)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Created(c, allocation)
}

// List 返回自己的有效租约和可认领的过期租约
func (h *LeaseHandler) List(c *gin.Context) {
	listing, err := h.leases.List(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, listing)
}

// Select godoc
// @Summary 认领过期邮箱
// @Tags Leases
// @Accept json
// @Produce json
// @Param request body selectLeaseRequest true "邮箱地址"
// @Success 200 {object} domain.Allocation
// @Failure 404 {object} Response
// @Failure 409 {object} Response
// @Router /v1/leases/select [post]
func (h *LeaseHandler) Select(c *gin.Context) {
	var req selectLeaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	allocation, err := h.leases.Select(c.Request.Context(), middleware.UserID(c), req.Email)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, allocation)
}

// Status 查询自己名下租约的状态
func (h *LeaseHandler) Status(c *gin.Context) {
	email := c.Param("email")
	status, found, err := h.leases.GetStatus(c.Request.Context(), email, middleware.UserID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if !found {
		NotFound(c, "租约不存在")
		return
	}
	Success(c, leaseStatusResponse{Email: email, Status: status})
}

// Exists 查询地址是否已被占用，不论状态和持有者
func (h *LeaseHandler) Exists(c *gin.Context) {
	email := c.Param("email")
	exists, err := h.leases.Exists(c.Request.Context(), email)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, existsResponse{Email: email, Exists: exists})
}

// Delete 删除自己的租约和邮件。不是持有者时静默成功。
func (h *LeaseHandler) Delete(c *gin.Context) {
	if err := h.leases.DeleteLease(c.Request.Context(), middleware.UserID(c), c.Param("email")); err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, "删除成功", nil)
}
