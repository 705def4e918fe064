package httptransport

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/lease/internal/domain"
	"tempmail/lease/internal/middleware"
	"tempmail/lease/internal/service"
)

// InboxHandler 收件箱读取，访问控制由 LeaseGuard 完成
type InboxHandler struct {
	messages *service.MessageService
	leases   *service.LeaseService
	log      *zap.Logger
}

// NewInboxHandler 创建收件箱处理器
func NewInboxHandler(messages *service.MessageService, leases *service.LeaseService, log *zap.Logger) *InboxHandler {
	return &InboxHandler{messages: messages, leases: leases, log: log}
}

type messageListResponse struct {
	Address string                  `json:"address"`
	Items   []domain.MessageSummary `json:"items"`
	Total   int64                   `json:"total"`
	Limit   int                     `json:"limit"`
	Offset  int                     `json:"offset"`
}

type countResponse struct {
	Address string `json:"address"`
	Count   int64  `json:"count"`
}

type deletedResponse struct {
	Address string `json:"address"`
	Deleted int64  `json:"deleted"`
}

type messageDeletedResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// List godoc
// @Summary 列出收件箱邮件
// @Tags Inbox
// @Produce json
// @Param address path string true "邮箱地址"
// @Param limit query int false "每页数量，默认20，最大100"
// @Param offset query int false "偏移量"
// @Success 200 {object} messageListResponse
// @Failure 403 {object} Response
// @Router /v1/inbox/{address} [get]
func (h *InboxHandler) List(c *gin.Context) {
	address := c.GetString("address")
	limit, _ := strconv.Atoi(c.Query("limit"))
	limit = service.PageLimit(limit)
	offset, _ := strconv.Atoi(c.Query("offset"))
	if offset < 0 {
		offset = 0
	}

	messages, err := h.messages.ListByRecipient(c.Request.Context(), address, limit, offset)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	total, err := h.messages.CountByRecipient(c.Request.Context(), address)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	items := make([]domain.MessageSummary, 0, len(messages))
	for i := range messages {
		items = append(items, messages[i].Summary())
	}
	Success(c, messageListResponse{
		Address: address,
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

// Count 收件箱邮件数量
func (h *InboxHandler) Count(c *gin.Context) {
	address := c.GetString("address")
	count, err := h.messages.CountByRecipient(c.Request.Context(), address)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, countResponse{Address: address, Count: count})
}

// Clear 清空收件箱，租约保留
func (h *InboxHandler) Clear(c *gin.Context) {
	address := c.GetString("address")
	deleted, err := h.messages.DeleteByRecipient(c.Request.Context(), address)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, deletedResponse{Address: address, Deleted: deleted})
}

// GetMessage 读取单封邮件，收件地址有租约时只对持有者开放
func (h *InboxHandler) GetMessage(c *gin.Context) {
	message, ok := h.accessibleMessage(c)
	if !ok {
		return
	}
	Success(c, message)
}

// DeleteMessage 删除单封邮件，权限与 GetMessage 相同
func (h *InboxHandler) DeleteMessage(c *gin.Context) {
	message, ok := h.accessibleMessage(c)
	if !ok {
		return
	}
	if err := h.messages.Delete(c.Request.Context(), message.ID); err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, messageDeletedResponse{ID: message.ID, Deleted: true})
}

// accessibleMessage 读取路径中的邮件并检查收件地址的访问权，失败时已写入响应
func (h *InboxHandler) accessibleMessage(c *gin.Context) (*domain.Message, bool) {
	message, err := h.messages.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return nil, false
	}

	ok, err := h.leases.CanAccess(c.Request.Context(), middleware.UserID(c), message.To)
	if err != nil {
		respondError(c, h.log, err)
		return nil, false
	}
	if !ok {
		// 不暴露邮件是否存在
		NotFound(c, MsgMessageNotFound)
		return nil, false
	}
	return message, true
}
