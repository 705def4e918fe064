package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/lease/internal/domain"
	"tempmail/lease/internal/service"
)

// errorEntry 业务错误对应的状态码和中文消息
type errorEntry struct {
	err    error
	status int
	msg    string
}

// 错误映射表，按顺序用 errors.Is 匹配
var errorMessages = []errorEntry{
	// 租约错误
	{service.ErrQuotaExceeded, http.StatusConflict, "有效邮箱数量已达上限"},
	{service.ErrAlreadyExists, http.StatusConflict, "邮箱地址已被占用"},
	{service.ErrMailboxUnavailable, http.StatusNotFound, "邮箱不存在或不可认领"},
	{service.ErrAllocationExhausted, http.StatusServiceUnavailable, "暂时无法分配地址，请稍后重试"},

	// 校验错误
	{domain.ErrDomainNotFound, http.StatusBadRequest, "域名不在服务范围内"},
	{domain.ErrInvalidEmail, http.StatusBadRequest, "邮箱地址格式无效"},
	{service.ErrInvalidRole, http.StatusBadRequest, "角色无效，可选 regular、vip、admin"},

	// 邮件错误
	{service.ErrMessageNotFound, http.StatusNotFound, "邮件不存在"},

	// 存储错误
	{service.ErrPersistence, http.StatusInternalServerError, MsgInternalError},
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	_, msg := classify(err)
	return msg
}

func classify(err error) (int, string) {
	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		return http.StatusBadRequest, validation.Error()
	}
	for _, entry := range errorMessages {
		if errors.Is(err, entry.err) {
			return entry.status, entry.msg
		}
	}
	return http.StatusInternalServerError, MsgInternalError
}

// respondError 把业务错误写成统一响应，5xx 记录日志
func respondError(c *gin.Context, log *zap.Logger, err error) {
	status, msg := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	Error(c, status, msg)
}

// 通用错误消息
const (
	// 请求相关
	MsgInvalidRequest = "请求参数格式错误"
	MsgEmailRequired  = "缺少邮箱地址"
	MsgUserIDRequired = "缺少用户ID"

	// 邮件相关
	MsgMessageNotFound = "邮件不存在"
	MsgInboxForbidden  = "该邮箱已被其他用户租用"

	// 服务器错误
	MsgInternalError = "服务器内部错误，请稍后重试"
)
