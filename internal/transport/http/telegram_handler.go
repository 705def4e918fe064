package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/lease/internal/bot"
)

// TelegramHandler 接收 Telegram webhook 更新
type TelegramHandler struct {
	bot *bot.Bot
	log *zap.Logger
}

// NewTelegramHandler 创建 webhook 处理器
func NewTelegramHandler(b *bot.Bot, log *zap.Logger) *TelegramHandler {
	return &TelegramHandler{bot: b, log: log}
}

// Webhook 处理一次更新，回复直接写在响应体中。
// 无法解析的更新也返回 200，否则 Telegram 会不断重投。
func (h *TelegramHandler) Webhook(c *gin.Context) {
	var update bot.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		h.log.Warn("malformed telegram update", zap.Error(err))
		c.Status(http.StatusOK)
		return
	}

	reply := h.bot.Handle(c.Request.Context(), update)
	if reply == nil {
		c.Status(http.StatusOK)
		return
	}
	c.JSON(http.StatusOK, reply)
}
