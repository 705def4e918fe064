package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// TelegramSecretHeader Telegram 在每次 webhook 调用中携带的密钥头
const TelegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// RequireTelegramSecret 校验 webhook 密钥，secret 为空时放行
func RequireTelegramSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		got := c.GetHeader(TelegramSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook secret"})
			return
		}
		c.Next()
	}
}
