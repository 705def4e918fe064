package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"tempmail/lease/internal/domain"
)

// DefaultTelegramAPI Bot API 地址
const DefaultTelegramAPI = "https://api.telegram.org"

// ErrTelegramDisabled 没有配置机器人令牌
var ErrTelegramDisabled = errors.New("telegram bot token not configured")

// SendMessageRequest Bot API sendMessage 的请求体，也用作 webhook 的内联回复
type SendMessageRequest struct {
	Method    string `json:"method,omitempty"`
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// TelegramClient Bot API 的最小客户端
type TelegramClient struct {
	http  *resty.Client
	token string
}

// NewTelegramClient 创建客户端，apiURL 为空时使用官方地址
func NewTelegramClient(token, apiURL string) *TelegramClient {
	if apiURL == "" {
		apiURL = DefaultTelegramAPI
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(apiURL, "/")).
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetHeader("Content-Type", "application/json")
	return &TelegramClient{http: client, token: token}
}

// SendMessage 以 HTML 格式发送消息
func (c *TelegramClient) SendMessage(ctx context.Context, chatID, text string) error {
	if c.token == "" {
		return ErrTelegramDisabled
	}

	var result telegramResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(SendMessageRequest{ChatID: chatID, Text: text, ParseMode: "HTML"}).
		SetResult(&result).
		SetError(&result).
		Post("/bot" + c.token + "/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	if resp.IsError() || !result.OK {
		return fmt.Errorf("telegram sendMessage: status %d: %s", resp.StatusCode(), result.Description)
	}
	return nil
}

// TelegramNotifier 把事件发给用户聊天，并按需镜像到管理员聊天
type TelegramNotifier struct {
	client      *TelegramClient
	adminChatID string
	mirror      bool
	location    *time.Location
}

// NewTelegramNotifier 创建 Telegram 通道。mirror 为 true 时收到的邮件同时发到 adminChatID。
func NewTelegramNotifier(client *TelegramClient, adminChatID string, mirror bool, location *time.Location) *TelegramNotifier {
	if location == nil {
		location = time.UTC
	}
	return &TelegramNotifier{
		client:      client,
		adminChatID: adminChatID,
		mirror:      mirror && adminChatID != "",
		location:    location,
	}
}

func (n *TelegramNotifier) Name() string { return "telegram" }

// Notify 用户 ID 是数字聊天 ID 时发给用户，其他来源的用户（HTTP）只做管理员镜像
func (n *TelegramNotifier) Notify(ctx context.Context, event domain.Event) error {
	text := FormatEvent(event, n.location)
	var errs []error

	if isChatID(event.UserID) && event.Type != domain.EventRoleChanged {
		if err := n.client.SendMessage(ctx, event.UserID, text); err != nil {
			errs = append(errs, err)
		}
	}
	if n.mirror && event.Type == domain.EventMessageReceived {
		if err := n.client.SendMessage(ctx, n.adminChatID, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func isChatID(userID string) bool {
	_, err := strconv.ParseInt(userID, 10, 64)
	return err == nil
}

// FormatEvent 渲染事件的 HTML 文本
func FormatEvent(event domain.Event, location *time.Location) string {
	if location == nil {
		location = time.UTC
	}
	email := html.EscapeString(event.Email)

	switch event.Type {
	case domain.EventLeaseCreated:
		return fmt.Sprintf("<b>Ящик создан</b>\n\n<code>%s</code>\nДействует до: %s",
			email, event.ExpiresAt.In(location).Format("02.01.2006, 15:04:05"))
	case domain.EventLeaseReassigned:
		return fmt.Sprintf("<b>Ящик закреплён за вами</b>\n\n<code>%s</code>\nДействует до: %s",
			email, event.ExpiresAt.In(location).Format("02.01.2006, 15:04:05"))
	case domain.EventLeaseDeleted:
		return fmt.Sprintf("Ящик <code>%s</code> удалён", email)
	case domain.EventRoleChanged:
		return fmt.Sprintf("Роль <code>%s</code>: <code>%s</code>",
			html.EscapeString(event.UserID), html.EscapeString(string(event.Role)))
	case domain.EventMessageReceived:
		subject := event.Subject
		if subject == "" {
			subject = "(без темы)"
		}
		return fmt.Sprintf("<b>Новое письмо</b>\n\nОт: <code>%s</code>\nКому: <code>%s</code>\nТема: %s",
			html.EscapeString(event.From), email, html.EscapeString(subject))
	default:
		return html.EscapeString(string(event.Type))
	}
}
