// Package bot 处理 Telegram 机器人命令。
//
// 普通聊天以聊天 ID 作为租约持有者；管理员聊天只接受角色管理命令。
// 回复通过 webhook 响应体中的 sendMessage 方法调用返回。
package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"tempmail/lease/internal/domain"
	"tempmail/lease/internal/monitoring"
	"tempmail/lease/internal/notify"
	"tempmail/lease/internal/ratelimit"
	"tempmail/lease/internal/service"
)

// Bot 命令分发器
type Bot struct {
	leases      *service.LeaseService
	messages    *service.MessageService
	roles       *service.RoleService
	adminChatID string
	limiter     ratelimit.Limiter
	metrics     *monitoring.Metrics
	log         *zap.Logger
}

// New 创建命令分发器，limiter 为 nil 时不限流
func New(leases *service.LeaseService, messages *service.MessageService, roles *service.RoleService, adminChatID string, limiter ratelimit.Limiter, log *zap.Logger) *Bot {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bot{
		leases:      leases,
		messages:    messages,
		roles:       roles,
		adminChatID: adminChatID,
		limiter:     limiter,
		log:         log.Named("bot"),
	}
}

// SetMetrics 设置监控指标
func (b *Bot) SetMetrics(metrics *monitoring.Metrics) {
	b.metrics = metrics
}

// Handle 处理一条更新，没有需要回复的内容时返回 nil
func (b *Bot) Handle(ctx context.Context, update Update) *notify.SendMessageRequest {
	if update.Message == nil || strings.TrimSpace(update.Message.Text) == "" {
		return nil
	}

	chatID := strconv.FormatInt(update.Message.Chat.ID, 10)
	command, args := splitCommand(update.Message.Text)

	if b.limiter != nil {
		allowed, err := b.limiter.Allow(ctx, "bot:"+chatID)
		if err != nil {
			b.log.Warn("rate limiter unavailable", zap.Error(err))
		} else if !allowed {
			b.metrics.RecordRateLimitBlock("bot")
			return reply(chatID, "Слишком много команд, попробуйте через минуту.")
		}
	}

	var text string
	if b.adminChatID != "" && chatID == b.adminChatID {
		text = b.handleAdmin(ctx, command, args)
	} else {
		text = b.handleUser(ctx, chatID, command, args)
	}
	if text == "" {
		return nil
	}
	return reply(chatID, text)
}

func reply(chatID, text string) *notify.SendMessageRequest {
	return &notify.SendMessageRequest{
		Method:    "sendMessage",
		ChatID:    chatID,
		Text:      text,
		ParseMode: "HTML",
	}
}

// splitCommand 拆分命令和参数，去掉群聊中的 @botname 后缀
func splitCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	command, args, _ := strings.Cut(text, " ")
	if at := strings.Index(command, "@"); at > 0 {
		command = command[:at]
	}
	return strings.ToLower(command), strings.TrimSpace(args)
}

const userHelp = "<b>Временная почта</b>\n\n" +
	"/create - новый случайный ящик\n" +
	"/custom &lt;имя&gt; - ящик со своим именем\n" +
	"/list - ваши и свободные ящики\n" +
	"/select &lt;email&gt; - занять свободный ящик\n" +
	"/status &lt;email&gt; - статус ящика\n" +
	"/delete &lt;email&gt; - удалить ящик и письма\n" +
	"/emails &lt;email&gt; - последнее письмо"

func (b *Bot) handleUser(ctx context.Context, userID, command, args string) string {
	switch command {
	case "/start", "/help":
		return userHelp

	case "/create":
		alloc, err := b.leases.Create(ctx, userID)
		if err != nil {
			return b.errorText(err)
		}
		return allocationText("Ящик создан", alloc)

	case "/custom":
		if args == "" {
			return "Использование: /custom &lt;имя&gt;"
		}
		alloc, err := b.leases.CreateCustom(ctx, userID, args)
		if err != nil {
			return b.errorText(err)
		}
		return allocationText("Ящик создан", alloc)

	case "/list":
		listing, err := b.leases.List(ctx, userID)
		if err != nil {
			return b.errorText(err)
		}
		return listingText(listing)

	case "/select":
		if !strings.Contains(args, "@") {
			return "Использование: /select &lt;email&gt;"
		}
		alloc, err := b.leases.Select(ctx, userID, args)
		if err != nil {
			return b.errorText(err)
		}
		return allocationText("Ящик теперь ваш", alloc)

	case "/status":
		if !strings.Contains(args, "@") {
			return "Использование: /status &lt;email&gt;"
		}
		status, found, err := b.leases.GetStatus(ctx, args, userID)
		if err != nil {
			return b.errorText(err)
		}
		if !found {
			return fmt.Sprintf("Ящик <code>%s</code> вам не принадлежит.", html.EscapeString(args))
		}
		return fmt.Sprintf("<code>%s</code>: %s", html.EscapeString(args), status)

	case "/delete":
		if !strings.Contains(args, "@") {
			return "Использование: /delete &lt;email&gt;"
		}
		_, found, err := b.leases.GetStatus(ctx, args, userID)
		if err != nil {
			return b.errorText(err)
		}
		if !found {
			return fmt.Sprintf("Ящик <code>%s</code> вам не принадлежит.", html.EscapeString(args))
		}
		if err := b.leases.DeleteLease(ctx, userID, args); err != nil {
			return b.errorText(err)
		}
		return fmt.Sprintf("Ящик <code>%s</code> удалён.", html.EscapeString(args))

	case "/emails":
		return b.latestMessage(ctx, userID, args)

	default:
		return "Неизвестная команда. Список команд: /start"
	}
}

func (b *Bot) latestMessage(ctx context.Context, userID, address string) string {
	if !strings.Contains(address, "@") {
		return "Использование: /emails &lt;email&gt;"
	}
	ok, err := b.leases.CanAccess(ctx, userID, address)
	if err != nil {
		return b.errorText(err)
	}
	if !ok {
		return "Нет доступа к этому ящику."
	}

	messages, err := b.messages.ListByRecipient(ctx, address, 1, 0)
	if err != nil {
		return b.errorText(err)
	}
	if len(messages) == 0 {
		return fmt.Sprintf("Писем в <code>%s</code> нет.", html.EscapeString(address))
	}

	msg := messages[0]
	subject := msg.Subject
	if subject == "" {
		subject = "(без темы)"
	}
	return fmt.Sprintf("<b>Последнее письмо</b>\n\nОт: <code>%s</code>\nТема: %s\nПолучено: %s",
		html.EscapeString(msg.From),
		html.EscapeString(subject),
		b.leases.FormatExpiry(msg.ReceivedAt),
	)
}

const adminHelp = "<b>Администрирование</b>\n\n" +
	"/setrole &lt;userId&gt; &lt;regular|vip|admin&gt;\n" +
	"/getrole &lt;userId&gt;"

func (b *Bot) handleAdmin(ctx context.Context, command, args string) string {
	switch command {
	case "/start", "/help":
		return adminHelp

	case "/setrole":
		parts := strings.Fields(args)
		if len(parts) != 2 {
			return "Использование: /setrole &lt;userId&gt; &lt;regular|vip|admin&gt;"
		}
		policy, err := b.roles.SetRole(ctx, parts[0], parts[1])
		if err != nil {
			return b.errorText(err)
		}
		return fmt.Sprintf("Роль установлена\nПользователь: <code>%s</code>\nРоль: <code>%s</code>\nЛимит ящиков: %d",
			html.EscapeString(parts[0]), strings.ToLower(parts[1]), policy.MaxLeases)

	case "/getrole":
		if args == "" {
			return "Использование: /getrole &lt;userId&gt;"
		}
		role, err := b.roles.GetRole(ctx, args)
		if err != nil {
			return b.errorText(err)
		}
		return fmt.Sprintf("<code>%s</code>: <code>%s</code>", html.EscapeString(args), role)

	default:
		// 管理员聊天同时接收日志镜像，其他文本不回复
		return ""
	}
}

func allocationText(title string, alloc *domain.Allocation) string {
	return fmt.Sprintf("<b>%s</b>\n\nEmail: <code>%s</code>\nДействует до: %s\n\nПисьма: /emails %s",
		title, alloc.Email, alloc.ExpiresAtFormatted, alloc.Email)
}

func listingText(listing *domain.LeaseListing) string {
	var sb strings.Builder
	sb.WriteString("<b>Ваши ящики:</b>\n")
	if len(listing.Own) == 0 {
		sb.WriteString("нет\n")
	}
	for _, lease := range listing.Own {
		fmt.Fprintf(&sb, "• <code>%s</code> до %s\n", lease.Email, lease.ExpiresAtFormatted)
	}

	sb.WriteString("\n<b>Свободные ящики:</b>\n")
	if len(listing.Available) == 0 {
		sb.WriteString("нет\n")
	}
	for _, lease := range listing.Available {
		fmt.Fprintf(&sb, "• /select %s\n", lease.Email)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// errorText 把业务错误转换为用户可读的文本，内部错误只记录日志
func (b *Bot) errorText(err error) string {
	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return "Недопустимое имя ящика: " + html.EscapeString(validationErr.Reason)
	case errors.Is(err, service.ErrQuotaExceeded):
		return "Достигнут лимит ящиков для вашей роли."
	case errors.Is(err, service.ErrAlreadyExists):
		return "Такой ящик уже существует."
	case errors.Is(err, service.ErrMailboxUnavailable):
		return "Ящик недоступен для аренды."
	case errors.Is(err, service.ErrInvalidRole):
		return "Неизвестная роль. Допустимо: regular, vip, admin."
	case errors.Is(err, service.ErrAllocationExhausted):
		return "Не удалось подобрать свободный адрес, попробуйте ещё раз."
	case errors.Is(err, domain.ErrInvalidEmail):
		return "Неверный адрес."
	default:
		b.log.Error("bot command failed", zap.Error(err))
		return "Внутренняя ошибка, попробуйте позже."
	}
}
