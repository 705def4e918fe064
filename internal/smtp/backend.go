// Package smtp 实现只收不发的 SMTP 服务，接收发往租约域名的邮件。
package smtp

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"tempmail/lease/internal/config"
	"tempmail/lease/internal/domain"
	"tempmail/lease/internal/security"
)

const (
	// DefaultMaxMessageBytes 单封邮件大小上限
	DefaultMaxMessageBytes = 10 << 20
	maxRecipients          = 50
	ingestTimeout          = 30 * time.Second
)

// MessageIngester 保存入站邮件
type MessageIngester interface {
	Ingest(ctx context.Context, message *domain.Message) error
}

// Backend 实现 go-smtp 的 Backend 接口。
//
// 只接受域名在分配列表中的收件人，其他地址返回 550，不做中继。
// 与原始邮件服务一样，本地名不要求存在租约，未出租地址的邮件同样保存。
type Backend struct {
	validator   *domain.AddressValidator
	messages    MessageIngester
	limiter     *ConnectionLimiter
	attachments *security.AttachmentPolicy
	log         *zap.Logger
	now         func() time.Time
}

// NewBackend 创建 SMTP Backend，limiter 为 nil 时不限制连接
func NewBackend(validator *domain.AddressValidator, messages MessageIngester, limiter *ConnectionLimiter, log *zap.Logger) *Backend {
	if log == nil {
		log = zap.NewNop()
	}
	return &Backend{
		validator:   validator,
		messages:    messages,
		limiter:     limiter,
		attachments: security.NewAttachmentPolicy(),
		log:         log.Named("smtp"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// NewServer 创建监听配置地址的 SMTP 服务器
func NewServer(cfg config.SMTPConfig, backend *Backend) *gosmtp.Server {
	server := gosmtp.NewServer(backend)
	server.Addr = cfg.BindAddr
	server.Domain = cfg.Domain
	server.ReadTimeout = 30 * time.Second
	server.WriteTimeout = 30 * time.Second
	server.MaxMessageBytes = DefaultMaxMessageBytes
	server.MaxRecipients = maxRecipients
	return server
}

// NewSession 创建新的 SMTP 会话。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	sess, err := b.newSession(remoteIP(c))
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (b *Backend) newSession(ip string) (*session, error) {
	if b.limiter != nil && !b.limiter.Acquire(ip) {
		b.log.Warn("smtp connection rejected", zap.String("ip", ip))
		return nil, &gosmtp.SMTPError{
			Code:         421,
			EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
			Message:      "too many connections, try again later",
		}
	}
	return &session{backend: b, ip: ip}, nil
}

func remoteIP(c *gosmtp.Conn) string {
	if c == nil || c.Conn() == nil {
		return ""
	}
	addr := c.Conn().RemoteAddr().String()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

type session struct {
	backend    *Backend
	ip         string
	from       string
	recipients []string
	released   bool
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.from = from
	return nil
}

// Rcpt 处理 RCPT 命令，域名不在分配列表中时拒绝
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	address, err := s.backend.validator.NormalizeAddress(to)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrDomainNotFound):
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "relay access denied",
		}
	default:
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}

	s.recipients = append(s.recipients, address)
	return nil
}

// Data 处理邮件内容。
func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(io.LimitReader(r, DefaultMaxMessageBytes))
	if err != nil {
		return err
	}

	parsed, err := ParseEmail(raw)
	if err != nil {
		s.backend.log.Warn("unparseable message", zap.String("from", s.from), zap.Error(err))
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
			Message:      "malformed message",
		}
	}

	accepted := s.backend.attachments.Filter(parsed.Attachments)
	from := s.from
	if from == "" {
		from = parsed.From
	}

	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

	for _, rcpt := range s.recipients {
		err := s.backend.messages.Ingest(ctx, &domain.Message{
			From:            from,
			To:              rcpt,
			Subject:         parsed.Subject,
			Text:            parsed.Text,
			HTML:            parsed.HTML,
			ReceivedAt:      s.backend.now(),
			HasAttachments:  len(accepted) > 0,
			AttachmentCount: len(accepted),
		})
		if err != nil {
			s.backend.log.Error("store message failed", zap.String("to", rcpt), zap.Error(err))
			return &gosmtp.SMTPError{
				Code:         451,
				EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
				Message:      "temporary storage failure",
			}
		}
	}

	s.backend.log.Info("message received",
		zap.String("from", from),
		zap.Strings("to", s.recipients),
		zap.Int("attachments", len(accepted)),
	)
	return nil
}

// Reset 重置状态。
func (s *session) Reset() {
	s.from = ""
	s.recipients = nil
}

// Logout 会话结束，归还连接许可。
func (s *session) Logout() error {
	if s.backend.limiter != nil && !s.released {
		s.released = true
		s.backend.limiter.Release(s.ip)
	}
	return nil
}
