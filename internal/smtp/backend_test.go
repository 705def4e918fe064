package smtp

import (
	"bytes"
	"context"
	"errors"
	"testing"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tempmail/lease/internal/domain"
	"tempmail/lease/internal/service"
	"tempmail/lease/internal/storage/memory"
)

type failingIngester struct{}

func (failingIngester) Ingest(context.Context, *domain.Message) error {
	return errors.New("disk full")
}

func newTestBackend(t *testing.T, limiter *ConnectionLimiter) (*Backend, *service.MessageService) {
	t.Helper()
	messages := service.NewMessageService(memory.NewStore(), zap.NewNop())
	validator := domain.NewAddressValidator([]string{"on11.ru"}, nil)
	return NewBackend(validator, messages, limiter, zap.NewNop()), messages
}

func smtpCode(t *testing.T, err error) int {
	t.Helper()
	var smtpErr *gosmtp.SMTPError
	require.ErrorAs(t, err, &smtpErr)
	return smtpErr.Code
}

func TestSessionRcpt(t *testing.T) {
	backend, _ := newTestBackend(t, nil)
	sess, err := backend.newSession("127.0.0.1")
	require.NoError(t, err)

	t.Run("接受本域地址并规范化", func(t *testing.T) {
		require.NoError(t, sess.Rcpt("Box@ON11.ru", nil))
		assert.Equal(t, []string{"box@on11.ru"}, sess.recipients)
	})

	t.Run("外部域名拒绝中继", func(t *testing.T) {
		assert.Equal(t, 550, smtpCode(t, sess.Rcpt("someone@gmail.com", nil)))
	})

	t.Run("无效地址", func(t *testing.T) {
		assert.Equal(t, 501, smtpCode(t, sess.Rcpt("not an address", nil)))
	})

	t.Run("Reset清空收件人", func(t *testing.T) {
		sess.Reset()
		assert.Empty(t, sess.recipients)
	})
}

func TestSessionData(t *testing.T) {
	t.Run("保存到每个收件人", func(t *testing.T) {
		backend, messages := newTestBackend(t, nil)
		sess, err := backend.newSession("127.0.0.1")
		require.NoError(t, err)

		require.NoError(t, sess.Mail("alice@example.com", nil))
		require.NoError(t, sess.Rcpt("one@on11.ru", nil))
		require.NoError(t, sess.Rcpt("two@on11.ru", nil))
		require.NoError(t, sess.Data(bytes.NewReader(crlf(multipartMessage))))

		for _, addr := range []string{"one@on11.ru", "two@on11.ru"} {
			stored, err := messages.ListByRecipient(context.Background(), addr, 10, 0)
			require.NoError(t, err)
			require.Len(t, stored, 1)
			assert.Equal(t, "Привет", stored[0].Subject)
			assert.Equal(t, "alice@example.com", stored[0].From)
			// run.exe 被过滤
			assert.Equal(t, 1, stored[0].AttachmentCount)
			assert.True(t, stored[0].HasAttachments)
		}
	})

	t.Run("信封发件人为空时使用邮件头", func(t *testing.T) {
		backend, messages := newTestBackend(t, nil)
		sess, err := backend.newSession("127.0.0.1")
		require.NoError(t, err)

		require.NoError(t, sess.Rcpt("box@on11.ru", nil))
		require.NoError(t, sess.Data(bytes.NewReader(crlf(multipartMessage))))

		stored, err := messages.ListByRecipient(context.Background(), "box@on11.ru", 10, 0)
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.Equal(t, "alice@example.com", stored[0].From)
	})

	t.Run("存储失败返回451", func(t *testing.T) {
		validator := domain.NewAddressValidator([]string{"on11.ru"}, nil)
		backend := NewBackend(validator, failingIngester{}, nil, zap.NewNop())
		sess, err := backend.newSession("127.0.0.1")
		require.NoError(t, err)

		require.NoError(t, sess.Rcpt("box@on11.ru", nil))
		err = sess.Data(bytes.NewReader(crlf("Subject: x\n\nbody\n")))
		assert.Equal(t, 451, smtpCode(t, err))
	})
}

func TestNewSessionLimit(t *testing.T) {
	backend, _ := newTestBackend(t, NewConnectionLimiter(1, 100))

	first, err := backend.newSession("10.0.0.9")
	require.NoError(t, err)

	_, err = backend.newSession("10.0.0.9")
	assert.Equal(t, 421, smtpCode(t, err))

	require.NoError(t, first.Logout())
	// 重复 Logout 不会多次释放
	require.NoError(t, first.Logout())

	_, err = backend.newSession("10.0.0.9")
	assert.NoError(t, err)
}
