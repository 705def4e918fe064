package smtp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"tempmail/lease/internal/security"
)

// maxBodyPartBytes 单个正文部分读取上限
const maxBodyPartBytes = 5 << 20

// ParsedEmail 表示解析后的邮件内容。
type ParsedEmail struct {
	Subject     string
	From        string
	Date        time.Time
	Text        string
	HTML        string
	Attachments []security.Attachment
}

// ParseEmail 解析邮件，提取文本、HTML 和附件元数据。附件内容只计算大小，不保存。
func ParseEmail(raw []byte) (*ParsedEmail, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parse mail: %w", err)
	}
	defer mr.Close()

	parsed := &ParsedEmail{}
	if subject, err := mr.Header.Subject(); err == nil {
		parsed.Subject = subject
	}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		parsed.From = from[0].Address
	}
	if date, err := mr.Header.Date(); err == nil {
		parsed.Date = date
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return nil, fmt.Errorf("parse part: %w", err)
		}
		if part == nil {
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			switch contentType {
			case "text/plain", "":
				body, _ := io.ReadAll(io.LimitReader(part.Body, maxBodyPartBytes))
				parsed.Text += string(body)
			case "text/html":
				body, _ := io.ReadAll(io.LimitReader(part.Body, maxBodyPartBytes))
				parsed.HTML += string(body)
			default:
				// 内嵌图片等按附件计
				size, _ := io.Copy(io.Discard, part.Body)
				parsed.Attachments = append(parsed.Attachments, security.Attachment{
					Filename:    inlineFilename(h),
					ContentType: contentType,
					Size:        size,
				})
			}
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			size, _ := io.Copy(io.Discard, part.Body)
			parsed.Attachments = append(parsed.Attachments, security.Attachment{
				Filename:    filename,
				ContentType: contentType,
				Size:        size,
			})
		}
	}

	return parsed, nil
}

func inlineFilename(h *mail.InlineHeader) string {
	_, params, err := h.ContentDisposition()
	if err == nil && params["filename"] != "" {
		return params["filename"]
	}
	_, params, err = h.ContentType()
	if err == nil {
		return params["name"]
	}
	return ""
}
