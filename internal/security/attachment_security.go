// Package security 对入站邮件附件做过滤。
package security

import (
	"path/filepath"
	"strings"
)

const (
	// DefaultMaxAttachments 每封邮件计入的附件上限
	DefaultMaxAttachments = 10
	// DefaultMaxAttachmentSize 单个附件大小上限
	DefaultMaxAttachmentSize = 10 * 1024 * 1024
)

// Attachment 过滤所需的附件元数据
type Attachment struct {
	Filename    string
	ContentType string
	Size        int64
}

// AttachmentPolicy 决定哪些附件被接受
type AttachmentPolicy struct {
	maxCount            int
	maxFileSize         int64
	allowedMimeTypes    map[string]bool
	dangerousExtensions map[string]bool
}

// NewAttachmentPolicy 使用默认上限和类型白名单
func NewAttachmentPolicy() *AttachmentPolicy {
	return &AttachmentPolicy{
		maxCount:    DefaultMaxAttachments,
		maxFileSize: DefaultMaxAttachmentSize,
		allowedMimeTypes: map[string]bool{
			"text/plain":                   true,
			"text/html":                    true,
			"text/csv":                     true,
			"text/calendar":                true,
			"application/json":             true,
			"application/pdf":              true,
			"application/zip":              true,
			"application/x-zip-compressed": true,
			"application/octet-stream":     true,
			"image/jpeg":                   true,
			"image/png":                    true,
			"image/gif":                    true,
			"image/webp":                   true,
		},
		dangerousExtensions: map[string]bool{
			".exe": true,
			".bat": true,
			".cmd": true,
			".scr": true,
			".pif": true,
			".com": true,
			".vbs": true,
			".js":  true,
			".jar": true,
			".php": true,
			".asp": true,
			".jsp": true,
		},
	}
}

// Check 检查单个附件，返回是否接受以及拒绝原因
func (p *AttachmentPolicy) Check(att Attachment) (bool, string) {
	if att.Filename == "" {
		return false, "attachment without filename"
	}

	ext := strings.ToLower(filepath.Ext(att.Filename))
	if p.dangerousExtensions[ext] {
		return false, "dangerous file extension: " + ext
	}

	contentType := strings.ToLower(att.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if !p.allowedMimeTypes[contentType] {
		return false, "unsupported content type: " + contentType
	}

	if att.Size > p.maxFileSize {
		return false, "attachment too large"
	}
	return true, ""
}

// Filter 按顺序保留合格的附件，总大小超过 maxCount*maxFileSize 或数量达到上限后停止
func (p *AttachmentPolicy) Filter(attachments []Attachment) []Attachment {
	accepted := make([]Attachment, 0, len(attachments))
	var total int64

	for _, att := range attachments {
		if len(accepted) >= p.maxCount {
			break
		}
		if ok, _ := p.Check(att); !ok {
			continue
		}
		total += att.Size
		if total > p.maxFileSize*int64(p.maxCount) {
			break
		}
		accepted = append(accepted, att)
	}
	return accepted
}
