package security

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAttachmentPolicy_Check(t *testing.T) {
	policy := NewAttachmentPolicy()

	testCases := []struct {
		name     string
		att      Attachment
		expected bool
	}{
		{name: "普通PDF", att: Attachment{Filename: "invoice.pdf", ContentType: "application/pdf", Size: 1024}, expected: true},
		{name: "缺少类型按二进制处理", att: Attachment{Filename: "data.bin", Size: 10}, expected: true},
		{name: "没有文件名", att: Attachment{ContentType: "image/png", Size: 10}, expected: false},
		{name: "危险扩展名", att: Attachment{Filename: "setup.EXE", ContentType: "application/octet-stream", Size: 10}, expected: false},
		{name: "不支持的类型", att: Attachment{Filename: "movie.mp4", ContentType: "video/mp4", Size: 10}, expected: false},
		{name: "超出大小", att: Attachment{Filename: "big.zip", ContentType: "application/zip", Size: DefaultMaxAttachmentSize + 1}, expected: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ok, reason := policy.Check(tc.att)
			assert.Equal(t, tc.expected, ok)
			if !tc.expected {
				assert.NotEmpty(t, reason)
			}
		})
	}
}

func TestAttachmentPolicy_Filter(t *testing.T) {
	policy := NewAttachmentPolicy()

	t.Run("跳过不合格的附件", func(t *testing.T) {
		accepted := policy.Filter([]Attachment{
			{Filename: "a.png", ContentType: "image/png", Size: 100},
			{Filename: "b.exe", ContentType: "application/octet-stream", Size: 100},
			{Filename: "c.txt", ContentType: "text/plain", Size: 100},
		})
		assert.Len(t, accepted, 2)
		assert.Equal(t, "c.txt", accepted[1].Filename)
	})

	t.Run("数量上限", func(t *testing.T) {
		many := make([]Attachment, 0, 15)
		for i := 0; i < 15; i++ {
			many = append(many, Attachment{Filename: fmt.Sprintf("%d.txt", i), ContentType: "text/plain", Size: 1})
		}
		assert.Len(t, policy.Filter(many), DefaultMaxAttachments)
	})
}
