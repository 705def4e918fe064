package domain

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

// 验证相关的错误定义
var (
	ErrInvalidEmail   = errors.New("invalid email format")
	ErrDomainNotFound = errors.New("domain not served")
)

// MaxLocalPartLength 本地部分最大长度（@ 前面）
const MaxLocalPartLength = 64

var localPartRegex = regexp.MustCompile(`^[a-z0-9._-]+$`)

// DefaultReservedNames 不允许用户自定义的本地名
var DefaultReservedNames = []string{
	"admin", "postmaster", "abuse", "root", "webmaster", "support", "mail",
}

// ValidationError 自定义地址被拒绝的原因
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid local part: " + e.Reason
}

func (e *ValidationError) Unwrap() error { return ErrInvalidEmail }

// AddressValidator 校验用户自定义的邮箱本地部分，并负责拼接、拆分完整地址
type AddressValidator struct {
	domains  []string
	reserved map[string]struct{}
}

// NewAddressValidator 创建验证器。domains 为可分配域名，第一个用作默认域名；
// extraReserved 会追加到内置保留名之后。
func NewAddressValidator(domains []string, extraReserved []string) *AddressValidator {
	reserved := make(map[string]struct{}, len(DefaultReservedNames)+len(extraReserved))
	for _, name := range DefaultReservedNames {
		reserved[name] = struct{}{}
	}
	for _, name := range extraReserved {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			reserved[name] = struct{}{}
		}
	}

	normalized := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			normalized = append(normalized, d)
		}
	}

	return &AddressValidator{domains: normalized, reserved: reserved}
}

// ValidateLocalPart 规范化并校验本地部分，返回小写去空白后的值
func (v *AddressValidator) ValidateLocalPart(localPart string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(localPart))

	switch {
	case name == "":
		return "", &ValidationError{Reason: "empty"}
	case len(name) > MaxLocalPartLength:
		return "", &ValidationError{Reason: fmt.Sprintf("longer than %d characters", MaxLocalPartLength)}
	case !localPartRegex.MatchString(name):
		return "", &ValidationError{Reason: "only a-z, 0-9, '.', '_' and '-' are allowed"}
	case strings.HasPrefix(name, ".") || strings.HasPrefix(name, "-"):
		return "", &ValidationError{Reason: "must not start with '.' or '-'"}
	case strings.HasSuffix(name, ".") || strings.HasSuffix(name, "-"):
		return "", &ValidationError{Reason: "must not end with '.' or '-'"}
	case strings.Contains(name, ".."):
		return "", &ValidationError{Reason: "must not contain '..'"}
	}

	if _, ok := v.reserved[name]; ok {
		return "", &ValidationError{Reason: "reserved name"}
	}

	return name, nil
}

// DefaultDomain 返回默认分配域名
func (v *AddressValidator) DefaultDomain() string {
	if len(v.domains) == 0 {
		return ""
	}
	return v.domains[0]
}

// Domains 返回全部可分配域名
func (v *AddressValidator) Domains() []string {
	out := make([]string, len(v.domains))
	copy(out, v.domains)
	return out
}

// Serves 判断域名是否由本服务接收
func (v *AddressValidator) Serves(domain string) bool {
	domain = strings.ToLower(strings.TrimSpace(domain))
	for _, d := range v.domains {
		if d == domain {
			return true
		}
	}
	return false
}

// Compose 拼接完整地址
func (v *AddressValidator) Compose(localPart string) string {
	return localPart + "@" + v.DefaultDomain()
}

// NormalizeAddress 规范化完整邮箱地址并确认域名由本服务接收
func (v *AddressValidator) NormalizeAddress(address string) (string, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return "", ErrInvalidEmail
	}

	parsed, err := mail.ParseAddress(address)
	if err != nil {
		return "", ErrInvalidEmail
	}

	at := strings.LastIndex(parsed.Address, "@")
	if at <= 0 || at == len(parsed.Address)-1 {
		return "", ErrInvalidEmail
	}
	if !v.Serves(parsed.Address[at+1:]) {
		return "", ErrDomainNotFound
	}

	return parsed.Address, nil
}
