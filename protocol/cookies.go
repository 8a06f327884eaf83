package protocol

import (
	"strings"
	"time"

	"github.com/favbox/breeze/internal/bytesconv"
)

const (
	// CookieSameSiteDisabled 移除 SameSite 标识符
	CookieSameSiteDisabled CookieSameSite = iota
	// CookieSameSiteLaxMode 设置带有 "Lax" 参数的 SameSite 标识符。
	CookieSameSiteLaxMode
	// CookieSameSiteStrictMode 设置带有 "Strict" 参数的 SameSite 标识符。
	CookieSameSiteStrictMode
	// CookieSameSiteNoneMode 设置带有 "None" 参数的 SameSite 标识符
	CookieSameSiteNoneMode
)

// CookieExpireDelete 可在 Cookie.Expire 上设置，以使其过期。
var CookieExpireDelete = time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC)

// CookieSameSite 指定 Cookie 设置相同网站标记的枚举模式。
type CookieSameSite int

// Cookie 表示一个响应 Cookie（Set-Cookie）。
type Cookie struct {
	Key    string
	Value  string
	Path   string
	Domain string

	Expire time.Time // 到期时间
	MaxAge int       // 存活秒数，优先级高于到期时间

	HTTPOnly bool
	Secure   bool
	SameSite CookieSameSite
}

// AppendBytes 将 Set-Cookie 标头值附加到 dst 并返回。
func (c *Cookie) AppendBytes(dst []byte) []byte {
	if c.Key != "" {
		dst = append(dst, c.Key...)
		dst = append(dst, '=')
	}
	dst = append(dst, c.Value...)

	if c.MaxAge > 0 {
		dst = append(dst, "; Max-Age="...)
		dst = bytesconv.AppendUint(dst, c.MaxAge)
	} else if !c.Expire.IsZero() {
		dst = append(dst, "; Expires="...)
		dst = bytesconv.AppendHTTPDate(dst, c.Expire)
	}
	if c.Domain != "" {
		dst = append(dst, "; Domain="...)
		dst = append(dst, c.Domain...)
	}
	if c.Path != "" {
		dst = append(dst, "; Path="...)
		dst = append(dst, c.Path...)
	}
	if c.HTTPOnly {
		dst = append(dst, "; HttpOnly"...)
	}
	if c.Secure {
		dst = append(dst, "; Secure"...)
	}
	switch c.SameSite {
	case CookieSameSiteLaxMode:
		dst = append(dst, "; SameSite=Lax"...)
	case CookieSameSiteStrictMode:
		dst = append(dst, "; SameSite=Strict"...)
	case CookieSameSiteNoneMode:
		dst = append(dst, "; SameSite=None"...)
	}
	return dst
}

// String 返回 Set-Cookie 标头值。
func (c *Cookie) String() string {
	return string(c.AppendBytes(nil))
}

// parseRequestCookies 解析请求 Cookie 标头值，追加到 dst。
// 值两侧的双引号会被去除。
func parseRequestCookies(dst *Args, v string) {
	for v != "" {
		var part string
		part, v, _ = strings.Cut(v, ";")
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			value, key = key, ""
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
			value = value[1 : len(value)-1]
		}
		dst.Add(key, value)
	}
}
