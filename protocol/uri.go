package protocol

import (
	"strings"
)

// URI 表示请求目标的组成部分。
type URI struct {
	scheme   string
	host     string
	path     string
	rawPath  string
	rawQuery string
}

// Parse 解析请求目标，支持原始形式（/a?b）、绝对形式（http://h/a?b）与星号形式（*）。
func (u *URI) Parse(target string) {
	*u = URI{}
	if target == "*" {
		u.path, u.rawPath = "*", "*"
		return
	}
	if i := strings.Index(target, "://"); i > 0 && !strings.Contains(target[:i], "/") {
		u.scheme = strings.ToLower(target[:i])
		rest := target[i+3:]
		end := strings.IndexAny(rest, "/?")
		if end < 0 {
			u.host, target = rest, "/"
		} else {
			u.host, target = rest[:end], rest[end:]
			if target[0] == '?' {
				target = "/" + target
			}
		}
	}
	// 片段不会出现在请求中，容错丢弃
	if i := strings.IndexByte(target, '#'); i >= 0 {
		target = target[:i]
	}
	u.rawPath, u.rawQuery, _ = strings.Cut(target, "?")
	if u.rawPath == "" {
		u.rawPath = "/"
	}
	u.path = decodeArg(u.rawPath, false)
}

// Scheme 返回绝对形式请求中的协议名。
func (u *URI) Scheme() string { return u.scheme }

// Host 返回绝对形式请求中的主机。
func (u *URI) Host() string { return u.host }

// Path 返回解码后的路径。
func (u *URI) Path() string { return u.path }

// RawPath 返回未解码的路径。
func (u *URI) RawPath() string { return u.rawPath }

// QueryString 返回原始查询字符串（不含 ?）。
func (u *URI) QueryString() string { return u.rawQuery }
