package protocol

import (
	"strings"

	"github.com/favbox/breeze/internal/bytesconv"
)

type argsKV struct {
	key   string
	value string
}

// Args 维护有序的键值对参数，如查询字符串与 urlencoded 表单。
type Args struct {
	args []argsKV
}

// Parse 解析查询字符串 s，覆盖已有参数。
func (a *Args) Parse(s string) {
	a.Reset()
	for s != "" {
		var pair string
		pair, s, _ = strings.Cut(s, "&")
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		a.args = append(a.args, argsKV{key: decodeArg(k, true), value: decodeArg(v, true)})
	}
}

// Peek 返回 key 的首个值。
func (a *Args) Peek(key string) string {
	v, _ := a.PeekExists(key)
	return v
}

// PeekExists 返回 key 的首个值及其是否存在。
func (a *Args) PeekExists(key string) (string, bool) {
	for i := range a.args {
		if a.args[i].key == key {
			return a.args[i].value, true
		}
	}
	return "", false
}

// PeekAll 返回 key 的全部值。
func (a *Args) PeekAll(key string) []string {
	var vs []string
	for i := range a.args {
		if a.args[i].key == key {
			vs = append(vs, a.args[i].value)
		}
	}
	return vs
}

// Has 返回指定的键是否存在。
func (a *Args) Has(key string) bool {
	_, ok := a.PeekExists(key)
	return ok
}

// Add 添加键值对参数，可以为同一个键添加多个值。
func (a *Args) Add(key, value string) {
	a.args = append(a.args, argsKV{key: key, value: value})
}

// Set 设置 'key=value' 参数，替换已有值。
func (a *Args) Set(key, value string) {
	a.Del(key)
	a.Add(key, value)
}

// Del 删除指定键的全部参数。
func (a *Args) Del(key string) {
	n := 0
	for _, kv := range a.args {
		if kv.key != key {
			a.args[n] = kv
			n++
		}
	}
	a.args = a.args[:n]
}

// VisitAll 按顺序对每个参数执行 f。
func (a *Args) VisitAll(f func(key, value string)) {
	for i := range a.args {
		f(a.args[i].key, a.args[i].value)
	}
}

// Len 返回参数的数量。
func (a *Args) Len() int {
	return len(a.args)
}

// Reset 清除全部参数。
func (a *Args) Reset() {
	a.args = a.args[:0]
}

// String 返回参数的查询字符串形式。
func (a *Args) String() string {
	var dst []byte
	for i := range a.args {
		if i > 0 {
			dst = append(dst, '&')
		}
		dst = bytesconv.AppendQuotedArg(dst, bytesconv.S2b(a.args[i].key))
		dst = append(dst, '=')
		dst = bytesconv.AppendQuotedArg(dst, bytesconv.S2b(a.args[i].value))
	}
	return string(dst)
}

// 解码参数，处理 % 转义，plus 为真时将 + 视为空格。
// 非法的 % 序列原样保留。
func decodeArg(s string, plus bool) string {
	if strings.IndexByte(s, '%') < 0 && (!plus || strings.IndexByte(s, '+') < 0) {
		return s
	}

	dst := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '%' && i+2 < len(s):
			x1 := bytesconv.HexDigit(s[i+1])
			x2 := bytesconv.HexDigit(s[i+2])
			if x1 < 0 || x2 < 0 {
				dst = append(dst, '%')
				continue
			}
			dst = append(dst, byte(x1<<4|x2))
			i += 2
		case c == '+' && plus:
			dst = append(dst, ' ')
		default:
			dst = append(dst, c)
		}
	}
	return string(dst)
}
