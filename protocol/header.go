package protocol

import (
	"strings"
)

type headerField struct {
	key    string
	values []string
}

// Header 是大小写不敏感的标头多值映射。
//
// 名称按首次插入的顺序保存并保留原始大小写，同名的多个值按插入顺序保存。
// 协程不安全。
type Header struct {
	fields []headerField
}

func (h *Header) index(key string) int {
	for i := range h.fields {
		if strings.EqualFold(h.fields[i].key, key) {
			return i
		}
	}
	return -1
}

// Add 为 key 追加一个值。
func (h *Header) Add(key, value string) {
	if i := h.index(key); i >= 0 {
		h.fields[i].values = append(h.fields[i].values, value)
		return
	}
	h.fields = append(h.fields, headerField{key: key, values: []string{value}})
}

// Set 将 key 的值替换为 value。
func (h *Header) Set(key, value string) {
	if i := h.index(key); i >= 0 {
		f := &h.fields[i]
		f.values = append(f.values[:0], value)
		return
	}
	h.fields = append(h.fields, headerField{key: key, values: []string{value}})
}

// Get 返回 key 的首个值，不存在时返回空串。
func (h *Header) Get(key string) string {
	if i := h.index(key); i >= 0 && len(h.fields[i].values) > 0 {
		return h.fields[i].values[0]
	}
	return ""
}

// Values 返回 key 的全部值。返回的切片不可修改。
func (h *Header) Values(key string) []string {
	if i := h.index(key); i >= 0 {
		return h.fields[i].values
	}
	return nil
}

// Has 报告 key 是否存在。
func (h *Header) Has(key string) bool {
	return h.index(key) >= 0
}

// Del 删除 key 及其全部值。
func (h *Header) Del(key string) {
	if i := h.index(key); i >= 0 {
		h.fields = append(h.fields[:i], h.fields[i+1:]...)
	}
}

// HasToken 报告 key 的逗号分隔值列表中是否含有 token（大小写不敏感）。
func (h *Header) HasToken(key, token string) bool {
	for _, v := range h.Values(key) {
		for v != "" {
			var part string
			part, v, _ = strings.Cut(v, ",")
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

// Len 返回标头名称的数量。
func (h *Header) Len() int {
	return len(h.fields)
}

// Keys 按插入顺序返回全部标头名称。
func (h *Header) Keys() []string {
	keys := make([]string, len(h.fields))
	for i := range h.fields {
		keys[i] = h.fields[i].key
	}
	return keys
}

// VisitAll 按插入顺序对每个名称的每个值执行 f。
func (h *Header) VisitAll(f func(key, value string)) {
	for i := range h.fields {
		for _, v := range h.fields[i].values {
			f(h.fields[i].key, v)
		}
	}
}

// CopyTo 将全部标头拷贝至 dst。
func (h *Header) CopyTo(dst *Header) {
	dst.Reset()
	for i := range h.fields {
		dst.fields = append(dst.fields, headerField{
			key:    h.fields[i].key,
			values: append([]string(nil), h.fields[i].values...),
		})
	}
}

// Reset 清空全部标头。
func (h *Header) Reset() {
	h.fields = h.fields[:0]
}
