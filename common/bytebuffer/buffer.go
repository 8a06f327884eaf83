// Package bytebuffer 提供带读写游标、可压缩的字节片段缓冲区。
//
// 用于暂存跨越多次读取的请求片段（如流水线请求的剩余字节）。
// 底层内存来自 mcache，使用完毕须调用 Release 归还。
package bytebuffer

import (
	"errors"

	"github.com/bytedance/gopkg/lang/mcache"
)

// ErrFull 表示定长缓冲区已无空间。
var ErrFull = errors.New("缓冲区已满")

// Buffer 是一个字节片段累加器。
//
// 可读数据位于 buf[r:w]，写入前若尾部空间不足会先压缩（将未读数据移到头部）。
// 零值可用，为可增长缓冲区。
type Buffer struct {
	buf   []byte
	r, w  int
	fixed bool
}

// New 创建初始容量为 size 的可增长缓冲区。
func New(size int) *Buffer {
	return &Buffer{buf: mcache.Malloc(size)}
}

// NewFixed 创建容量固定为 size 的缓冲区，写满后返回 ErrFull。
func NewFixed(size int) *Buffer {
	return &Buffer{buf: mcache.Malloc(size), fixed: true}
}

// Len 返回未读字节数。
func (b *Buffer) Len() int {
	return b.w - b.r
}

// Cap 返回底层存储容量。
func (b *Buffer) Cap() int {
	return cap(b.buf)
}

// Bytes 返回未读数据，在下一次写入或压缩前有效。
func (b *Buffer) Bytes() []byte {
	return b.buf[b.r:b.w]
}

// Write 追加 p 到缓冲区。定长缓冲区空间不足时只写入能容纳的部分并返回 ErrFull。
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(b.buf)-b.w < len(p) {
		b.Compact()
	}
	if free := len(b.buf) - b.w; free < len(p) {
		if b.fixed {
			n := copy(b.buf[b.w:], p)
			b.w += n
			return n, ErrFull
		}
		b.grow(len(p))
	}
	n := copy(b.buf[b.w:], p)
	b.w += n
	return n, nil
}

// Skip 丢弃前 n 个未读字节。
func (b *Buffer) Skip(n int) {
	if n >= b.Len() {
		b.r, b.w = 0, 0
		return
	}
	b.r += n
}

// Compact 将未读数据移动到存储头部。
func (b *Buffer) Compact() {
	if b.r == 0 {
		return
	}
	n := copy(b.buf, b.buf[b.r:b.w])
	b.r, b.w = 0, n
}

// Reset 清空数据，保留存储。
func (b *Buffer) Reset() {
	b.r, b.w = 0, 0
}

// Release 归还底层存储，之后缓冲区回到零值状态。
func (b *Buffer) Release() {
	if b.buf != nil {
		mcache.Free(b.buf)
	}
	b.buf = nil
	b.r, b.w = 0, 0
}

func (b *Buffer) grow(need int) {
	size := 2 * cap(b.buf)
	if size < b.w+need {
		size = b.w + need
	}
	if size < 512 {
		size = 512
	}
	nb := mcache.Malloc(size)
	copy(nb, b.buf[:b.w])
	if b.buf != nil {
		mcache.Free(b.buf)
	}
	b.buf = nb
}
