package bytebuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferGrowAndCompact(t *testing.T) {
	var b Buffer
	n, err := b.Write([]byte("GET / HTTP/1.1\r\n"))
	assert.Nil(t, err)
	assert.Equal(t, 16, n)
	assert.Equal(t, "GET / HTTP/1.1\r\n", string(b.Bytes()))

	b.Skip(4)
	assert.Equal(t, "/ HTTP/1.1\r\n", string(b.Bytes()))

	b.Compact()
	assert.Equal(t, 12, b.Len())
	assert.Equal(t, "/ HTTP/1.1\r\n", string(b.Bytes()))

	big := make([]byte, 4096)
	for i := range big {
		big[i] = 'x'
	}
	_, err = b.Write(big)
	assert.Nil(t, err)
	assert.Equal(t, 12+4096, b.Len())
	assert.True(t, b.Cap() >= b.Len())

	b.Skip(b.Len())
	assert.Equal(t, 0, b.Len())
	b.Release()
	assert.Equal(t, 0, b.Cap())
}

func TestBufferFixed(t *testing.T) {
	b := NewFixed(8)
	defer b.Release()

	n, err := b.Write([]byte("abcdef"))
	assert.Nil(t, err)
	assert.Equal(t, 6, n)

	b.Skip(4)
	// 压缩后尾部有 6 字节空间
	n, err = b.Write([]byte("ghijkl"))
	assert.Nil(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "efghijkl", string(b.Bytes()))

	n, err = b.Write([]byte("mn"))
	assert.Equal(t, ErrFull, err)
	assert.Equal(t, 0, n)

	b.Reset()
	assert.Equal(t, 0, b.Len())
}
