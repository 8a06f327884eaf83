package ext

import (
	"io"

	"github.com/favbox/breeze/common/errors"
	"github.com/favbox/breeze/internal/bytesconv"
	"github.com/favbox/breeze/protocol/consts"
)

type chunkState uint8

// 分块解码状态。
const (
	chunkedContent   chunkState = iota // 等待块长度的首个十六进制字符
	chunkLength                        // 读取块长度
	chunkParams                        // 跳过块扩展参数直至行尾
	chunkData                          // 读取块数据
	chunkDataEnd                       // 块数据之后的 CRLF
	chunkTrailer                       // 零长块之后，位于尾部标头行首
	chunkTrailerLine                   // 跳过尾部标头行
	chunkEnd
)

var (
	crlf      = []byte("\r\n")
	lastChunk = []byte("0\r\n\r\n")
)

// ChunkDecoder 是分块传输编码的增量解码器。
//
// 可按任意字节边界分多次喂入数据，解码后的正文写入目标写入器。
// 块扩展参数与尾部标头会被跳过。
type ChunkDecoder struct {
	state  chunkState
	size   int
	digits int
	total  int
	max    int
}

// NewChunkDecoder 创建一个解码后正文上限为 maxBodySize 的解码器，0 表示不限。
func NewChunkDecoder(maxBodySize int) *ChunkDecoder {
	return &ChunkDecoder{max: maxBodySize}
}

// Reset 重置解码器以便复用。
func (d *ChunkDecoder) Reset(maxBodySize int) {
	*d = ChunkDecoder{max: maxBodySize}
}

// Done 报告是否已读完终止块。
func (d *ChunkDecoder) Done() bool {
	return d.state == chunkEnd
}

// Total 返回已解码的正文字节数。
func (d *ChunkDecoder) Total() int {
	return d.total
}

// Decode 解码 src 并将正文写入 dst。
//
// 返回消耗的字节数，以及是否恰在本次调用中读完终止块（仅报告一次）。
// 终止块之后的字节不会被消耗。
func (d *ChunkDecoder) Decode(src []byte, dst io.Writer) (int, bool, error) {
	if d.state == chunkEnd {
		return 0, false, nil
	}

	i := 0
	for i < len(src) {
		c := src[i]
		switch d.state {
		case chunkedContent:
			v := bytesconv.HexDigit(c)
			if v < 0 {
				return i, false, ProtocolError(consts.StatusBadRequest, "非法的块长度字符 %q", c)
			}
			d.size, d.digits = v, 1
			d.state = chunkLength
			i++

		case chunkLength:
			if v := bytesconv.HexDigit(c); v >= 0 {
				d.digits++
				if d.digits > bytesconv.MaxHexIntChars {
					return i, false, ProtocolError(consts.StatusBadRequest, "块长度过长")
				}
				d.size = d.size<<4 | v
				i++
				continue
			}
			switch c {
			case ';', ' ', '\t', '\r':
				d.state = chunkParams
				i++
			case '\n':
				i++
				if err := d.endSizeLine(); err != nil {
					return i, false, err
				}
			default:
				return i, false, ProtocolError(consts.StatusBadRequest, "非法的块长度字符 %q", c)
			}

		case chunkParams:
			i++
			if c == '\n' {
				if err := d.endSizeLine(); err != nil {
					return i, false, err
				}
			}

		case chunkData:
			n := len(src) - i
			if n > d.size {
				n = d.size
			}
			if _, err := dst.Write(src[i : i+n]); err != nil {
				return i, false, err
			}
			i += n
			d.size -= n
			if d.size == 0 {
				d.state = chunkDataEnd
			}

		case chunkDataEnd:
			switch c {
			case '\r':
				i++
			case '\n':
				i++
				d.state = chunkedContent
			default:
				return i, false, ProtocolError(consts.StatusBadRequest, "块数据后缺少 CRLF")
			}

		case chunkTrailer:
			i++
			switch c {
			case '\r':
			case '\n':
				d.state = chunkEnd
				return i, true, nil
			default:
				d.state = chunkTrailerLine
			}

		case chunkTrailerLine:
			i++
			if c == '\n' {
				d.state = chunkTrailer
			}
		}
	}
	return i, false, nil
}

func (d *ChunkDecoder) endSizeLine() error {
	if d.size == 0 {
		d.state = chunkTrailer
		return nil
	}
	d.total += d.size
	if d.max > 0 && d.total > d.max {
		return errors.NewHTTPClose(consts.StatusRequestEntityTooLarge, errors.ErrBodyTooLarge)
	}
	d.state = chunkData
	return nil
}

// WriteChunk 将 b 编码为一个数据块写入 w。空切片不写入，以免误写终止块。
func WriteChunk(w io.Writer, b []byte) error {
	if len(b) == 0 {
		return nil
	}
	var hb [bytesconv.MaxHexIntChars + 3]byte
	head := bytesconv.AppendHexUint(hb[:0], len(b))
	head = append(head, '\r', '\n')
	if _, err := w.Write(head); err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	_, err := w.Write(crlf)
	return err
}

// WriteLastChunk 向 w 写入终止块。
func WriteLastChunk(w io.Writer) error {
	_, err := w.Write(lastChunk)
	return err
}
