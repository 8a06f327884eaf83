package websocket

import (
	"encoding/binary"
	"fmt"
)

// Opcode 是帧操作码。
type Opcode uint8

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// IsControl 报告是否为控制帧操作码。
func (op Opcode) IsControl() bool { return op&0x8 != 0 }

func (op Opcode) valid() bool {
	switch op {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return true
	}
	return false
}

func (op Opcode) String() string {
	switch op {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	}
	return fmt.Sprintf("opcode(%d)", uint8(op))
}

// 关闭状态码。
const (
	CloseNormal           = 1000
	CloseGoingAway        = 1001
	CloseProtocolError    = 1002
	CloseUnsupportedData  = 1003
	CloseNoStatus         = 1005
	CloseInvalidPayload   = 1007
	ClosePolicyViolation  = 1008
	CloseMessageTooBig    = 1009
	CloseInternalError    = 1011
	CloseTryAgainLater    = 1013
	maxControlPayloadSize = 125
)

// CloseError 表示以指定状态码结束连接的原因。
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("websocket: close %d", e.Code)
	}
	return fmt.Sprintf("websocket: close %d: %s", e.Code, e.Reason)
}

func protocolError(format string, v ...any) *CloseError {
	return &CloseError{Code: CloseProtocolError, Reason: fmt.Sprintf(format, v...)}
}

// Frame 是一个已解码的帧。Payload 仅在回调期间有效。
type Frame struct {
	Fin     bool
	Op      Opcode
	Payload []byte
}

type frameState uint8

const (
	frameHead    frameState = iota // 前两个字节
	frameExtra                     // 扩展长度与掩码键
	framePayload                   // 负载
)

// Decoder 是帧的增量解码器，可按任意字节边界喂入。
type Decoder struct {
	// MaxPayload 是单帧负载上限，超出以 1009 结束，0 表示不限。
	MaxPayload int
	// AllowUnmasked 为真时接受未加掩码的帧，服务端读取客户端帧时应为假。
	AllowUnmasked bool

	state   frameState
	head    [14]byte
	have    int
	need    int
	fin     bool
	op      Opcode
	masked  bool
	mask    [4]byte
	length  int
	payload []byte
}

// Reset 丢弃进行中的帧。
func (d *Decoder) Reset() {
	d.state = frameHead
	d.have, d.need, d.length = 0, 0, 0
	d.payload = d.payload[:0]
}

// Decode 消耗 b 的全部字节，每解出一个完整帧调用一次 emit。
//
// 返回的错误为 *CloseError，或 emit 返回的错误。
func (d *Decoder) Decode(b []byte, emit func(Frame) error) (int, error) {
	i := 0
	for i < len(b) {
		switch d.state {
		case frameHead:
			d.head[d.have] = b[i]
			d.have++
			i++
			if d.have < 2 {
				continue
			}
			if err := d.parseHead(); err != nil {
				return i, err
			}
			if d.need == 2 {
				if err := d.endHeader(emit); err != nil {
					return i, err
				}
			} else {
				d.state = frameExtra
			}

		case frameExtra:
			n := copy(d.head[d.have:d.need], b[i:])
			d.have += n
			i += n
			if d.have < d.need {
				continue
			}
			if err := d.endHeader(emit); err != nil {
				return i, err
			}

		case framePayload:
			n := d.length - len(d.payload)
			if rest := len(b) - i; n > rest {
				n = rest
			}
			d.payload = append(d.payload, b[i:i+n]...)
			i += n
			if len(d.payload) == d.length {
				if err := d.emit(emit); err != nil {
					return i, err
				}
			}
		}
	}
	return i, nil
}

func (d *Decoder) parseHead() error {
	b0, b1 := d.head[0], d.head[1]
	if b0&0x70 != 0 {
		return protocolError("保留位非零")
	}
	d.fin = b0&0x80 != 0
	d.op = Opcode(b0 & 0x0F)
	if !d.op.valid() {
		return protocolError("未知操作码 %d", uint8(d.op))
	}
	d.masked = b1&0x80 != 0
	if !d.masked && !d.AllowUnmasked {
		return protocolError("客户端帧未加掩码")
	}
	l7 := int(b1 & 0x7F)
	if d.op.IsControl() && (!d.fin || l7 > maxControlPayloadSize) {
		return protocolError("非法的控制帧")
	}

	d.need = 2
	switch l7 {
	case 126:
		d.need += 2
	case 127:
		d.need += 8
	}
	if d.masked {
		d.need += 4
	}
	d.length = l7
	return nil
}

func (d *Decoder) endHeader(emit func(Frame) error) error {
	off := 2
	switch d.length {
	case 126:
		d.length = int(binary.BigEndian.Uint16(d.head[off:]))
		off += 2
	case 127:
		n := binary.BigEndian.Uint64(d.head[off:])
		if n>>63 != 0 {
			return protocolError("负载长度最高位非零")
		}
		if d.MaxPayload > 0 && n > uint64(d.MaxPayload) {
			return &CloseError{Code: CloseMessageTooBig}
		}
		d.length = int(n)
		off += 8
	}
	if d.MaxPayload > 0 && d.length > d.MaxPayload {
		return &CloseError{Code: CloseMessageTooBig}
	}
	if d.masked {
		copy(d.mask[:], d.head[off:off+4])
	}
	d.payload = d.payload[:0]
	if d.length == 0 {
		return d.emit(emit)
	}
	d.state = framePayload
	return nil
}

func (d *Decoder) emit(emit func(Frame) error) error {
	if d.masked {
		maskBytes(d.payload, d.mask)
	}
	f := Frame{Fin: d.fin, Op: d.op, Payload: d.payload}
	d.state = frameHead
	d.have, d.need = 0, 0
	return emit(f)
}

func maskBytes(b []byte, key [4]byte) {
	for i := range b {
		b[i] ^= key[i&3]
	}
}

// AppendFrame 将一个未加掩码的帧追加到 dst。
func AppendFrame(dst []byte, op Opcode, fin bool, payload []byte) []byte {
	dst = appendHeader(dst, op, fin, false, len(payload))
	return append(dst, payload...)
}

// AppendMaskedFrame 将一个以 key 加掩码的帧追加到 dst，用于客户端。
func AppendMaskedFrame(dst []byte, op Opcode, fin bool, key [4]byte, payload []byte) []byte {
	dst = appendHeader(dst, op, fin, true, len(payload))
	dst = append(dst, key[:]...)
	start := len(dst)
	dst = append(dst, payload...)
	maskBytes(dst[start:], key)
	return dst
}

func appendHeader(dst []byte, op Opcode, fin, masked bool, n int) []byte {
	b0 := byte(op)
	if fin {
		b0 |= 0x80
	}
	var m byte
	if masked {
		m = 0x80
	}
	switch {
	case n <= maxControlPayloadSize:
		return append(dst, b0, m|byte(n))
	case n <= 0xFFFF:
		dst = append(dst, b0, m|126)
		return binary.BigEndian.AppendUint16(dst, uint16(n))
	default:
		dst = append(dst, b0, m|127)
		return binary.BigEndian.AppendUint64(dst, uint64(n))
	}
}

// closePayload 编码关闭帧负载。
func closePayload(code int, reason string) []byte {
	if code == CloseNoStatus {
		return nil
	}
	if len(reason) > maxControlPayloadSize-2 {
		reason = reason[:maxControlPayloadSize-2]
	}
	b := binary.BigEndian.AppendUint16(make([]byte, 0, 2+len(reason)), uint16(code))
	return append(b, reason...)
}

// parseClosePayload 解析对端关闭帧的状态码与原因。
func parseClosePayload(p []byte) (int, string, error) {
	switch {
	case len(p) == 0:
		return CloseNoStatus, "", nil
	case len(p) == 1:
		return 0, "", protocolError("关闭帧负载长度为 1")
	}
	code := int(binary.BigEndian.Uint16(p))
	if !validCloseCode(code) {
		return 0, "", protocolError("非法的关闭状态码 %d", code)
	}
	return code, string(p[2:]), nil
}

func validCloseCode(code int) bool {
	switch {
	case code >= 1000 && code <= 1003, code >= 1007 && code <= 1011, code >= 3000 && code <= 4999:
		return true
	}
	return false
}
