package ext

import (
	"bytes"
	"mime"
	"os"
	"strings"

	"github.com/favbox/breeze/common/bytebuffer"
	"github.com/favbox/breeze/protocol"
	"github.com/favbox/breeze/protocol/consts"
)

const maxPartHeaderBytes = 8 * 1024

type multipartState uint8

const (
	mpPreamble multipartState = iota
	mpAfterDelim
	mpHeaders
	mpBody
	mpDone
)

var headerEnd = []byte("\r\n\r\n")

// MultipartDecoder 是由分隔符驱动的多部分表单增量解码器。
//
// 与 ChunkDecoder 一样可按任意字节边界喂入数据，既可直接接收定长正文，
// 也可接收分块解码后的输出。超过内存上限的文件部件写入临时文件。
type MultipartDecoder struct {
	delim       []byte
	pending     bytebuffer.Buffer
	state       multipartState
	maxInMemory int

	form *protocol.MultipartForm
	part *partWriter
}

type partWriter struct {
	name     string
	filename string
	header   protocol.Header
	data     []byte
	file     *os.File
	size     int64
}

// NewMultipartDecoder 创建给定分隔符的解码器。
func NewMultipartDecoder(boundary string, maxInMemoryFileSize int) *MultipartDecoder {
	d := &MultipartDecoder{
		delim:       []byte("\r\n--" + boundary),
		maxInMemory: maxInMemoryFileSize,
		form:        protocol.NewMultipartForm(),
	}
	// 首个分隔符前没有 CRLF，预置一个以统一匹配
	_, _ = d.pending.Write(crlf)
	return d
}

// Write 喂入正文字节。总是消耗全部输入，格式错误时返回协议错误。
func (d *MultipartDecoder) Write(p []byte) (int, error) {
	if d.state == mpDone {
		return len(p), nil
	}
	_, _ = d.pending.Write(p)
	if err := d.process(); err != nil {
		d.Abort()
		return len(p), err
	}
	return len(p), nil
}

// Close 在正文结束时调用，返回解析出的表单。未遇到结束分隔符视为错误。
func (d *MultipartDecoder) Close() (*protocol.MultipartForm, error) {
	defer d.pending.Release()
	if d.state != mpDone {
		d.Abort()
		return nil, ProtocolError(consts.StatusBadRequest, "多部分正文在结束分隔符之前结束")
	}
	return d.form, nil
}

// Abort 丢弃已解析的内容并删除临时文件。
func (d *MultipartDecoder) Abort() {
	if d.part != nil && d.part.file != nil {
		name := d.part.file.Name()
		_ = d.part.file.Close()
		_ = os.Remove(name)
	}
	d.part = nil
	if d.form != nil {
		_ = d.form.RemoveAll()
	}
	d.state = mpDone
}

func (d *MultipartDecoder) process() error {
	for {
		buf := d.pending.Bytes()
		switch d.state {
		case mpPreamble:
			i := bytes.Index(buf, d.delim)
			if i < 0 {
				d.keepTail(buf)
				return nil
			}
			d.pending.Skip(i + len(d.delim))
			d.state = mpAfterDelim

		case mpAfterDelim:
			if len(buf) < 2 {
				return nil
			}
			if buf[0] == '-' && buf[1] == '-' {
				d.state = mpDone
				d.pending.Reset()
				return nil
			}
			i := bytes.Index(buf, crlf)
			if i < 0 {
				if len(buf) > 256 {
					return ProtocolError(consts.StatusBadRequest, "分隔符后缺少 CRLF")
				}
				return nil
			}
			if len(bytes.TrimSpace(buf[:i])) > 0 {
				return ProtocolError(consts.StatusBadRequest, "分隔符后存在非法字符: %s", BufferSnippet(buf[:i]))
			}
			d.pending.Skip(i + 2)
			d.state = mpHeaders

		case mpHeaders:
			var raw []byte
			if bytes.HasPrefix(buf, crlf) {
				d.pending.Skip(2)
			} else {
				i := bytes.Index(buf, headerEnd)
				if i < 0 {
					if len(buf) > maxPartHeaderBytes {
						return ProtocolError(consts.StatusRequestHeaderFieldsTooLarge, "部件标头过大")
					}
					return nil
				}
				raw = buf[:i]
				d.pending.Skip(i + len(headerEnd))
			}
			if err := d.startPart(raw); err != nil {
				return err
			}
			d.state = mpBody

		case mpBody:
			i := bytes.Index(buf, d.delim)
			if i >= 0 {
				if err := d.part.write(buf[:i], d.maxInMemory); err != nil {
					return err
				}
				if err := d.finishPart(); err != nil {
					return err
				}
				d.pending.Skip(i + len(d.delim))
				d.state = mpAfterDelim
				continue
			}
			// 保留可能是分隔符前缀的尾部
			safe := len(buf) - (len(d.delim) - 1)
			if safe > 0 {
				if err := d.part.write(buf[:safe], d.maxInMemory); err != nil {
					return err
				}
				d.pending.Skip(safe)
			}
			return nil

		case mpDone:
			d.pending.Reset()
			return nil
		}
	}
}

func (d *MultipartDecoder) keepTail(buf []byte) {
	if keep := len(d.delim) - 1; len(buf) > keep {
		d.pending.Skip(len(buf) - keep)
	}
}

func (d *MultipartDecoder) startPart(raw []byte) error {
	p := &partWriter{}
	for _, line := range strings.Split(string(raw), "\r\n") {
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return ProtocolError(consts.StatusBadRequest, "非法的部件标头 %q", line)
		}
		p.header.Add(strings.TrimSpace(k), strings.TrimSpace(v))
	}
	if cd := p.header.Get(consts.HeaderContentDisposition); cd != "" {
		_, params, err := mime.ParseMediaType(cd)
		if err != nil {
			return ProtocolError(consts.StatusBadRequest, "非法的 Content-Disposition: %v", err)
		}
		p.name = params["name"]
		p.filename = params["filename"]
	}
	d.part = p
	return nil
}

func (d *MultipartDecoder) finishPart() error {
	p := d.part
	d.part = nil
	if p.name == "" {
		if p.file != nil {
			_ = p.file.Close()
			_ = os.Remove(p.file.Name())
		}
		return nil
	}
	if p.filename == "" && p.file == nil {
		d.form.Value[p.name] = append(d.form.Value[p.name], string(p.data))
		return nil
	}

	var fh *protocol.FileHeader
	if p.file != nil {
		name := p.file.Name()
		if err := p.file.Close(); err != nil {
			_ = os.Remove(name)
			return err
		}
		fh = protocol.NewTempFileHeader(p.filename, name, p.size)
	} else {
		fh = protocol.NewFileHeader(p.filename, p.data)
	}
	p.header.CopyTo(&fh.Header)
	d.form.File[p.name] = append(d.form.File[p.name], fh)
	return nil
}

func (p *partWriter) write(b []byte, maxInMemory int) error {
	if len(b) == 0 {
		return nil
	}
	p.size += int64(len(b))
	if p.file == nil && (p.filename == "" || len(p.data)+len(b) <= maxInMemory) {
		p.data = append(p.data, b...)
		return nil
	}
	if p.file == nil {
		f, err := os.CreateTemp("", "breeze-multipart-")
		if err != nil {
			return err
		}
		p.file = f
		if _, err = f.Write(p.data); err != nil {
			return err
		}
		p.data = nil
	}
	_, err := p.file.Write(b)
	return err
}
