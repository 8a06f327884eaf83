package protocol

import (
	"bytes"
	"io"
	"os"
)

// MultipartForm 是解析后的多部分表单。
type MultipartForm struct {
	Value map[string][]string
	File  map[string][]*FileHeader
}

// NewMultipartForm 创建空表单。
func NewMultipartForm() *MultipartForm {
	return &MultipartForm{
		Value: make(map[string][]string),
		File:  make(map[string][]*FileHeader),
	}
}

// RemoveAll 删除表单关联的全部临时文件。
func (f *MultipartForm) RemoveAll() error {
	var err error
	for _, fhs := range f.File {
		for _, fh := range fhs {
			if fh.tmpfile == "" {
				continue
			}
			if e := os.Remove(fh.tmpfile); e != nil && !os.IsNotExist(e) && err == nil {
				err = e
			}
			fh.tmpfile = ""
		}
	}
	return err
}

// FileHeader 描述多部分请求中的一个文件部件。
type FileHeader struct {
	Filename string
	Header   Header
	Size     int64

	content []byte
	tmpfile string
}

// NewFileHeader 创建内容位于内存中的文件部件。
func NewFileHeader(filename string, content []byte) *FileHeader {
	return &FileHeader{Filename: filename, Size: int64(len(content)), content: content}
}

// NewTempFileHeader 创建内容位于临时文件中的文件部件。
func NewTempFileHeader(filename, tmpfile string, size int64) *FileHeader {
	return &FileHeader{Filename: filename, Size: size, tmpfile: tmpfile}
}

// TempFile 返回临时文件路径，内容在内存中时为空。
func (fh *FileHeader) TempFile() string {
	return fh.tmpfile
}

// Open 打开文件内容以供读取。
func (fh *FileHeader) Open() (io.ReadCloser, error) {
	if fh.tmpfile != "" {
		return os.Open(fh.tmpfile)
	}
	return io.NopCloser(bytes.NewReader(fh.content)), nil
}
