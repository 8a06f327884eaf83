package app

import (
	"context"
	"html"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/favbox/breeze/common/errors"
	"github.com/favbox/breeze/common/hlog"
	"github.com/favbox/breeze/internal/bytesconv"
	"github.com/favbox/breeze/protocol/consts"
	"github.com/valyala/bytebufferpool"
)

// PathRewriteFunc 将请求路径改写为基于 FS.Root 的本地安全相对路径。
type PathRewriteFunc func(rc *RequestContext) string

// FS 是静态文件服务配置项。
//
// 仅服务 GET 与 HEAD 请求，不做缓存、压缩与字节范围处理。
type FS struct {
	// 静态文件服务的根目录，为空时使用当前工作目录。
	Root string

	// 访问目录时尝试打开的索引文件名称切片，默认为 index.html。
	IndexNames []string

	// 目录无 IndexNames 匹配文件时，是否生成索引页。
	GenerateIndexPages bool

	// 路径重写函数，默认不重写。
	PathRewrite PathRewriteFunc

	// 当文件不存在时可自定义处理方式，默认返回 Continue 交由后续处理器。
	PathNotFound Handler
}

// NewRequestHandler 返回当前 FS 的请求处理器。
func (fs *FS) NewRequestHandler() Handler {
	root := fs.Root
	if root == "" {
		root = "."
	}
	root = strings.TrimRight(root, "/")
	if root == "" {
		root = "/"
	}
	indexNames := fs.IndexNames
	if len(indexNames) == 0 {
		indexNames = []string{"index.html"}
	}
	h := &fsHandler{
		root:               root,
		indexNames:         indexNames,
		generateIndexPages: fs.GenerateIndexPages,
		pathRewrite:        fs.PathRewrite,
		pathNotFound:       fs.PathNotFound,
	}
	return HandlerFunc(h.handleRequest)
}

type fsHandler struct {
	root               string
	indexNames         []string
	generateIndexPages bool
	pathRewrite        PathRewriteFunc
	pathNotFound       Handler
}

// 真正的静态文件服务处理器。
func (h *fsHandler) handleRequest(c context.Context, rc *RequestContext) (Result, error) {
	if !rc.IsGet() && !rc.IsHead() {
		return Continue, nil
	}
	var p string
	if h.pathRewrite != nil {
		p = h.pathRewrite(rc)
	} else {
		p = rc.Path()
	}
	if n := strings.IndexByte(p, 0); n >= 0 {
		hlog.SystemLogger().Errorf("无法提供含空字节的路径服务，位置=%d，路径=%q", n, p)
		return Done, errors.NewHTTP(consts.StatusBadRequest, "")
	}
	p = path.Clean("/" + p)
	filePath := filepath.Join(h.root, filepath.FromSlash(p))

	info, err := os.Stat(filePath)
	if err != nil {
		return h.notFound(c, rc)
	}
	if info.IsDir() {
		for _, name := range h.indexNames {
			indexPath := filepath.Join(filePath, name)
			if ii, err := os.Stat(indexPath); err == nil && !ii.IsDir() {
				return h.serveFile(rc, indexPath, ii)
			}
		}
		if h.generateIndexPages {
			return h.serveDirIndex(rc, filePath, path.Clean(rc.Path()))
		}
		return h.notFound(c, rc)
	}
	return h.serveFile(rc, filePath, info)
}

func (h *fsHandler) notFound(c context.Context, rc *RequestContext) (Result, error) {
	if h.pathNotFound != nil {
		return h.pathNotFound.Handle(c, rc)
	}
	return Continue, nil
}

func (h *fsHandler) serveFile(rc *RequestContext, filePath string, info os.FileInfo) (Result, error) {
	f, err := os.Open(filePath)
	if err != nil {
		hlog.SystemLogger().Errorf("无法打开文件 %q，错误=%s", filePath, err)
		return Done, errors.NewHTTP(consts.StatusForbidden, "")
	}
	defer f.Close()

	ct := mime.TypeByExtension(filepath.Ext(filePath))
	if ct == "" {
		ct = consts.MIMEOctetStream
	}
	rc.SetContentType(ct)
	rc.Header(consts.HeaderContentLength, bytesconv.B2s(bytesconv.AppendUint(nil, int(info.Size()))))
	rc.Header(consts.HeaderLastModified, bytesconv.B2s(bytesconv.AppendHTTPDate(nil, info.ModTime())))
	if rc.IsHead() {
		return Done, nil
	}
	if _, err = io.Copy(rc, f); err != nil {
		return Done, err
	}
	return Done, nil
}

func (h *fsHandler) serveDirIndex(rc *RequestContext, dirPath, urlPath string) (Result, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return Done, errors.NewHTTP(consts.StatusForbidden, "")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	base := strings.TrimSuffix(urlPath, "/") + "/"
	w := bytebufferpool.Get()
	defer bytebufferpool.Put(w)
	escaped := html.EscapeString(base)
	_, _ = w.WriteString("<html><head><title>" + escaped + "</title></head><body><h1>" + escaped + "</h1><ul>")
	if base != "/" {
		_, _ = w.WriteString(`<li><a href="../">..</a></li>`)
	}
	for _, name := range names {
		_, _ = w.WriteString(`<li><a href="` + html.EscapeString(base+name) + `">` + html.EscapeString(name) + "</a></li>")
	}
	_, _ = w.WriteString("</ul></body></html>")
	rc.HTML(consts.StatusOK, w.String())
	return Done, nil
}

// NewPathSlashesStripper 返回路径重写器，删除路径中的 slashesCount 个前导路径段。
//
// 示例：
//
//   - slashesCount = 0, 原始路径："/foo/bar"，结果："/foo/bar"
//   - slashesCount = 1, 原始路径："/foo/bar"，结果："/bar"
//   - slashesCount = 2, 原始路径："/foo/bar"，结果：""
func NewPathSlashesStripper(slashesCount int) PathRewriteFunc {
	return func(rc *RequestContext) string {
		return stripLeadingSlashes(rc.Path(), slashesCount)
	}
}

// NewPathPrefixStripper 返回路径重写器，删除路径的 prefix 前缀。
func NewPathPrefixStripper(prefix string) PathRewriteFunc {
	prefix = strings.TrimSuffix(prefix, "/")
	return func(rc *RequestContext) string {
		return strings.TrimPrefix(rc.Path(), prefix)
	}
}

func stripLeadingSlashes(p string, stripSlashes int) string {
	for stripSlashes > 0 && len(p) > 0 {
		n := strings.IndexByte(p[1:], '/')
		if n < 0 {
			return ""
		}
		p = p[n+1:]
		stripSlashes--
	}
	return p
}
