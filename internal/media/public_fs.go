package media

import (
	"io/fs"
	"net/http"
	"strings"
)

// PublicFS は公開メディア配信用のファイルシステム。
// ディレクトリと「.」で始まる要素を含むパス（保存途中の一時ファイルなど）は存在しないものとして扱う。
type PublicFS struct {
	root http.FileSystem
}

// NewPublicFS はメディアルートを公開するPublicFSを生成する。
func NewPublicFS(root string) *PublicFS {
	return &PublicFS{root: http.Dir(root)}
}

// Open は通常ファイルのみを開く。
func (p *PublicFS) Open(name string) (http.File, error) {
	for _, seg := range strings.Split(name, "/") {
		if strings.HasPrefix(seg, ".") {
			return nil, fs.ErrNotExist
		}
	}

	f, err := p.root.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, fs.ErrNotExist
	}
	return f, nil
}
