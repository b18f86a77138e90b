package media

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/hitoshi/socialapi/internal/model"
)

// Storage は画像ファイルの保存先を抽象化するインターフェース。
type Storage interface {
	// Save は相対パスにファイルを保存する。
	Save(ctx context.Context, relPath string, content []byte) error
	// Delete は相対パスのファイルを削除する。存在しない場合はエラーにしない。
	Delete(ctx context.Context, relPath string) error
	// URL は相対パスの公開URLを返す。空の相対パスには空文字列を返す。
	URL(relPath string) string
}

// FileStore はローカルファイルシステムを使用するStorage実装。
// root 配下に保存し、baseURL + "/media/" + 相対パス で公開する。
type FileStore struct {
	root    string
	baseURL string
}

// NewFileStore はFileStoreを生成する。
func NewFileStore(root, baseURL string) *FileStore {
	return &FileStore{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Root は保存先ルートディレクトリを返す。
func (s *FileStore) Root() string {
	return s.root
}

// Save は一時ファイルに書き込んでからリネームし、途中状態のファイルを公開しない。
func (s *FileStore) Save(ctx context.Context, relPath string, content []byte) error {
	dst, err := s.resolve(relPath)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create media directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write media file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close media file: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("failed to move media file: %w", err)
	}
	return nil
}

// Delete は相対パスのファイルを削除する。
func (s *FileStore) Delete(ctx context.Context, relPath string) error {
	if relPath == "" {
		return nil
	}
	dst, err := s.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete media file: %w", err)
	}
	return nil
}

// URL は相対パスの公開URLを返す。
func (s *FileStore) URL(relPath string) string {
	if relPath == "" {
		return ""
	}
	return s.baseURL + "/media/" + relPath
}

// resolve は相対パスをroot配下の絶対パスに変換する。root外を指すパスは拒否する。
func (s *FileStore) resolve(relPath string) (string, error) {
	clean := path.Clean("/" + relPath)
	if clean == "/" || strings.Contains(relPath, "..") {
		return "", fmt.Errorf("invalid media path: %q", relPath)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// DetectImage は内容からMIMEタイプを判定し、画像であれば拡張子（".png" など）を返す。
// 画像以外はmodel.APIError(INVALID_IMAGE)を返す。
func DetectImage(content []byte) (string, error) {
	mt := mimetype.Detect(content)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", model.NewInvalidImageError(mt.String())
	}
	return mt.Extension(), nil
}

// compile-time interface check
var _ Storage = (*FileStore)(nil)
