// Package media はアップロード画像の保存先パスの決定とファイル保存を提供する。
package media

import (
	"path"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

const (
	userUploadDir = "uploads/users"
	postUploadDir = "uploads/posts"
)

var (
	slugInvalid  = regexp.MustCompile(`[^\w\s-]`)
	slugSeparate = regexp.MustCompile(`[-\s]+`)
)

// Slugify は文字列をURLに使えるASCIIのスラッグに変換する。
// 互換分解した上で非ASCII文字を落とし、英数字・アンダースコア・ハイフン以外を除去して
// 空白とハイフンの連続を1つのハイフンにまとめる。
func Slugify(s string) string {
	var b strings.Builder
	for _, r := range norm.NFKD.String(s) {
		if r <= unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	out := slugInvalid.ReplaceAllString(strings.ToLower(b.String()), "")
	out = slugSeparate.ReplaceAllString(strings.TrimSpace(out), "-")
	return strings.Trim(out, "-_")
}

// ProfileImagePath はプロフィール画像の保存パスを返す。
// 形式: uploads/users/<slug(email)>-<uuid><ext>
func ProfileImagePath(email, ext string) string {
	return buildPath(userUploadDir, email, ext)
}

// PostImagePath は投稿画像の保存パスを返す。
// 形式: uploads/posts/<slug(postID)>-<uuid><ext>
func PostImagePath(postID, ext string) string {
	return buildPath(postUploadDir, postID, ext)
}

func buildPath(dir, base, ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return path.Join(dir, Slugify(base)+"-"+uuid.NewString()+ext)
}
