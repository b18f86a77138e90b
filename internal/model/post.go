package model

import (
	"time"

	"github.com/hitoshi/socialapi/internal/hashtag"
)

// messageShortLength は一覧表示用の短縮メッセージの文字数。
const messageShortLength = 15

// Post はユーザーの投稿を表す。
type Post struct {
	ID         string
	OwnerID    string
	OwnerEmail string // usersとJOINして取得する表示用フィールド
	Message    string
	Images     []*PostImage
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Hashtags はメッセージに含まれるハッシュタグを出現順に返す。
func (p *Post) Hashtags() []string {
	return hashtag.Extract(p.Message)
}

// MessageShort はメッセージの先頭15文字を返す。
func (p *Post) MessageShort() string {
	runes := []rune(p.Message)
	if len(runes) <= messageShortLength {
		return p.Message
	}
	return string(runes[:messageShortLength])
}

// PostImage は投稿に添付された画像を表す。
// 親の投稿が削除されると同時に削除される。
type PostImage struct {
	ID        string
	PostID    string
	Title     string // 全投稿を通して一意
	ImagePath string
	CreatedAt time.Time
}

// PostFilter は投稿一覧の絞り込み条件。
// ゼロ値のフィールドは条件に含めない。
type PostFilter struct {
	OwnerID string
	Hashtag string // 先頭の#を除いた正規化済みタグ
}
