// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// User はサービス利用ユーザーを表す。
// パスワードはハッシュのみを保持し、APIレスポンスには含めない。
type User struct {
	ID           string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Bio          string
	ImagePath    string // メディアルートからの相対パス。未設定の場合は空文字列
	IsStaff      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CanModify は actor がこのユーザーのプロフィールを変更・削除できるかを返す。
// 本人または管理者のみ許可する。
func (u *User) CanModify(actor *User) bool {
	if actor == nil {
		return false
	}
	return actor.IsStaff || actor.ID == u.ID
}

// NormalizeEmail はメールアドレスのドメイン部を小文字化する。
// ローカル部は大文字小文字を区別しうるため変更しない。前後の空白は除去する。
func NormalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	return email[:at+1] + strings.ToLower(email[at+1:])
}

// UserStats はユーザーの投稿数・フォロー数・フォロワー数を表す。
type UserStats struct {
	PostsCount     int
	FollowingCount int
	FollowersCount int
}

// Follow はフォロー関係の有向エッジ（Follower → Followed）を表す。
// following と followers はこのエッジの2方向の射影であり、別々に保持しない。
type Follow struct {
	FollowerID string
	FollowedID string
	CreatedAt  time.Time
}

// FollowState はフォロー切り替え後の状態を表す。
type FollowState struct {
	FollowerID string
	FollowedID string
	Following  bool
}
