package model

import "time"

// TokenType はJWTの種別を表す。
type TokenType string

const (
	// TokenTypeAccess はAPI呼び出しに使用する短命のトークン。
	TokenTypeAccess TokenType = "access"
	// TokenTypeRefresh はアクセストークンの再発行に使用するトークン。
	TokenTypeRefresh TokenType = "refresh"
)

// OutstandingToken は発行済みのリフレッシュトークンを表す。
// ログアウト時にユーザー単位でブラックリストへ登録するために記録する。
type OutstandingToken struct {
	JTI       string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// TokenPair はログイン時に発行するアクセストークンとリフレッシュトークンの組。
type TokenPair struct {
	Access  string
	Refresh string
}
