// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"

	"github.com/hitoshi/socialapi/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// List は全ユーザーをメールアドレス順で返す。
	List(ctx context.Context) ([]*model.User, error)

	// ListWithStats は全ユーザーを投稿数・フォロー数・フォロワー数付きでメールアドレス順に返す。
	ListWithStats(ctx context.Context) ([]UserWithStats, error)

	// Create はユーザーを作成する。メールアドレスが重複する場合はmodel.APIError(EMAIL_TAKEN)を返す。
	Create(ctx context.Context, user *model.User) error

	// Update はプロフィール項目（メールアドレス、パスワードハッシュ、氏名、自己紹介、画像）を更新する。
	Update(ctx context.Context, user *model.User) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するfollows、posts、post_images、outstanding_tokensはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// FollowRepository はフォローグラフの永続化インターフェース。
// フォロー関係は (follower_id, followed_id) の有向エッジ1行で表現し、
// following と followers はその2方向の射影として取得する。
type FollowRepository interface {
	// ToggleEdge は follower → followed のエッジを同一トランザクション内で反転する。
	// 既にフォローしていればエッジを削除し、していなければ作成する。
	// 同じペアへの並行呼び出しは両ユーザー行のロックで直列化される。
	// 戻り値は反転後にフォローしているかどうか。
	ToggleEdge(ctx context.Context, followerID, followedID string) (bool, error)

	// Exists は follower → followed のエッジが存在するかを返す。
	Exists(ctx context.Context, followerID, followedID string) (bool, error)

	// ListFollowing は userID がフォローしているユーザーをメールアドレス順で返す。
	ListFollowing(ctx context.Context, userID string) ([]*model.User, error)

	// ListFollowers は userID をフォローしているユーザーをメールアドレス順で返す。
	ListFollowers(ctx context.Context, userID string) ([]*model.User, error)

	// Stats は userID の投稿数・フォロー数・フォロワー数を返す。
	Stats(ctx context.Context, userID string) (model.UserStats, error)
}

// PostRepository は投稿データの永続化インターフェース。
type PostRepository interface {
	// FindByID は指定IDの投稿を添付画像と投稿者メールアドレス付きで取得する。
	// 見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Post, error)

	// List は条件に合致する投稿を新しい順で返す。
	// filter.Hashtag はメッセージ本文への部分一致（大文字小文字を区別しない）で前段の絞り込みのみ行う。
	// タグとしての完全一致判定は呼び出し側で行う。
	List(ctx context.Context, filter model.PostFilter) ([]*model.Post, error)

	// ListIDsByOwner は指定ユーザーの投稿IDを新しい順で返す。
	ListIDsByOwner(ctx context.Context, ownerID string) ([]string, error)

	// Create は投稿を作成する。
	Create(ctx context.Context, post *model.Post) error

	// DeleteByID は指定IDの投稿を削除する。添付画像はCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error

	// CreateImage は投稿に画像を添付する。
	// タイトルが重複する場合はmodel.APIError(DUPLICATE_IMAGE_TITLE)を返す。
	CreateImage(ctx context.Context, image *model.PostImage) error
}

// TokenRepository はリフレッシュトークンの発行記録とブラックリストの永続化インターフェース。
type TokenRepository interface {
	// CreateOutstanding は発行したリフレッシュトークンを記録する。
	CreateOutstanding(ctx context.Context, token *model.OutstandingToken) error

	// FindOutstanding はjtiで発行記録を取得する。見つからない場合はnilを返す。
	FindOutstanding(ctx context.Context, jti string) (*model.OutstandingToken, error)

	// IsBlacklisted はjtiがブラックリストに登録済みかを返す。
	IsBlacklisted(ctx context.Context, jti string) (bool, error)

	// BlacklistByUserID はユーザーの全発行済みトークンをブラックリストに登録する。
	// 登録済みのものはスキップし、新たに登録した件数を返す。
	BlacklistByUserID(ctx context.Context, userID string) (int64, error)
}

// UserWithStats はユーザーと集計値を結合した構造体。
type UserWithStats struct {
	model.User
	Stats model.UserStats
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
