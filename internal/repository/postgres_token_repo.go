package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/socialapi/internal/model"
)

// PostgresTokenRepo はPostgreSQLを使用したトークンリポジトリ。
type PostgresTokenRepo struct {
	db *sql.DB
}

// NewPostgresTokenRepo はPostgresTokenRepoを生成する。
func NewPostgresTokenRepo(db *sql.DB) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: db}
}

// CreateOutstanding は発行したリフレッシュトークンを記録する。
func (r *PostgresTokenRepo) CreateOutstanding(ctx context.Context, token *model.OutstandingToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO outstanding_tokens (jti, user_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4)`,
		token.JTI, token.UserID, token.ExpiresAt, token.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outstanding token: %w", err)
	}
	return nil
}

// FindOutstanding はjtiで発行記録を取得する。見つからない場合はnilを返す。
func (r *PostgresTokenRepo) FindOutstanding(ctx context.Context, jti string) (*model.OutstandingToken, error) {
	token := &model.OutstandingToken{}
	err := r.db.QueryRowContext(ctx,
		`SELECT jti, user_id, expires_at, created_at FROM outstanding_tokens WHERE jti = $1`,
		jti,
	).Scan(&token.JTI, &token.UserID, &token.ExpiresAt, &token.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find outstanding token: %w", err)
	}
	return token, nil
}

// IsBlacklisted はjtiがブラックリストに登録済みかを返す。
func (r *PostgresTokenRepo) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM blacklisted_tokens WHERE jti = $1)`,
		jti,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return exists, nil
}

// BlacklistByUserID はユーザーの全発行済みトークンをブラックリストに登録する。
func (r *PostgresTokenRepo) BlacklistByUserID(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO blacklisted_tokens (jti, blacklisted_at)
		 SELECT jti, now() FROM outstanding_tokens WHERE user_id = $1
		 ON CONFLICT (jti) DO NOTHING`,
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to blacklist tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ TokenRepository = (*PostgresTokenRepo)(nil)
