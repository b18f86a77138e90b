package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/socialapi/internal/model"
)

// PostgresFollowRepo はPostgreSQLを使用したフォローグラフリポジトリ。
type PostgresFollowRepo struct {
	db *sql.DB
}

// NewPostgresFollowRepo はPostgresFollowRepoを生成する。
func NewPostgresFollowRepo(db *sql.DB) *PostgresFollowRepo {
	return &PostgresFollowRepo{db: db}
}

// ToggleEdge は follower → followed のエッジを同一トランザクション内で反転する。
//
// 両ユーザー行をid順に FOR UPDATE でロックしてからエッジの有無を確認するため、
// 同じペアへの並行呼び出しは直列化され、A→B と B→A の同時実行でもデッドロックしない。
// どちらかのユーザーが存在しない場合はmodel.APIError(USER_NOT_FOUND)を返し、何も変更しない。
func (r *PostgresFollowRepo) ToggleEdge(ctx context.Context, followerID, followedID string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM users WHERE id IN ($1, $2) ORDER BY id FOR UPDATE`,
		followerID, followedID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to lock users: %w", err)
	}
	locked := 0
	for rows.Next() {
		locked++
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return false, fmt.Errorf("failed to iterate locked users: %w", err)
	}
	rows.Close()
	if locked < 2 {
		return false, model.NewUserNotFoundError()
	}

	var exists bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM follows WHERE follower_id = $1 AND followed_id = $2)`,
		followerID, followedID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check follow edge: %w", err)
	}

	if exists {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM follows WHERE follower_id = $1 AND followed_id = $2`,
			followerID, followedID,
		)
		if err != nil {
			return false, fmt.Errorf("failed to delete follow edge: %w", err)
		}
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO follows (follower_id, followed_id, created_at) VALUES ($1, $2, now())`,
			followerID, followedID,
		)
		if err != nil {
			return false, fmt.Errorf("failed to insert follow edge: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return !exists, nil
}

// Exists は follower → followed のエッジが存在するかを返す。
func (r *PostgresFollowRepo) Exists(ctx context.Context, followerID, followedID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM follows WHERE follower_id = $1 AND followed_id = $2)`,
		followerID, followedID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check follow edge: %w", err)
	}
	return exists, nil
}

// ListFollowing は userID がフォローしているユーザーをメールアドレス順で返す。
func (r *PostgresFollowRepo) ListFollowing(ctx context.Context, userID string) ([]*model.User, error) {
	users, err := queryUsers(ctx, r.db,
		`SELECT u.id, u.email, u.password_hash, u.first_name, u.last_name, u.bio, u.image_path,
		        u.is_staff, u.created_at, u.updated_at
		 FROM follows f
		 INNER JOIN users u ON u.id = f.followed_id
		 WHERE f.follower_id = $1
		 ORDER BY u.email`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list following: %w", err)
	}
	return users, nil
}

// ListFollowers は userID をフォローしているユーザーをメールアドレス順で返す。
func (r *PostgresFollowRepo) ListFollowers(ctx context.Context, userID string) ([]*model.User, error) {
	users, err := queryUsers(ctx, r.db,
		`SELECT u.id, u.email, u.password_hash, u.first_name, u.last_name, u.bio, u.image_path,
		        u.is_staff, u.created_at, u.updated_at
		 FROM follows f
		 INNER JOIN users u ON u.id = f.follower_id
		 WHERE f.followed_id = $1
		 ORDER BY u.email`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list followers: %w", err)
	}
	return users, nil
}

// Stats は userID の投稿数・フォロー数・フォロワー数を返す。
func (r *PostgresFollowRepo) Stats(ctx context.Context, userID string) (model.UserStats, error) {
	var stats model.UserStats
	err := r.db.QueryRowContext(ctx,
		`SELECT
		    (SELECT count(*) FROM posts WHERE owner_id = $1),
		    (SELECT count(*) FROM follows WHERE follower_id = $1),
		    (SELECT count(*) FROM follows WHERE followed_id = $1)`,
		userID,
	).Scan(&stats.PostsCount, &stats.FollowingCount, &stats.FollowersCount)
	if err != nil {
		return model.UserStats{}, fmt.Errorf("failed to count user stats: %w", err)
	}
	return stats, nil
}

// compile-time interface check
var _ FollowRepository = (*PostgresFollowRepo)(nil)
