package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/socialapi/internal/model"
)

// PostgreSQLの一意制約違反エラーコード
const pqUniqueViolation = "23505"

const userColumns = `id, email, password_hash, first_name, last_name, bio, image_path, is_staff, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(s rowScanner, extra ...any) (*model.User, error) {
	user := &model.User{}
	dest := []any{
		&user.ID, &user.Email, &user.PasswordHash, &user.FirstName, &user.LastName,
		&user.Bio, &user.ImagePath, &user.IsStaff, &user.CreatedAt, &user.UpdatedAt,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		email,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// List は全ユーザーをメールアドレス順で返す。
func (r *PostgresUserRepo) List(ctx context.Context) ([]*model.User, error) {
	return queryUsers(ctx, r.db,
		`SELECT `+userColumns+` FROM users ORDER BY email`,
	)
}

// ListWithStats は全ユーザーを集計値付きでメールアドレス順に返す。
// 集計はサブクエリで行い、結合による行の重複を避ける。
func (r *PostgresUserRepo) ListWithStats(ctx context.Context) ([]UserWithStats, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT u.id, u.email, u.password_hash, u.first_name, u.last_name, u.bio, u.image_path,
		        u.is_staff, u.created_at, u.updated_at,
		        (SELECT count(*) FROM posts p WHERE p.owner_id = u.id),
		        (SELECT count(*) FROM follows f WHERE f.follower_id = u.id),
		        (SELECT count(*) FROM follows f WHERE f.followed_id = u.id)
		 FROM users u
		 ORDER BY u.email`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users with stats: %w", err)
	}
	defer rows.Close()

	var result []UserWithStats
	for rows.Next() {
		var stats model.UserStats
		user, err := scanUser(rows, &stats.PostsCount, &stats.FollowingCount, &stats.FollowersCount)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user with stats: %w", err)
		}
		result = append(result, UserWithStats{User: *user, Stats: stats})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users with stats: %w", err)
	}
	return result, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, first_name, last_name, bio, image_path, is_staff, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		user.ID, user.Email, user.PasswordHash, user.FirstName, user.LastName,
		user.Bio, user.ImagePath, user.IsStaff, user.CreatedAt, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return model.NewEmailTakenError()
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// Update はプロフィール項目を更新する。
func (r *PostgresUserRepo) Update(ctx context.Context, user *model.User) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET email = $2, password_hash = $3, first_name = $4, last_name = $5,
		     bio = $6, image_path = $7, updated_at = $8
		 WHERE id = $1`,
		user.ID, user.Email, user.PasswordHash, user.FirstName, user.LastName,
		user.Bio, user.ImagePath, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return model.NewEmailTakenError()
	}
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.NewUserNotFoundError()
	}
	return nil
}

// DeleteByID は指定IDのユーザーを削除する。
// 関連するfollows、posts、post_images、outstanding_tokensはCASCADE削除される。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.NewUserNotFoundError()
	}
	return nil
}

// queryer はクエリ実行元（*sql.DB / *sql.Tx）の共通インターフェース。
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryUsers(ctx context.Context, q queryer, query string, args ...any) ([]*model.User, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	return false
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
