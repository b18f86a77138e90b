package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lib/pq"

	"github.com/hitoshi/socialapi/internal/model"
)

// PostgresPostRepo はPostgreSQLを使用した投稿リポジトリ。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

const postSelect = `SELECT p.id, p.owner_id, u.email, p.message, p.created_at, p.updated_at
	FROM posts p
	INNER JOIN users u ON u.id = p.owner_id`

// FindByID は指定IDの投稿を添付画像付きで取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindByID(ctx context.Context, id string) (*model.Post, error) {
	post := &model.Post{}
	err := r.db.QueryRowContext(ctx, postSelect+` WHERE p.id = $1`, id).Scan(
		&post.ID, &post.OwnerID, &post.OwnerEmail, &post.Message, &post.CreatedAt, &post.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find post by ID: %w", err)
	}

	if err := r.attachImages(ctx, []*model.Post{post}); err != nil {
		return nil, err
	}
	return post, nil
}

// List は条件に合致する投稿を新しい順で返す。
func (r *PostgresPostRepo) List(ctx context.Context, filter model.PostFilter) ([]*model.Post, error) {
	var (
		conds []string
		args  []any
	)
	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		conds = append(conds, fmt.Sprintf("p.owner_id = $%d", len(args)))
	}
	if filter.Hashtag != "" {
		args = append(args, hashtagLikePattern(filter.Hashtag))
		conds = append(conds, fmt.Sprintf("p.message ILIKE $%d", len(args)))
	}

	query := postSelect
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY p.created_at DESC, p.id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	var posts []*model.Post
	for rows.Next() {
		post := &model.Post{}
		if err := rows.Scan(
			&post.ID, &post.OwnerID, &post.OwnerEmail, &post.Message, &post.CreatedAt, &post.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate posts: %w", err)
	}

	if err := r.attachImages(ctx, posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// ListIDsByOwner は指定ユーザーの投稿IDを新しい順で返す。
func (r *PostgresPostRepo) ListIDsByOwner(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM posts WHERE owner_id = $1 ORDER BY created_at DESC, id`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list post IDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan post ID: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate post IDs: %w", err)
	}
	return ids, nil
}

// Create は投稿を作成する。
func (r *PostgresPostRepo) Create(ctx context.Context, post *model.Post) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO posts (id, owner_id, message, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		post.ID, post.OwnerID, post.Message, post.CreatedAt, post.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert post: %w", err)
	}
	return nil
}

// DeleteByID は指定IDの投稿を削除する。
func (r *PostgresPostRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.NewPostNotFoundError(id)
	}
	return nil
}

// CreateImage は投稿に画像を添付する。
func (r *PostgresPostRepo) CreateImage(ctx context.Context, image *model.PostImage) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO post_images (id, post_id, title, image_path, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		image.ID, image.PostID, image.Title, image.ImagePath, image.CreatedAt,
	)
	if isUniqueViolation(err) {
		return model.NewDuplicateImageTitleError(image.Title)
	}
	if err != nil {
		return fmt.Errorf("failed to insert post image: %w", err)
	}
	return nil
}

// attachImages は投稿一覧の添付画像を1クエリでまとめて取得し、各投稿に設定する。
func (r *PostgresPostRepo) attachImages(ctx context.Context, posts []*model.Post) error {
	if len(posts) == 0 {
		return nil
	}

	byID := make(map[string]*model.Post, len(posts))
	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		p.Images = []*model.PostImage{}
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, post_id, title, image_path, created_at
		 FROM post_images
		 WHERE post_id = ANY($1::uuid[])
		 ORDER BY created_at, id`,
		pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("failed to list post images: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		img := &model.PostImage{}
		if err := rows.Scan(&img.ID, &img.PostID, &img.Title, &img.ImagePath, &img.CreatedAt); err != nil {
			return fmt.Errorf("failed to scan post image: %w", err)
		}
		if p, ok := byID[img.PostID]; ok {
			p.Images = append(p.Images, img)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate post images: %w", err)
	}
	return nil
}

// escapeLike はLIKEパターンのメタ文字（\ % _）をエスケープする。
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// hashtagLikePattern はハッシュタグ検索の前段に使うILIKEパターンを返す。
// ILIKEの大文字小文字の同一視はASCII以外ではDBの照合順序に依存するため、
// 大文字小文字の対応先にASCII以外の文字を含む文字は1文字ワイルドカード「_」に置き換える。
// 結果はstrings.EqualFoldで一致する投稿をすべて含む。
func hashtagLikePattern(tag string) string {
	var b strings.Builder
	b.WriteString("%#")
	for _, r := range tag {
		if !asciiFoldOnly(r) {
			b.WriteByte('_')
			continue
		}
		b.WriteString(escapeLike(string(r)))
	}
	b.WriteByte('%')
	return b.String()
}

// asciiFoldOnly は r と大文字小文字で対応する文字がすべてASCIIかを返す。
func asciiFoldOnly(r rune) bool {
	if r >= utf8.RuneSelf {
		return false
	}
	for f := unicode.SimpleFold(r); f != r; f = unicode.SimpleFold(f) {
		if f >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// compile-time interface check
var _ PostRepository = (*PostgresPostRepo)(nil)
