// Package post は投稿と添付画像のドメインロジックを提供する。
package post

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/hitoshi/socialapi/internal/hashtag"
	"github.com/hitoshi/socialapi/internal/media"
	"github.com/hitoshi/socialapi/internal/metrics"
	"github.com/hitoshi/socialapi/internal/model"
	"github.com/hitoshi/socialapi/internal/repository"
	"github.com/hitoshi/socialapi/internal/security"
)

const (
	// MaxMessageLength は投稿本文の最大文字数。
	MaxMessageLength = 4096
	// MaxImageTitleLength は画像タイトルの最大文字数。
	MaxImageTitleLength = 55
)

// ImageFetcher は外部URLから画像を取得する。
// media.Downloader が実装する。
type ImageFetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// StatsInvalidator はユーザー集計キャッシュを破棄する。
// follow.Service が実装する。
type StatsInvalidator interface {
	InvalidateStats(ctx context.Context, userIDs ...string)
}

// Service は投稿のサービス層。
type Service struct {
	postRepo  repository.PostRepository
	userRepo  repository.UserRepository
	sanitizer security.ContentSanitizerService
	storage   media.Storage
	fetcher   ImageFetcher
	stats     StatsInvalidator
	metrics   metrics.MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。
// stats、collector はnilでもよい。
func NewService(
	postRepo repository.PostRepository,
	userRepo repository.UserRepository,
	sanitizer security.ContentSanitizerService,
	storage media.Storage,
	fetcher ImageFetcher,
	stats StatsInvalidator,
	collector metrics.MetricsCollector,
) *Service {
	return &Service{
		postRepo:  postRepo,
		userRepo:  userRepo,
		sanitizer: sanitizer,
		storage:   storage,
		fetcher:   fetcher,
		stats:     stats,
		metrics:   collector,
	}
}

// Create は投稿を作成する。本文のHTMLは除去してから保存する。
func (s *Service) Create(ctx context.Context, ownerID, message string) (*model.Post, error) {
	message = s.sanitizer.Sanitize(message)
	if message == "" {
		return nil, model.NewValidationError("message は必須です")
	}
	if utf8.RuneCountInString(message) > MaxMessageLength {
		return nil, model.NewValidationError(fmt.Sprintf("message は%d文字以内で入力してください", MaxMessageLength))
	}

	now := time.Now()
	post := &model.Post{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Message:   message,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.postRepo.Create(ctx, post); err != nil {
		return nil, fmt.Errorf("投稿の作成に失敗しました: %w", err)
	}

	s.invalidate(ctx, ownerID)
	if s.metrics != nil {
		s.metrics.RecordPostCreated()
	}
	slog.Info("投稿を作成しました",
		slog.String("post_id", post.ID),
		slog.String("owner_id", ownerID),
		slog.Int("hashtags", len(post.Hashtags())),
	)

	// 投稿者メールアドレス等を含めて返す
	return s.Get(ctx, post.ID)
}

// Get は指定IDの投稿を返す。存在しない場合はPOST_NOT_FOUNDを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Post, error) {
	post, err := s.postRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	if post == nil {
		return nil, model.NewPostNotFoundError(id)
	}
	return post, nil
}

// List は条件に合致する投稿を新しい順で返す。
// filter.Hashtag が指定された場合は、本文から抽出したタグに完全一致（大文字小文字を区別しない）する投稿のみ返す。
func (s *Service) List(ctx context.Context, filter model.PostFilter) ([]*model.Post, error) {
	if filter.Hashtag != "" {
		tag, ok := hashtag.Normalize(filter.Hashtag)
		if !ok {
			return nil, model.NewInvalidHashtagError(filter.Hashtag)
		}
		filter.Hashtag = tag
	}

	posts, err := s.postRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("投稿一覧の取得に失敗しました: %w", err)
	}
	if filter.Hashtag == "" {
		return posts, nil
	}
	return lo.Filter(posts, func(p *model.Post, _ int) bool {
		return hashtag.Contains(p.Message, filter.Hashtag)
	}), nil
}

// Delete は投稿を削除する。投稿者本人または管理者のみ実行できる。
// 添付画像のファイルも削除する。
func (s *Service) Delete(ctx context.Context, actorID, id string) error {
	post, err := s.authorize(ctx, actorID, id)
	if err != nil {
		return err
	}

	if err := s.postRepo.DeleteByID(ctx, id); err != nil {
		return err
	}
	for _, img := range post.Images {
		s.removeFile(ctx, img.ImagePath)
	}
	s.invalidate(ctx, post.OwnerID)

	slog.Info("投稿を削除しました",
		slog.String("post_id", id),
		slog.String("actor_id", actorID),
	)
	return nil
}

// AttachImage はアップロードされた画像を投稿に添付する。投稿者本人または管理者のみ実行できる。
func (s *Service) AttachImage(ctx context.Context, actorID, postID, title string, content []byte) (*model.PostImage, error) {
	return s.attach(ctx, actorID, postID, title, content, metrics.ImageSourceUpload)
}

// ImportImage は外部URLから取得した画像を投稿に添付する。
// 取得はSSRF防止付きのクライアントで行い、以降はAttachImageと同じ処理を行う。
func (s *Service) ImportImage(ctx context.Context, actorID, postID, title, sourceURL string) (*model.PostImage, error) {
	title, err := validateTitle(title)
	if err != nil {
		return nil, err
	}
	// 取得前に権限を確認し、権限のない利用者に外部リクエストを発行させない
	if _, err := s.authorize(ctx, actorID, postID); err != nil {
		return nil, err
	}

	content, err := s.fetcher.Fetch(ctx, strings.TrimSpace(sourceURL))
	if err != nil {
		return nil, err
	}
	return s.attach(ctx, actorID, postID, title, content, metrics.ImageSourceImport)
}

func (s *Service) attach(ctx context.Context, actorID, postID, title string, content []byte, source string) (*model.PostImage, error) {
	title, err := validateTitle(title)
	if err != nil {
		return nil, err
	}
	post, err := s.authorize(ctx, actorID, postID)
	if err != nil {
		return nil, err
	}

	ext, err := media.DetectImage(content)
	if err != nil {
		return nil, err
	}
	relPath := media.PostImagePath(post.ID, ext)
	if err := s.storage.Save(ctx, relPath, content); err != nil {
		return nil, err
	}

	img := &model.PostImage{
		ID:        uuid.New().String(),
		PostID:    post.ID,
		Title:     title,
		ImagePath: relPath,
		CreatedAt: time.Now(),
	}
	if err := s.postRepo.CreateImage(ctx, img); err != nil {
		s.removeFile(ctx, relPath)
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordImageStored(source)
	}
	slog.Info("画像を添付しました",
		slog.String("post_id", post.ID),
		slog.String("image_id", img.ID),
		slog.String("source", source),
	)
	return img, nil
}

// authorize は actor が投稿を変更できる場合に投稿を返す。
func (s *Service) authorize(ctx context.Context, actorID, postID string) (*model.Post, error) {
	post, err := s.Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.OwnerID == actorID {
		return post, nil
	}

	actor, err := s.userRepo.FindByID(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("操作ユーザーの取得に失敗しました: %w", err)
	}
	if actor == nil || !actor.IsStaff {
		return nil, model.NewPermissionDeniedError()
	}
	return post, nil
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	if s.stats != nil {
		s.stats.InvalidateStats(ctx, userID)
	}
}

func (s *Service) removeFile(ctx context.Context, relPath string) {
	if err := s.storage.Delete(ctx, relPath); err != nil {
		slog.Warn("画像ファイルの削除に失敗しました",
			slog.String("path", relPath),
			slog.String("error", err.Error()),
		)
	}
}

func validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", model.NewValidationError("title は必須です")
	}
	if utf8.RuneCountInString(title) > MaxImageTitleLength {
		return "", model.NewValidationError(fmt.Sprintf("title は%d文字以内で入力してください", MaxImageTitleLength))
	}
	return title, nil
}
