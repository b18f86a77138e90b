// Package user はアカウント管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/hitoshi/socialapi/internal/auth"
	"github.com/hitoshi/socialapi/internal/media"
	"github.com/hitoshi/socialapi/internal/model"
	"github.com/hitoshi/socialapi/internal/repository"
	"github.com/hitoshi/socialapi/internal/security"
)

// 氏名の最大文字数
const maxNameLength = 255

var validate = validator.New(validator.WithRequiredStructEnabled())

// FollowGraph はアカウント管理が参照するフォローグラフの操作。
// follow.Service が実装する。
type FollowGraph interface {
	Stats(ctx context.Context, userID string) (model.UserStats, error)
	ListFollowing(ctx context.Context, userID string) ([]*model.User, error)
	ListFollowers(ctx context.Context, userID string) ([]*model.User, error)
	InvalidateStats(ctx context.Context, userIDs ...string)
}

// TokenRevoker はユーザーの発行済みトークンを失効させる。
// auth.Service が実装する。
type TokenRevoker interface {
	Logout(ctx context.Context, userID string) error
}

// ProfilePatch はプロフィール更新の差分。nilのフィールドは変更しない。
// Password が空文字列の場合も変更しない。
type ProfilePatch struct {
	Email     *string
	Password  *string
	FirstName *string
	LastName  *string
	Bio       *string
}

// Detail はユーザー詳細の表示用データ。
type Detail struct {
	User         *model.User
	Stats        model.UserStats
	PostIDs      []string
	FollowingIDs []string
	FollowerIDs  []string
}

// Service はアカウント管理のサービス層。
type Service struct {
	userRepo  repository.UserRepository
	postRepo  repository.PostRepository
	graph     FollowGraph
	tokens    TokenRevoker
	hasher    auth.PasswordHasher
	sanitizer security.ContentSanitizerService
	storage   media.Storage
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	postRepo repository.PostRepository,
	graph FollowGraph,
	tokens TokenRevoker,
	hasher auth.PasswordHasher,
	sanitizer security.ContentSanitizerService,
	storage media.Storage,
) *Service {
	return &Service{
		userRepo:  userRepo,
		postRepo:  postRepo,
		graph:     graph,
		tokens:    tokens,
		hasher:    hasher,
		sanitizer: sanitizer,
		storage:   storage,
	}
}

// Register は新規ユーザーを登録する。
// メールアドレスは必須かつ形式が正しいこと、パスワードは5文字以上であることを検証する。
func (s *Service) Register(ctx context.Context, email, password string) (*model.User, error) {
	email = model.NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}

	slog.Info("ユーザーを登録しました", slog.String("user_id", user.ID))
	return user, nil
}

// Get は指定IDのユーザーを返す。存在しない場合はUSER_NOT_FOUNDを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// ListProfiles は全ユーザーをメールアドレス順で返す。
func (s *Service) ListProfiles(ctx context.Context) ([]*model.User, error) {
	users, err := s.userRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	return users, nil
}

// List は全ユーザーを集計値付きでメールアドレス順に返す。
func (s *Service) List(ctx context.Context) ([]repository.UserWithStats, error) {
	users, err := s.userRepo.ListWithStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	return users, nil
}

// Detail はユーザーの詳細を投稿ID、フォロー中・フォロワーのID付きで返す。
func (s *Service) Detail(ctx context.Context, id string) (*Detail, error) {
	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	stats, err := s.graph.Stats(ctx, id)
	if err != nil {
		return nil, err
	}
	postIDs, err := s.postRepo.ListIDsByOwner(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("投稿IDの取得に失敗しました: %w", err)
	}
	following, err := s.graph.ListFollowing(ctx, id)
	if err != nil {
		return nil, err
	}
	followers, err := s.graph.ListFollowers(ctx, id)
	if err != nil {
		return nil, err
	}

	return &Detail{
		User:         user,
		Stats:        stats,
		PostIDs:      postIDs,
		FollowingIDs: userIDs(following),
		FollowerIDs:  userIDs(followers),
	}, nil
}

// UpdateProfile はプロフィールを更新する。本人または管理者のみ実行できる。
func (s *Service) UpdateProfile(ctx context.Context, actorID, targetID string, patch ProfilePatch) (*model.User, error) {
	target, err := s.authorize(ctx, actorID, targetID)
	if err != nil {
		return nil, err
	}

	if patch.Email != nil {
		email := model.NormalizeEmail(*patch.Email)
		if err := validateEmail(email); err != nil {
			return nil, err
		}
		target.Email = email
	}
	if patch.Password != nil && *patch.Password != "" {
		if err := validatePassword(*patch.Password); err != nil {
			return nil, err
		}
		hash, err := s.hasher.Hash(*patch.Password)
		if err != nil {
			return nil, err
		}
		target.PasswordHash = hash
	}
	if patch.FirstName != nil {
		if utf8.RuneCountInString(*patch.FirstName) > maxNameLength {
			return nil, model.NewValidationError(fmt.Sprintf("first_name は%d文字以内で入力してください", maxNameLength))
		}
		target.FirstName = *patch.FirstName
	}
	if patch.LastName != nil {
		if utf8.RuneCountInString(*patch.LastName) > maxNameLength {
			return nil, model.NewValidationError(fmt.Sprintf("last_name は%d文字以内で入力してください", maxNameLength))
		}
		target.LastName = *patch.LastName
	}
	if patch.Bio != nil {
		target.Bio = s.sanitizer.Sanitize(*patch.Bio)
	}

	target.UpdatedAt = time.Now()
	if err := s.userRepo.Update(ctx, target); err != nil {
		return nil, err
	}
	return target, nil
}

// SetProfileImage はプロフィール画像を保存し、以前の画像を削除する。
// 拡張子は内容から判定した画像形式に従う。
func (s *Service) SetProfileImage(ctx context.Context, actorID, targetID string, content []byte) (*model.User, error) {
	target, err := s.authorize(ctx, actorID, targetID)
	if err != nil {
		return nil, err
	}

	ext, err := media.DetectImage(content)
	if err != nil {
		return nil, err
	}
	relPath := media.ProfileImagePath(target.Email, ext)
	if err := s.storage.Save(ctx, relPath, content); err != nil {
		return nil, err
	}

	oldPath := target.ImagePath
	target.ImagePath = relPath
	target.UpdatedAt = time.Now()
	if err := s.userRepo.Update(ctx, target); err != nil {
		s.removeFile(ctx, relPath)
		return nil, err
	}
	if oldPath != "" {
		s.removeFile(ctx, oldPath)
	}
	return target, nil
}

// Withdraw はユーザーを削除する。本人または管理者のみ実行できる。
// 発行済みトークンを失効させた後にユーザーを削除する。
// フォロー関係、投稿、添付画像の行はCASCADE削除され、画像ファイルはここで削除する。
func (s *Service) Withdraw(ctx context.Context, actorID, targetID string) error {
	target, err := s.authorize(ctx, actorID, targetID)
	if err != nil {
		return err
	}

	slog.Info("退会処理を開始します", slog.String("user_id", targetID))

	// 投稿はCASCADE削除されるため、添付画像のパスを先に集めておく
	posts, err := s.postRepo.List(ctx, model.PostFilter{OwnerID: targetID})
	if err != nil {
		return err
	}
	imagePaths := lo.FlatMap(posts, func(p *model.Post, _ int) []string {
		return lo.Map(p.Images, func(img *model.PostImage, _ int) string { return img.ImagePath })
	})

	// 削除により集計値が変わる相手を先に求めておく
	following, err := s.graph.ListFollowing(ctx, targetID)
	if err != nil {
		return err
	}
	followers, err := s.graph.ListFollowers(ctx, targetID)
	if err != nil {
		return err
	}

	if err := s.tokens.Logout(ctx, targetID); err != nil {
		return err
	}
	if err := s.userRepo.DeleteByID(ctx, targetID); err != nil {
		return err
	}

	affected := lo.Uniq(append(userIDs(following), userIDs(followers)...))
	s.graph.InvalidateStats(ctx, append(affected, targetID)...)

	if target.ImagePath != "" {
		s.removeFile(ctx, target.ImagePath)
	}
	for _, path := range imagePaths {
		s.removeFile(ctx, path)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", targetID),
		slog.Int("removed_post_images", len(imagePaths)),
	)
	return nil
}

// authorize は actor が target を変更できる場合に target を返す。
func (s *Service) authorize(ctx context.Context, actorID, targetID string) (*model.User, error) {
	target, err := s.Get(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if actorID == targetID {
		return target, nil
	}

	actor, err := s.userRepo.FindByID(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("操作ユーザーの取得に失敗しました: %w", err)
	}
	if !target.CanModify(actor) {
		return nil, model.NewPermissionDeniedError()
	}
	return target, nil
}

// removeFile はファイルを削除する。失敗してもログのみ出力する。
func (s *Service) removeFile(ctx context.Context, relPath string) {
	if err := s.storage.Delete(ctx, relPath); err != nil {
		slog.Warn("画像ファイルの削除に失敗しました",
			slog.String("path", relPath),
			slog.String("error", err.Error()),
		)
	}
}

func validateEmail(email string) error {
	if email == "" {
		return model.NewValidationError("email は必須です")
	}
	if err := validate.Var(email, "email,max=255"); err != nil {
		return model.NewValidationError("email の形式が正しくありません")
	}
	return nil
}

func validatePassword(password string) error {
	if utf8.RuneCountInString(password) < auth.MinPasswordLength {
		return model.NewValidationError(fmt.Sprintf("password は%d文字以上で入力してください", auth.MinPasswordLength))
	}
	if len(password) > auth.MaxPasswordBytes {
		return model.NewValidationError(fmt.Sprintf("password は%dバイト以内で入力してください", auth.MaxPasswordBytes))
	}
	return nil
}

func userIDs(users []*model.User) []string {
	return lo.Map(users, func(u *model.User, _ int) string { return u.ID })
}
