// Package auth はJWTによる認証トークンの発行・検証と失効管理を提供する。
//
// ログインでアクセストークンとリフレッシュトークンの組を発行する。
// リフレッシュトークンは発行記録を残し、ログアウト時にユーザー単位でまとめて失効させる。
// アクセストークンは短命のため失効管理の対象外で、有効期限まで使用できる。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/socialapi/internal/model"
	"github.com/hitoshi/socialapi/internal/repository"
)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Claims はトークンに含めるクレーム。
// Subject にユーザーID、ID にjtiを格納する。
type Claims struct {
	TokenType model.TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo  repository.UserRepository
	tokenRepo repository.TokenRepository
	hasher    PasswordHasher
	config    ServiceConfig
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	tokenRepo repository.TokenRepository,
	hasher PasswordHasher,
	config ServiceConfig,
) *Service {
	return &Service{
		userRepo:  userRepo,
		tokenRepo: tokenRepo,
		hasher:    hasher,
		config:    config,
		now:       time.Now,
	}
}

// Login はメールアドレスとパスワードを検証し、トークンの組を発行する。
// ユーザーが存在しない場合とパスワードが一致しない場合は区別せずINVALID_CREDENTIALSを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*model.TokenPair, error) {
	user, err := s.userRepo.FindByEmail(ctx, model.NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || !s.hasher.Compare(user.PasswordHash, password) {
		return nil, model.NewInvalidCredentialsError()
	}

	refresh, refreshClaims, err := s.issue(user.ID, model.TokenTypeRefresh, s.config.RefreshTTL)
	if err != nil {
		return nil, err
	}
	if err := s.tokenRepo.CreateOutstanding(ctx, &model.OutstandingToken{
		JTI:       refreshClaims.ID,
		UserID:    user.ID,
		ExpiresAt: refreshClaims.ExpiresAt.Time,
		CreatedAt: refreshClaims.IssuedAt.Time,
	}); err != nil {
		return nil, fmt.Errorf("failed to record refresh token: %w", err)
	}

	access, _, err := s.issue(user.ID, model.TokenTypeAccess, s.config.AccessTTL)
	if err != nil {
		return nil, err
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))
	return &model.TokenPair{Access: access, Refresh: refresh}, nil
}

// Refresh はリフレッシュトークンから新しいアクセストークンを発行する。
// 失効済み・期限切れ・発行記録のないトークンはTOKEN_INVALIDを返す。
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, error) {
	claims, err := s.parse(refreshToken, model.TokenTypeRefresh)
	if err != nil {
		return "", err
	}
	if err := s.checkOutstanding(ctx, claims); err != nil {
		return "", err
	}

	access, _, err := s.issue(claims.Subject, model.TokenTypeAccess, s.config.AccessTTL)
	if err != nil {
		return "", err
	}
	return access, nil
}

// Verify はトークンの署名と有効期限を検証する。
// リフレッシュトークンの場合は失効状態も確認する。
func (s *Service) Verify(ctx context.Context, token string) error {
	claims, err := s.parse(token, "")
	if err != nil {
		return err
	}
	if claims.TokenType == model.TokenTypeRefresh {
		return s.checkOutstanding(ctx, claims)
	}
	return nil
}

// Logout はユーザーの発行済みリフレッシュトークンを全て失効させる。
func (s *Service) Logout(ctx context.Context, userID string) error {
	n, err := s.tokenRepo.BlacklistByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to blacklist tokens: %w", err)
	}
	slog.Info("user logged out",
		slog.String("user_id", userID),
		slog.Int64("blacklisted", n),
	)
	return nil
}

// Authenticate はアクセストークンを検証し、ユーザーIDを返す。
// HTTPミドルウェアから呼ばれる。退会済みユーザーのトークンはTOKEN_INVALIDとなる。
func (s *Service) Authenticate(ctx context.Context, accessToken string) (string, error) {
	claims, err := s.parse(accessToken, model.TokenTypeAccess)
	if err != nil {
		return "", err
	}

	user, err := s.userRepo.FindByID(ctx, claims.Subject)
	if err != nil {
		return "", fmt.Errorf("failed to find token subject: %w", err)
	}
	if user == nil {
		return "", model.NewTokenInvalidError()
	}
	return user.ID, nil
}

// issue は署名済みトークンを生成する。
func (s *Service) issue(userID string, typ model.TokenType, ttl time.Duration) (string, *Claims, error) {
	now := s.now()
	claims := &Claims{
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.config.Secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign %s token: %w", typ, err)
	}
	return signed, claims, nil
}

// parse はトークンを検証してクレームを返す。want が空でなければ種別も検証する。
func (s *Service) parse(token string, want model.TokenType) (*Claims, error) {
	if token == "" {
		return nil, model.NewTokenInvalidError()
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return s.config.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		slog.Debug("token rejected", slog.String("error", err.Error()))
		return nil, model.NewTokenInvalidError()
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, model.NewTokenInvalidError()
	}
	if want != "" && claims.TokenType != want {
		return nil, model.NewTokenInvalidError()
	}
	return claims, nil
}

// checkOutstanding はリフレッシュトークンの発行記録が残っており、失効していないことを確認する。
func (s *Service) checkOutstanding(ctx context.Context, claims *Claims) error {
	outstanding, err := s.tokenRepo.FindOutstanding(ctx, claims.ID)
	if err != nil {
		return fmt.Errorf("failed to find outstanding token: %w", err)
	}
	if outstanding == nil {
		return model.NewTokenInvalidError()
	}
	blacklisted, err := s.tokenRepo.IsBlacklisted(ctx, claims.ID)
	if err != nil {
		return fmt.Errorf("failed to check blacklist: %w", err)
	}
	if blacklisted {
		return model.NewTokenInvalidError()
	}
	return nil
}
