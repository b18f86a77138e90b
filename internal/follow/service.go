// Package follow はユーザー間のフォローグラフを管理する。
//
// フォロー関係は follower → followed の有向エッジ1本で表現する。
// ある利用者の following と、相手の followers はこの同じエッジの2方向の射影であり、
// 切り替えはリポジトリの1トランザクション内で行われるため、両者が食い違うことはない。
package follow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/socialapi/internal/metrics"
	"github.com/hitoshi/socialapi/internal/model"
	"github.com/hitoshi/socialapi/internal/repository"
)

// Service はフォローグラフのサービス層。
type Service struct {
	userRepo   repository.UserRepository
	followRepo repository.FollowRepository
	cache      StatsCache
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
// cache、collector はnilでもよい。
func NewService(
	userRepo repository.UserRepository,
	followRepo repository.FollowRepository,
	cache StatsCache,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	if cache == nil {
		cache = noopStatsCache{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		userRepo:   userRepo,
		followRepo: followRepo,
		cache:      cache,
		metrics:    collector,
		logger:     logger,
	}
}

// Toggle は actor → target のフォロー状態を反転する。
// フォロー中であれば解除し、していなければフォローする。
//
// 自分自身を指定した場合はストレージに触れずINVALID_OPERATIONを返す。
// どちらかのユーザーが存在しない場合はUSER_NOT_FOUNDを返し、グラフは変更しない。
// ストレージエラーはリトライせずそのまま返す。
func (s *Service) Toggle(ctx context.Context, actorID, targetID string) (model.FollowState, error) {
	if actorID == targetID {
		return model.FollowState{}, model.NewSelfFollowError()
	}

	target, err := s.userRepo.FindByID(ctx, targetID)
	if err != nil {
		return model.FollowState{}, fmt.Errorf("フォロー対象ユーザーの取得に失敗しました: %w", err)
	}
	if target == nil {
		return model.FollowState{}, model.NewUserNotFoundError()
	}

	following, err := s.followRepo.ToggleEdge(ctx, actorID, targetID)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return model.FollowState{}, err
		}
		return model.FollowState{}, fmt.Errorf("フォロー状態の切り替えに失敗しました: %w", err)
	}

	s.cache.Invalidate(ctx, actorID, targetID)

	action := metrics.ActionUnfollow
	if following {
		action = metrics.ActionFollow
	}
	if s.metrics != nil {
		s.metrics.RecordFollowToggle(action)
	}
	s.logger.Info("follow toggled",
		slog.String("follower_id", actorID),
		slog.String("followed_id", targetID),
		slog.String("action", action),
	)

	return model.FollowState{
		FollowerID: actorID,
		FollowedID: targetID,
		Following:  following,
	}, nil
}

// IsFollowing は actor が target をフォローしているかを返す。
func (s *Service) IsFollowing(ctx context.Context, actorID, targetID string) (bool, error) {
	if actorID == targetID {
		return false, nil
	}
	ok, err := s.followRepo.Exists(ctx, actorID, targetID)
	if err != nil {
		return false, fmt.Errorf("フォロー状態の取得に失敗しました: %w", err)
	}
	return ok, nil
}

// Stats は userID の投稿数・フォロー数・フォロワー数を返す。
// キャッシュにあればそれを使い、なければリポジトリで集計してキャッシュする。
func (s *Service) Stats(ctx context.Context, userID string) (model.UserStats, error) {
	if stats, ok := s.cache.Get(ctx, userID); ok {
		s.recordCache(true)
		return stats, nil
	}
	s.recordCache(false)

	stats, err := s.followRepo.Stats(ctx, userID)
	if err != nil {
		return model.UserStats{}, fmt.Errorf("ユーザー集計の取得に失敗しました: %w", err)
	}
	s.cache.Set(ctx, userID, stats)
	return stats, nil
}

// FollowersCount は userID をフォローしているユーザー数を返す。
func (s *Service) FollowersCount(ctx context.Context, userID string) (int, error) {
	stats, err := s.Stats(ctx, userID)
	if err != nil {
		return 0, err
	}
	return stats.FollowersCount, nil
}

// FollowingCount は userID がフォローしているユーザー数を返す。
func (s *Service) FollowingCount(ctx context.Context, userID string) (int, error) {
	stats, err := s.Stats(ctx, userID)
	if err != nil {
		return 0, err
	}
	return stats.FollowingCount, nil
}

// ListFollowing は userID がフォローしているユーザーを返す。
func (s *Service) ListFollowing(ctx context.Context, userID string) ([]*model.User, error) {
	users, err := s.followRepo.ListFollowing(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("フォロー一覧の取得に失敗しました: %w", err)
	}
	return users, nil
}

// ListFollowers は userID をフォローしているユーザーを返す。
func (s *Service) ListFollowers(ctx context.Context, userID string) ([]*model.User, error) {
	users, err := s.followRepo.ListFollowers(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("フォロワー一覧の取得に失敗しました: %w", err)
	}
	return users, nil
}

// InvalidateStats は userID の集計キャッシュを破棄する。投稿の作成・削除時に呼ばれる。
func (s *Service) InvalidateStats(ctx context.Context, userIDs ...string) {
	s.cache.Invalidate(ctx, userIDs...)
}

func (s *Service) recordCache(hit bool) {
	if s.metrics != nil {
		s.metrics.RecordStatsCache(hit)
	}
}
