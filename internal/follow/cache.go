package follow

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/marshaler"
	"github.com/eko/gocache/lib/v4/store"
	ristretto_store "github.com/eko/gocache/store/ristretto/v4"

	"github.com/hitoshi/socialapi/internal/model"
)

// StatsCache はユーザー集計値のキャッシュ。
// ミス時は呼び出し側がリポジトリから再取得するため、実装はベストエフォートでよい。
type StatsCache interface {
	Get(ctx context.Context, userID string) (model.UserStats, bool)
	Set(ctx context.Context, userID string, stats model.UserStats)
	Invalidate(ctx context.Context, userIDs ...string)
}

// RistrettoStatsCache はristrettoをバックエンドとするStatsCache実装。
type RistrettoStatsCache struct {
	client  *ristretto.Cache
	marshal *marshaler.Marshaler
	ttl     time.Duration
}

// cachedStats はキャッシュに格納する形式。
type cachedStats struct {
	Posts     int
	Following int
	Followers int
}

// NewRistrettoStatsCache はプロセス内キャッシュを生成する。
// maxEntries はキャッシュする最大ユーザー数の目安（1エントリをコスト1として扱う）。
func NewRistrettoStatsCache(maxEntries int64, ttl time.Duration) (*RistrettoStatsCache, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	client, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}

	manager := cache.New[any](ristretto_store.NewRistretto(client))
	return &RistrettoStatsCache{
		client:  client,
		marshal: marshaler.New(manager),
		ttl:     ttl,
	}, nil
}

func statsKey(userID string) string {
	return "user-stats#" + userID
}

// Get はキャッシュ済みの集計値を返す。
func (c *RistrettoStatsCache) Get(ctx context.Context, userID string) (model.UserStats, bool) {
	v, err := c.marshal.Get(ctx, statsKey(userID), new(cachedStats))
	if err != nil {
		return model.UserStats{}, false
	}
	cs, ok := v.(*cachedStats)
	if !ok {
		return model.UserStats{}, false
	}
	return model.UserStats{
		PostsCount:     cs.Posts,
		FollowingCount: cs.Following,
		FollowersCount: cs.Followers,
	}, true
}

// Set は集計値をTTL付きで格納する。格納に失敗しても呼び出し側には影響させない。
func (c *RistrettoStatsCache) Set(ctx context.Context, userID string, stats model.UserStats) {
	_ = c.marshal.Set(ctx, statsKey(userID), cachedStats{
		Posts:     stats.PostsCount,
		Following: stats.FollowingCount,
		Followers: stats.FollowersCount,
	},
		store.WithExpiration(c.ttl),
		store.WithCost(1),
	)
}

// Invalidate は指定ユーザーの集計値を破棄する。
func (c *RistrettoStatsCache) Invalidate(ctx context.Context, userIDs ...string) {
	for _, id := range userIDs {
		_ = c.marshal.Delete(ctx, statsKey(id))
	}
}

// Close はキャッシュのバックグラウンド処理を停止する。
func (c *RistrettoStatsCache) Close() {
	c.client.Close()
}

// noopStatsCache は常にミスするStatsCache。キャッシュを無効化する場合に使う。
type noopStatsCache struct{}

func (noopStatsCache) Get(context.Context, string) (model.UserStats, bool) {
	return model.UserStats{}, false
}
func (noopStatsCache) Set(context.Context, string, model.UserStats) {}
func (noopStatsCache) Invalidate(context.Context, ...string)        {}

var (
	_ StatsCache = (*RistrettoStatsCache)(nil)
	_ StatsCache = noopStatsCache{}
)
