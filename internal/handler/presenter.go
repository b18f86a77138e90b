package handler

import (
	"time"

	"github.com/samber/lo"

	"github.com/hitoshi/socialapi/internal/model"
	"github.com/hitoshi/socialapi/internal/repository"
	"github.com/hitoshi/socialapi/internal/user"
)

// URLResolver はメディアの相対パスを公開URLに変換する。
// media.FileStore が実装する。
type URLResolver interface {
	URL(relPath string) string
}

type userSummary struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	IsStaff bool   `json:"is_staff"`
}

type profileResponse struct {
	userSummary
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Bio       string `json:"bio"`
	Image     string `json:"image"`
}

type userListItem struct {
	profileResponse
	PostsCount     int `json:"posts_count"`
	FollowingCount int `json:"following_count"`
	FollowersCount int `json:"followers_count"`
}

type userDetailResponse struct {
	userListItem
	Posts     []string `json:"posts"`
	Following []string `json:"following"`
	Followers []string `json:"followers"`
}

type followResponse struct {
	Followed    string `json:"followed"`
	Following   string `json:"following"`
	IsFollowing bool   `json:"is_following"`
	URL         string `json:"url"`
}

type postImageResponse struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Image string `json:"image"`
}

type postResponse struct {
	ID           string              `json:"id"`
	Owner        string              `json:"owner"`
	OwnerEmail   string              `json:"owner_email"`
	Message      string              `json:"message"`
	MessageShort string              `json:"message_short"`
	Hashtags     []string            `json:"hashtags"`
	Images       []postImageResponse `json:"images"`
	CreatedAt    time.Time           `json:"created_at"`
}

func newUserSummary(u *model.User) userSummary {
	return userSummary{ID: u.ID, Email: u.Email, IsStaff: u.IsStaff}
}

func newProfileResponse(u *model.User, urls URLResolver) profileResponse {
	return profileResponse{
		userSummary: newUserSummary(u),
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Bio:         u.Bio,
		Image:       urls.URL(u.ImagePath),
	}
}

func newUserListItem(u *model.User, stats model.UserStats, urls URLResolver) userListItem {
	return userListItem{
		profileResponse: newProfileResponse(u, urls),
		PostsCount:      stats.PostsCount,
		FollowingCount:  stats.FollowingCount,
		FollowersCount:  stats.FollowersCount,
	}
}

func newUserList(users []repository.UserWithStats, urls URLResolver) []userListItem {
	return lo.Map(users, func(u repository.UserWithStats, _ int) userListItem {
		return newUserListItem(&u.User, u.Stats, urls)
	})
}

func newUserDetailResponse(d *user.Detail, urls URLResolver) userDetailResponse {
	return userDetailResponse{
		userListItem: newUserListItem(d.User, d.Stats, urls),
		Posts:        nonNil(d.PostIDs),
		Following:    nonNil(d.FollowingIDs),
		Followers:    nonNil(d.FollowerIDs),
	}
}

func newPostResponse(p *model.Post, urls URLResolver) postResponse {
	return postResponse{
		ID:           p.ID,
		Owner:        p.OwnerID,
		OwnerEmail:   p.OwnerEmail,
		Message:      p.Message,
		MessageShort: p.MessageShort(),
		Hashtags:     nonNil(p.Hashtags()),
		Images: lo.Map(p.Images, func(img *model.PostImage, _ int) postImageResponse {
			return newPostImageResponse(img, urls)
		}),
		CreatedAt: p.CreatedAt,
	}
}

func newPostImageResponse(img *model.PostImage, urls URLResolver) postImageResponse {
	return postImageResponse{ID: img.ID, Title: img.Title, Image: urls.URL(img.ImagePath)}
}

// nonNil はnilスライスを空スライスに置き換え、JSONで [] と出力されるようにする。
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
