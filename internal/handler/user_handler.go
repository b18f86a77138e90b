package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/hitoshi/socialapi/internal/model"
	"github.com/hitoshi/socialapi/internal/repository"
	"github.com/hitoshi/socialapi/internal/user"
)

// defaultMaxUploadSize はアップロード画像サイズの既定の上限（5MB）。
const defaultMaxUploadSize int64 = 5 << 20

// UserServiceInterface はユーザーハンドラーが必要とするアカウント管理サービスのインターフェース。
type UserServiceInterface interface {
	Get(ctx context.Context, id string) (*model.User, error)
	ListProfiles(ctx context.Context) ([]*model.User, error)
	List(ctx context.Context) ([]repository.UserWithStats, error)
	Detail(ctx context.Context, id string) (*user.Detail, error)
	UpdateProfile(ctx context.Context, actorID, targetID string, patch user.ProfilePatch) (*model.User, error)
	SetProfileImage(ctx context.Context, actorID, targetID string, content []byte) (*model.User, error)
	Withdraw(ctx context.Context, actorID, targetID string) error
}

// FollowServiceInterface はフォロー操作のサービスインターフェース。
type FollowServiceInterface interface {
	Toggle(ctx context.Context, actorID, targetID string) (model.FollowState, error)
	ListFollowing(ctx context.Context, userID string) ([]*model.User, error)
	ListFollowers(ctx context.Context, userID string) ([]*model.User, error)
}

// UserHandlerConfig はユーザーハンドラーの設定。
type UserHandlerConfig struct {
	BaseURL       string // フォロー応答のプロフィールURL生成に使用する
	MaxUploadSize int64  // 0以下の場合は defaultMaxUploadSize
}

// UserHandler はプロフィール・ユーザー一覧・フォローのHTTPハンドラー。
type UserHandler struct {
	users   UserServiceInterface
	follows FollowServiceInterface
	urls    URLResolver
	config  UserHandlerConfig
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(users UserServiceInterface, follows FollowServiceInterface, urls URLResolver, config UserHandlerConfig) *UserHandler {
	if config.MaxUploadSize <= 0 {
		config.MaxUploadSize = defaultMaxUploadSize
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &UserHandler{
		users:   users,
		follows: follows,
		urls:    urls,
		config:  config,
	}
}

type profilePatchRequest struct {
	Email     *string `json:"email" validate:"omitempty,email,max=255"`
	Password  *string `json:"password"`
	FirstName *string `json:"first_name" validate:"omitempty,max=255"`
	LastName  *string `json:"last_name" validate:"omitempty,max=255"`
	Bio       *string `json:"bio"`
}

func (req profilePatchRequest) toPatch() user.ProfilePatch {
	return user.ProfilePatch{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Bio:       req.Bio,
	}
}

// --- 自分のプロフィール ---

// Me は認証済みユーザーのプロフィールを返す。
// GET /api/user/me/
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	h.writeProfile(w, r, userID)
}

// UpdateMe は認証済みユーザーのプロフィールを部分更新する。
// PATCH /api/user/me/
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	h.updateProfile(w, r, userID, userID)
}

// UploadMyImage は認証済みユーザーのプロフィール画像をアップロードする。
// POST /api/user/me/upload-image/
func (h *UserHandler) UploadMyImage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	content, ok := readUpload(w, r, h.config.MaxUploadSize)
	if !ok {
		return
	}

	u, err := h.users.SetProfileImage(r.Context(), userID, userID, content)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newProfileResponse(u, h.urls))
}

// --- プロフィール ---

// ListProfiles はプロフィール一覧を返す。
// GET /api/user/profiles/
func (h *UserHandler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUserID(w, r); !ok {
		return
	}

	users, err := h.users.ListProfiles(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]profileResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, newProfileResponse(u, h.urls))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetProfile は指定ユーザーのプロフィールを返す。
// GET /api/user/profiles/{id}/
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUserID(w, r); !ok {
		return
	}
	targetID, ok := idParam(w, r, userNotFound)
	if !ok {
		return
	}
	h.writeProfile(w, r, targetID)
}

// UpdateProfile は指定ユーザーのプロフィールを部分更新する。本人または管理者のみ。
// PATCH /api/user/profiles/{id}/
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	targetID, ok := idParam(w, r, userNotFound)
	if !ok {
		return
	}
	h.updateProfile(w, r, actorID, targetID)
}

// DeleteProfile は指定ユーザーを退会させる。本人または管理者のみ。
// DELETE /api/user/profiles/{id}/
func (h *UserHandler) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	targetID, ok := idParam(w, r, userNotFound)
	if !ok {
		return
	}

	if err := h.users.Withdraw(r.Context(), actorID, targetID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Follow は指定ユーザーのフォロー状態を切り替える。
// POST /api/user/profiles/{id}/follow/
func (h *UserHandler) Follow(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	targetID, ok := idParam(w, r, userNotFound)
	if !ok {
		return
	}

	state, err := h.follows.Toggle(r.Context(), actorID, targetID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, followResponse{
		Followed:    state.FollowedID,
		Following:   state.FollowerID,
		IsFollowing: state.Following,
		URL:         h.config.BaseURL + "/api/user/profiles/" + state.FollowedID + "/",
	})
}

// --- ユーザー一覧 ---

// ListUsers は投稿数・フォロー数・フォロワー数付きのユーザー一覧を返す。
// GET /api/users/
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUserID(w, r); !ok {
		return
	}

	users, err := h.users.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newUserList(users, h.urls))
}

// GetUser は投稿ID・フォロー関係付きのユーザー詳細を返す。
// GET /api/users/{id}/
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUserID(w, r); !ok {
		return
	}
	targetID, ok := idParam(w, r, userNotFound)
	if !ok {
		return
	}

	detail, err := h.users.Detail(r.Context(), targetID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newUserDetailResponse(detail, h.urls))
}

// ListFollowing は認証済みユーザーがフォローしているユーザーを返す。
// GET /api/users/following/
func (h *UserHandler) ListFollowing(w http.ResponseWriter, r *http.Request) {
	h.listRelated(w, r, h.follows.ListFollowing)
}

// ListFollowers は認証済みユーザーをフォローしているユーザーを返す。
// GET /api/users/followers/
func (h *UserHandler) ListFollowers(w http.ResponseWriter, r *http.Request) {
	h.listRelated(w, r, h.follows.ListFollowers)
}

func (h *UserHandler) listRelated(w http.ResponseWriter, r *http.Request, list func(context.Context, string) ([]*model.User, error)) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	users, err := list(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]userSummary, 0, len(users))
	for _, u := range users {
		resp = append(resp, newUserSummary(u))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *UserHandler) writeProfile(w http.ResponseWriter, r *http.Request, userID string) {
	u, err := h.users.Get(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newProfileResponse(u, h.urls))
}

func (h *UserHandler) updateProfile(w http.ResponseWriter, r *http.Request, actorID, targetID string) {
	var req profilePatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.users.UpdateProfile(r.Context(), actorID, targetID, req.toPatch())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newProfileResponse(u, h.urls))
}

// readUpload はmultipartフォームの image フィールドを読み込む。
// 上限を超えた場合は413、フィールドがない場合は400を書き込んでfalseを返す。
func readUpload(w http.ResponseWriter, r *http.Request, maxSize int64) ([]byte, bool) {
	// フォームのメタデータ分の余裕を持たせる
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+(64<<10))
	if err := r.ParseMultipartForm(maxSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeAPIErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewImageTooLargeError(maxSize))
			return nil, false
		}
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("image: required"))
		return nil, false
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("image: required"))
		return nil, false
	}
	defer file.Close()

	if header.Size > maxSize {
		writeAPIErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewImageTooLargeError(maxSize))
		return nil, false
	}

	content, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		handleServiceError(w, err)
		return nil, false
	}
	if int64(len(content)) > maxSize {
		writeAPIErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewImageTooLargeError(maxSize))
		return nil, false
	}
	return content, true
}
