package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/hitoshi/socialapi/internal/model"
)

// PostServiceInterface は投稿ハンドラーが必要とするサービスインターフェース。
type PostServiceInterface interface {
	Create(ctx context.Context, ownerID, message string) (*model.Post, error)
	Get(ctx context.Context, id string) (*model.Post, error)
	List(ctx context.Context, filter model.PostFilter) ([]*model.Post, error)
	Delete(ctx context.Context, actorID, id string) error
	AttachImage(ctx context.Context, actorID, postID, title string, content []byte) (*model.PostImage, error)
	ImportImage(ctx context.Context, actorID, postID, title, sourceURL string) (*model.PostImage, error)
}

// PostHandler は投稿関連のHTTPハンドラー。
type PostHandler struct {
	service       PostServiceInterface
	urls          URLResolver
	maxUploadSize int64
}

// NewPostHandler はPostHandlerを生成する。
// maxUploadSize が0以下の場合は defaultMaxUploadSize を使用する。
func NewPostHandler(service PostServiceInterface, urls URLResolver, maxUploadSize int64) *PostHandler {
	if maxUploadSize <= 0 {
		maxUploadSize = defaultMaxUploadSize
	}
	return &PostHandler{
		service:       service,
		urls:          urls,
		maxUploadSize: maxUploadSize,
	}
}

type createPostRequest struct {
	Message string `json:"message" validate:"required"`
}

type importImageRequest struct {
	Title     string `json:"title" validate:"required"`
	SourceURL string `json:"source_url" validate:"required,url"`
}

func postNotFound(id string) *model.APIError { return model.NewPostNotFoundError(id) }

// List は投稿一覧を返す。?hashtag= と ?owner= で絞り込める。
// GET /api/posts/
func (h *PostHandler) List(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUserID(w, r); !ok {
		return
	}

	filter := model.PostFilter{Hashtag: r.URL.Query().Get("hashtag")}
	if owner := r.URL.Query().Get("owner"); owner != "" {
		parsed, err := uuid.Parse(owner)
		if err != nil {
			// 存在しない所有者の投稿は0件
			writeJSON(w, http.StatusOK, []postResponse{})
			return
		}
		filter.OwnerID = parsed.String()
	}

	posts, err := h.service.List(r.Context(), filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]postResponse, 0, len(posts))
	for _, p := range posts {
		resp = append(resp, newPostResponse(p, h.urls))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Create は認証済みユーザーの投稿を作成する。
// POST /api/posts/
func (h *PostHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createPostRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	post, err := h.service.Create(r.Context(), userID, req.Message)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newPostResponse(post, h.urls))
}

// Get は投稿の詳細を返す。
// GET /api/posts/{id}/
func (h *PostHandler) Get(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUserID(w, r); !ok {
		return
	}
	postID, ok := idParam(w, r, postNotFound)
	if !ok {
		return
	}

	post, err := h.service.Get(r.Context(), postID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newPostResponse(post, h.urls))
}

// Delete は投稿を削除する。所有者または管理者のみ。
// DELETE /api/posts/{id}/
func (h *PostHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	postID, ok := idParam(w, r, postNotFound)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), userID, postID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UploadImage は投稿に画像をアップロードして添付する。
// POST /api/posts/{id}/upload-image/
func (h *PostHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	postID, ok := idParam(w, r, postNotFound)
	if !ok {
		return
	}

	content, ok := readUpload(w, r, h.maxUploadSize)
	if !ok {
		return
	}

	img, err := h.service.AttachImage(r.Context(), userID, postID, r.FormValue("title"), content)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newPostImageResponse(img, h.urls))
}

// ImportImage は外部URLの画像を取得して投稿に添付する。
// POST /api/posts/{id}/import-image/
func (h *PostHandler) ImportImage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	postID, ok := idParam(w, r, postNotFound)
	if !ok {
		return
	}

	var req importImageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	img, err := h.service.ImportImage(r.Context(), userID, postID, req.Title, req.SourceURL)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newPostImageResponse(img, h.urls))
}
