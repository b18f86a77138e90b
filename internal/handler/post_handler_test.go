package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/socialapi/internal/model"
)

const postID = "33333333-3333-3333-3333-333333333333"

// --- モック定義 ---

// mockPostService はPostServiceInterfaceのモック実装。
type mockPostService struct {
	createFn      func(ctx context.Context, ownerID, message string) (*model.Post, error)
	getFn         func(ctx context.Context, id string) (*model.Post, error)
	listFn        func(ctx context.Context, filter model.PostFilter) ([]*model.Post, error)
	deleteFn      func(ctx context.Context, actorID, id string) error
	attachImageFn func(ctx context.Context, actorID, postID, title string, content []byte) (*model.PostImage, error)
	importImageFn func(ctx context.Context, actorID, postID, title, sourceURL string) (*model.PostImage, error)
}

func (m *mockPostService) Create(ctx context.Context, ownerID, message string) (*model.Post, error) {
	return m.createFn(ctx, ownerID, message)
}

func (m *mockPostService) Get(ctx context.Context, id string) (*model.Post, error) {
	return m.getFn(ctx, id)
}

func (m *mockPostService) List(ctx context.Context, filter model.PostFilter) ([]*model.Post, error) {
	return m.listFn(ctx, filter)
}

func (m *mockPostService) Delete(ctx context.Context, actorID, id string) error {
	return m.deleteFn(ctx, actorID, id)
}

func (m *mockPostService) AttachImage(ctx context.Context, actorID, postID, title string, content []byte) (*model.PostImage, error) {
	return m.attachImageFn(ctx, actorID, postID, title, content)
}

func (m *mockPostService) ImportImage(ctx context.Context, actorID, postID, title, sourceURL string) (*model.PostImage, error) {
	return m.importImageFn(ctx, actorID, postID, title, sourceURL)
}

func samplePost(message string) *model.Post {
	return &model.Post{
		ID:         postID,
		OwnerID:    aliceID,
		OwnerEmail: "alice@example.com",
		Message:    message,
		Images: []*model.PostImage{
			{ID: "img-1", PostID: postID, Title: "cat", ImagePath: "uploads/posts/cat.png"},
		},
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

// --- GET /api/posts/ ---

func TestPostHandler_List_PassesFilter(t *testing.T) {
	var got model.PostFilter
	svc := &mockPostService{
		listFn: func(ctx context.Context, filter model.PostFilter) ([]*model.Post, error) {
			got = filter
			return []*model.Post{samplePost("learning #go today")}, nil
		},
	}
	h := NewPostHandler(svc, fakeURLs{}, 0)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/posts/?hashtag=%23go&owner="+aliceID, nil)
	h.List(w, withUserID(req, aliceID))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got.Hashtag != "#go" || got.OwnerID != aliceID {
		t.Errorf("filter = %+v", got)
	}

	var body []postResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(body) != 1 {
		t.Fatalf("len = %d, want 1", len(body))
	}
	p := body[0]
	if len(p.Hashtags) != 1 || p.Hashtags[0] != "go" {
		t.Errorf("hashtags = %v", p.Hashtags)
	}
	if p.MessageShort != "learning #go to" {
		t.Errorf("message_short = %q", p.MessageShort)
	}
	if p.OwnerEmail != "alice@example.com" {
		t.Errorf("owner_email = %q", p.OwnerEmail)
	}
	if len(p.Images) != 1 || p.Images[0].Image != "http://media.test/media/uploads/posts/cat.png" {
		t.Errorf("images = %+v", p.Images)
	}
}

func TestPostHandler_List_InvalidOwner_ReturnsEmpty(t *testing.T) {
	svc := &mockPostService{
		listFn: func(ctx context.Context, filter model.PostFilter) ([]*model.Post, error) {
			t.Fatal("List should not be called")
			return nil, nil
		},
	}
	h := NewPostHandler(svc, fakeURLs{}, 0)

	w := httptest.NewRecorder()
	h.List(w, withUserID(httptest.NewRequest(http.MethodGet, "/api/posts/?owner=abc", nil), aliceID))

	if w.Code != http.StatusOK || w.Body.String() != "[]\n" {
		t.Errorf("status = %d body = %q", w.Code, w.Body.String())
	}
}

func TestPostHandler_List_InvalidHashtag_Returns400(t *testing.T) {
	svc := &mockPostService{
		listFn: func(ctx context.Context, filter model.PostFilter) ([]*model.Post, error) {
			return nil, model.NewInvalidHashtagError(filter.Hashtag)
		},
	}
	h := NewPostHandler(svc, fakeURLs{}, 0)

	w := httptest.NewRecorder()
	h.List(w, withUserID(httptest.NewRequest(http.MethodGet, "/api/posts/?hashtag=%23%21", nil), aliceID))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// --- POST /api/posts/ ---

func TestPostHandler_Create(t *testing.T) {
	svc := &mockPostService{
		createFn: func(ctx context.Context, ownerID, message string) (*model.Post, error) {
			if ownerID != aliceID {
				t.Errorf("ownerID = %q", ownerID)
			}
			p := samplePost(message)
			p.Images = nil
			return p, nil
		},
	}
	h := NewPostHandler(svc, fakeURLs{}, 0)

	w := httptest.NewRecorder()
	h.Create(w, withUserID(jsonRequest(http.MethodPost, "/api/posts/", `{"message":"hi #a #b"}`), aliceID))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	var body map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	if images, ok := body["images"].([]any); !ok || len(images) != 0 {
		t.Errorf("images = %v, want []", body["images"])
	}
}

func TestPostHandler_Create_EmptyMessage(t *testing.T) {
	h := NewPostHandler(&mockPostService{}, fakeURLs{}, 0)

	w := httptest.NewRecorder()
	h.Create(w, withUserID(jsonRequest(http.MethodPost, "/api/posts/", `{"message":""}`), aliceID))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// --- /api/posts/{id}/ ---

func TestPostHandler_Get_NotFound(t *testing.T) {
	svc := &mockPostService{
		getFn: func(ctx context.Context, id string) (*model.Post, error) {
			return nil, model.NewPostNotFoundError(id)
		},
	}
	h := NewPostHandler(svc, fakeURLs{}, 0)

	req := withChiURLParam(httptest.NewRequest(http.MethodGet, "/api/posts/"+postID+"/", nil), "id", postID)
	w := httptest.NewRecorder()
	h.Get(w, withUserID(req, aliceID))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if body := parseAPIErrorResponse(t, w); body["code"] != model.ErrCodePostNotFound {
		t.Errorf("code = %q", body["code"])
	}
}

func TestPostHandler_Delete(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"owner", nil, http.StatusNoContent},
		{"other user", model.NewPermissionDeniedError(), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockPostService{
				deleteFn: func(ctx context.Context, actorID, id string) error { return tt.err },
			}
			h := NewPostHandler(svc, fakeURLs{}, 0)

			req := withChiURLParam(httptest.NewRequest(http.MethodDelete, "/api/posts/"+postID+"/", nil), "id", postID)
			w := httptest.NewRecorder()
			h.Delete(w, withUserID(req, bobID))

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

// --- 画像 ---

func TestPostHandler_UploadImage(t *testing.T) {
	svc := &mockPostService{
		attachImageFn: func(ctx context.Context, actorID, pid, title string, content []byte) (*model.PostImage, error) {
			if pid != postID || title != "cat" {
				t.Errorf("post=%q title=%q", pid, title)
			}
			return &model.PostImage{ID: "img-2", PostID: pid, Title: title, ImagePath: "uploads/posts/cat.png"}, nil
		},
	}
	h := NewPostHandler(svc, fakeURLs{}, 1024)

	req := multipartImageRequest(t, "/api/posts/"+postID+"/upload-image/", []byte("GIF89a"), map[string]string{"title": "cat"})
	req = withChiURLParam(req, "id", postID)
	w := httptest.NewRecorder()
	h.UploadImage(w, withUserID(req, aliceID))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	var body postImageResponse
	json.NewDecoder(w.Body).Decode(&body)
	if body.Title != "cat" || body.Image != "http://media.test/media/uploads/posts/cat.png" {
		t.Errorf("body = %+v", body)
	}
}

func TestPostHandler_UploadImage_DuplicateTitle(t *testing.T) {
	svc := &mockPostService{
		attachImageFn: func(ctx context.Context, actorID, pid, title string, content []byte) (*model.PostImage, error) {
			return nil, model.NewDuplicateImageTitleError(title)
		},
	}
	h := NewPostHandler(svc, fakeURLs{}, 1024)

	req := multipartImageRequest(t, "/", []byte("GIF89a"), map[string]string{"title": "cat"})
	req = withChiURLParam(req, "id", postID)
	w := httptest.NewRecorder()
	h.UploadImage(w, withUserID(req, aliceID))

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestPostHandler_ImportImage(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"success", `{"title":"cat","source_url":"https://example.com/cat.png"}`, nil, http.StatusCreated},
		{"missing url", `{"title":"cat"}`, nil, http.StatusBadRequest},
		{"ssrf blocked", `{"title":"cat","source_url":"http://10.0.0.1/x.png"}`, model.NewSSRFBlockedError(), http.StatusForbidden},
		{"fetch failed", `{"title":"cat","source_url":"https://example.com/404.png"}`, model.NewFetchFailedError("status 404"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockPostService{
				importImageFn: func(ctx context.Context, actorID, pid, title, sourceURL string) (*model.PostImage, error) {
					if tt.err != nil {
						return nil, tt.err
					}
					return &model.PostImage{ID: "img-3", PostID: pid, Title: title}, nil
				},
			}
			h := NewPostHandler(svc, fakeURLs{}, 0)

			req := withChiURLParam(jsonRequest(http.MethodPost, "/", tt.body), "id", postID)
			w := httptest.NewRecorder()
			h.ImportImage(w, withUserID(req, aliceID))

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
