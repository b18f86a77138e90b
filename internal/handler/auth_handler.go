package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/socialapi/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするトークン発行サービスのインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, email, password string) (*model.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (string, error)
	Verify(ctx context.Context, token string) error
	Logout(ctx context.Context, userID string) error
}

// RegistrarInterface はユーザー登録を行うサービスのインターフェース。
type RegistrarInterface interface {
	Register(ctx context.Context, email, password string) (*model.User, error)
}

// AuthHandler はユーザー登録とJWT発行・検証のHTTPハンドラー。
type AuthHandler struct {
	service   AuthServiceInterface
	registrar RegistrarInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, registrar RegistrarInterface) *AuthHandler {
	return &AuthHandler{
		service:   service,
		registrar: registrar,
	}
}

type credentialsRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type tokenRequest struct {
	Refresh string `json:"refresh" validate:"required"`
}

type verifyRequest struct {
	Token string `json:"token" validate:"required"`
}

type tokenPairResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

type accessTokenResponse struct {
	Access string `json:"access"`
}

// Register は新規ユーザーを登録する。
// POST /api/user/register/
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.registrar.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newUserSummary(user))
}

// Login はメールアドレスとパスワードを検証し、トークンペアを発行する。
// POST /api/user/login/
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	pair, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenPairResponse{Access: pair.Access, Refresh: pair.Refresh})
}

// Refresh はリフレッシュトークンから新しいアクセストークンを発行する。
// POST /api/user/token/refresh/
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	access, err := h.service.Refresh(r.Context(), req.Refresh)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, accessTokenResponse{Access: access})
}

// Verify はトークンの署名と有効期限を検証する。
// POST /api/user/token/verify/
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.Verify(r.Context(), req.Token); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct{}{})
}

// Logout は認証済みユーザーの全リフレッシュトークンを無効化する。
// POST /api/user/logout/
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Logout(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusResetContent)
}
