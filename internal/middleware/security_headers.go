package middleware

import (
	"net/http"
	"strings"
)

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを付与するミドルウェアを返す。
// mediaPrefix配下はアップロードされたファイルとして扱い、スクリプト実行を禁止する。
// それ以外のAPIレスポンスはキャッシュさせない。
func NewSecurityHeadersMiddleware(mediaPrefix string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")

			if mediaPrefix != "" && strings.HasPrefix(r.URL.Path, mediaPrefix) {
				h.Set("Content-Security-Policy", "default-src 'none'; img-src 'self'; sandbox")
				h.Set("Cache-Control", "public, max-age=86400")
			} else {
				h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
				h.Set("Cache-Control", "no-store")
			}
			next.ServeHTTP(w, r)
		})
	}
}
