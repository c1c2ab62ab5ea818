package middleware

import (
	"net/http"
	"strings"
)

const (
	corsAllowMethods = "GET, POST, PUT, DELETE, OPTIONS"
	corsAllowHeaders = "Authorization, Content-Type"
	corsMaxAge       = "86400"
)

// parseOrigins はカンマ区切りのオリジン一覧を集合に変換する。末尾のスラッシュは無視する。
func parseOrigins(allowed string) (origins map[string]bool, wildcard bool) {
	origins = make(map[string]bool)
	for _, o := range strings.Split(allowed, ",") {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch o {
		case "":
		case "*":
			wildcard = true
		default:
			origins[o] = true
		}
	}
	return origins, wildcard
}

// NewCORSMiddleware は許可オリジン（カンマ区切り、"*" は全許可）に対するCORSミドルウェアを返す。
// 許可されたOriginのみをAccess-Control-Allow-Originに反映する。
// 資格情報付きリクエストを許可するため "*" の場合もリクエストのOriginをそのまま返す。
// OPTIONSプリフライトには許可の有無にかかわらず204で応答し、後続ハンドラーは呼ばない。
func NewCORSMiddleware(allowedOrigins string) func(next http.Handler) http.Handler {
	origins, allowAny := parseOrigins(allowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")

			if origin := r.Header.Get("Origin"); origin != "" && (allowAny || origins[origin]) {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", corsAllowMethods)
				h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Set("Access-Control-Max-Age", corsMaxAge)
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
