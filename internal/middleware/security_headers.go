package middleware

import "net/http"

// SecurityHeadersConfig はセキュリティヘッダーの可変部分。
type SecurityHeadersConfig struct {
	// HSTS はStrict-Transport-Securityを付与する。HTTPS終端の背後でのみ有効にする。
	HSTS bool
}

const hstsValue = "max-age=63072000; includeSubDomains"

// JSONとWebSocketしか返さないため、ブラウザに解釈させるものはない
var baseSecurityHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Cache-Control", "no-store"},
}

// NewSecurityHeadersMiddleware はすべてのレスポンスにセキュリティヘッダーを付与する。
// ハンドラーが設定したCache-Controlは上書きしない。
func NewSecurityHeadersMiddleware(cfg SecurityHeadersConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for _, kv := range baseSecurityHeaders {
				h.Set(kv[0], kv[1])
			}
			if cfg.HSTS {
				h.Set("Strict-Transport-Security", hstsValue)
			}
			next.ServeHTTP(w, r)
		})
	}
}
