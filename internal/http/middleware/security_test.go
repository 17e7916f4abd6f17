package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func securityRouter(opt SecurityOptions) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SecurityHeaders(opt))
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	r.GET("/health", ok)
	r.GET("/api/v1/documents/:id/file", ok)
	r.POST("/api/v1/chat/ask", ok)
	r.GET("/swagger/*any", ok)
	return r
}

func serve(r http.Handler, method, path string, mutate func(*http.Request)) http.Header {
	req := httptest.NewRequest(method, path, nil)
	if mutate != nil {
		mutate(req)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Header()
}

func TestSecurityHeaders_BaselineOnly(t *testing.T) {
	h := serve(securityRouter(SecurityOptions{}), http.MethodGet, "/health", nil)

	if h.Get("X-Content-Type-Options") != "nosniff" ||
		h.Get("X-Frame-Options") != "DENY" ||
		h.Get("Referrer-Policy") != "no-referrer" {
		t.Fatalf("baseline headers missing: %#v", h)
	}
	for _, k := range []string{
		"Permissions-Policy", "X-Permitted-Cross-Domain-Policies",
		"Content-Security-Policy", "Cache-Control", "Strict-Transport-Security",
	} {
		if v := h.Get(k); v != "" {
			t.Fatalf("unexpected %s: %q", k, v)
		}
	}
}

func TestSecurityHeaders_CSPSkipsSwagger(t *testing.T) {
	r := securityRouter(SecurityOptions{
		ContentSecurityPolicy: APIContentSecurityPolicy,
		CSPExemptPrefixes:     []string{"/swagger"},
	})

	for _, path := range []string{"/health", "/api/v1/documents/d1/file"} {
		if got := serve(r, http.MethodGet, path, nil).Get("Content-Security-Policy"); got != APIContentSecurityPolicy {
			t.Fatalf("%s CSP = %q", path, got)
		}
	}
	if got := serve(r, http.MethodGet, "/swagger/index.html", nil).Get("Content-Security-Policy"); got != "" {
		t.Fatalf("swagger UI must be able to run its scripts, got CSP %q", got)
	}
	if !strings.Contains(APIContentSecurityPolicy, "sandbox") {
		t.Fatalf("downloads must be sandboxed: %q", APIContentSecurityPolicy)
	}
}

func TestSecurityHeaders_NoStorePrefixes(t *testing.T) {
	r := securityRouter(SecurityOptions{NoStorePrefixes: []string{"/api/v1/chat", "/api/v1/documents", ""}})

	for _, tc := range []struct {
		method, path string
		noStore      bool
	}{
		{http.MethodPost, "/api/v1/chat/ask", true},
		{http.MethodGet, "/api/v1/documents/d1/file", true},
		{http.MethodGet, "/health", false},
	} {
		h := serve(r, tc.method, tc.path, nil)
		if got := h.Get("Cache-Control") == "no-store"; got != tc.noStore {
			t.Fatalf("%s no-store = %v; want %v (%#v)", tc.path, got, tc.noStore, h)
		}
		if tc.noStore && (h.Get("Pragma") != "no-cache" || h.Get("Expires") != "0") {
			t.Fatalf("%s legacy cache headers missing: %#v", tc.path, h)
		}
	}
}

func TestSecurityHeaders_PolicyAndGlobalNoStore(t *testing.T) {
	h := serve(securityRouter(SecurityOptions{NoStore: true, EnablePolicy: true}), http.MethodGet, "/health", nil)
	if h.Get("Permissions-Policy") == "" || h.Get("X-Permitted-Cross-Domain-Policies") != "none" {
		t.Fatalf("missing policy headers: %#v", h)
	}
	if h.Get("Cache-Control") != "no-store" {
		t.Fatalf("global no-store missing: %#v", h)
	}
}

func TestSecurityHeaders_HSTS(t *testing.T) {
	viaTLS := func(r *http.Request) { r.TLS = &tls.ConnectionState{} }
	viaProxy := func(r *http.Request) { r.Header.Set("X-Forwarded-Proto", "HTTPS") }

	cases := []struct {
		name   string
		opt    SecurityOptions
		mutate func(*http.Request)
		want   string
	}{
		{"tls", SecurityOptions{EnableHSTS: true, HSTSMaxAge: 24 * time.Hour}, viaTLS, "max-age=86400; includeSubDomains; preload"},
		{"proxy", SecurityOptions{EnableHSTS: true, HSTSMaxAge: time.Hour}, viaProxy, "max-age=3600; includeSubDomains; preload"},
		{"default max age", SecurityOptions{EnableHSTS: true}, viaTLS, "max-age=15552000; includeSubDomains; preload"},
		{"plain http", SecurityOptions{EnableHSTS: true}, nil, ""},
		{"disabled", SecurityOptions{}, viaTLS, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := serve(securityRouter(tc.opt), http.MethodGet, "/health", tc.mutate).Get("Strict-Transport-Security")
			if got != tc.want {
				t.Fatalf("HSTS = %q; want %q", got, tc.want)
			}
		})
	}
}
