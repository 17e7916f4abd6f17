// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides SecurityHeaders. The API answers with JSON, event streams
// and user-uploaded files, never with HTML of its own, so every response
// except the Swagger UI carries a deny-all Content-Security-Policy: a
// downloaded document opened in a browser tab cannot run script or be framed.
// Document and answer routes are additionally marked no-store.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// APIContentSecurityPolicy forbids every fetch, frame and script and
// sandboxes the response document.
const APIContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'; sandbox"

const defaultHSTSMaxAge = 180 * 24 * time.Hour

// SecurityOptions configures SecurityHeaders.
//
// HSTS is emitted only for HTTPS requests (direct TLS or X-Forwarded-Proto)
// and only when EnableHSTS is set; enable it when traffic is HTTPS end to
// end. HSTSMaxAge defaults to 180 days.
type SecurityOptions struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration

	// NoStore marks every response no-store; NoStorePrefixes limits that to
	// matching paths (e.g. "/api/v1/documents").
	NoStore         bool
	NoStorePrefixes []string

	// EnablePolicy adds Permissions-Policy and
	// X-Permitted-Cross-Domain-Policies.
	EnablePolicy bool

	// ContentSecurityPolicy is sent on every response whose path is not under
	// one of CSPExemptPrefixes. Empty disables the header.
	ContentSecurityPolicy string
	CSPExemptPrefixes     []string
}

// SecurityHeaders returns a Gin middleware that sets:
//
//	X-Content-Type-Options: nosniff
//	X-Frame-Options: DENY
//	Referrer-Policy: no-referrer
//
// plus the optional policy, cache, CSP and HSTS headers selected by opt.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := opt.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = defaultHSTSMaxAge
	}
	hsts := "max-age=" + strconv.Itoa(int(maxAge.Seconds())) + "; includeSubDomains; preload"

	return func(c *gin.Context) {
		h := c.Writer.Header()
		path := c.Request.URL.Path

		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}

		if opt.ContentSecurityPolicy != "" && !hasAnyPrefix(path, opt.CSPExemptPrefixes) {
			h.Set("Content-Security-Policy", opt.ContentSecurityPolicy)
		}

		if opt.NoStore || hasAnyPrefix(path, opt.NoStorePrefixes) {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")
		}

		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}

		c.Next()
	}
}

// isHTTPS reports whether the request arrived over TLS directly or through a
// proxy that set X-Forwarded-Proto: https.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
