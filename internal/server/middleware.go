package server

import (
	"net"
	"net/http"
	"net/netip"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/josystem/webhost/internal/accessgate"
	"github.com/josystem/webhost/internal/config"
	"github.com/josystem/webhost/internal/logging"
	"github.com/josystem/webhost/internal/metrics"
)

const (
	// RequestIDKey is the gin context key holding the request id.
	RequestIDKey = "requestID"
	// RequestIDHeader carries the request id back to the client.
	RequestIDHeader = "X-Request-ID"

	// LoginCookie is the cookie the default AuthChecker reads.
	LoginCookie = "IsLoggedIn"
)

// AuthChecker decides whether a request carries a logged-in session.
type AuthChecker interface {
	IsLoggedIn(r *http.Request) bool
}

// AuthFunc adapts a function to AuthChecker.
type AuthFunc func(r *http.Request) bool

func (f AuthFunc) IsLoggedIn(r *http.Request) bool { return f(r) }

// CookieAuth accepts requests whose IsLoggedIn cookie is "true".
var CookieAuth AuthChecker = AuthFunc(func(r *http.Request) bool {
	c, err := r.Cookie(LoginCookie)
	return err == nil && c.Value == "true"
})

// recovery turns a handler panic into a 500 and keeps the host serving.
func recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logging.Error("Panic while handling request",
					zap.Any("panic", r),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.String("request_id", c.GetString(RequestIDKey)),
					zap.ByteString("stack", debug.Stack()))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal server error"})
			}
		}()
		c.Next()
	}
}

// requestID tags each request with a UUID, reusing a client supplied one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(rid); err != nil {
			rid = uuid.NewString()
		}
		c.Set(RequestIDKey, rid)
		c.Writer.Header().Set(RequestIDHeader, rid)
		c.Next()
	}
}

// accessLog logs each finished request.
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logging.LogHTTPRequest(c.Request.RemoteAddr, c.Request.Method, c.Request.URL.Path,
			c.Writer.Status(), c.GetString(RequestIDKey))
	}
}

// observe feeds request counts and latency to m.
func observe(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.ObserveRequest(c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}

// protectedPaths rejects unauthenticated requests under any configured
// prefix with 401 and never calls the downstream handlers.
func protectedPaths(cfg config.Provider, auth AuthChecker, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isProtected(c.Request.URL.Path, cfg.Snapshot().Access.ProtectedPaths) || auth.IsLoggedIn(c.Request) {
			c.Next()
			return
		}
		m.IncAuthRejected()
		logging.Debug("Rejected unauthenticated request",
			zap.String("path", c.Request.URL.Path),
			zap.String("remote_addr", c.Request.RemoteAddr))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "unauthorized"})
	}
}

func isProtected(path string, prefixes []string) bool {
	lower := strings.ToLower(path)
	for _, p := range prefixes {
		p = strings.TrimSpace(p)
		if p != "" && strings.HasPrefix(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// diagnosticsGate admits diagnostics requests only when diagnostics are
// enabled and the peer address is whitelisted.
func diagnosticsGate(cfg config.Provider, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := cfg.Snapshot()
		if !snap.Access.EnableDiagnostics {
			m.ObserveGate(false)
			c.String(http.StatusForbidden, "Diagnostics are disabled.")
			c.Abort()
			return
		}

		addr := peerAddr(c.Request)
		if !accessgate.IsAllowedAddr(addr, snap.Access.DiagnosticsWhitelist) {
			m.ObserveGate(false)
			logging.Warn("Diagnostics request denied",
				zap.String("remote_addr", c.Request.RemoteAddr),
				zap.String("path", c.Request.URL.Path))
			c.String(http.StatusForbidden, "Access denied: your address is not whitelisted for diagnostics.")
			c.Abort()
			return
		}
		m.ObserveGate(true)
		c.Next()
	}
}

// peerAddr is the TCP peer, ignoring forwarding headers.
func peerAddr(r *http.Request) netip.Addr {
	if ap, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		return ap.Addr()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}
	}
	return addr
}
