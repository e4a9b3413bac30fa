package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/Brownie44l1/cattlecare-api/internal/auth"
)

const (
	requestIDKey = "request_id"
	claimsKey    = "claims"
)

// requestID tags every request with an X-Request-ID, generating one when
// the client did not send it.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}

func loggingMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).String(),
			"client_ip":  c.ClientIP(),
			"request_id": c.GetString(requestIDKey),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithError(c.Errors.Last().Err)
		}

		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			entry.Error("HTTP request failed")
		case status >= http.StatusBadRequest:
			entry.Warn("HTTP request rejected")
		default:
			entry.Info("HTTP request")
		}
	}
}

// bodyLimit caps the request body at limit bytes.
func bodyLimit(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

// maxTrackedClients bounds how many per-client limiters are kept.
const maxTrackedClients = 4096

// rateLimiter allows rps requests per second per client IP with the given
// burst. The least recently seen clients are forgotten first.
func rateLimiter(rps float64, burst int) (gin.HandlerFunc, error) {
	limiters, err := lru.New[string, *rate.Limiter](maxTrackedClients)
	if err != nil {
		return nil, err
	}
	if burst <= 0 {
		burst = 1
	}

	return func(c *gin.Context) {
		limiter := clientLimiter(limiters, c.ClientIP(), rps, burst)
		if !limiter.Allow() {
			abortWithError(c, http.StatusTooManyRequests, codeRateLimited, "Too many requests, slow down")
			return
		}
		c.Next()
	}, nil
}

// clientLimiter returns the limiter for ip, creating it on first sight.
// Concurrent first requests from one client share a single limiter.
func clientLimiter(limiters *lru.Cache[string, *rate.Limiter], ip string, rps float64, burst int) *rate.Limiter {
	if limiter, ok := limiters.Get(ip); ok {
		return limiter
	}
	fresh := rate.NewLimiter(rate.Limit(rps), burst)
	if prev, found, _ := limiters.PeekOrAdd(ip, fresh); found {
		return prev
	}
	return fresh
}

// requireAuth verifies the bearer token and stores its claims.
func requireAuth(tokens *auth.TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			abortWithError(c, http.StatusUnauthorized, codeUnauthorized, "Login required")
			return
		}
		claims, err := tokens.Verify(token)
		if err != nil {
			abortWithError(c, http.StatusUnauthorized, codeUnauthorized, "Invalid or expired token")
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims := currentUser(c); claims == nil || !claims.IsAdmin() {
			abortWithError(c, http.StatusForbidden, codeForbidden, "Admin access required")
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) *auth.Claims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*auth.Claims)
	return claims
}
