package handlers

import (
	"errors"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/cattlecare-api/internal/auth"
	"github.com/Brownie44l1/cattlecare-api/internal/history"
	"github.com/Brownie44l1/cattlecare-api/internal/report"
)

// multipartOverhead is allowed on top of the image limit for form framing.
const multipartOverhead = 1 << 20

// Options configures the HTTP router builder.
type Options struct {
	Predictor Predictor
	Models    ModelStatus
	Users     *auth.UserStore
	Tokens    *auth.TokenIssuer
	History   history.Store
	Reports   *report.Generator
	Logger    *logrus.Logger

	MaxUploadBytes int64
	StaticDir      string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
	Debug          bool
}

// Build constructs the gin engine with middleware and every route.
func Build(opts Options) (*gin.Engine, error) {
	if opts.Predictor == nil || opts.Models == nil {
		return nil, errors.New("http router requires a predictor and model status")
	}
	if opts.Users == nil || opts.Tokens == nil || opts.History == nil {
		return nil, errors.New("http router requires users, tokens and history")
	}
	if opts.Logger == nil {
		return nil, errors.New("http router requires a logger")
	}
	if opts.Reports == nil {
		opts.Reports = report.NewGenerator()
	}

	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestID())
	engine.Use(loggingMiddleware(opts.Logger))
	engine.Use(securityHeaders())

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "X-Request-ID"},
		AllowCredentials: !containsWildcard(origins),
		MaxAge:           12 * time.Hour,
	}))

	if opts.StaticDir != "" {
		engine.Use(static.Serve("/", static.LocalFile(opts.StaticDir, true)))
	}

	h := &Handler{
		predictor: opts.Predictor,
		models:    opts.Models,
		users:     opts.Users,
		tokens:    opts.Tokens,
		history:   opts.History,
		reports:   opts.Reports,
		logger:    opts.Logger,
		maxUpload: opts.MaxUploadBytes,
		now:       time.Now,
	}

	engine.GET("/health", h.Health)

	api := engine.Group("/api")
	api.GET("/models", h.Models)
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)

	secured := api.Group("")
	secured.Use(requireAuth(opts.Tokens))

	predict := []gin.HandlerFunc{}
	if opts.RateLimitRPS > 0 {
		limiter, err := rateLimiter(opts.RateLimitRPS, opts.RateLimitBurst)
		if err != nil {
			return nil, err
		}
		predict = append(predict, limiter)
	}
	if opts.MaxUploadBytes > 0 {
		predict = append(predict, bodyLimit(opts.MaxUploadBytes+multipartOverhead))
	}
	predict = append(predict, h.Predict)

	secured.POST("/predict", predict...)
	secured.POST("/report", h.Report)
	secured.GET("/dashboard", h.Dashboard)
	secured.GET("/admin", requireAdmin(), h.Admin)

	return engine, nil
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
