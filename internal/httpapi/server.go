// Package httpapi exposes the market data pipeline over HTTP.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Rajchodisetti/marketfeed/internal/observ"
	"github.com/Rajchodisetti/marketfeed/internal/pipeline"
)

// MaxBatchSymbols caps one batch request
const MaxBatchSymbols = 100

type Options struct {
	Mode         string   // gin mode; empty keeps the current one
	AllowOrigins []string // CORS origins; empty disables CORS
}

type Handler struct {
	service *pipeline.Service
	started time.Time
}

// NewRouter builds the gin engine with every route registered
func NewRouter(service *pipeline.Service, opts Options) *gin.Engine {
	if opts.Mode != "" {
		gin.SetMode(opts.Mode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), AccessLog())
	_ = r.SetTrustedProxies(nil)

	if len(opts.AllowOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  opts.AllowOrigins,
			AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", RequestIDHeader},
			ExposeHeaders: []string{RequestIDHeader},
			MaxAge:        12 * time.Hour,
		}))
	}

	h := &Handler{service: service, started: time.Now()}
	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(observ.Handler()))

	v1 := r.Group("/v1")
	v1.GET("/market/:symbol", h.GetMarket)
	v1.GET("/market", h.GetBatch)
	v1.POST("/market/batch", h.PostBatch)
	v1.GET("/fundamentals/:symbol", h.GetFundamentals)
	v1.GET("/stats", h.Stats)
	v1.GET("/providers/check", h.CheckProviders)
	v1.POST("/ratelimit/reset", h.ResetRateLimit)
	v1.POST("/ratelimit/activate", h.ActivateRateLimit)
	v1.DELETE("/cache", h.ClearCache)

	return r
}

func abortError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"uptimeSeconds":   int64(time.Since(h.started).Seconds()),
		"rateLimitActive": h.service.RateLimited(),
	})
}
