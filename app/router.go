package app

import (
	"context"
	"slices"
	"time"

	"openbroadcast/stream-api/app/root"
	"openbroadcast/stream-api/app/upload"
	"openbroadcast/stream-api/app/video"
	"openbroadcast/stream-api/internal"
	"openbroadcast/stream-api/pkg/middleware"

	cache "github.com/chenyahui/gin-cache"
	"github.com/chenyahui/gin-cache/persist"
	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type RouterConfig struct {
	Origins   []string
	RateLimit int
	// Catalog responses are cached this long, zero disables the cache
	CacheTTL  time.Duration
	Turnstile middleware.TurnstileConfig
	// Upper bound for JSON bodies
	MaxBodySize int64
	// Upper bound for thumbnail uploads, multipart overhead included
	MaxThumbnailSize int64
}

// NewRouter wires the HTTP API. Background helpers started here stop
// when ctx is done.
func NewRouter(ctx context.Context, d *internal.Deps, cfg RouterConfig) *gin.Engine {
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 64 << 10
	}
	if cfg.MaxThumbnailSize <= 0 {
		cfg.MaxThumbnailSize = 5 << 20
	}
	if len(cfg.Origins) == 0 {
		cfg.Origins = []string{"*"}
	}

	router := gin.New()

	router.Use(
		cors.New(cors.Config{
			AllowOrigins:     cfg.Origins,
			AllowMethods:     []string{"GET", "POST", "HEAD", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "TurnstileToken", "id", "signatureHash"},
			ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
			AllowCredentials: !slices.Contains(cfg.Origins, "*"),
			MaxAge:           12 * time.Hour,
		}),
		gin.Recovery(),
		middleware.NewRequestIDMiddleware(),
		ginzap.GinzapWithConfig(zap.L(), &ginzap.Config{
			TimeFormat: "15:04:05.000",
			UTC:        true,
			Skipper: func(c *gin.Context) bool {
				return c.Request.Method == "HEAD"
			},
			Context: func(c *gin.Context) []zapcore.Field {
				fields := []zapcore.Field{}

				if v := c.GetString("requestID"); v != "" {
					fields = append(fields, zap.String("request_id", v))
				}

				return fields
			},
		}),
	)

	router.HandleMethodNotAllowed = true
	router.RedirectFixedPath = true
	router.MaxMultipartMemory = cfg.MaxThumbnailSize

	api := router.Group("/api")
	if cfg.RateLimit > 0 {
		limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			RequestsPerSecond: cfg.RateLimit,
			Burst:             cfg.RateLimit * 2,
		})
		go limiter.Cleanup(ctx)

		api.Use(limiter.Handler())
	}

	// HEAD /api/heartbeat		-> Used to check if the server is alive
	api.HEAD("/heartbeat", root.Heartbeat)

	jsonBody := middleware.BodySizeLimiter(cfg.MaxBodySize)
	turnstile := middleware.NewTurnstileMiddleware(cfg.Turnstile)

	u := api.Group("/uploads")
	{
		// POST /api/uploads		-> Registers an upload and returns its credential
		u.POST("", turnstile, jsonBody, func(c *gin.Context) { upload.UploadCreate(c, d) })

		// POST /api/uploads/capture	-> Promotes a finished upload into the catalog
		u.POST("/capture", jsonBody, func(c *gin.Context) { upload.UploadCapture(c, d) })
	}

	cached := cacheFor(cfg.CacheTTL)

	vv := api.Group("/videos")
	{
		// GET /api/videos/generate_id	-> Returns an unused video ID
		vv.GET("/generate_id", func(c *gin.Context) { video.GenerateID(c, d) })

		// GET /api/videos		-> Returns a page of the catalog, newest first
		vv.GET("", cached, func(c *gin.Context) { video.VideoList(c, d) })

		// GET /api/videos/:id		-> Returns a catalog entry
		vv.GET("/:id", cached, func(c *gin.Context) { video.VideoFetch(c, d) })

		// POST /api/videos/:id/thumbnail	-> Stores the poster of a video
		vv.POST("/:id/thumbnail", middleware.BodySizeLimiter(cfg.MaxThumbnailSize+(64<<10)), func(c *gin.Context) { video.ThumbnailUpload(c, d) })
	}

	return router
}

func cacheFor(ttl time.Duration) gin.HandlerFunc {
	if ttl <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	return cache.CacheByRequestURI(persist.NewMemoryStore(ttl), ttl)
}
