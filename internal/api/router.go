package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/api/handlers"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/api/ws"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/auth"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/queue"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/recognition"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/storage"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/verify"
)

type RouterConfig struct {
	APIKey   string
	DB       *storage.PostgresStore
	MinIO    *storage.MinIOStore
	Producer *queue.Producer
	Recog    *recognition.Client
	Resolver *verify.Resolver
	Hub      *ws.Hub
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.MinIO, cfg.Producer)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Videos & analysis
	videoH := handlers.NewVideoHandler(cfg.DB)
	v1.POST("/videos", videoH.Create)
	v1.GET("/videos", videoH.List)
	v1.GET("/videos/:id", videoH.Get)

	analysisH := handlers.NewAnalysisHandler(cfg.DB, cfg.Producer)
	v1.POST("/videos/:id/analysis", analysisH.Trigger)
	v1.GET("/videos/:id/analysis", analysisH.Status)
	v1.POST("/videos/:id/face-search", analysisH.TriggerSweep)
	v1.GET("/schools/:id/analysis", analysisH.GetEnabled)
	v1.PUT("/schools/:id/analysis", analysisH.SetEnabled)

	// Children & reference faces
	childH := handlers.NewChildHandler(cfg.DB, cfg.MinIO, cfg.Recog)
	v1.POST("/children", childH.Create)
	v1.GET("/children", childH.List)
	v1.GET("/children/:id", childH.Get)
	v1.POST("/children/:id/faces", childH.RegisterFace)
	v1.GET("/children/:id/faces", childH.ListFaces)
	v1.DELETE("/children/:id/faces/:faceId", childH.DeleteFace)
	v1.DELETE("/children/:id/faces", childH.ClearFaces)
	v1.POST("/guardianships", childH.AddGuardianship)

	// Tags & verification
	tagH := handlers.NewTagHandler(cfg.DB, cfg.MinIO, cfg.Resolver)
	v1.GET("/videos/:id/tags", tagH.ListForVideo)
	v1.GET("/tags/:id/thumbnail", tagH.Thumbnail)
	v1.POST("/tags/:id/resolve", tagH.Resolve)

	return r
}
