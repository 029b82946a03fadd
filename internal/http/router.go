package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/neurobridge-backend/internal/http/handlers"
	httpMW "github.com/yungbote/neurobridge-backend/internal/http/middleware"
	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log                 *logger.Logger
	PrincipalMiddleware *httpMW.PrincipalMiddleware
	UpscaleHandler      *httpH.UpscaleHandler
	HealthHandler       *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()
	r.Use(otelgin.Middleware("upscale-orchestrator"))
	r.Use(httpMW.AttachTraceContext())
	if cfg.Log != nil {
		r.Use(httpMW.RequestLogger(cfg.Log))
	}
	r.Use(httpMW.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
	}

	if cfg.UpscaleHandler != nil {
		// /callback is provider-initiated and unauthenticated: the provider
		// cannot carry our bearer token, and the job/stage/tile triple in the
		// webhook query string is itself unguessable-enough bearer material
		// for this deployment's threat model.
		r.POST("/callback", cfg.UpscaleHandler.Callback)

		group := r.Group("/")
		if cfg.PrincipalMiddleware != nil {
			group.Use(cfg.PrincipalMiddleware.RequirePrincipal())
		}
		group.POST("/submit", cfg.UpscaleHandler.Submit)
		group.GET("/status", cfg.UpscaleHandler.Status)
		group.POST("/resume", cfg.UpscaleHandler.Resume)
		group.POST("/check-all", cfg.UpscaleHandler.CheckAll)
		group.POST("/stitch", cfg.UpscaleHandler.Stitch)
	}

	return r
}
