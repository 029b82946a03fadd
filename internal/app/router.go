package app

import (
	"github.com/gin-gonic/gin"

	apphttp "github.com/yungbote/neurobridge-backend/internal/http"
	"github.com/yungbote/neurobridge-backend/internal/http/handlers"
	"github.com/yungbote/neurobridge-backend/internal/http/middleware"
	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

func wireRouter(log *logger.Logger, principal *middleware.PrincipalMiddleware, upscale *handlers.UpscaleHandler, health *handlers.HealthHandler) *gin.Engine {
	return apphttp.NewRouter(apphttp.RouterConfig{
		Log:                 log,
		PrincipalMiddleware: principal,
		UpscaleHandler:      upscale,
		HealthHandler:       health,
	})
}
