package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-backend/internal/http/handlers"
	"github.com/yungbote/neurobridge-backend/internal/http/middleware"
	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
	"github.com/yungbote/neurobridge-backend/internal/platform/otel"
)

// App is the fully wired service: config, clients, repos, domain services,
// and the gin router, plus the background reconciler loop started by
// Start.
type App struct {
	Log          *logger.Logger
	DB           *gorm.DB
	Router       *gin.Engine
	Cfg          Config
	Repos        Repos
	Services     Services
	clients      Clients
	cancel       context.CancelFunc
	otelShutdown func(context.Context) error
}

func New() (*App, error) {
	bootLog, err := logger.New("development")
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg := LoadConfig(bootLog)

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	ctx := context.Background()
	otelShutdown := otel.Init(ctx, log, otel.Config{
		ServiceName: "upscale-orchestrator",
		Environment: cfg.LogMode,
	})

	clients, err := wireClients(ctx, log, cfg)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("wire clients: %w", err)
	}

	reposet := wireRepos(clients.DB, log)
	serviceset := wireServices(log, cfg, clients, reposet)

	principalMW := middleware.NewPrincipalMiddleware(log, cfg.JWTSecretKey)
	upscaleHandler := handlers.NewUpscaleHandler(log, serviceset.Orchestrator, serviceset.Status, reposet.Jobs, reposet.Tiles, cfg.CallbackBaseURL)
	healthHandler := handlers.NewHealthHandler()

	router := wireRouter(log, principalMW, upscaleHandler, healthHandler)

	return &App{
		Log:          log,
		DB:           clients.DB,
		Router:       router,
		Cfg:          cfg,
		Repos:        reposet,
		Services:     serviceset,
		clients:      clients,
		otelShutdown: otelShutdown,
	}, nil
}

// Start launches the background reconciler sweep. It is idempotent and a
// no-op if already started.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	if a.Services.Reconciler != nil {
		go a.Services.Reconciler.Run(ctx)
	}
}

func (a *App) Run(addr string) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	if addr == "" {
		addr = a.Cfg.ListenAddr
	}
	return a.Router.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(context.Background())
	}
	a.clients.Close()
	if a.Log != nil {
		a.Log.Sync()
	}
}
