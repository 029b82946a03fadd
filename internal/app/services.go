package app

import (
	"github.com/yungbote/neurobridge-backend/internal/orchestrator"
	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
	"github.com/yungbote/neurobridge-backend/internal/platform/quota"
	"github.com/yungbote/neurobridge-backend/internal/provider"
	"github.com/yungbote/neurobridge-backend/internal/reconciler"
	"github.com/yungbote/neurobridge-backend/internal/registry"
	"github.com/yungbote/neurobridge-backend/internal/statusreader"
	"github.com/yungbote/neurobridge-backend/internal/stitcher"
)

// Services holds the domain engines wired on top of Repos and Clients: the
// model registry, the quota oracle, the prediction provider client, the
// orchestrator state machine, the background reconciler, the stitcher
// finalizer, and the read-only status view.
type Services struct {
	Registry     *registry.Registry
	Quota        quota.Oracle
	Provider     provider.Client
	Orchestrator *orchestrator.Orchestrator
	Reconciler   *reconciler.Reconciler
	Stitcher     *stitcher.Stitcher
	Status       *statusreader.StatusReader
}

func wireServices(log *logger.Logger, cfg Config, clients Clients, repos Repos) Services {
	log.Info("wiring services")

	reg := registry.New(log)
	quotaOracle := quota.NewRedisOracle(log, clients.Redis)
	prov := provider.NewClient(log, provider.Config{
		BaseURL:    cfg.ProviderBaseURL,
		APIToken:   cfg.ProviderAPIToken,
		MaxRetries: cfg.ProviderMaxRetries,
		Timeout:    cfg.ProviderTimeout,
	})

	orch := orchestrator.New(
		log,
		repos.Jobs,
		repos.Tiles,
		repos.Callbacks,
		repos.Events,
		clients.Blobs,
		prov,
		reg,
		quotaOracle,
		orchestrator.DefaultConfig(),
	)

	stitch := stitcher.New(log, repos.Jobs, repos.Tiles, repos.Events, clients.Blobs)
	orch.SetFinalizer(stitch)

	recon := reconciler.New(log, repos.Jobs, repos.Tiles, prov, orch, reconciler.DefaultConfig())

	status := statusreader.New(repos.Jobs, repos.Tiles)

	return Services{
		Registry:     reg,
		Quota:        quotaOracle,
		Provider:     prov,
		Orchestrator: orch,
		Reconciler:   recon,
		Stitcher:     stitch,
		Status:       status,
	}
}
