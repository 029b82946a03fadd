package app

import (
	"gorm.io/gorm"

	reposupscale "github.com/yungbote/neurobridge-backend/internal/data/repos/upscale"
	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

// Repos holds the gorm-backed repositories for every upscale domain model.
type Repos struct {
	Jobs      reposupscale.JobRepo
	Tiles     reposupscale.TileRepo
	Callbacks reposupscale.CallbackRepo
	Events    reposupscale.JobEventRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("wiring repos")
	return Repos{
		Jobs:      reposupscale.NewJobRepo(db, log),
		Tiles:     reposupscale.NewTileRepo(db, log),
		Callbacks: reposupscale.NewCallbackRepo(db, log),
		Events:    reposupscale.NewJobEventRepo(db, log),
	}
}
