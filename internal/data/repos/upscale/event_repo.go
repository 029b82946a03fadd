package upscale

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-backend/internal/domain/upscale"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

// JobEventRepo appends to a job's audit timeline. Never read by any core
// operation; failures here are logged and swallowed by callers so that
// timeline bookkeeping can never block the state machine it's observing.
type JobEventRepo interface {
	Append(dbc dbctx.Context, jobID uuid.UUID, kind upscale.JobEventKind, message string) error
}

type jobEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobEventRepo(db *gorm.DB, baseLog *logger.Logger) JobEventRepo {
	return &jobEventRepo{db: db, log: baseLog.With("repo", "JobEventRepo")}
}

func (r *jobEventRepo) Append(dbc dbctx.Context, jobID uuid.UUID, kind upscale.JobEventKind, message string) error {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	ev := &upscale.JobEvent{
		ID:        uuid.New(),
		JobID:     jobID,
		Kind:      kind,
		Message:   message,
		CreatedAt: time.Now(),
	}
	return tx.WithContext(dbc.Ctx).Create(ev).Error
}
