// Package upscale holds the Job Store: the authoritative persistence layer
// for Job and Tile rows, mutated through row-level updates. Status
// transitions use conditional updates, so that concurrent
// orchestrator/reconciler invocations never require an in-process lock;
// UpdateFields writes bookkeeping columns unconditionally.
package upscale

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-backend/internal/domain/upscale"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

type JobRepo interface {
	Create(dbc dbctx.Context, job *upscale.Job) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*upscale.Job, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	// UpdateFieldsUnlessStatus applies updates only if the row's current
	// status is not in disallowedStatuses, returning whether this caller won
	// the race. This is the sole coordination primitive described by the
	// concurrency model: the loser of a concurrent update simply observes
	// false and exits cleanly.
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error)
	ListStale(dbc dbctx.Context, status upscale.JobStatus, olderThan time.Duration) ([]*upscale.Job, error)
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return &jobRepo{db: db, log: baseLog.With("repo", "JobRepo")}
}

func (r *jobRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *jobRepo) Create(dbc dbctx.Context, job *upscale.Job) error {
	return r.tx(dbc).WithContext(dbc.Ctx).Create(job).Error
}

func (r *jobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*upscale.Job, error) {
	var job upscale.Job
	err := r.tx(dbc).WithContext(dbc.Ctx).Where("id = ?", id).First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&upscale.Job{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *jobRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	q := r.tx(dbc).WithContext(dbc.Ctx).Model(&upscale.Job{}).Where("id = ?", id)
	switch len(disallowedStatuses) {
	case 0:
	case 1:
		q = q.Where("status <> ?", disallowedStatuses[0])
	default:
		q = q.Where("status NOT IN ?", disallowedStatuses)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRepo) ListStale(dbc dbctx.Context, status upscale.JobStatus, olderThan time.Duration) ([]*upscale.Job, error) {
	cutoff := time.Now().Add(-olderThan)
	var out []*upscale.Job
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("status = ? AND (last_callback_at IS NULL OR last_callback_at < ?)", status, cutoff).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
