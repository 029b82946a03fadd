package upscale

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-backend/internal/domain/upscale"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

// CallbackRepo is the de-duplication point for provider completion events.
// A row is inserted before effects are applied; a unique-constraint
// violation on a second concurrent attempt is the expected, non-error path.
type CallbackRepo interface {
	// RecordIfNew inserts a processed-callback row for predictionID and
	// reports true if this call inserted it (i.e. this caller should apply
	// the event's effects), or false if a row already existed (someone else
	// already applied it, or this is a duplicate delivery).
	RecordIfNew(dbc dbctx.Context, predictionID string, jobID uuid.UUID, tileID *int, stage int, status string) (bool, error)
}

type callbackRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCallbackRepo(db *gorm.DB, baseLog *logger.Logger) CallbackRepo {
	return &callbackRepo{db: db, log: baseLog.With("repo", "CallbackRepo")}
}

func (r *callbackRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *callbackRepo) RecordIfNew(dbc dbctx.Context, predictionID string, jobID uuid.UUID, tileID *int, stage int, status string) (bool, error) {
	rec := &upscale.ProcessedCallbackRecord{
		PredictionID: predictionID,
		JobID:        jobID,
		TileID:       tileID,
		Stage:        stage,
		Status:       status,
		ProcessedAt:  time.Now(),
	}
	err := r.tx(dbc).WithContext(dbc.Ctx).Create(rec).Error
	if err == nil {
		return true, nil
	}
	if isUniqueViolation(err) {
		return false, nil
	}
	return false, err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// Postgres unique_violation (23505); checked textually to avoid a
	// direct pgconn dependency in the repo layer.
	msg := err.Error()
	return strings.Contains(msg, "23505") || strings.Contains(msg, "duplicate key")
}
