package upscale

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-backend/internal/domain/upscale"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

type TileRepo interface {
	CreateBatch(dbc dbctx.Context, tiles []*upscale.Tile) error
	GetByJobID(dbc dbctx.Context, jobID uuid.UUID) ([]*upscale.Tile, error)
	GetByID(dbc dbctx.Context, jobID uuid.UUID, tileID int) (*upscale.Tile, error)
	UpdateFieldsUnlessStatus(dbc dbctx.Context, jobID uuid.UUID, tileID int, disallowedStatuses []string, updates map[string]interface{}) (bool, error)
	CountByStatus(dbc dbctx.Context, jobID uuid.UUID, statuses []upscale.TileStatus) (int64, error)
	ListByStatus(dbc dbctx.Context, jobID uuid.UUID, status upscale.TileStatus) ([]*upscale.Tile, error)
}

type tileRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTileRepo(db *gorm.DB, baseLog *logger.Logger) TileRepo {
	return &tileRepo{db: db, log: baseLog.With("repo", "TileRepo")}
}

func (r *tileRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *tileRepo) CreateBatch(dbc dbctx.Context, tiles []*upscale.Tile) error {
	if len(tiles) == 0 {
		return nil
	}
	return r.tx(dbc).WithContext(dbc.Ctx).Create(&tiles).Error
}

func (r *tileRepo) GetByJobID(dbc dbctx.Context, jobID uuid.UUID) ([]*upscale.Tile, error) {
	var out []*upscale.Tile
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("job_id = ?", jobID).
		Order("index ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *tileRepo) GetByID(dbc dbctx.Context, jobID uuid.UUID, tileID int) (*upscale.Tile, error) {
	var t upscale.Tile
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("job_id = ? AND id = ?", jobID, tileID).
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *tileRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, jobID uuid.UUID, tileID int, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	q := r.tx(dbc).WithContext(dbc.Ctx).Model(&upscale.Tile{}).
		Where("job_id = ? AND id = ?", jobID, tileID)
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

func (r *tileRepo) CountByStatus(dbc dbctx.Context, jobID uuid.UUID, statuses []upscale.TileStatus) (int64, error) {
	var count int64
	err := r.tx(dbc).WithContext(dbc.Ctx).Model(&upscale.Tile{}).
		Where("job_id = ? AND status IN ?", jobID, statuses).
		Count(&count).Error
	return count, err
}

func (r *tileRepo) ListByStatus(dbc dbctx.Context, jobID uuid.UUID, status upscale.TileStatus) ([]*upscale.Tile, error) {
	var out []*upscale.Tile
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("job_id = ? AND status = ?", jobID, status).
		Order("index ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
