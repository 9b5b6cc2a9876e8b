package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ndsb/pkg/types"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrBeamNotFound = errors.New("beam not found in ledger")
)

// Repository 封装所有对账本数据库的操作
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// RecordPacked 记录一个刚打包完的批次，连同它的访问策略
// 幂等：同一个 BatchID 重复记录时刷新指纹、元数据和策略
func (r *Repository) RecordPacked(ctx context.Context, id types.BatchID, sha256 string, size int64, meta map[string]any, private bool, accessList []string) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal batch meta: %w", err)
	}
	listJSON, err := json.Marshal(accessList)
	if err != nil {
		return fmt.Errorf("failed to marshal access list: %w", err)
	}

	model := BeamModel{
		BatchID:       id.String(),
		ArchiveSHA256: sha256,
		ArchiveSize:   size,
		Status:        StatusPacked,
		Private:       private,
		AccessList:    datatypes.JSON(listJSON),
		Meta:          datatypes.JSON(metaJSON),
		CreatedAt:     time.Now(),
	}

	err = r.db.GetConn().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "batch_id"}}, // 冲突列
			DoUpdates: clause.AssignmentColumns([]string{"archive_sha256", "archive_size", "status", "private", "access_list", "meta"}),
		}).
		Create(&model).Error

	if err != nil {
		return fmt.Errorf("failed to record packed batch: %w", err)
	}
	return nil
}

// RecordTransmitted 发射成功后回填接收方信息
func (r *Repository) RecordTransmitted(ctx context.Context, id types.BatchID, host, remoteID, transmittedBy string) error {
	result := r.db.GetConn().WithContext(ctx).
		Model(&BeamModel{}).
		Where("batch_id = ?", id.String()).
		Updates(map[string]any{
			"host":           host,
			"remote_id":      remoteID,
			"transmitted_by": transmittedBy,
			"transmitted_at": time.Now().Unix(),
			"status":         StatusTransmitted,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBeamNotFound
	}
	return nil
}

// RecordFailed 发射失败时标记状态 (归档保留在磁盘上，可以重发)
func (r *Repository) RecordFailed(ctx context.Context, id types.BatchID, host string) error {
	result := r.db.GetConn().WithContext(ctx).
		Model(&BeamModel{}).
		Where("batch_id = ?", id.String()).
		Updates(map[string]any{
			"host":   host,
			"status": StatusFailed,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBeamNotFound
	}
	return nil
}

// GetBeam 按 BatchID 查单条记录
func (r *Repository) GetBeam(ctx context.Context, id types.BatchID) (*BeamModel, error) {
	var beam BeamModel
	// BatchID 是主键，查询非常快
	err := r.db.GetConn().WithContext(ctx).
		Where("batch_id = ?", id.String()).
		First(&beam).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBeamNotFound
	}
	if err != nil {
		return nil, err
	}
	return &beam, nil
}

// ListRecent 按创建时间倒序列出最近的批次 (ndsb log)
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]BeamModel, error) {
	var beams []BeamModel
	err := r.db.GetConn().WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&beams).Error
	return beams, err
}

// FindByHost 示例：利用 SQL 能力进行查询
func (r *Repository) FindByHost(ctx context.Context, host string, limit int) ([]BeamModel, error) {
	var beams []BeamModel
	err := r.db.GetConn().WithContext(ctx).
		Where("host = ?", host).
		Order("transmitted_at DESC").
		Limit(limit).
		Find(&beams).Error
	return beams, err
}
