package repository

import (
	"errors"

	"github.com/mautops/branch-ops/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SequenceRepository 编号序列仓储接口
type SequenceRepository interface {
	WithTx(tx *gorm.DB) SequenceRepository
	Ensure(seq *model.SequenceModel) error
	FindByCode(code string) (*model.SequenceModel, error)
	Reserve(code string) (*model.SequenceModel, int64, error)
}

// sequenceRepository 编号序列仓储实现
type sequenceRepository struct {
	db *gorm.DB
}

// NewSequenceRepository 创建编号序列仓储
func NewSequenceRepository(db *gorm.DB) SequenceRepository {
	return &sequenceRepository{db: db}
}

// WithTx 返回绑定到事务的仓储
func (r *sequenceRepository) WithTx(tx *gorm.DB) SequenceRepository {
	return &sequenceRepository{db: tx}
}

// Ensure 序列不存在时创建,已存在时保持不变
func (r *sequenceRepository) Ensure(seq *model.SequenceModel) error {
	return r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(seq).Error
}

// FindByCode 根据编码查找序列
func (r *sequenceRepository) FindByCode(code string) (*model.SequenceModel, error) {
	var seq model.SequenceModel
	if err := r.db.Where("code = ?", code).First(&seq).Error; err != nil {
		return nil, err
	}
	return &seq, nil
}

// Reserve 占用下一个编号并返回
// 先自增再读取,在事务中执行时由数据库行锁保证并发安全
func (r *sequenceRepository) Reserve(code string) (*model.SequenceModel, int64, error) {
	result := r.db.Model(&model.SequenceModel{}).
		Where("code = ?", code).
		UpdateColumn("next_number", gorm.Expr("next_number + 1"))
	if result.Error != nil {
		return nil, 0, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, 0, gorm.ErrRecordNotFound
	}

	seq, err := r.FindByCode(code)
	if err != nil {
		return nil, 0, err
	}
	if seq.NextNumber <= 1 {
		return nil, 0, errors.New("sequence counter is corrupted")
	}
	return seq, seq.NextNumber - 1, nil
}
