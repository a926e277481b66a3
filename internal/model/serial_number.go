package model

import (
	"errors"
	"time"
)

// 序列号类型
const (
	SerialTypeMachine = "M"
	SerialTypeWorker  = "W"
)

// 序列号状态
const (
	SerialAvailable = "available"
	SerialReserved  = "reserved"
	SerialUsed      = "used"
)

// 出入库方向
const (
	MovementIn       = "in"
	MovementOut      = "out"
	MovementInternal = "internal"
)

// SerialNumberModel 序列号
// (Type, YearCode, Sequence) 唯一,同一类型同一年份内序号递增
type SerialNumberModel struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Code        string    `gorm:"type:varchar(32);not null;uniqueIndex" json:"code"`
	Type        string    `gorm:"type:varchar(1);not null;uniqueIndex:idx_serial_scope" json:"type"`
	YearCode    string    `gorm:"type:varchar(2);not null;uniqueIndex:idx_serial_scope" json:"year_code"`
	Sequence    int       `gorm:"not null;uniqueIndex:idx_serial_scope" json:"sequence"`
	ProductID   string    `gorm:"type:varchar(64);not null;index" json:"product_id"`
	CompanyID   string    `gorm:"type:varchar(64);not null;index" json:"company_id"`
	Status      string    `gorm:"type:varchar(16);not null;default:'available';index" json:"status"`
	QCPassed    bool      `gorm:"not null;default:false" json:"qc_passed"`
	BatchID     string    `gorm:"type:varchar(64);index" json:"batch_id"`
	GeneratedBy string    `gorm:"type:varchar(64);not null" json:"generated_by"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

// TableName 指定表名
func (SerialNumberModel) TableName() string {
	return "serial_numbers"
}

// Validate 验证序列号
func (s *SerialNumberModel) Validate() error {
	if s.ID == "" {
		return errors.New("serial ID is required")
	}
	if s.Code == "" {
		return errors.New("serial code is required")
	}
	if s.Type != SerialTypeMachine && s.Type != SerialTypeWorker {
		return errors.New("serial type must be M or W")
	}
	if len(s.YearCode) != 2 {
		return errors.New("year code must be two digits")
	}
	if s.Sequence <= 0 {
		return errors.New("sequence must be positive")
	}
	if s.ProductID == "" {
		return errors.New("product ID is required")
	}
	return nil
}

// SerialMovementModel 序列号扫描记录
// 同一单据内同一序列号只能扫描一次
type SerialMovementModel struct {
	ID           string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	SerialID     string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_movement_document" json:"serial_id"`
	SerialCode   string    `gorm:"type:varchar(32);not null;index" json:"serial_code"`
	Direction    string    `gorm:"type:varchar(16);not null" json:"direction"`
	DocumentType string    `gorm:"type:varchar(32);not null" json:"document_type"`
	DocumentID   string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_movement_document" json:"document_id"`
	ProductID    string    `gorm:"type:varchar(64);not null" json:"product_id"`
	SrcLocation  string    `gorm:"type:varchar(64)" json:"src_location"`
	DestLocation string    `gorm:"type:varchar(64)" json:"dest_location"`
	Note         string    `gorm:"type:text" json:"note"`
	ActorID      string    `gorm:"type:varchar(64);not null" json:"actor_id"`
	CreatedAt    time.Time `gorm:"not null;index" json:"created_at"`
}

// TableName 指定表名
func (SerialMovementModel) TableName() string {
	return "serial_movements"
}

// Validate 验证扫描记录
func (m *SerialMovementModel) Validate() error {
	if m.ID == "" {
		return errors.New("movement ID is required")
	}
	if m.SerialID == "" {
		return errors.New("serial ID is required")
	}
	switch m.Direction {
	case MovementIn, MovementOut, MovementInternal:
	default:
		return errors.New("invalid movement direction")
	}
	if m.DocumentID == "" {
		return errors.New("document ID is required")
	}
	return nil
}

// QRLabelModel 二维码标签,按已完成单据的数量逐件生成
type QRLabelModel struct {
	ID         string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Code       string    `gorm:"type:varchar(32);not null;uniqueIndex" json:"code"`
	DocumentID string    `gorm:"type:varchar(64);not null;index" json:"document_id"`
	ProductID  string    `gorm:"type:varchar(64);not null" json:"product_id"`
	CreatedBy  string    `gorm:"type:varchar(64);not null" json:"created_by"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
}

// TableName 指定表名
func (QRLabelModel) TableName() string {
	return "qr_labels"
}
