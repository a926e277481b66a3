package model

import (
	"errors"
	"fmt"
	"time"
)

// SequenceModel 编号序列
type SequenceModel struct {
	Code       string    `gorm:"primaryKey;type:varchar(64)" json:"code"`
	Name       string    `gorm:"type:varchar(255)" json:"name"`
	Prefix     string    `gorm:"type:varchar(32)" json:"prefix"`
	Padding    int       `gorm:"not null;default:5" json:"padding"`
	NextNumber int64     `gorm:"not null;default:1" json:"next_number"`
	UpdatedAt  time.Time `gorm:"not null" json:"updated_at"`
}

// TableName 指定表名
func (SequenceModel) TableName() string {
	return "sequences"
}

// Validate 验证编号序列
func (s *SequenceModel) Validate() error {
	if s.Code == "" {
		return errors.New("sequence code is required")
	}
	if s.Padding < 0 {
		return errors.New("padding cannot be negative")
	}
	if s.NextNumber <= 0 {
		return errors.New("next number must be positive")
	}
	return nil
}

// Format 按前缀和位数格式化编号
func (s *SequenceModel) Format(n int64) string {
	return fmt.Sprintf("%s%0*d", s.Prefix, s.Padding, n)
}

