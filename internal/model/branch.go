package model

import (
	"errors"
	"time"
)

// 库位用途
const (
	LocationUsageInternal = "internal"
	LocationUsageTransit  = "transit"
	LocationUsageSupplier = "supplier"
	LocationUsageCustomer = "customer"
)

// 作业类型
const (
	OperationInternal = "internal"
	OperationIncoming = "incoming"
)

// BranchModel 分支（公司下的仓库/门店）
type BranchModel struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Code      string    `gorm:"type:varchar(32);not null;uniqueIndex" json:"code"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	CompanyID string    `gorm:"type:varchar(64);not null;index" json:"company_id"`
	ManagerID string    `gorm:"type:varchar(64)" json:"manager_id"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// TableName 指定表名
func (BranchModel) TableName() string {
	return "branches"
}

// Validate 验证分支模型
func (b *BranchModel) Validate() error {
	if b.ID == "" {
		return errors.New("branch ID is required")
	}
	if b.Code == "" {
		return errors.New("branch code is required")
	}
	if b.Name == "" {
		return errors.New("branch name is required")
	}
	if b.CompanyID == "" {
		return errors.New("company ID is required")
	}
	return nil
}

// LocationModel 库位
type LocationModel struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	BranchID  string    `gorm:"type:varchar(64);not null;index" json:"branch_id"`
	Usage     string    `gorm:"type:varchar(16);not null" json:"usage"`
	IsDefault bool      `gorm:"not null;default:false" json:"is_default"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

// TableName 指定表名
func (LocationModel) TableName() string {
	return "locations"
}

// Validate 验证库位模型
func (l *LocationModel) Validate() error {
	if l.ID == "" {
		return errors.New("location ID is required")
	}
	if l.Name == "" {
		return errors.New("location name is required")
	}
	if l.BranchID == "" {
		return errors.New("branch ID is required")
	}
	switch l.Usage {
	case LocationUsageInternal, LocationUsageTransit, LocationUsageSupplier, LocationUsageCustomer:
	default:
		return errors.New("invalid location usage")
	}
	return nil
}

// OperationTypeModel 作业类型（内部调拨、收货）
type OperationTypeModel struct {
	ID                    string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name                  string    `gorm:"type:varchar(255);not null" json:"name"`
	Code                  string    `gorm:"type:varchar(16);not null" json:"code"`
	BranchID              string    `gorm:"type:varchar(64);not null;index" json:"branch_id"`
	DefaultSrcLocationID  string    `gorm:"type:varchar(64)" json:"default_src_location_id"`
	DefaultDestLocationID string    `gorm:"type:varchar(64)" json:"default_dest_location_id"`
	SequenceCode          string    `gorm:"type:varchar(64);not null" json:"sequence_code"`
	CreatedAt             time.Time `gorm:"not null" json:"created_at"`
}

// TableName 指定表名
func (OperationTypeModel) TableName() string {
	return "operation_types"
}

// Validate 验证作业类型模型
func (o *OperationTypeModel) Validate() error {
	if o.ID == "" {
		return errors.New("operation type ID is required")
	}
	if o.BranchID == "" {
		return errors.New("branch ID is required")
	}
	if o.Code != OperationInternal && o.Code != OperationIncoming {
		return errors.New("invalid operation type code")
	}
	if o.SequenceCode == "" {
		return errors.New("sequence code is required")
	}
	return nil
}

// DepartmentModel 部门
type DepartmentModel struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	CompanyID string    `gorm:"type:varchar(64);not null;index" json:"company_id"`
	ManagerID string    `gorm:"type:varchar(64);not null" json:"manager_id"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

// TableName 指定表名
func (DepartmentModel) TableName() string {
	return "departments"
}

// Validate 验证部门模型
func (d *DepartmentModel) Validate() error {
	if d.ID == "" {
		return errors.New("department ID is required")
	}
	if d.Name == "" {
		return errors.New("department name is required")
	}
	if d.ManagerID == "" {
		return errors.New("department manager is required")
	}
	return nil
}
