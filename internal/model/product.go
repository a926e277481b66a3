package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ProductModel 产品
type ProductModel struct {
	ID           string          `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name         string          `gorm:"type:varchar(255);not null" json:"name"`
	DefaultCode  string          `gorm:"type:varchar(64);not null;uniqueIndex" json:"default_code"` // 货号 ATC/PSIT
	Barcode      string          `gorm:"type:varchar(64);index" json:"barcode"`
	Uom          string          `gorm:"type:varchar(32);not null;default:'Units'" json:"uom"`
	TrackSerial  bool            `gorm:"not null;default:false" json:"track_serial"`
	IsArticle    bool            `gorm:"not null;default:false" json:"is_article"`
	Brand        string          `gorm:"type:varchar(128)" json:"brand"`
	Size         string          `gorm:"type:varchar(64)" json:"size"`
	Ingredients  string          `gorm:"type:text" json:"ingredients"`
	GrossWeight  decimal.Decimal `gorm:"type:numeric(16,4);not null;default:0" json:"gross_weight"`
	NetWeight    decimal.Decimal `gorm:"type:numeric(16,4);not null;default:0" json:"net_weight"`
	NetNetWeight decimal.Decimal `gorm:"type:numeric(16,4);not null;default:0" json:"net_net_weight"`
	BaseColour   string          `gorm:"type:varchar(64)" json:"base_colour"`
	TextColour   string          `gorm:"type:varchar(64)" json:"text_colour"`
	ListPrice    decimal.Decimal `gorm:"type:numeric(16,2);not null;default:0" json:"list_price"`
	CreatedAt    time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"not null" json:"updated_at"`
}

// TableName 指定表名
func (ProductModel) TableName() string {
	return "products"
}

// Validate 验证产品模型
func (p *ProductModel) Validate() error {
	if p.ID == "" {
		return errors.New("product ID is required")
	}
	if p.Name == "" {
		return errors.New("product name is required")
	}
	if p.DefaultCode == "" {
		return errors.New("product code is required")
	}
	if p.ListPrice.IsNegative() {
		return errors.New("list price cannot be negative")
	}
	return nil
}

// 供应商状态
const (
	SupplierActive   = "active"
	SupplierInactive = "inactive"
)

// PartnerModel 客户/供应商
type PartnerModel struct {
	ID                   string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name                 string    `gorm:"type:varchar(255);not null" json:"name"`
	IsCustomer           bool      `gorm:"not null;default:false" json:"is_customer"`
	IsSupplier           bool      `gorm:"not null;default:false" json:"is_supplier"`
	CustomerCode         string    `gorm:"type:varchar(16);index" json:"customer_code"`
	SupplierCode         string    `gorm:"type:varchar(16);index" json:"supplier_code"`
	NationalIDCiphertext string    `gorm:"type:text" json:"-"`         // 证件号（AES-GCM 加密）
	NationalIDHash       string    `gorm:"type:varchar(128)" json:"-"` // 证件号 bcrypt 摘要,用于核验
	Phone                string    `gorm:"type:varchar(32)" json:"phone"`
	SupplierProduct      string    `gorm:"type:varchar(255)" json:"supplier_product"`
	SupplierStatus       string    `gorm:"type:varchar(16);not null;default:'active'" json:"supplier_status"`
	ContactName          string    `gorm:"type:varchar(255)" json:"contact_name"`
	ContactMobile        string    `gorm:"type:varchar(32)" json:"contact_mobile"`
	FactoryAddress       string    `gorm:"type:varchar(255)" json:"factory_address"`
	FactoryCity          string    `gorm:"type:varchar(128)" json:"factory_city"`
	FactoryCountry       string    `gorm:"type:varchar(64)" json:"factory_country"`
	BankSwift            string    `gorm:"type:varchar(32)" json:"bank_swift"`
	BeneficiaryName      string    `gorm:"type:varchar(255)" json:"beneficiary_name"`
	TaxName              string    `gorm:"type:varchar(255)" json:"tax_name"`
	TaxAddress           string    `gorm:"type:text" json:"tax_address"`
	Verified             bool      `gorm:"not null;default:false" json:"verified"`
	CompanyID            string    `gorm:"type:varchar(64);not null;index" json:"company_id"`
	CreatedAt            time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt            time.Time `gorm:"not null" json:"updated_at"`
}

// TableName 指定表名
func (PartnerModel) TableName() string {
	return "partners"
}

// Validate 验证合作伙伴模型
func (p *PartnerModel) Validate() error {
	if p.ID == "" {
		return errors.New("partner ID is required")
	}
	if p.Name == "" {
		return errors.New("partner name is required")
	}
	if p.SupplierStatus != SupplierActive && p.SupplierStatus != SupplierInactive {
		return errors.New("invalid supplier status")
	}
	return nil
}
