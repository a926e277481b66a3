package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mautops/branch-ops/internal/model"
	"github.com/mautops/branch-ops/internal/repository"
	"github.com/mautops/branch-ops/internal/utils"
	"github.com/mautops/branch-ops/internal/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RelationWriter 写入授权关系（OpenFGA 客户端实现）
type RelationWriter interface {
	SetRelation(ctx context.Context, userID string, relation string, objectType string, objectID string) error
	DeleteRelation(ctx context.Context, userID string, relation string, objectType string, objectID string) error
}

// CreateBranchInput 创建分支
type CreateBranchInput struct {
	Code      string `json:"code" validate:"required,max=16,alphanum"`
	Name      string `json:"name" validate:"required,max=255"`
	CompanyID string `json:"company_id" validate:"max=64"`
	ManagerID string `json:"manager_id" validate:"max=64"`
}

// CreateLocationInput 创建库位
type CreateLocationInput struct {
	Name      string `json:"name" validate:"required,max=255"`
	Usage     string `json:"usage" validate:"required,oneof=internal transit supplier customer"`
	IsDefault bool   `json:"is_default"`
}

// CreateDepartmentInput 创建部门
type CreateDepartmentInput struct {
	Name      string `json:"name" validate:"required,max=255"`
	CompanyID string `json:"company_id" validate:"max=64"`
	ManagerID string `json:"manager_id" validate:"required,max=64"`
}

// CreateProductInput 创建产品,DefaultCode 为空时自动生成
type CreateProductInput struct {
	Name         string          `json:"name" validate:"required,max=255"`
	DefaultCode  string          `json:"default_code" validate:"max=64"`
	Barcode      string          `json:"barcode" validate:"max=64"`
	Uom          string          `json:"uom" validate:"max=32"`
	TrackSerial  bool            `json:"track_serial"`
	IsArticle    bool            `json:"is_article"`
	Brand        string          `json:"brand" validate:"max=128"`
	Size         string          `json:"size" validate:"max=64"`
	Ingredients  string          `json:"ingredients"`
	GrossWeight  decimal.Decimal `json:"gross_weight" validate:"gte=0"`
	NetWeight    decimal.Decimal `json:"net_weight" validate:"gte=0"`
	NetNetWeight decimal.Decimal `json:"net_net_weight" validate:"gte=0"`
	BaseColour   string          `json:"base_colour" validate:"max=64"`
	TextColour   string          `json:"text_colour" validate:"max=64"`
	ListPrice    decimal.Decimal `json:"list_price" validate:"gte=0"`
}

// CreatePartnerInput 创建客户或供应商
type CreatePartnerInput struct {
	Name            string `json:"name" validate:"required,max=255"`
	IsCustomer      bool   `json:"is_customer"`
	IsSupplier      bool   `json:"is_supplier"`
	NationalID      string `json:"national_id" validate:"max=64"`
	Phone           string `json:"phone" validate:"max=32"`
	SupplierProduct string `json:"supplier_product" validate:"max=255"`
	ContactName     string `json:"contact_name" validate:"max=255"`
	ContactMobile   string `json:"contact_mobile" validate:"max=32"`
	FactoryAddress  string `json:"factory_address" validate:"max=255"`
	FactoryCity     string `json:"factory_city" validate:"max=128"`
	FactoryCountry  string `json:"factory_country" validate:"max=64"`
	BankSwift       string `json:"bank_swift" validate:"max=32"`
	BeneficiaryName string `json:"beneficiary_name" validate:"max=255"`
	TaxName         string `json:"tax_name" validate:"max=255"`
	TaxAddress      string `json:"tax_address"`
}

// CatalogService 主数据服务:分支、库位、部门、产品、合作伙伴
type CatalogService interface {
	CreateBranch(ctx context.Context, actor Actor, input *CreateBranchInput) (*model.BranchModel, error)
	ListBranches(ctx context.Context, actor Actor) ([]*model.BranchModel, error)
	SetBranchManager(ctx context.Context, actor Actor, branchID string, managerID string) (*model.BranchModel, error)
	AddLocation(ctx context.Context, actor Actor, branchID string, input *CreateLocationInput) (*model.LocationModel, error)
	ListLocations(ctx context.Context, actor Actor, branchID string) ([]*model.LocationModel, error)
	CreateDepartment(ctx context.Context, actor Actor, input *CreateDepartmentInput) (*model.DepartmentModel, error)
	ListDepartments(ctx context.Context, actor Actor) ([]*model.DepartmentModel, error)

	CreateProduct(ctx context.Context, actor Actor, input *CreateProductInput) (*model.ProductModel, error)
	GetProduct(ctx context.Context, id string) (*model.ProductModel, error)
	LookupByBarcode(ctx context.Context, barcode string) (*model.ProductModel, error)
	ListProducts(ctx context.Context, filter *repository.ProductFilter) ([]*model.ProductModel, int64, error)

	CreatePartner(ctx context.Context, actor Actor, input *CreatePartnerInput) (*model.PartnerModel, error)
	VerifyNationalID(ctx context.Context, actor Actor, id string, nationalID string) (bool, error)
	GetPartner(ctx context.Context, actor Actor, id string) (*PartnerDetail, error)
	SetSupplierStatus(ctx context.Context, actor Actor, id string, status string) (*model.PartnerModel, error)
	ListPartners(ctx context.Context, actor Actor, filter *repository.PartnerFilter) ([]*model.PartnerModel, int64, error)
}

type catalogService struct {
	db            *gorm.DB
	branchRepo    repository.BranchRepository
	productRepo   repository.ProductRepository
	partnerRepo   repository.PartnerRepository
	sequences     SequenceGenerator
	audit         AuditLog
	clock         Clock
	relations     RelationWriter
	encryptionKey string
}

// NewCatalogService 创建主数据服务,relations 为空时不写入 OpenFGA 关系
func NewCatalogService(db *gorm.DB, sequences SequenceGenerator, audit AuditLog, clock Clock, relations RelationWriter, encryptionKey string) CatalogService {
	if clock == nil {
		clock = SystemClock
	}
	return &catalogService{
		db:            db,
		branchRepo:    repository.NewBranchRepository(db),
		productRepo:   repository.NewProductRepository(db),
		partnerRepo:   repository.NewPartnerRepository(db),
		sequences:     sequences,
		audit:         audit,
		clock:         clock,
		relations:     relations,
		encryptionKey: encryptionKey,
	}
}

// companyFor 普通用户只能在自己的公司下创建数据
func companyFor(actor Actor, requested string) (string, error) {
	if actor.CompanyID != "" {
		return actor.CompanyID, nil
	}
	if requested == "" {
		return "", workflow.Precondition(workflow.CodeInvalidInput, "company_id is required")
	}
	return requested, nil
}

// CreateBranch 创建分支,同时创建默认库存库位、在途库位、内部调拨作业类型及其编号序列
func (s *catalogService) CreateBranch(ctx context.Context, actor Actor, input *CreateBranchInput) (*model.BranchModel, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if err := validateName(input.Name); err != nil {
		return nil, err
	}
	companyID, err := companyFor(actor, input.CompanyID)
	if err != nil {
		return nil, err
	}

	code := strings.ToUpper(input.Code)
	var branch *model.BranchModel
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.branchRepo.WithTx(tx)
		if _, err := repo.FindBranchByCode(code); err == nil {
			return &workflow.ConflictError{Resource: "branch", Key: code}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to check branch code: %w", err)
		}

		now := s.clock.Now()
		branch = &model.BranchModel{
			ID:        newID(),
			Code:      code,
			Name:      strings.TrimSpace(input.Name),
			CompanyID: companyID,
			ManagerID: input.ManagerID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := branch.Validate(); err != nil {
			return workflow.Precondition(workflow.CodeInvalidInput, "%s", err.Error())
		}
		if err := repo.SaveBranch(branch); err != nil {
			return duplicateAsConflict(err, "branch", code, "failed to create branch")
		}

		stock := &model.LocationModel{ID: newID(), Name: code + "/Stock", BranchID: branch.ID, Usage: model.LocationUsageInternal, IsDefault: true, CreatedAt: now}
		transit := &model.LocationModel{ID: newID(), Name: code + "/Transit", BranchID: branch.ID, Usage: model.LocationUsageTransit, IsDefault: true, CreatedAt: now}
		for _, loc := range []*model.LocationModel{stock, transit} {
			if err := repo.SaveLocation(loc); err != nil {
				return fmt.Errorf("failed to create location %s: %w", loc.Name, err)
			}
		}

		seqCode := BranchTransferSequence(code)
		if err := s.sequences.Ensure(ctx, tx, &model.SequenceModel{
			Code:    seqCode,
			Name:    branch.Name + " Internal Transfers",
			Prefix:  code + "/INT/",
			Padding: 5,
		}); err != nil {
			return fmt.Errorf("failed to create transfer sequence: %w", err)
		}
		opType := &model.OperationTypeModel{
			ID:                    newID(),
			Name:                  "Internal Transfers",
			Code:                  model.OperationInternal,
			BranchID:              branch.ID,
			DefaultSrcLocationID:  stock.ID,
			DefaultDestLocationID: stock.ID,
			SequenceCode:          seqCode,
			CreatedAt:             now,
		}
		if err := repo.SaveOperationType(opType); err != nil {
			return fmt.Errorf("failed to create operation type: %w", err)
		}

		return s.audit.WithTx(tx).Append(ctx, AuditEntry{
			EntityType: "branch",
			EntityID:   branch.ID,
			Action:     "create",
			ActorID:    actor.ID,
			CompanyID:  companyID,
			Details:    map[string]interface{}{"code": code},
			At:         now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.grant(ctx, branch.ManagerID, "manager", "branch", branch.ID)
	return branch, nil
}

// grant 写入授权关系,失败只记录日志
func (s *catalogService) grant(ctx context.Context, userID, relation, objectType, objectID string) {
	if s.relations == nil || userID == "" {
		return
	}
	if err := s.relations.SetRelation(ctx, userID, relation, objectType, objectID); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"user":     userID,
			"relation": relation,
			"object":   objectType + ":" + objectID,
		}).Warn("failed to write relation")
	}
}

// revoke 删除授权关系,失败只记录日志
func (s *catalogService) revoke(ctx context.Context, userID, relation, objectType, objectID string) {
	if s.relations == nil || userID == "" {
		return
	}
	if err := s.relations.DeleteRelation(ctx, userID, relation, objectType, objectID); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"user":     userID,
			"relation": relation,
			"object":   objectType + ":" + objectID,
		}).Warn("failed to delete relation")
	}
}

// SetBranchManager 更换分支负责人,撤销原负责人的 manager 关系
func (s *catalogService) SetBranchManager(ctx context.Context, actor Actor, branchID string, managerID string) (*model.BranchModel, error) {
	managerID = strings.TrimSpace(managerID)
	if managerID == "" {
		return nil, workflow.Precondition(workflow.CodeInvalidInput, "manager is required")
	}
	var (
		branch   *model.BranchModel
		previous string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		branch, err = s.branch(tx, actor, branchID)
		if err != nil {
			return err
		}
		previous = branch.ManagerID
		if previous == managerID {
			return nil
		}
		branch.ManagerID = managerID
		branch.UpdatedAt = s.clock.Now()
		if err := s.branchRepo.WithTx(tx).SaveBranch(branch); err != nil {
			return fmt.Errorf("failed to update branch: %w", err)
		}
		return s.audit.WithTx(tx).Append(ctx, AuditEntry{
			EntityType: "branch",
			EntityID:   branch.ID,
			Action:     "set_manager",
			ActorID:    actor.ID,
			CompanyID:  branch.CompanyID,
			Details:    map[string]interface{}{"from": previous, "to": managerID},
			At:         branch.UpdatedAt,
		})
	})
	if err != nil {
		return nil, err
	}
	if previous != managerID {
		s.revoke(ctx, previous, "manager", "branch", branch.ID)
		s.grant(ctx, managerID, "manager", "branch", branch.ID)
	}
	return branch, nil
}

// ListBranches 查询公司下的分支
func (s *catalogService) ListBranches(ctx context.Context, actor Actor) ([]*model.BranchModel, error) {
	branches, err := s.branchRepo.WithTx(s.db.WithContext(ctx)).ListBranches(actor.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}
	return branches, nil
}

func (s *catalogService) branch(tx *gorm.DB, actor Actor, branchID string) (*model.BranchModel, error) {
	branch, err := s.branchRepo.WithTx(tx).FindBranchByID(branchID)
	if err != nil {
		return nil, notFound(err, "branch", branchID)
	}
	if !actor.ownsCompany(branch.CompanyID) {
		return nil, notFound(gorm.ErrRecordNotFound, "branch", branchID)
	}
	return branch, nil
}

// AddLocation 为分支添加库位
func (s *catalogService) AddLocation(ctx context.Context, actor Actor, branchID string, input *CreateLocationInput) (*model.LocationModel, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if err := validateName(input.Name); err != nil {
		return nil, err
	}
	var loc *model.LocationModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		branch, err := s.branch(tx, actor, branchID)
		if err != nil {
			return err
		}
		repo := s.branchRepo.WithTx(tx)
		if input.IsDefault {
			// 同一用途只保留一个默认库位
			err := tx.Model(&model.LocationModel{}).
				Where("branch_id = ? AND usage = ?", branch.ID, input.Usage).
				Update("is_default", false).Error
			if err != nil {
				return fmt.Errorf("failed to reset default location: %w", err)
			}
		}
		loc = &model.LocationModel{
			ID:        newID(),
			Name:      branch.Code + "/" + strings.TrimSpace(input.Name),
			BranchID:  branch.ID,
			Usage:     input.Usage,
			IsDefault: input.IsDefault,
			CreatedAt: s.clock.Now(),
		}
		if err := loc.Validate(); err != nil {
			return workflow.Precondition(workflow.CodeInvalidInput, "%s", err.Error())
		}
		if err := repo.SaveLocation(loc); err != nil {
			return fmt.Errorf("failed to create location: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return loc, nil
}

// ListLocations 查询分支库位
func (s *catalogService) ListLocations(ctx context.Context, actor Actor, branchID string) ([]*model.LocationModel, error) {
	db := s.db.WithContext(ctx)
	if _, err := s.branch(db, actor, branchID); err != nil {
		return nil, err
	}
	locations, err := s.branchRepo.WithTx(db).ListLocations(branchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	return locations, nil
}

// CreateDepartment 创建部门,负责人写入 OpenFGA manager 关系
func (s *catalogService) CreateDepartment(ctx context.Context, actor Actor, input *CreateDepartmentInput) (*model.DepartmentModel, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if err := validateName(input.Name); err != nil {
		return nil, err
	}
	companyID, err := companyFor(actor, input.CompanyID)
	if err != nil {
		return nil, err
	}
	dept := &model.DepartmentModel{
		ID:        newID(),
		Name:      strings.TrimSpace(input.Name),
		CompanyID: companyID,
		ManagerID: input.ManagerID,
		CreatedAt: s.clock.Now(),
	}
	if err := dept.Validate(); err != nil {
		return nil, workflow.Precondition(workflow.CodeInvalidInput, "%s", err.Error())
	}
	if err := s.branchRepo.WithTx(s.db.WithContext(ctx)).SaveDepartment(dept); err != nil {
		return nil, fmt.Errorf("failed to create department: %w", err)
	}
	s.grant(ctx, dept.ManagerID, "manager", "department", dept.ID)
	return dept, nil
}

// ListDepartments 查询公司部门
func (s *catalogService) ListDepartments(ctx context.Context, actor Actor) ([]*model.DepartmentModel, error) {
	depts, err := s.branchRepo.WithTx(s.db.WithContext(ctx)).ListDepartments(actor.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list departments: %w", err)
	}
	return depts, nil
}

// CreateProduct 创建产品
// 货号为空时生成 ATC/PSIT + DDMMYY + 3 位序号,PSIT 产品条码与货号相同
func (s *catalogService) CreateProduct(ctx context.Context, actor Actor, input *CreateProductInput) (*model.ProductModel, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if err := validateName(input.Name); err != nil {
		return nil, err
	}

	var product *model.ProductModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		code := strings.TrimSpace(input.DefaultCode)
		barcode := strings.TrimSpace(input.Barcode)
		if code == "" {
			prefix, seqCode := "PSIT", SeqPSITNumber
			if input.IsArticle {
				prefix, seqCode = "ATC", SeqArticleNumber
			}
			n, err := s.sequences.Next(ctx, tx, seqCode)
			if err != nil {
				return err
			}
			code = prefix + now.Format("020106") + n
			if !input.IsArticle && barcode == "" {
				barcode = code
			}
		}

		repo := s.productRepo.WithTx(tx)
		if _, err := repo.FindByCode(code); err == nil {
			return &workflow.ConflictError{Resource: "product", Key: code}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to check product code: %w", err)
		}

		uom := strings.TrimSpace(input.Uom)
		if uom == "" {
			uom = "Units"
		}
		product = &model.ProductModel{
			ID:           newID(),
			Name:         strings.TrimSpace(input.Name),
			DefaultCode:  code,
			Barcode:      barcode,
			Uom:          uom,
			TrackSerial:  input.TrackSerial,
			IsArticle:    input.IsArticle,
			Brand:        input.Brand,
			Size:         input.Size,
			Ingredients:  input.Ingredients,
			GrossWeight:  input.GrossWeight,
			NetWeight:    input.NetWeight,
			NetNetWeight: input.NetNetWeight,
			BaseColour:   input.BaseColour,
			TextColour:   input.TextColour,
			ListPrice:    input.ListPrice,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := product.Validate(); err != nil {
			return workflow.Precondition(workflow.CodeInvalidInput, "%s", err.Error())
		}
		if err := repo.Save(product); err != nil {
			return duplicateAsConflict(err, "product", code, "failed to create product")
		}
		return s.audit.WithTx(tx).Append(ctx, AuditEntry{
			EntityType: "product",
			EntityID:   product.ID,
			Action:     "create",
			ActorID:    actor.ID,
			CompanyID:  actor.CompanyID,
			Details:    map[string]interface{}{"default_code": code},
			At:         now,
		})
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

// GetProduct 获取产品
func (s *catalogService) GetProduct(ctx context.Context, id string) (*model.ProductModel, error) {
	product, err := s.productRepo.WithTx(s.db.WithContext(ctx)).FindByID(id)
	if err != nil {
		return nil, notFound(err, "product", id)
	}
	return product, nil
}

// LookupByBarcode 扫码查找产品
func (s *catalogService) LookupByBarcode(ctx context.Context, barcode string) (*model.ProductModel, error) {
	product, err := s.productRepo.WithTx(s.db.WithContext(ctx)).FindByBarcode(strings.TrimSpace(barcode))
	if err != nil {
		return nil, notFound(err, "product with barcode", barcode)
	}
	return product, nil
}

// ListProducts 查询产品
func (s *catalogService) ListProducts(ctx context.Context, filter *repository.ProductFilter) ([]*model.ProductModel, int64, error) {
	products, total, err := s.productRepo.WithTx(s.db.WithContext(ctx)).FindByFilter(filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list products: %w", err)
	}
	return products, total, nil
}

// CreatePartner 创建客户或供应商,证件号加密存储并保存 bcrypt 摘要
func (s *catalogService) CreatePartner(ctx context.Context, actor Actor, input *CreatePartnerInput) (*model.PartnerModel, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if err := validateName(input.Name); err != nil {
		return nil, err
	}
	if !input.IsCustomer && !input.IsSupplier {
		return nil, workflow.Precondition(workflow.CodeInvalidInput, "partner must be a customer or a supplier")
	}
	if actor.CompanyID == "" {
		return nil, workflow.Precondition(workflow.CodeInvalidInput, "partners must belong to a company")
	}

	var partner *model.PartnerModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		partner = &model.PartnerModel{
			ID:              newID(),
			Name:            strings.TrimSpace(input.Name),
			IsCustomer:      input.IsCustomer,
			IsSupplier:      input.IsSupplier,
			Phone:           input.Phone,
			SupplierProduct: input.SupplierProduct,
			SupplierStatus:  model.SupplierActive,
			ContactName:     input.ContactName,
			ContactMobile:   input.ContactMobile,
			FactoryAddress:  input.FactoryAddress,
			FactoryCity:     input.FactoryCity,
			FactoryCountry:  input.FactoryCountry,
			BankSwift:       input.BankSwift,
			BeneficiaryName: input.BeneficiaryName,
			TaxName:         input.TaxName,
			TaxAddress:      input.TaxAddress,
			CompanyID:       actor.CompanyID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if input.IsCustomer {
			code, err := s.sequences.Next(ctx, tx, SeqCustomerCode)
			if err != nil {
				return err
			}
			partner.CustomerCode = code
		}
		if input.IsSupplier {
			code, err := s.sequences.Next(ctx, tx, SeqSupplierCode)
			if err != nil {
				return err
			}
			partner.SupplierCode = code
		}

		if nid := strings.TrimSpace(input.NationalID); nid != "" {
			if s.encryptionKey == "" {
				return &workflow.ConfigurationError{Resource: "encryption key", Owner: "partner national ID"}
			}
			ciphertext, err := utils.SealNationalID(nid, s.encryptionKey)
			if err != nil {
				return fmt.Errorf("failed to encrypt national ID: %w", err)
			}
			hash, err := utils.DigestNationalID(nid)
			if err != nil {
				return err
			}
			partner.NationalIDCiphertext = ciphertext
			partner.NationalIDHash = hash
		}

		if err := partner.Validate(); err != nil {
			return workflow.Precondition(workflow.CodeInvalidInput, "%s", err.Error())
		}
		if err := s.partnerRepo.WithTx(tx).Save(partner); err != nil {
			return fmt.Errorf("failed to create partner: %w", err)
		}
		return s.audit.WithTx(tx).Append(ctx, AuditEntry{
			EntityType: "partner",
			EntityID:   partner.ID,
			Action:     "create",
			ActorID:    actor.ID,
			CompanyID:  partner.CompanyID,
			At:         now,
		})
	})
	if err != nil {
		return nil, err
	}
	return partner, nil
}

func (s *catalogService) partner(tx *gorm.DB, actor Actor, id string) (*model.PartnerModel, error) {
	partner, err := s.partnerRepo.WithTx(tx).FindByID(id)
	if err != nil {
		return nil, notFound(err, "partner", id)
	}
	if !actor.ownsCompany(partner.CompanyID) {
		return nil, notFound(gorm.ErrRecordNotFound, "partner", id)
	}
	return partner, nil
}

// PartnerDetail 合作伙伴详情,证件号只以脱敏形式返回
type PartnerDetail struct {
	*model.PartnerModel
	NationalIDMasked string `json:"national_id_masked,omitempty"`
}

// GetPartner 获取合作伙伴详情,解密证件号后脱敏
func (s *catalogService) GetPartner(ctx context.Context, actor Actor, id string) (*PartnerDetail, error) {
	partner, err := s.partner(s.db.WithContext(ctx), actor, id)
	if err != nil {
		return nil, err
	}
	detail := &PartnerDetail{PartnerModel: partner}
	if partner.NationalIDCiphertext == "" {
		return detail, nil
	}
	if s.encryptionKey == "" {
		return nil, &workflow.ConfigurationError{Resource: "encryption key", Owner: "partner national ID"}
	}
	nid, err := utils.OpenNationalID(partner.NationalIDCiphertext, s.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read national ID of partner %s: %w", partner.ID, err)
	}
	detail.NationalIDMasked = utils.MaskNationalID(nid)
	return detail, nil
}

// VerifyNationalID 核对证件号是否与登记的一致
func (s *catalogService) VerifyNationalID(ctx context.Context, actor Actor, id string, nationalID string) (bool, error) {
	partner, err := s.partner(s.db.WithContext(ctx), actor, id)
	if err != nil {
		return false, err
	}
	if partner.NationalIDHash == "" {
		return false, nil
	}
	return utils.MatchNationalID(strings.TrimSpace(nationalID), partner.NationalIDHash), nil
}

// SetSupplierStatus 启用或停用供应商
func (s *catalogService) SetSupplierStatus(ctx context.Context, actor Actor, id string, status string) (*model.PartnerModel, error) {
	if status != model.SupplierActive && status != model.SupplierInactive {
		return nil, workflow.Precondition(workflow.CodeInvalidInput, "supplier status must be active or inactive")
	}
	var partner *model.PartnerModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		partner, err = s.partner(tx, actor, id)
		if err != nil {
			return err
		}
		if !partner.IsSupplier {
			return workflow.Precondition(workflow.CodeInvalidInput, "partner %s is not a supplier", partner.Name)
		}
		from := partner.SupplierStatus
		partner.SupplierStatus = status
		partner.UpdatedAt = s.clock.Now()
		if err := s.partnerRepo.WithTx(tx).Save(partner); err != nil {
			return fmt.Errorf("failed to update partner: %w", err)
		}
		return s.audit.WithTx(tx).Append(ctx, AuditEntry{
			EntityType: "partner",
			EntityID:   partner.ID,
			Action:     "set_supplier_status",
			ActorID:    actor.ID,
			CompanyID:  partner.CompanyID,
			FromState:  from,
			ToState:    status,
			At:         partner.UpdatedAt,
		})
	})
	if err != nil {
		return nil, err
	}
	return partner, nil
}

// ListPartners 查询合作伙伴
func (s *catalogService) ListPartners(ctx context.Context, actor Actor, filter *repository.PartnerFilter) ([]*model.PartnerModel, int64, error) {
	if filter == nil {
		filter = &repository.PartnerFilter{}
	}
	if actor.CompanyID != "" {
		filter.CompanyID = actor.CompanyID
	}
	partners, total, err := s.partnerRepo.WithTx(s.db.WithContext(ctx)).FindByFilter(filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list partners: %w", err)
	}
	return partners, total, nil
}

// validateName 名称不能为空白或包含脚本、SQL 片段
func validateName(name string) error {
	if err := utils.ValidateName(name); err != nil {
		return workflow.Precondition(workflow.CodeInvalidInput, "%s", err.Error())
	}
	return nil
}
