package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/branch-ops/internal/repository"
	"github.com/mautops/branch-ops/internal/service"
)

// CatalogController 分支、库位、部门、产品和合作伙伴
type CatalogController struct {
	catalog service.CatalogService
}

// NewCatalogController 创建基础资料控制器
func NewCatalogController(catalog service.CatalogService) *CatalogController {
	return &CatalogController{catalog: catalog}
}

// bind 绑定请求体,失败时返回 400
func bind(ctx *gin.Context, obj interface{}) bool {
	if err := ctx.ShouldBindJSON(obj); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return false
	}
	return true
}

// CreateBranch 创建分支,同时生成默认库位和作业类型
func (c *CatalogController) CreateBranch(ctx *gin.Context) {
	var input service.CreateBranchInput
	if !bind(ctx, &input) {
		return
	}
	branch, err := c.catalog.CreateBranch(requestContext(ctx), actorFrom(ctx), &input)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Created(ctx, branch)
}

// BranchManagerRequest 更换分支负责人
type BranchManagerRequest struct {
	ManagerID string `json:"manager_id" binding:"required,max=64"`
}

// SetBranchManager 更换分支负责人
func (c *CatalogController) SetBranchManager(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var body BranchManagerRequest
	if !bind(ctx, &body) {
		return
	}
	branch, err := c.catalog.SetBranchManager(requestContext(ctx), actorFrom(ctx), id, body.ManagerID)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, branch)
}

func (c *CatalogController) ListBranches(ctx *gin.Context) {
	branches, err := c.catalog.ListBranches(requestContext(ctx), actorFrom(ctx))
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, branches)
}

// AddLocation 为分支添加库位
func (c *CatalogController) AddLocation(ctx *gin.Context) {
	branchID, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var input service.CreateLocationInput
	if !bind(ctx, &input) {
		return
	}
	loc, err := c.catalog.AddLocation(requestContext(ctx), actorFrom(ctx), branchID, &input)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Created(ctx, loc)
}

func (c *CatalogController) ListLocations(ctx *gin.Context) {
	runAction(ctx, c.catalog.ListLocations)
}

func (c *CatalogController) CreateDepartment(ctx *gin.Context) {
	var input service.CreateDepartmentInput
	if !bind(ctx, &input) {
		return
	}
	dept, err := c.catalog.CreateDepartment(requestContext(ctx), actorFrom(ctx), &input)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Created(ctx, dept)
}

func (c *CatalogController) ListDepartments(ctx *gin.Context) {
	depts, err := c.catalog.ListDepartments(requestContext(ctx), actorFrom(ctx))
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, depts)
}

// CreateProduct 创建产品,未填写货号时自动生成
func (c *CatalogController) CreateProduct(ctx *gin.Context) {
	var input service.CreateProductInput
	if !bind(ctx, &input) {
		return
	}
	product, err := c.catalog.CreateProduct(requestContext(ctx), actorFrom(ctx), &input)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Created(ctx, product)
}

func (c *CatalogController) GetProduct(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	product, err := c.catalog.GetProduct(requestContext(ctx), id)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, product)
}

// LookupByBarcode 扫码查询产品
func (c *CatalogController) LookupByBarcode(ctx *gin.Context) {
	product, err := c.catalog.LookupByBarcode(requestContext(ctx), ctx.Param("barcode"))
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, product)
}

func (c *CatalogController) ListProducts(ctx *gin.Context) {
	page, pageSize := pagination(ctx)
	filter := &repository.ProductFilter{
		Keyword:     queryString(ctx, "keyword"),
		TrackSerial: queryBool(ctx, "track_serial"),
		IsArticle:   queryBool(ctx, "is_article"),
		Page:        page,
		PageSize:    pageSize,
	}
	products, total, err := c.catalog.ListProducts(requestContext(ctx), filter)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Paginated(ctx, products, page, pageSize, total)
}

// CreatePartner 创建客户或供应商
func (c *CatalogController) CreatePartner(ctx *gin.Context) {
	var input service.CreatePartnerInput
	if !bind(ctx, &input) {
		return
	}
	partner, err := c.catalog.CreatePartner(requestContext(ctx), actorFrom(ctx), &input)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Created(ctx, partner)
}

func (c *CatalogController) ListPartners(ctx *gin.Context) {
	page, pageSize := pagination(ctx)
	filter := &repository.PartnerFilter{
		IsCustomer:     queryBool(ctx, "is_customer"),
		IsSupplier:     queryBool(ctx, "is_supplier"),
		SupplierStatus: queryString(ctx, "supplier_status"),
		Keyword:        queryString(ctx, "keyword"),
		Page:           page,
		PageSize:       pageSize,
	}
	partners, total, err := c.catalog.ListPartners(requestContext(ctx), actorFrom(ctx), filter)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Paginated(ctx, partners, page, pageSize, total)
}

// SupplierStatusRequest 供应商状态
type SupplierStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// GetPartner 合作伙伴详情,证件号脱敏
func (c *CatalogController) GetPartner(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	partner, err := c.catalog.GetPartner(requestContext(ctx), actorFrom(ctx), id)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, partner)
}

func (c *CatalogController) SetSupplierStatus(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var body SupplierStatusRequest
	if !bind(ctx, &body) {
		return
	}
	partner, err := c.catalog.SetSupplierStatus(requestContext(ctx), actorFrom(ctx), id, body.Status)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, partner)
}

// VerifyNationalIDRequest 核验证件号
type VerifyNationalIDRequest struct {
	NationalID string `json:"national_id" binding:"required"`
}

// VerifyNationalID 核验证件号,不返回明文
func (c *CatalogController) VerifyNationalID(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var body VerifyNationalIDRequest
	if !bind(ctx, &body) {
		return
	}
	matched, err := c.catalog.VerifyNationalID(requestContext(ctx), actorFrom(ctx), id, body.NationalID)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, gin.H{"matched": matched})
}
