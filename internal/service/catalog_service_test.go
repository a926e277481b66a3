package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mautops/branch-ops/internal/model"
	"github.com/mautops/branch-ops/internal/service"
	"github.com/mautops/branch-ops/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingRelations 记录写入的授权关系
type recordingRelations struct {
	tuples []string
}

func (r *recordingRelations) SetRelation(ctx context.Context, userID, relation, objectType, objectID string) error {
	r.tuples = append(r.tuples, userID+"#"+relation+"@"+objectType+":"+objectID)
	return nil
}

func (r *recordingRelations) DeleteRelation(ctx context.Context, userID, relation, objectType, objectID string) error {
	tuple := userID + "#" + relation + "@" + objectType + ":" + objectID
	for i, t := range r.tuples {
		if t == tuple {
			r.tuples = append(r.tuples[:i], r.tuples[i+1:]...)
			break
		}
	}
	return nil
}

// TestCatalog_CreateBranch 测试创建分支时生成库位、作业类型和编号序列
func TestCatalog_CreateBranch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	relations := &recordingRelations{}
	catalog := service.NewCatalogService(f.db, f.sequences, f.audit, f.clock, relations, testEncryptionKey)

	branch, err := catalog.CreateBranch(ctx, f.admin, &service.CreateBranchInput{Code: "north", Name: "North Depot", ManagerID: "u-north"})
	require.NoError(t, err)
	assert.Equal(t, "NORTH", branch.Code)
	assert.Equal(t, testCompany, branch.CompanyID)
	assert.Equal(t, []string{"u-north#manager@branch:" + branch.ID}, relations.tuples)

	locations, err := catalog.ListLocations(ctx, f.admin, branch.ID)
	require.NoError(t, err)
	names := make([]string, 0, len(locations))
	for _, l := range locations {
		names = append(names, l.Name)
	}
	assert.ElementsMatch(t, []string{"NORTH/Stock", "NORTH/Transit"}, names)

	var opType model.OperationTypeModel
	require.NoError(t, f.db.Where("branch_id = ?", branch.ID).First(&opType).Error)
	assert.Equal(t, model.OperationInternal, opType.Code)
	assert.Equal(t, "transfer.north", opType.SequenceCode)

	var seq model.SequenceModel
	require.NoError(t, f.db.Where("code = ?", "transfer.north").First(&seq).Error)
	assert.Equal(t, "NORTH/INT/", seq.Prefix)

	_, err = catalog.CreateBranch(ctx, f.admin, &service.CreateBranchInput{Code: "NORTH", Name: "Duplicate"})
	var cerr *workflow.ConflictError
	require.True(t, errors.As(err, &cerr))

	_, err = catalog.CreateBranch(ctx, service.SystemActor(), &service.CreateBranchInput{Code: "SOUTH", Name: "South"})
	requirePrecondition(t, err, workflow.CodeInvalidInput)

	branches, err := catalog.ListBranches(ctx, f.admin)
	require.NoError(t, err)
	assert.Len(t, branches, 3)
}

// TestCatalog_SetBranchManager 测试更换负责人时撤销原授权关系
func TestCatalog_SetBranchManager(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	relations := &recordingRelations{}
	catalog := service.NewCatalogService(f.db, f.sequences, f.audit, f.clock, relations, testEncryptionKey)

	branch, err := catalog.CreateBranch(ctx, f.admin, &service.CreateBranchInput{Code: "EAST", Name: "East Depot", ManagerID: "u-old"})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	updated, err := catalog.SetBranchManager(ctx, f.admin, branch.ID, "u-new")
	require.NoError(t, err)
	assert.Equal(t, "u-new", updated.ManagerID)
	assert.Equal(t, []string{"u-new#manager@branch:" + branch.ID}, relations.tuples)

	// 负责人未变化时不重复写入
	_, err = catalog.SetBranchManager(ctx, f.admin, branch.ID, "u-new")
	require.NoError(t, err)
	assert.Len(t, relations.tuples, 1)

	logs, err := f.audit.History(ctx, "branch", branch.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "set_manager", logs[1].Action)

	_, err = catalog.SetBranchManager(ctx, f.admin, branch.ID, " ")
	requirePrecondition(t, err, workflow.CodeInvalidInput)

	_, err = catalog.SetBranchManager(ctx, service.Actor{ID: "u-x", CompanyID: "c2"}, branch.ID, "u-x")
	assert.ErrorIs(t, err, workflow.ErrNotFound)
}

// TestCatalog_ProductCodes 测试产品货号和条码生成
func TestCatalog_ProductCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 夹具已创建两个 PSIT 产品
	assert.Equal(t, "PSIT150325001", f.widget.DefaultCode)
	assert.Equal(t, f.widget.DefaultCode, f.widget.Barcode)
	assert.Equal(t, "PSIT150325002", f.machine.DefaultCode)
	assert.Equal(t, "Units", f.widget.Uom)

	article, err := f.catalog.CreateProduct(ctx, f.admin, &service.CreateProductInput{Name: "Cotton Shirt", IsArticle: true, Uom: "Pieces"})
	require.NoError(t, err)
	assert.Equal(t, "ATC150325001", article.DefaultCode)
	assert.Empty(t, article.Barcode)
	assert.Equal(t, "Pieces", article.Uom)

	manual, err := f.catalog.CreateProduct(ctx, f.admin, &service.CreateProductInput{Name: "Thread", DefaultCode: "THR-01", Barcode: "8901234567890"})
	require.NoError(t, err)
	assert.Equal(t, "THR-01", manual.DefaultCode)

	_, err = f.catalog.CreateProduct(ctx, f.admin, &service.CreateProductInput{Name: "Thread Copy", DefaultCode: "THR-01"})
	var cerr *workflow.ConflictError
	require.True(t, errors.As(err, &cerr))

	_, err = f.catalog.CreateProduct(ctx, f.admin, &service.CreateProductInput{Name: "<script>alert(1)</script>"})
	requirePrecondition(t, err, workflow.CodeInvalidInput)

	found, err := f.catalog.LookupByBarcode(ctx, "8901234567890")
	require.NoError(t, err)
	assert.Equal(t, manual.ID, found.ID)

	found, err = f.catalog.LookupByBarcode(ctx, f.widget.DefaultCode)
	require.NoError(t, err)
	assert.Equal(t, f.widget.ID, found.ID)

	_, err = f.catalog.LookupByBarcode(ctx, "0000")
	assert.ErrorIs(t, err, workflow.ErrNotFound)
}

// TestCatalog_Partners 测试客户与供应商编码、证件号加密和核验
func TestCatalog_Partners(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	partner, err := f.catalog.CreatePartner(ctx, f.admin, &service.CreatePartnerInput{
		Name:       "Acme Textiles",
		IsCustomer: true,
		IsSupplier: true,
		NationalID: "1234567890123",
	})
	require.NoError(t, err)
	assert.Equal(t, "AC0000001", partner.CustomerCode)
	assert.Equal(t, "AS0001", partner.SupplierCode)
	assert.Equal(t, model.SupplierActive, partner.SupplierStatus)
	assert.NotEmpty(t, partner.NationalIDCiphertext)
	assert.NotContains(t, partner.NationalIDCiphertext, "1234567890123")

	detail, err := f.catalog.GetPartner(ctx, f.admin, partner.ID)
	require.NoError(t, err)
	assert.Equal(t, "*********0123", detail.NationalIDMasked)
	assert.Equal(t, "AC0000001", detail.CustomerCode)

	ok, err := f.catalog.VerifyNationalID(ctx, f.admin, partner.ID, "1234567890123")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.catalog.VerifyNationalID(ctx, f.admin, partner.ID, "999")
	require.NoError(t, err)
	assert.False(t, ok)

	updated, err := f.catalog.SetSupplierStatus(ctx, f.admin, partner.ID, model.SupplierInactive)
	require.NoError(t, err)
	assert.Equal(t, model.SupplierInactive, updated.SupplierStatus)
	history, err := f.audit.StateHistory(ctx, "partner", partner.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.SupplierActive, history[0].FromState)

	customer, err := f.catalog.CreatePartner(ctx, f.admin, &service.CreatePartnerInput{Name: "Walk-in", IsCustomer: true})
	require.NoError(t, err)
	detail, err = f.catalog.GetPartner(ctx, f.admin, customer.ID)
	require.NoError(t, err)
	assert.Empty(t, detail.NationalIDMasked)

	// 未配置密钥时无法读取已加密的证件号
	keyless := service.NewCatalogService(f.db, f.sequences, f.audit, f.clock, nil, "")
	_, err = keyless.GetPartner(ctx, f.admin, partner.ID)
	var cfgErr *workflow.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))

	_, err = f.catalog.GetPartner(ctx, service.Actor{ID: "u-x", CompanyID: "c2"}, partner.ID)
	assert.ErrorIs(t, err, workflow.ErrNotFound)
	assert.Equal(t, "AC0000002", customer.CustomerCode)
	assert.Empty(t, customer.SupplierCode)
	_, err = f.catalog.SetSupplierStatus(ctx, f.admin, customer.ID, model.SupplierInactive)
	requirePrecondition(t, err, workflow.CodeInvalidInput)

	_, err = f.catalog.CreatePartner(ctx, f.admin, &service.CreatePartnerInput{Name: "Nobody"})
	requirePrecondition(t, err, workflow.CodeInvalidInput)

	partners, total, err := f.catalog.ListPartners(ctx, f.admin, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, partners, 2)
}

// TestCatalog_NationalIDRequiresKey 测试未配置加密密钥时拒绝保存证件号
func TestCatalog_NationalIDRequiresKey(t *testing.T) {
	f := newFixture(t)
	catalog := service.NewCatalogService(f.db, f.sequences, f.audit, f.clock, nil, "")

	_, err := catalog.CreatePartner(context.Background(), f.admin, &service.CreatePartnerInput{
		Name:       "Secretive Supplies",
		IsSupplier: true,
		NationalID: "42",
	})
	var cerr *workflow.ConfigurationError
	require.True(t, errors.As(err, &cerr))

	var count int64
	require.NoError(t, f.db.Model(&model.PartnerModel{}).Count(&count).Error)
	assert.Zero(t, count)
}

// TestCatalog_Departments 测试部门按公司隔离
func TestCatalog_Departments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.catalog.CreateDepartment(ctx, f.admin, &service.CreateDepartmentInput{Name: "Finance"})
	requirePrecondition(t, err, workflow.CodeInvalidInput)

	depts, err := f.catalog.ListDepartments(ctx, f.admin)
	require.NoError(t, err)
	require.Len(t, depts, 1)
	assert.Equal(t, f.head.ID, depts[0].ManagerID)

	depts, err = f.catalog.ListDepartments(ctx, service.Actor{ID: "u-x", CompanyID: "c2"})
	require.NoError(t, err)
	assert.Empty(t, depts)
}
