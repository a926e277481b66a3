package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mautops/branch-ops/internal/config"
	"github.com/mautops/branch-ops/internal/database"
	"github.com/mautops/branch-ops/internal/integration"
	"github.com/mautops/branch-ops/internal/model"
	"github.com/mautops/branch-ops/internal/service"
	"github.com/mautops/branch-ops/internal/workflow"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testCompany       = "c1"
	testEncryptionKey = "0123456789abcdef0123456789abcdef"
)

// testClock 可手动推进的时钟
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingPublisher 记录发布的事件
type recordingPublisher struct {
	mu     sync.Mutex
	events []*integration.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, evt *integration.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

// Types 返回已发布事件的类型
func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

// For 返回指定实体的事件
func (p *recordingPublisher) For(entityID string) []*integration.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*integration.Event
	for _, e := range p.events {
		if e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	db        *gorm.DB
	clock     *testClock
	events    *recordingPublisher
	audit     service.AuditLog
	sequences service.SequenceGenerator
	sync      service.StatusSynchronizer
	serials   service.SerialService
	documents service.DocumentService
	catalog   service.CatalogService
	branches  service.BranchRequestService
	transfers service.TransferRequestService
	reqs      service.RequisitionService

	admin     service.Actor
	requester service.Actor
	manager   service.Actor
	officer   service.Actor
	head      service.Actor

	source  *model.BranchModel
	dest    *model.BranchModel
	widget  *model.ProductModel
	machine *model.ProductModel
	dept    *model.DepartmentModel
}

// setupServiceDB 创建测试数据库
func setupServiceDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// newFixture 创建服务和基础数据:两个分支、两个产品（一个按序列号管理）、一个部门
func newFixture(t *testing.T) *fixture {
	db := setupServiceDB(t)
	clock := &testClock{now: time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)}
	events := &recordingPublisher{}

	policy := service.NewRolePolicy(map[service.ApprovalAction]string{
		service.ActionApproveBranchRequest:      "branch_manager",
		service.ActionApproveTransferRequest:    "stock_manager",
		service.ActionOfficerApproveRequisition: "procurement_officer",
	})

	f := &fixture{
		db:     db,
		clock:  clock,
		events: events,

		admin:     service.Actor{ID: "u-admin", Name: "Admin", CompanyID: testCompany},
		requester: service.Actor{ID: "u-req", Name: "Requester", CompanyID: testCompany},
		manager:   service.Actor{ID: "u-mgr", Name: "Manager", Roles: []string{"branch_manager", "stock_manager"}, CompanyID: testCompany},
		officer:   service.Actor{ID: "u-off", Name: "Officer", Roles: []string{"procurement_officer"}, CompanyID: testCompany},
		head:      service.Actor{ID: "u-head", Name: "Head", CompanyID: testCompany},
	}
	f.audit = service.NewAuditLogService(db)
	f.sequences = service.NewSequenceGenerator(db)
	f.sync = service.NewStatusSynchronizer(db, f.audit, clock, events)
	f.serials = service.NewSerialService(db, config.SerialConfig{Prefix: "PF", MaxBatch: 1000}, f.sequences, service.NewLocalLocker(), f.audit, clock, events)
	f.documents = service.NewDocumentService(db, f.sequences, f.sync, f.audit, clock, events, f.serials)
	f.catalog = service.NewCatalogService(db, f.sequences, f.audit, clock, nil, testEncryptionKey)
	f.branches = service.NewBranchRequestService(db, f.sequences, f.documents, policy, f.audit, clock, events)
	f.transfers = service.NewTransferRequestService(db, f.sequences, f.documents, policy, f.audit, clock, events)
	f.reqs = service.NewRequisitionService(db, f.sequences, f.documents, policy, f.audit, clock, events)

	ctx := context.Background()
	var err error
	f.source, err = f.catalog.CreateBranch(ctx, f.admin, &service.CreateBranchInput{Code: "SRC", Name: "Main Warehouse"})
	require.NoError(t, err)
	f.dest, err = f.catalog.CreateBranch(ctx, f.admin, &service.CreateBranchInput{Code: "DST", Name: "Downtown Store"})
	require.NoError(t, err)
	f.widget, err = f.catalog.CreateProduct(ctx, f.admin, &service.CreateProductInput{Name: "Widget"})
	require.NoError(t, err)
	f.machine, err = f.catalog.CreateProduct(ctx, f.admin, &service.CreateProductInput{Name: "Sewing Machine", TrackSerial: true})
	require.NoError(t, err)
	f.dept, err = f.catalog.CreateDepartment(ctx, f.admin, &service.CreateDepartmentInput{Name: "Production", ManagerID: f.head.ID})
	require.NoError(t, err)
	return f
}

func qty(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

// line 构造申请明细
func line(productID string, n int64) service.LineInput {
	return service.LineInput{ProductID: productID, Quantity: qty(n)}
}

// stockLocation 返回分支的默认内部库位
func (f *fixture) stockLocation(t *testing.T, branchID string) *model.LocationModel {
	var loc model.LocationModel
	require.NoError(t, f.db.Where("branch_id = ? AND usage = ? AND is_default = ?", branchID, model.LocationUsageInternal, true).First(&loc).Error)
	return &loc
}

// approvedBranchRequest 创建并审批一张分支调拨申请,返回申请和生成的调拨单
func (f *fixture) approvedBranchRequest(t *testing.T, lines ...service.LineInput) (*model.BranchRequestModel, *model.TransferDocumentModel) {
	ctx := context.Background()
	req, err := f.branches.Create(ctx, f.requester, &service.CreateBranchRequestInput{
		SourceBranchID:      f.source.ID,
		DestinationBranchID: f.dest.ID,
		Lines:               lines,
	})
	require.NoError(t, err)
	_, err = f.branches.Submit(ctx, f.requester, req.ID)
	require.NoError(t, err)
	req, err = f.branches.Approve(ctx, f.manager, req.ID)
	require.NoError(t, err)
	require.NotEmpty(t, req.TransferID)
	doc, err := f.documents.GetTransfer(ctx, f.manager, req.TransferID)
	require.NoError(t, err)
	return req, doc
}

// requirePrecondition 断言错误为指定编码的前置条件错误
func requirePrecondition(t *testing.T, err error, code string) {
	t.Helper()
	var perr *workflow.PreconditionError
	require.True(t, errors.As(err, &perr), "expected precondition error, got %v", err)
	require.Equal(t, code, perr.Code)
}
