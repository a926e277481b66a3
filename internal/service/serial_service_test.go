package service_test

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/mautops/branch-ops/internal/config"
	"github.com/mautops/branch-ops/internal/model"
	"github.com/mautops/branch-ops/internal/service"
	"github.com/mautops/branch-ops/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) generateSerials(t *testing.T, n int) []*model.SerialNumberModel {
	serials, err := f.serials.Generate(context.Background(), f.admin, &service.GenerateSerialsRequest{
		ProductID: f.machine.ID,
		Type:      model.SerialTypeMachine,
		Quantity:  n,
		QCPassed:  true,
	})
	require.NoError(t, err)
	require.Len(t, serials, n)
	return serials
}

func (f *fixture) scan(code, direction, docID string) (*model.SerialMovementModel, error) {
	return f.serials.RecordMovement(context.Background(), f.manager, &service.MovementRequest{
		SerialCode:   code,
		Direction:    direction,
		DocumentType: service.DocumentTransfer,
		DocumentID:   docID,
	})
}

// TestSerial_Generate 测试序列号编码格式和连续序号
func TestSerial_Generate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	preview, err := f.serials.Preview(ctx, model.SerialTypeMachine, 3)
	require.NoError(t, err)
	assert.Equal(t, &service.SerialPreview{First: "PF25M0000001", Last: "PF25M0000003", Count: 3}, preview)

	serials := f.generateSerials(t, 3)
	codes := []string{serials[0].Code, serials[1].Code, serials[2].Code}
	assert.Equal(t, []string{"PF25M0000001", "PF25M0000002", "PF25M0000003"}, codes)
	for _, s := range serials {
		assert.Equal(t, model.SerialAvailable, s.Status)
		assert.Equal(t, "25", s.YearCode)
		assert.Equal(t, serials[0].BatchID, s.BatchID)
		assert.True(t, s.QCPassed)
	}

	more := f.generateSerials(t, 2)
	assert.Equal(t, "PF25M0000004", more[0].Code)
	assert.Equal(t, 5, more[1].Sequence)

	// 不同类型独立编号
	workers, err := f.serials.Generate(ctx, f.admin, &service.GenerateSerialsRequest{
		ProductID: f.machine.ID,
		Type:      model.SerialTypeWorker,
		Quantity:  1,
	})
	require.NoError(t, err)
	assert.Equal(t, "PF25W0000001", workers[0].Code)
}

// TestSerial_GenerateSkipsExistingCodes 测试已被占用的编码被跳过
func TestSerial_GenerateSkipsExistingCodes(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.db.Create(&model.SerialNumberModel{
		ID:          "legacy",
		Code:        "PF25M0000003",
		Type:        model.SerialTypeWorker,
		YearCode:    "25",
		Sequence:    3,
		ProductID:   f.machine.ID,
		CompanyID:   testCompany,
		Status:      model.SerialAvailable,
		GeneratedBy: "import",
		CreatedAt:   f.clock.Now(),
		UpdatedAt:   f.clock.Now(),
	}).Error)

	serials := f.generateSerials(t, 3)
	codes := []string{serials[0].Code, serials[1].Code, serials[2].Code}
	assert.Equal(t, []string{"PF25M0000001", "PF25M0000002", "PF25M0000004"}, codes)
}

// TestSerial_GenerateValidation 测试数量和产品校验
func TestSerial_GenerateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.serials.Generate(ctx, f.admin, &service.GenerateSerialsRequest{ProductID: f.machine.ID, Type: "M", Quantity: 0})
	requirePrecondition(t, err, workflow.CodeInvalidInput)

	_, err = f.serials.Generate(ctx, f.admin, &service.GenerateSerialsRequest{ProductID: f.machine.ID, Type: "M", Quantity: 1001})
	requirePrecondition(t, err, workflow.CodeInvalidQuantity)

	_, err = f.serials.Generate(ctx, f.admin, &service.GenerateSerialsRequest{ProductID: f.machine.ID, Type: "X", Quantity: 1})
	requirePrecondition(t, err, workflow.CodeInvalidInput)

	_, err = f.serials.Generate(ctx, f.admin, &service.GenerateSerialsRequest{ProductID: f.widget.ID, Type: "M", Quantity: 1})
	requirePrecondition(t, err, workflow.CodeInvalidSerial)

	_, err = f.serials.Preview(ctx, "M", 0)
	requirePrecondition(t, err, workflow.CodeInvalidQuantity)
}

// TestSerial_ConcurrentGenerateIsUnique 测试并发生成不产生重复编码
func TestSerial_ConcurrentGenerateIsUnique(t *testing.T) {
	f := newFixture(t)

	const workers, perWorker = 5, 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	var codes []string
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serials, err := f.serials.Generate(context.Background(), f.admin, &service.GenerateSerialsRequest{
				ProductID: f.machine.ID,
				Type:      model.SerialTypeMachine,
				Quantity:  perWorker,
			})
			if err != nil {
				errs <- err
				return
			}
			mu.Lock()
			for _, s := range serials {
				codes = append(codes, s.Code)
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Len(t, codes, workers*perWorker)
	seen := make(map[string]bool)
	for _, c := range codes {
		assert.False(t, seen[c], "duplicate serial %s", c)
		seen[c] = true
	}
	sort.Strings(codes)
	assert.Equal(t, "PF25M0000001", codes[0])
	assert.Equal(t, "PF25M0000050", codes[len(codes)-1])
}

// TestSerial_MovementRules 测试入库、出库、内部调拨的扫描规则
func TestSerial_MovementRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	serials := f.generateSerials(t, 2)
	_, receiving := f.approvedBranchRequest(t, line(f.machine.ID, 2))
	_, shipping := f.approvedBranchRequest(t, line(f.machine.ID, 2))
	_, other := f.approvedBranchRequest(t, line(f.machine.ID, 1))
	code := serials[0].Code

	_, err := f.scan(code, model.MovementOut, shipping.ID)
	requirePrecondition(t, err, workflow.CodeMovementRejected)
	_, err = f.scan(code, model.MovementInternal, shipping.ID)
	requirePrecondition(t, err, workflow.CodeMovementRejected)

	m, err := f.scan(code, model.MovementIn, receiving.ID)
	require.NoError(t, err)
	assert.Equal(t, f.machine.ID, m.ProductID)

	_, err = f.scan(code, model.MovementIn, receiving.ID)
	var cerr *workflow.ConflictError
	require.True(t, errors.As(err, &cerr), "same serial on the same document is a conflict")

	_, err = f.scan(code, model.MovementIn, other.ID)
	requirePrecondition(t, err, workflow.CodeMovementRejected)

	f.clock.Advance(time.Second)
	_, err = f.scan(code, model.MovementInternal, other.ID)
	require.NoError(t, err)
	got, err := f.serials.Get(ctx, f.manager, code)
	require.NoError(t, err)
	assert.Equal(t, model.SerialReserved, got.Status)

	f.clock.Advance(time.Second)
	_, err = f.scan(code, model.MovementOut, shipping.ID)
	require.NoError(t, err)
	got, err = f.serials.Get(ctx, f.manager, code)
	require.NoError(t, err)
	assert.Equal(t, model.SerialUsed, got.Status)

	_, err = f.scan(code, model.MovementOut, receiving.ID)
	assert.Error(t, err)

	movements, err := f.serials.Movements(ctx, f.manager, code)
	require.NoError(t, err)
	require.Len(t, movements, 3)
	assert.Equal(t, []string{"in", "internal", "out"}, []string{movements[0].Direction, movements[1].Direction, movements[2].Direction})
}

// TestSerial_MovementRequiresMatchingProduct 测试单据上没有该产品时拒绝扫描
func TestSerial_MovementRequiresMatchingProduct(t *testing.T) {
	f := newFixture(t)

	serials := f.generateSerials(t, 1)
	_, doc := f.approvedBranchRequest(t, line(f.widget.ID, 1))

	_, err := f.scan(serials[0].Code, model.MovementIn, doc.ID)
	requirePrecondition(t, err, workflow.CodeMovementRejected)

	_, err = f.scan("PF25M9999999", model.MovementIn, doc.ID)
	assert.ErrorIs(t, err, workflow.ErrNotFound)

	_, err = f.scan(serials[0].Code, model.MovementIn, "missing-doc")
	assert.ErrorIs(t, err, workflow.ErrNotFound)
}

// TestSerial_ScanCompletionBlocksValidation 测试序列号未扫描完整时不能完成调拨单
func TestSerial_ScanCompletionBlocksValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	serials := f.generateSerials(t, 2)
	req, doc := f.approvedBranchRequest(t, line(f.machine.ID, 2), line(f.widget.ID, 5))

	_, err := f.documents.Validate(ctx, f.manager, doc.ID, false)
	requirePrecondition(t, err, workflow.CodeScanIncomplete)

	_, err = f.scan(serials[0].Code, model.MovementIn, doc.ID)
	require.NoError(t, err)

	progress, err := f.serials.ScanCompletion(ctx, f.manager, doc.ID)
	require.NoError(t, err)
	require.Len(t, progress, 1, "only serial-tracked products are reported")
	assert.Equal(t, 1, progress[0].Scanned)
	assert.False(t, progress[0].Complete)

	_, err = f.documents.Validate(ctx, f.manager, doc.ID, false)
	requirePrecondition(t, err, workflow.CodeScanIncomplete)
	got, err := f.branches.Get(ctx, f.requester, req.ID)
	require.NoError(t, err)
	assert.Equal(t, string(workflow.StateApproved), got.State)

	_, err = f.scan(serials[1].Code, model.MovementIn, doc.ID)
	require.NoError(t, err)
	done, err := f.documents.Validate(ctx, f.manager, doc.ID, false)
	require.NoError(t, err)
	assert.Equal(t, model.TransferDone, done.State)
}

// TestSerial_ForceSkipsScanCheck 测试强制完成跳过扫描校验
func TestSerial_ForceSkipsScanCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, doc := f.approvedBranchRequest(t, line(f.machine.ID, 1))
	_, err := f.documents.Dispatch(ctx, f.manager, doc.ID)
	require.NoError(t, err)

	_, err = f.documents.Receive(ctx, f.manager, doc.ID, false)
	requirePrecondition(t, err, workflow.CodeScanIncomplete)

	_, err = f.documents.Receive(ctx, f.manager, doc.ID, true)
	require.NoError(t, err)
	got, err := f.branches.Get(ctx, f.requester, req.ID)
	require.NoError(t, err)
	assert.Equal(t, string(workflow.StateReceived), got.State)
}

// TestSerial_QRCode 测试二维码生成
func TestSerial_QRCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	serials := f.generateSerials(t, 1)
	png, err := f.serials.QRCode(ctx, f.manager, serials[0].Code, 0)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

	outsider := service.Actor{ID: "u-x", CompanyID: "c2"}
	_, err = f.serials.QRCode(ctx, outsider, serials[0].Code, 128)
	assert.ErrorIs(t, err, workflow.ErrNotFound)
}

// TestSerial_GenerateLabels 测试已完成调拨单按件生成标签,重复调用返回已有标签
func TestSerial_GenerateLabels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, doc := f.approvedBranchRequest(t, line(f.widget.ID, 2), line(f.widget.ID, 1))

	_, err := f.serials.GenerateLabels(ctx, f.manager, doc.ID)
	requirePrecondition(t, err, workflow.CodeInvalidInput)

	_, err = f.documents.Validate(ctx, f.manager, doc.ID, false)
	require.NoError(t, err)

	labels, err := f.serials.GenerateLabels(ctx, f.manager, doc.ID)
	require.NoError(t, err)
	require.Len(t, labels, 3)
	codes := []string{labels[0].Code, labels[1].Code, labels[2].Code}
	sort.Strings(codes)
	assert.Equal(t, []string{"QR000001", "QR000002", "QR000003"}, codes)

	again, err := f.serials.GenerateLabels(ctx, f.manager, doc.ID)
	require.NoError(t, err)
	require.Len(t, again, 3)
	assert.Equal(t, "QR000001", again[0].Code)

	var count int64
	require.NoError(t, f.db.Model(&model.QRLabelModel{}).Count(&count).Error)
	assert.Equal(t, int64(3), count)
}

// TestSerial_ConcurrentReceiveOnce 测试同一序列号并发入库到不同单据时只有一次成功
func TestSerial_ConcurrentReceiveOnce(t *testing.T) {
	f := newFixture(t)

	code := f.generateSerials(t, 1)[0].Code
	var docs []string
	for i := 0; i < 4; i++ {
		_, doc := f.approvedBranchRequest(t, line(f.machine.ID, 1))
		docs = append(docs, doc.ID)
	}

	var wg sync.WaitGroup
	results := make(chan error, len(docs))
	for _, docID := range docs {
		wg.Add(1)
		go func(docID string) {
			defer wg.Done()
			_, err := f.scan(code, model.MovementIn, docID)
			results <- err
		}(docID)
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		requirePrecondition(t, err, workflow.CodeMovementRejected)
	}
	assert.Equal(t, 1, succeeded)

	movements, err := f.serials.Movements(context.Background(), f.manager, code)
	require.NoError(t, err)
	assert.Len(t, movements, 1)
}

// TestSerial_GenerateLabelsRespectsMaxBatch 测试标签数量超过单批上限时拒绝生成
func TestSerial_GenerateLabelsRespectsMaxBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	serials := service.NewSerialService(f.db, config.SerialConfig{Prefix: "PF", MaxBatch: 2}, f.sequences, service.NewLocalLocker(), f.audit, f.clock, f.events)

	_, doc := f.approvedBranchRequest(t, line(f.widget.ID, 2), line(f.widget.ID, 1))
	_, err := f.documents.Validate(ctx, f.manager, doc.ID, false)
	require.NoError(t, err)

	_, err = serials.GenerateLabels(ctx, f.manager, doc.ID)
	requirePrecondition(t, err, workflow.CodeInvalidQuantity)

	var count int64
	require.NoError(t, f.db.Model(&model.QRLabelModel{}).Count(&count).Error)
	assert.Zero(t, count)

	labels, err := f.serials.GenerateLabels(ctx, f.manager, doc.ID)
	require.NoError(t, err)
	assert.Len(t, labels, 3)
}
