package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mautops/branch-ops/internal/model"
	"github.com/mautops/branch-ops/internal/repository"
	"github.com/mautops/branch-ops/internal/workflow"
	"gorm.io/gorm"
)

// 编号序列
const (
	SeqBranchRequest       = "branch.request"
	SeqTransferRequest     = "transfer.request"
	SeqPurchaseRequisition = "purchase.requisition"
	SeqPurchaseOrder       = "purchase.order"
	SeqArticleNumber       = "article.number"
	SeqPSITNumber          = "psit.number"
	SeqCustomerCode        = "customer.code"
	SeqSupplierCode        = "supplier.code"
	SeqQRLabel             = "qr.label.serial"
)

// defaultSequences 首次使用时自动创建的序列
var defaultSequences = map[string]model.SequenceModel{
	SeqBranchRequest:       {Name: "Branch Request", Prefix: "BR/", Padding: 5},
	SeqTransferRequest:     {Name: "Internal Transfer Request", Prefix: "ITR/", Padding: 5},
	SeqPurchaseRequisition: {Name: "Purchase Requisition", Prefix: "PR/", Padding: 5},
	SeqPurchaseOrder:       {Name: "Purchase Order", Prefix: "PO/", Padding: 5},
	SeqArticleNumber:       {Name: "Article Number", Padding: 3},
	SeqPSITNumber:          {Name: "PSIT Number", Padding: 3},
	SeqCustomerCode:        {Name: "Customer Code", Prefix: "AC", Padding: 7},
	SeqSupplierCode:        {Name: "Supplier Code", Prefix: "AS", Padding: 4},
	SeqQRLabel:             {Name: "QR Label", Prefix: "QR", Padding: 6},
}

// BranchTransferSequence 分支内部调拨单序列编码
func BranchTransferSequence(branchCode string) string {
	return "transfer." + strings.ToLower(branchCode)
}

// SequenceGenerator 编号生成器
type SequenceGenerator interface {
	// Next 在调用方事务中返回序列的下一个编号
	Next(ctx context.Context, tx *gorm.DB, code string) (string, error)
	// Ensure 注册序列,已存在时不修改
	Ensure(ctx context.Context, tx *gorm.DB, seq *model.SequenceModel) error
}

// sequenceGenerator 基于数据库计数器的编号生成器
type sequenceGenerator struct {
	repo repository.SequenceRepository
}

// NewSequenceGenerator 创建编号生成器
func NewSequenceGenerator(db *gorm.DB) SequenceGenerator {
	return &sequenceGenerator{repo: repository.NewSequenceRepository(db)}
}

// Next 返回下一个编号
func (g *sequenceGenerator) Next(ctx context.Context, tx *gorm.DB, code string) (string, error) {
	repo := g.repo.WithTx(tx.WithContext(ctx))

	seq, n, err := repo.Reserve(code)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		def, ok := defaultSequences[code]
		if !ok {
			return "", &workflow.ConfigurationError{Resource: "sequence", Owner: code}
		}
		def.Code = code
		def.NextNumber = 1
		if err := repo.Ensure(&def); err != nil {
			return "", fmt.Errorf("failed to create sequence %s: %w", code, err)
		}
		seq, n, err = repo.Reserve(code)
	}
	if err != nil {
		return "", fmt.Errorf("failed to reserve sequence %s: %w", code, err)
	}
	return seq.Format(n), nil
}

// Ensure 注册序列
func (g *sequenceGenerator) Ensure(ctx context.Context, tx *gorm.DB, seq *model.SequenceModel) error {
	if seq.NextNumber == 0 {
		seq.NextNumber = 1
	}
	if err := seq.Validate(); err != nil {
		return err
	}
	return g.repo.WithTx(tx.WithContext(ctx)).Ensure(seq)
}
