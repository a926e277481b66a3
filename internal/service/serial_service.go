package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mautops/branch-ops/internal/config"
	"github.com/mautops/branch-ops/internal/integration"
	"github.com/mautops/branch-ops/internal/metrics"
	"github.com/mautops/branch-ops/internal/model"
	"github.com/mautops/branch-ops/internal/repository"
	"github.com/mautops/branch-ops/internal/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/skip2/go-qrcode"
	"gorm.io/gorm"
)

// maxSerialSequence 序号为 7 位数字
const maxSerialSequence = 9999999

// GenerateSerialsRequest 批量生成序列号
type GenerateSerialsRequest struct {
	ProductID string `json:"product_id" validate:"required,max=64"`
	Type      string `json:"type" validate:"required,oneof=M W"`
	Quantity  int    `json:"quantity" validate:"gte=1"`
	QCPassed  bool   `json:"qc_passed"`
}

// SerialPreview 生成前预览的编码范围
type SerialPreview struct {
	First string `json:"first"`
	Last  string `json:"last"`
	Count int    `json:"count"`
}

// MovementRequest 扫描出入库
type MovementRequest struct {
	SerialCode   string `json:"serial_code" validate:"required,max=32"`
	Direction    string `json:"direction" validate:"required,oneof=in out internal"`
	DocumentType string `json:"document_type" validate:"required,oneof=transfer purchase_order"`
	DocumentID   string `json:"document_id" validate:"required,max=64"`
	SrcLocation  string `json:"src_location" validate:"max=64"`
	DestLocation string `json:"dest_location" validate:"max=64"`
	Note         string `json:"note" validate:"max=1000"`
}

// ScanProgress 单据上某个序列号产品的扫描进度
type ScanProgress struct {
	ProductID string          `json:"product_id"`
	Product   string          `json:"product"`
	Required  decimal.Decimal `json:"required"`
	Scanned   int             `json:"scanned"`
	Complete  bool            `json:"complete"`
}

// SerialService 序列号服务
type SerialService interface {
	Generate(ctx context.Context, actor Actor, req *GenerateSerialsRequest) ([]*model.SerialNumberModel, error)
	Preview(ctx context.Context, serialType string, quantity int) (*SerialPreview, error)
	RecordMovement(ctx context.Context, actor Actor, req *MovementRequest) (*model.SerialMovementModel, error)
	ScanCompletion(ctx context.Context, actor Actor, documentID string) ([]ScanProgress, error)
	CheckScanComplete(ctx context.Context, tx *gorm.DB, doc *model.TransferDocumentModel) error
	QRCode(ctx context.Context, actor Actor, code string, size int) ([]byte, error)
	GenerateLabels(ctx context.Context, actor Actor, documentID string) ([]*model.QRLabelModel, error)
	Get(ctx context.Context, actor Actor, code string) (*model.SerialNumberModel, error)
	List(ctx context.Context, actor Actor, filter *repository.SerialFilter) ([]*model.SerialNumberModel, int64, error)
	Movements(ctx context.Context, actor Actor, code string) ([]*model.SerialMovementModel, error)
}

type serialService struct {
	db          *gorm.DB
	serialRepo  repository.SerialRepository
	productRepo repository.ProductRepository
	docRepo     repository.DocumentRepository
	sequences   SequenceGenerator
	locker      Locker
	audit       AuditLog
	clock       Clock
	publisher   EventPublisher
	prefix      string
	maxBatch    int
}

// NewSerialService 创建序列号服务
func NewSerialService(db *gorm.DB, cfg config.SerialConfig, sequences SequenceGenerator, locker Locker, audit AuditLog, clock Clock, publisher EventPublisher) SerialService {
	if clock == nil {
		clock = SystemClock
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 1000
	}
	return &serialService{
		db:          db,
		serialRepo:  repository.NewSerialRepository(db),
		productRepo: repository.NewProductRepository(db),
		docRepo:     repository.NewDocumentRepository(db),
		sequences:   sequences,
		locker:      locker,
		audit:       audit,
		clock:       clock,
		publisher:   publisher,
		prefix:      cfg.Prefix,
		maxBatch:    maxBatch,
	}
}

// yearCode 返回两位年份
func yearCode(t time.Time) string {
	return fmt.Sprintf("%02d", t.Year()%100)
}

// formatSerial 编码格式: <前缀><yy><类型><7 位序号>
func (s *serialService) formatSerial(yy, serialType string, seq int) string {
	return fmt.Sprintf("%s%s%s%07d", s.prefix, yy, serialType, seq)
}

func (s *serialService) checkQuantity(quantity int) error {
	if quantity < 1 || quantity > s.maxBatch {
		return workflow.Precondition(workflow.CodeInvalidQuantity, "quantity must be between 1 and %d", s.maxBatch)
	}
	return nil
}

// Generate 批量生成序列号
// 同一 (类型, 年份) 的生成通过锁串行执行,已存在的编码顺延跳过
func (s *serialService) Generate(ctx context.Context, actor Actor, req *GenerateSerialsRequest) ([]*model.SerialNumberModel, error) {
	if err := validateInput(req); err != nil {
		return nil, err
	}
	if err := s.checkQuantity(req.Quantity); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	yy := yearCode(now)
	unlock, err := s.locker.Lock(ctx, fmt.Sprintf("serial:%s:%s", req.Type, yy))
	if err != nil {
		return nil, err
	}
	defer unlock()

	batchID := newID()
	var serials []*model.SerialNumberModel
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		product, err := s.productRepo.WithTx(tx).FindByID(req.ProductID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return workflow.Precondition(workflow.CodeInvalidInput, "unknown product %s", req.ProductID)
			}
			return fmt.Errorf("failed to get product: %w", err)
		}
		if !product.TrackSerial {
			return workflow.Precondition(workflow.CodeInvalidSerial, "product %s is not tracked by serial number", product.Name)
		}

		repo := s.serialRepo.WithTx(tx)
		last, err := repo.MaxSequence(req.Type, yy)
		if err != nil {
			return fmt.Errorf("failed to get max serial sequence: %w", err)
		}

		next := last + 1
		for len(serials) < req.Quantity {
			need := req.Quantity - len(serials)
			if next+need-1 > maxSerialSequence {
				return workflow.Precondition(workflow.CodeInvalidSerial, "serial sequence for type %s in year %s is exhausted", req.Type, yy)
			}
			codes := make([]string, 0, need)
			for i := 0; i < need; i++ {
				codes = append(codes, s.formatSerial(yy, req.Type, next+i))
			}
			existing, err := repo.ExistingCodes(codes)
			if err != nil {
				return fmt.Errorf("failed to check existing serials: %w", err)
			}
			for i, code := range codes {
				if existing[code] {
					continue
				}
				serials = append(serials, &model.SerialNumberModel{
					ID:          newID(),
					Code:        code,
					Type:        req.Type,
					YearCode:    yy,
					Sequence:    next + i,
					ProductID:   product.ID,
					CompanyID:   actor.CompanyID,
					Status:      model.SerialAvailable,
					QCPassed:    req.QCPassed,
					BatchID:     batchID,
					GeneratedBy: actor.ID,
					CreatedAt:   now,
					UpdatedAt:   now,
				})
			}
			next += need
		}

		if err := repo.CreateBatch(serials); err != nil {
			return duplicateAsConflict(err, "serial", batchID, "failed to create serials")
		}
		return s.audit.WithTx(tx).Append(ctx, AuditEntry{
			EntityType: "serial_batch",
			EntityID:   batchID,
			Action:     "generate",
			ActorID:    actor.ID,
			CompanyID:  actor.CompanyID,
			Details: map[string]interface{}{
				"product_id": product.ID,
				"type":       req.Type,
				"count":      len(serials),
				"first":      serials[0].Code,
				"last":       serials[len(serials)-1].Code,
			},
			At: now,
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordSerialsGenerated(req.Type, len(serials))
	logrus.WithFields(logrus.Fields{
		"batch_id": batchID,
		"type":     req.Type,
		"count":    len(serials),
	}).Info("serial numbers generated")
	publish(ctx, s.publisher, &integration.Event{
		Type:       integration.EventSerialGenerated,
		EntityType: "serial_batch",
		EntityID:   batchID,
		CompanyID:  actor.CompanyID,
		ActorID:    actor.ID,
		Payload: map[string]interface{}{
			"product_id": req.ProductID,
			"type":       req.Type,
			"count":      len(serials),
			"first":      serials[0].Code,
			"last":       serials[len(serials)-1].Code,
		},
		OccurredAt: now,
	})
	return serials, nil
}

// Preview 返回下一批编码的首尾,不落库
func (s *serialService) Preview(ctx context.Context, serialType string, quantity int) (*SerialPreview, error) {
	if serialType != model.SerialTypeMachine && serialType != model.SerialTypeWorker {
		return nil, workflow.Precondition(workflow.CodeInvalidSerial, "serial type must be M or W")
	}
	if err := s.checkQuantity(quantity); err != nil {
		return nil, err
	}
	yy := yearCode(s.clock.Now())
	last, err := s.serialRepo.WithTx(s.db.WithContext(ctx)).MaxSequence(serialType, yy)
	if err != nil {
		return nil, fmt.Errorf("failed to get max serial sequence: %w", err)
	}
	if last+quantity > maxSerialSequence {
		return nil, workflow.Precondition(workflow.CodeInvalidSerial, "serial sequence for type %s in year %s is exhausted", serialType, yy)
	}
	return &SerialPreview{
		First: s.formatSerial(yy, serialType, last+1),
		Last:  s.formatSerial(yy, serialType, last+quantity),
		Count: quantity,
	}, nil
}

// RecordMovement 记录一次扫描
// 入库要求此前没有入库;出库要求已入库、未出库且状态为可用或预留;内部调拨要求已入库且未出库
func (s *serialService) RecordMovement(ctx context.Context, actor Actor, req *MovementRequest) (*model.SerialMovementModel, error) {
	if err := validateInput(req); err != nil {
		return nil, err
	}

	var movement *model.SerialMovementModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.serialRepo.WithTx(tx)
		serial, err := repo.FindByCodeForUpdate(req.SerialCode)
		if err != nil {
			return notFound(err, "serial", req.SerialCode)
		}
		if !actor.ownsCompany(serial.CompanyID) {
			return notFound(gorm.ErrRecordNotFound, "serial", req.SerialCode)
		}

		products, companyID, err := s.documentProducts(tx, req.DocumentType, req.DocumentID)
		if err != nil {
			return err
		}
		if !actor.ownsCompany(companyID) {
			return notFound(gorm.ErrRecordNotFound, req.DocumentType, req.DocumentID)
		}
		if _, ok := products[serial.ProductID]; !ok {
			return workflow.Precondition(workflow.CodeMovementRejected, "serial %s does not match any product on the document", serial.Code)
		}

		history, err := repo.FindMovements(serial.ID)
		if err != nil {
			return fmt.Errorf("failed to get serial movements: %w", err)
		}
		var hasIn, hasOut bool
		for _, m := range history {
			if m.DocumentID == req.DocumentID {
				return &workflow.ConflictError{
					Resource: "serial_movement",
					Key:      serial.Code,
					Message:  fmt.Sprintf("serial %s has already been scanned on this document", serial.Code),
				}
			}
			switch m.Direction {
			case model.MovementIn:
				hasIn = true
			case model.MovementOut:
				hasOut = true
			}
		}

		var status string
		switch req.Direction {
		case model.MovementIn:
			if hasIn {
				return workflow.Precondition(workflow.CodeMovementRejected, "serial %s has already been received", serial.Code)
			}
			status = model.SerialAvailable
		case model.MovementOut:
			if !hasIn {
				return workflow.Precondition(workflow.CodeMovementRejected, "serial %s has not been received yet", serial.Code)
			}
			if hasOut {
				return workflow.Precondition(workflow.CodeMovementRejected, "serial %s has already been shipped", serial.Code)
			}
			if serial.Status != model.SerialAvailable && serial.Status != model.SerialReserved {
				return workflow.Precondition(workflow.CodeMovementRejected, "serial %s is %s", serial.Code, serial.Status)
			}
			status = model.SerialUsed
		case model.MovementInternal:
			if !hasIn {
				return workflow.Precondition(workflow.CodeMovementRejected, "serial %s has not been received yet", serial.Code)
			}
			if hasOut {
				return workflow.Precondition(workflow.CodeMovementRejected, "serial %s has already been shipped", serial.Code)
			}
			status = model.SerialReserved
		}

		now := s.clock.Now()
		movement = &model.SerialMovementModel{
			ID:           newID(),
			SerialID:     serial.ID,
			SerialCode:   serial.Code,
			Direction:    req.Direction,
			DocumentType: req.DocumentType,
			DocumentID:   req.DocumentID,
			ProductID:    serial.ProductID,
			SrcLocation:  req.SrcLocation,
			DestLocation: req.DestLocation,
			Note:         req.Note,
			ActorID:      actor.ID,
			CreatedAt:    now,
		}
		if err := movement.Validate(); err != nil {
			return workflow.Precondition(workflow.CodeInvalidInput, "%s", err.Error())
		}
		if err := repo.SaveMovement(movement); err != nil {
			return duplicateAsConflict(err, "serial_movement", serial.Code, "failed to save serial movement")
		}
		serial.Status = status
		serial.UpdatedAt = now
		if err := repo.Update(serial); err != nil {
			return fmt.Errorf("failed to update serial: %w", err)
		}
		return nil
	})
	metrics.RecordSerialMovement(req.Direction, err == nil)
	if err != nil {
		return nil, err
	}
	return movement, nil
}

// documentProducts 返回单据上的产品及单据所属公司
func (s *serialService) documentProducts(tx *gorm.DB, docType string, docID string) (map[string]bool, string, error) {
	products := make(map[string]bool)
	repo := s.docRepo.WithTx(tx)
	switch docType {
	case DocumentTransfer:
		doc, err := repo.FindTransferByID(docID)
		if err != nil {
			return nil, "", notFound(err, "transfer", docID)
		}
		for _, m := range doc.Moves {
			products[m.ProductID] = true
		}
		return products, doc.CompanyID, nil
	case DocumentPurchaseOrder:
		order, err := repo.FindPurchaseOrderByID(docID)
		if err != nil {
			return nil, "", notFound(err, "purchase order", docID)
		}
		for _, l := range order.Lines {
			products[l.ProductID] = true
		}
		return products, order.CompanyID, nil
	}
	return nil, "", workflow.Precondition(workflow.CodeInvalidInput, "unsupported document type %s", docType)
}

// ScanCompletion 返回调拨单上各序列号产品的扫描进度
func (s *serialService) ScanCompletion(ctx context.Context, actor Actor, documentID string) ([]ScanProgress, error) {
	doc, err := s.docRepo.WithTx(s.db.WithContext(ctx)).FindTransferByID(documentID)
	if err != nil {
		return nil, notFound(err, "transfer", documentID)
	}
	if !actor.ownsCompany(doc.CompanyID) {
		return nil, notFound(gorm.ErrRecordNotFound, "transfer", documentID)
	}
	return s.scanProgress(s.db.WithContext(ctx), doc)
}

func (s *serialService) scanProgress(tx *gorm.DB, doc *model.TransferDocumentModel) ([]ScanProgress, error) {
	productIDs := make([]string, 0, len(doc.Moves))
	required := make(map[string]decimal.Decimal)
	for _, m := range doc.Moves {
		if _, ok := required[m.ProductID]; !ok {
			productIDs = append(productIDs, m.ProductID)
		}
		required[m.ProductID] = required[m.ProductID].Add(m.Quantity)
	}
	products, err := s.productRepo.WithTx(tx).FindByIDs(productIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get products: %w", err)
	}
	movements, err := s.serialRepo.WithTx(tx).FindMovementsByDocument(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get document movements: %w", err)
	}
	scanned := make(map[string]int)
	for _, m := range movements {
		scanned[m.ProductID]++
	}

	progress := make([]ScanProgress, 0, len(products))
	for _, p := range products {
		if !p.TrackSerial {
			continue
		}
		need := required[p.ID]
		count := scanned[p.ID]
		progress = append(progress, ScanProgress{
			ProductID: p.ID,
			Product:   p.Name,
			Required:  need,
			Scanned:   count,
			Complete:  decimal.NewFromInt(int64(count)).GreaterThanOrEqual(need),
		})
	}
	return progress, nil
}

// CheckScanComplete 序列号产品未扫描完整时返回 SCAN_INCOMPLETE
func (s *serialService) CheckScanComplete(ctx context.Context, tx *gorm.DB, doc *model.TransferDocumentModel) error {
	progress, err := s.scanProgress(tx.WithContext(ctx), doc)
	if err != nil {
		return err
	}
	for _, p := range progress {
		if !p.Complete {
			return workflow.Precondition(workflow.CodeScanIncomplete,
				"product %s: %d of %s serial numbers scanned", p.Product, p.Scanned, p.Required.String())
		}
	}
	return nil
}

// QRCode 生成序列号二维码 PNG
func (s *serialService) QRCode(ctx context.Context, actor Actor, code string, size int) ([]byte, error) {
	if _, err := s.Get(ctx, actor, code); err != nil {
		return nil, err
	}
	if size <= 0 {
		size = 256
	}
	if size < 64 {
		size = 64
	}
	if size > 1024 {
		size = 1024
	}
	png, err := qrcode.Encode(code, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qr code: %w", err)
	}
	return png, nil
}

// GenerateLabels 为已完成调拨单的每件货物生成二维码标签,重复调用返回已有标签
func (s *serialService) GenerateLabels(ctx context.Context, actor Actor, documentID string) ([]*model.QRLabelModel, error) {
	var labels []*model.QRLabelModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, err := s.docRepo.WithTx(tx).FindTransferByID(documentID)
		if err != nil {
			return notFound(err, "transfer", documentID)
		}
		if !actor.ownsCompany(doc.CompanyID) {
			return notFound(gorm.ErrRecordNotFound, "transfer", documentID)
		}
		if doc.State != model.TransferDone {
			return workflow.Precondition(workflow.CodeInvalidInput, "labels can only be generated for done transfers, %s is %s", doc.Reference, doc.State)
		}

		repo := s.serialRepo.WithTx(tx)
		labels, err = repo.FindLabelsByDocument(doc.ID)
		if err != nil {
			return fmt.Errorf("failed to get labels: %w", err)
		}
		if len(labels) > 0 {
			return nil
		}

		units := make([]int, len(doc.Moves))
		total := decimal.Zero
		for i, move := range doc.Moves {
			qty := move.QuantityDone
			if !qty.IsPositive() {
				qty = move.Quantity
			}
			total = total.Add(qty.Floor())
			if total.GreaterThan(decimal.NewFromInt(int64(s.maxBatch))) {
				return workflow.Precondition(workflow.CodeInvalidQuantity, "transfer %s needs more than %d labels", doc.Reference, s.maxBatch)
			}
			units[i] = int(qty.Floor().IntPart())
		}

		now := s.clock.Now()
		for idx, move := range doc.Moves {
			for i := 0; i < units[idx]; i++ {
				code, err := s.sequences.Next(ctx, tx, SeqQRLabel)
				if err != nil {
					return err
				}
				labels = append(labels, &model.QRLabelModel{
					ID:         newID(),
					Code:       code,
					DocumentID: doc.ID,
					ProductID:  move.ProductID,
					CreatedBy:  actor.ID,
					CreatedAt:  now,
				})
			}
		}
		if err := repo.CreateLabels(labels); err != nil {
			return fmt.Errorf("failed to create labels: %w", err)
		}
		return s.audit.WithTx(tx).Append(ctx, AuditEntry{
			EntityType: DocumentTransfer,
			EntityID:   doc.ID,
			Action:     "generate_labels",
			ActorID:    actor.ID,
			CompanyID:  doc.CompanyID,
			Details:    map[string]interface{}{"labels": len(labels)},
			At:         now,
		})
	})
	if err != nil {
		return nil, err
	}
	return labels, nil
}

// Get 根据编码获取序列号
func (s *serialService) Get(ctx context.Context, actor Actor, code string) (*model.SerialNumberModel, error) {
	serial, err := s.serialRepo.WithTx(s.db.WithContext(ctx)).FindByCode(code)
	if err != nil {
		return nil, notFound(err, "serial", code)
	}
	if !actor.ownsCompany(serial.CompanyID) {
		return nil, notFound(gorm.ErrRecordNotFound, "serial", code)
	}
	return serial, nil
}

// List 查询序列号
func (s *serialService) List(ctx context.Context, actor Actor, filter *repository.SerialFilter) ([]*model.SerialNumberModel, int64, error) {
	if filter == nil {
		filter = &repository.SerialFilter{}
	}
	if actor.CompanyID != "" {
		filter.CompanyID = actor.CompanyID
	}
	serials, total, err := s.serialRepo.WithTx(s.db.WithContext(ctx)).FindByFilter(filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list serials: %w", err)
	}
	return serials, total, nil
}

// Movements 序列号的扫描记录
func (s *serialService) Movements(ctx context.Context, actor Actor, code string) ([]*model.SerialMovementModel, error) {
	serial, err := s.Get(ctx, actor, code)
	if err != nil {
		return nil, err
	}
	movements, err := s.serialRepo.WithTx(s.db.WithContext(ctx)).FindMovements(serial.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get serial movements: %w", err)
	}
	return movements, nil
}
