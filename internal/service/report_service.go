package service

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/mautops/branch-ops/internal/repository"
	"github.com/mautops/branch-ops/internal/storage"
	"github.com/mautops/branch-ops/internal/workflow"
	"github.com/xuri/excelize/v2"
)

// XLSXContentType Excel 文件类型
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const reportSheet = "Sheet1"

// reportRowLimit 单个报表的最大行数
const reportRowLimit = 50000

// ReportService 报表导出
type ReportService interface {
	ExportSerials(ctx context.Context, actor Actor, filter *repository.SerialFilter) (*excelize.File, error)
	ExportRequests(ctx context.Context, actor Actor, kind workflow.Kind, filter *repository.RequestFilter) (*excelize.File, error)
	// Archive 把报表写入对象存储,返回访问地址
	Archive(ctx context.Context, name string, f *excelize.File) (string, error)
}

type reportService struct {
	serials      SerialService
	branches     BranchRequestService
	transfers    TransferRequestService
	requisitions RequisitionService
	store        storage.Store
	clock        Clock
}

// NewReportService 创建报表服务,store 为空时不支持归档
func NewReportService(serials SerialService, branches BranchRequestService, transfers TransferRequestService, requisitions RequisitionService, store storage.Store, clock Clock) ReportService {
	if clock == nil {
		clock = SystemClock
	}
	return &reportService{
		serials:      serials,
		branches:     branches,
		transfers:    transfers,
		requisitions: requisitions,
		store:        store,
		clock:        clock,
	}
}

// newWorkbook 创建带表头的工作簿
func newWorkbook(headers []string) (*excelize.File, error) {
	f := excelize.NewFile()
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(reportSheet, cell, h); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// setRow 写入一行,row 从 1 开始（第 1 行为表头）
func setRow(f *excelize.File, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(reportSheet, cell, &values)
}

// ExportSerials 导出序列号
func (s *reportService) ExportSerials(ctx context.Context, actor Actor, filter *repository.SerialFilter) (*excelize.File, error) {
	f, err := newWorkbook([]string{"Code", "Type", "Year", "Sequence", "Product", "Status", "QC Passed", "Batch", "Generated By", "Created At"})
	if err != nil {
		return nil, fmt.Errorf("failed to create workbook: %w", err)
	}
	if filter == nil {
		filter = &repository.SerialFilter{}
	}
	filter.PageSize = repository.MaxPageSize

	row := 2
	for page := 1; row-2 < reportRowLimit; page++ {
		filter.Page = page
		serials, total, err := s.serials.List(ctx, actor, filter)
		if err != nil {
			return nil, err
		}
		for _, sn := range serials {
			err := setRow(f, row, []interface{}{
				sn.Code, sn.Type, sn.YearCode, sn.Sequence, sn.ProductID, sn.Status,
				sn.QCPassed, sn.BatchID, sn.GeneratedBy, sn.CreatedAt.Format(time.RFC3339),
			})
			if err != nil {
				return nil, fmt.Errorf("failed to write row: %w", err)
			}
			row++
		}
		if len(serials) == 0 || int64(page*repository.MaxPageSize) >= total {
			break
		}
	}
	return f, nil
}

// requestRow 导出的申请行
type requestRow struct {
	reference   string
	state       string
	requester   string
	source      string
	destination string
	requestDate time.Time
	lines       int
	document    string
}

// ExportRequests 导出指定类型的申请
func (s *reportService) ExportRequests(ctx context.Context, actor Actor, kind workflow.Kind, filter *repository.RequestFilter) (*excelize.File, error) {
	fetch, err := s.requestFetcher(kind)
	if err != nil {
		return nil, err
	}
	f, err := newWorkbook([]string{"Reference", "State", "Requester", "Source", "Destination", "Request Date", "Lines", "Document"})
	if err != nil {
		return nil, fmt.Errorf("failed to create workbook: %w", err)
	}
	if filter == nil {
		filter = &repository.RequestFilter{}
	}
	filter.PageSize = repository.MaxPageSize

	row := 2
	for page := 1; row-2 < reportRowLimit; page++ {
		filter.Page = page
		rows, total, err := fetch(ctx, actor, filter)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			err := setRow(f, row, []interface{}{
				r.reference, r.state, r.requester, r.source, r.destination,
				r.requestDate.Format("2006-01-02"), r.lines, r.document,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to write row: %w", err)
			}
			row++
		}
		if len(rows) == 0 || int64(page*repository.MaxPageSize) >= total {
			break
		}
	}
	return f, nil
}

type requestFetcher func(ctx context.Context, actor Actor, filter *repository.RequestFilter) ([]requestRow, int64, error)

func (s *reportService) requestFetcher(kind workflow.Kind) (requestFetcher, error) {
	switch kind {
	case workflow.KindBranchRequest:
		return func(ctx context.Context, actor Actor, filter *repository.RequestFilter) ([]requestRow, int64, error) {
			reqs, total, err := s.branches.List(ctx, actor, filter)
			if err != nil {
				return nil, 0, err
			}
			rows := make([]requestRow, 0, len(reqs))
			for _, r := range reqs {
				rows = append(rows, requestRow{r.Reference, r.State, r.RequesterID, r.SourceBranchID, r.DestinationBranchID, r.RequestDate, len(r.Lines), r.TransferID})
			}
			return rows, total, nil
		}, nil
	case workflow.KindTransferRequest:
		return func(ctx context.Context, actor Actor, filter *repository.RequestFilter) ([]requestRow, int64, error) {
			reqs, total, err := s.transfers.List(ctx, actor, filter)
			if err != nil {
				return nil, 0, err
			}
			rows := make([]requestRow, 0, len(reqs))
			for _, r := range reqs {
				rows = append(rows, requestRow{r.Reference, r.State, r.RequesterID, r.SourceBranchID, r.DestinationBranchID, r.RequestDate, len(r.Lines), r.TransferID})
			}
			return rows, total, nil
		}, nil
	case workflow.KindPurchaseRequisition:
		return func(ctx context.Context, actor Actor, filter *repository.RequestFilter) ([]requestRow, int64, error) {
			reqs, total, err := s.requisitions.List(ctx, actor, filter)
			if err != nil {
				return nil, 0, err
			}
			rows := make([]requestRow, 0, len(reqs))
			for _, r := range reqs {
				rows = append(rows, requestRow{r.Reference, r.State, r.RequesterID, r.DepartmentID, r.BranchID, r.RequestDate, len(r.Lines), r.PurchaseOrderID})
			}
			return rows, total, nil
		}, nil
	}
	return nil, workflow.Precondition(workflow.CodeInvalidInput, "unknown request kind %s", kind)
}

// Archive 归档报表,对象名带日期前缀
func (s *reportService) Archive(ctx context.Context, name string, f *excelize.File) (string, error) {
	if s.store == nil {
		return "", &workflow.ConfigurationError{Resource: "storage", Owner: "report archive"}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return "", fmt.Errorf("failed to write workbook: %w", err)
	}
	key := fmt.Sprintf("reports/%s/%s-%d.xlsx", s.clock.Now().Format("2006/01/02"), name, s.clock.Now().Unix())
	return s.store.Put(ctx, key, &buf, XLSXContentType)
}
