package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mautops/branch-ops/internal/metrics"
	"github.com/mautops/branch-ops/internal/repository"
	"github.com/mautops/branch-ops/internal/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// pollBatchSize 每次从数据库读取的申请数
const pollBatchSize = 500

// PollReport 一次轮询的结果
type PollReport struct {
	Checked  int `json:"checked"`
	Advanced int `json:"advanced"`
	Failed   int `json:"failed"`
}

// pollItem 待检查的申请及其关联单据
type pollItem struct {
	kind      workflow.Kind
	reference string
	sync      func(ctx context.Context) (*SyncResult, error)
}

// RequestPoller 定期检查履约中的申请,补偿遗漏的单据事件
type RequestPoller struct {
	db           *gorm.DB
	sync         StatusSynchronizer
	branchRepo   repository.BranchRequestRepository
	transferRepo repository.TransferRequestRepository
	reqRepo      repository.RequisitionRepository
	batchSize    int

	mu       sync.Mutex
	interval time.Duration
	reset    chan time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewRequestPoller 创建轮询器
func NewRequestPoller(db *gorm.DB, sync StatusSynchronizer, interval time.Duration) *RequestPoller {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &RequestPoller{
		db:           db,
		sync:         sync,
		branchRepo:   repository.NewBranchRequestRepository(db),
		transferRepo: repository.NewTransferRequestRepository(db),
		reqRepo:      repository.NewRequisitionRepository(db),
		batchSize:    pollBatchSize,
		interval:     interval,
		reset:        make(chan time.Duration, 1),
	}
}

// SetBatchSize 修改分页大小
func (p *RequestPoller) SetBatchSize(n int) {
	if n > 0 {
		p.batchSize = n
	}
}

// Start 启动轮询,重复调用无效
func (p *RequestPoller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx, p.interval, p.done)
}

// Stop 停止轮询并等待当前一轮结束
func (p *RequestPoller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// SetInterval 修改轮询间隔,配置热更新时调用
func (p *RequestPoller) SetInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	p.mu.Lock()
	changed := p.interval != interval
	p.interval = interval
	p.mu.Unlock()
	if !changed {
		return
	}
	// 只保留最新的间隔
	select {
	case <-p.reset:
	default:
	}
	p.reset <- interval
}

// Interval 当前轮询间隔
func (p *RequestPoller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

func (p *RequestPoller) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-p.reset:
			ticker.Reset(d)
			logrus.WithField("interval", d.String()).Info("request poller interval updated")
		case <-ticker.C:
			if _, err := p.RunOnce(ctx); err != nil {
				logrus.WithError(err).Error("request poll failed")
			}
		}
	}
}

// RunOnce 执行一轮检查,单条记录失败只记录日志,不影响其他记录
func (p *RequestPoller) RunOnce(ctx context.Context) (*PollReport, error) {
	items, err := p.collect(ctx)
	if err != nil {
		metrics.RecordPollRun(0)
		return nil, err
	}

	report := &PollReport{}
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		report.Checked++
		result, err := item.sync(ctx)
		if err != nil {
			report.Failed++
			logrus.WithError(err).WithFields(logrus.Fields{
				"kind":      item.kind,
				"reference": item.reference,
			}).Warn("failed to sync request status")
			continue
		}
		if result.Changed() {
			report.Advanced++
		}
	}

	metrics.RecordPollRun(report.Failed)
	logrus.WithFields(logrus.Fields{
		"checked":  report.Checked,
		"advanced": report.Advanced,
		"failed":   report.Failed,
	}).Debug("request poll finished")
	return report, nil
}

// collect 按 id 游标分页加载全部履约中的申请
func (p *RequestPoller) collect(ctx context.Context) ([]pollItem, error) {
	db := p.db.WithContext(ctx)
	actor := SystemActor()
	inFlight := []string{string(workflow.StateApproved), string(workflow.StateInTransit)}
	var items []pollItem

	transferItem := func(kind workflow.Kind, reference, transferID string) pollItem {
		return pollItem{
			kind:      kind,
			reference: reference,
			sync: func(ctx context.Context) (*SyncResult, error) {
				return p.sync.SyncTransfer(ctx, actor, transferID)
			},
		}
	}

	for after := ""; ; {
		page, err := p.branchRepo.WithTx(db).FindByStates(inFlight, after, p.batchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to load branch requests: %w", err)
		}
		for _, r := range page {
			if r.TransferID != "" {
				items = append(items, transferItem(workflow.KindBranchRequest, r.Reference, r.TransferID))
			}
		}
		if len(page) < p.batchSize {
			break
		}
		after = page[len(page)-1].ID
	}

	for after := ""; ; {
		page, err := p.transferRepo.WithTx(db).FindByStates(inFlight, after, p.batchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to load transfer requests: %w", err)
		}
		for _, r := range page {
			if r.TransferID != "" {
				items = append(items, transferItem(workflow.KindTransferRequest, r.Reference, r.TransferID))
			}
		}
		if len(page) < p.batchSize {
			break
		}
		after = page[len(page)-1].ID
	}

	approved := []string{string(workflow.StateApproved)}
	for after := ""; ; {
		page, err := p.reqRepo.WithTx(db).FindByStates(approved, after, p.batchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to load requisitions: %w", err)
		}
		for _, r := range page {
			if r.PurchaseOrderID == "" {
				continue
			}
			orderID := r.PurchaseOrderID
			items = append(items, pollItem{
				kind:      workflow.KindPurchaseRequisition,
				reference: r.Reference,
				sync: func(ctx context.Context) (*SyncResult, error) {
					return p.sync.SyncPurchaseOrder(ctx, actor, orderID)
				},
			})
		}
		if len(page) < p.batchSize {
			break
		}
		after = page[len(page)-1].ID
	}
	return items, nil
}
