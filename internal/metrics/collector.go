package metrics

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// stateTables 需要统计状态分布的申请表
var stateTables = map[string]string{
	"branch_request":       "branch_requests",
	"transfer_request":     "transfer_requests",
	"purchase_requisition": "purchase_requisitions",
}

// Collector 指标收集器
type Collector struct {
	db       *gorm.DB
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewCollector 创建指标收集器
func NewCollector(db *gorm.DB, interval time.Duration) *Collector {
	ctx, cancel := context.WithCancel(context.Background())
	return &Collector{
		db:       db,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start 启动指标收集器
func (c *Collector) Start() {
	go c.collect()
}

// Stop 停止指标收集器
func (c *Collector) Stop() {
	c.cancel()
	<-c.done
}

// collect 定期收集指标
func (c *Collector) collect() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	defer close(c.done)

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			_ = UpdateDatabaseConnections(c.db)
			if err := c.CollectStates(c.ctx); err != nil {
				logrus.WithError(err).Warn("failed to collect request state metrics")
			}
		}
	}
}

// CollectStates 统计各类申请的状态分布
func (c *Collector) CollectStates(ctx context.Context) error {
	for kind, table := range stateTables {
		var rows []struct {
			State string
			Count int64
		}
		err := c.db.WithContext(ctx).Table(table).
			Select("state, COUNT(*) as count").
			Group("state").
			Scan(&rows).Error
		if err != nil {
			return err
		}
		for _, r := range rows {
			UpdateRequestsByState(kind, r.State, float64(r.Count))
		}
	}
	return nil
}
