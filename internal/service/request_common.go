package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/mautops/branch-ops/internal/integration"
	"github.com/mautops/branch-ops/internal/model"
	"github.com/mautops/branch-ops/internal/repository"
	"github.com/mautops/branch-ops/internal/utils"
	"github.com/mautops/branch-ops/internal/workflow"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LineInput 申请明细输入,草稿阶段允许数量为 0,提交时要求大于 0
type LineInput struct {
	ProductID string          `json:"product_id" validate:"required,max=64"`
	Quantity  decimal.Decimal `json:"quantity" validate:"gte=0"`
	Uom       string          `json:"uom" validate:"max=32"`
	Note      string          `json:"note" validate:"max=1000"`
}

// 申请操作对应的事件类型
var actionEvents = map[string]string{
	"submit":          integration.EventRequestSubmitted,
	"approve":         integration.EventRequestApproved,
	"officer_approve": integration.EventRequestApproved,
	"reject":          integration.EventRequestRejected,
	"cancel":          integration.EventRequestCancelled,
}

// validateInput 校验输入结构体,失败时转换为前置条件错误
func validateInput(input interface{}) error {
	if input == nil {
		return workflow.Precondition(workflow.CodeInvalidInput, "input is required")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return workflow.Precondition(workflow.CodeInvalidInput, "%s", err.Error())
	}
	return nil
}

// buildLines 把输入转换为明细,产品必须存在,单位默认取产品单位
func buildLines(tx *gorm.DB, inputs []LineInput) ([]model.RequestLine, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(inputs))
	for _, in := range inputs {
		ids = append(ids, in.ProductID)
	}
	products, err := repository.NewProductRepository(tx).FindByIDs(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get products: %w", err)
	}
	byID := make(map[string]*model.ProductModel, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	lines := make([]model.RequestLine, 0, len(inputs))
	for _, in := range inputs {
		product, ok := byID[in.ProductID]
		if !ok {
			return nil, workflow.Precondition(workflow.CodeInvalidInput, "unknown product %s", in.ProductID)
		}
		uom := strings.TrimSpace(in.Uom)
		if uom == "" {
			uom = product.Uom
		}
		lines = append(lines, model.RequestLine{
			ProductID: in.ProductID,
			Quantity:  in.Quantity,
			Uom:       uom,
			Note:      in.Note,
		})
	}
	return lines, nil
}

// checkSubmittable 提交前校验:至少一行明细且数量均大于 0
func checkSubmittable(lines []model.RequestLine) error {
	if len(lines) == 0 {
		return workflow.Precondition(workflow.CodeNoLines, "you must add at least one line before submitting")
	}
	for i, line := range lines {
		if !line.Quantity.IsPositive() {
			return workflow.Precondition(workflow.CodeNonPositiveQty, "line %d: quantity must be greater than zero", i+1)
		}
	}
	return nil
}

// requestEvent 构造申请事件,动作没有专门事件时使用状态变更事件
func requestEvent(kind workflow.Kind, action string, id, reference, companyID string, from, to workflow.State, actor Actor, at time.Time) *integration.Event {
	eventType, ok := actionEvents[action]
	if !ok {
		eventType = integration.EventRequestStatusChanged
	}
	return &integration.Event{
		Type:       eventType,
		EntityType: string(kind),
		EntityID:   id,
		Reference:  reference,
		CompanyID:  companyID,
		ActorID:    actor.ID,
		State:      string(to),
		Payload:    map[string]interface{}{"from": string(from), "action": action},
		OccurredAt: at,
	}
}

// scopeFilter 列表查询限定在操作人所在公司
func scopeFilter(actor Actor, filter *repository.RequestFilter) *repository.RequestFilter {
	if filter == nil {
		filter = &repository.RequestFilter{}
	}
	if actor.CompanyID != "" {
		filter.CompanyID = actor.CompanyID
	}
	return filter
}

// requireReason 校验原因非空
func requireReason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "", workflow.Precondition(workflow.CodeReasonRequired, "a reason is required")
	}
	return reason, nil
}
