package workflow

import (
	"errors"
	"fmt"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// TransitionError 非法状态转换
type TransitionError struct {
	Kind Kind
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition for %s: cannot move from %q to %q", e.Kind, e.From, e.To)
}

// PreconditionError 前置条件不满足（缺少明细、数量非正、缺少驳回原因等）
type PreconditionError struct {
	Code    string
	Message string
}

func (e *PreconditionError) Error() string {
	return e.Message
}

// ConfigurationError 分支缺少仓库配置（作业类型、库位）
type ConfigurationError struct {
	Resource string
	Owner    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("no %s found for %s", e.Resource, e.Owner)
}

// ConflictError 唯一性冲突（序列号重复、重复扫描等）
type ConflictError struct {
	Resource string
	Key      string
	Message  string
}

func (e *ConflictError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s %q already exists", e.Resource, e.Key)
}

// PermissionError 操作人无权执行该操作
type PermissionError struct {
	Actor  string
	Action string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %q is not allowed to %s", e.Actor, e.Action)
}

// Precondition 构造前置条件错误
func Precondition(code string, format string, args ...interface{}) error {
	return &PreconditionError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// 常用前置条件错误码
const (
	CodeNoLines          = "NO_LINES"
	CodeNonPositiveQty   = "NON_POSITIVE_QUANTITY"
	CodeReasonRequired   = "REASON_REQUIRED"
	CodeNotCancellable   = "NOT_CANCELLABLE"
	CodeDocumentExists   = "DOCUMENT_EXISTS"
	CodeInvalidQuantity  = "INVALID_QUANTITY"
	CodeInvalidSerial    = "INVALID_SERIAL"
	CodeMovementRejected = "MOVEMENT_REJECTED"
	CodeScanIncomplete   = "SCAN_INCOMPLETE"
	CodeInvalidInput     = "INVALID_INPUT"
	CodeNotEditable      = "NOT_EDITABLE"
)
