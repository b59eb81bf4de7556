package validity

import (
	"google.golang.org/grpc/codes"

	"github.com/eidos-exchange/eidos/eidos-indexer/pkg/errors"
)

// 失效原因
const (
	ReasonInvalidTarget       = "invalid-target"
	ReasonCancelled           = "cancelled"
	ReasonFilled              = "filled"
	ReasonNoBalance           = "no-balance"
	ReasonNoApproval          = "no-approval"
	ReasonNoBalanceNoApproval = "no-balance-no-approval"
)

// 失效结论, 订单确定不可成交
var (
	ErrInvalidTarget       = errors.NewWithStatus(ReasonInvalidTarget, "标的合约未被索引", codes.FailedPrecondition)
	ErrCancelled           = errors.NewWithStatus(ReasonCancelled, "订单已取消", codes.FailedPrecondition)
	ErrFilled              = errors.NewWithStatus(ReasonFilled, "订单已成交", codes.FailedPrecondition)
	ErrNoBalance           = errors.NewWithStatus(ReasonNoBalance, "余额不足", codes.FailedPrecondition)
	ErrNoApproval          = errors.NewWithStatus(ReasonNoApproval, "授权不足", codes.FailedPrecondition)
	ErrNoBalanceNoApproval = errors.NewWithStatus(ReasonNoBalanceNoApproval, "余额与授权均不足", codes.FailedPrecondition)
)

// ErrCheckFailed 依赖读取失败, 无法得出结论, 调用方应重试
var ErrCheckFailed = errors.NewWithStatus("CHECK_FAILED", "订单有效性检查失败", codes.Unavailable)

var invalidReasons = map[string]struct{}{
	ReasonInvalidTarget:       {},
	ReasonCancelled:           {},
	ReasonFilled:              {},
	ReasonNoBalance:           {},
	ReasonNoApproval:          {},
	ReasonNoBalanceNoApproval: {},
}

// IsInvalid 是否为失效结论 (区别于检查失败)
func IsInvalid(err error) bool {
	return Reason(err) != ""
}

// Reason 失效原因, 非失效结论返回空串
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var bizErr *errors.Error
	if !errors.As(err, &bizErr) {
		return ""
	}
	if _, ok := invalidReasons[bizErr.Code]; !ok {
		return ""
	}
	return bizErr.Code
}
