package domain

import (
	"errors"
)

// ErrorKind 错误分类
type ErrorKind string

const (
	// KindState 轮次/订单状态不允许该操作
	KindState ErrorKind = "state"
	// KindAuthorization 调用方无权执行该操作
	KindAuthorization ErrorKind = "authorization"
	// KindInput 输入参数非法
	KindInput ErrorKind = "input"
	// KindTransfer 资金转出失败（仅影响单个分账腿）
	KindTransfer ErrorKind = "transfer"
)

// Error 领域错误。Code 用于 errors.Is 比较，外层可以用 fmt.Errorf("%w") 附加上下文。
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is 按 Code 匹配
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func newError(kind ErrorKind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrRoundAlreadyActive  = newError(KindState, "RoundAlreadyActive", "round already active")
	ErrRoundNotExpired     = newError(KindState, "RoundNotExpired", "round not expired")
	ErrSaleRoundNotActive  = newError(KindState, "SaleRoundNotActive", "sale round not active")
	ErrTradeRoundNotActive = newError(KindState, "TradeRoundNotActive", "trade round not active")
	ErrOrderNotFound       = newError(KindState, "OrderNotFound", "order not found")
	ErrOrderClosed         = newError(KindState, "OrderClosed", "order closed")
	ErrAlreadyRegistered   = newError(KindState, "AlreadyRegistered", "account already registered")

	ErrNotOrderOwner         = newError(KindAuthorization, "NotOrderOwner", "caller is not the order owner")
	ErrUnknownReferrer       = newError(KindAuthorization, "UnknownReferrer", "referrer is not registered")
	ErrUnauthorizedOperator  = newError(KindAuthorization, "UnauthorizedOperator", "caller is not the token operator")
	ErrInsufficientAllowance = newError(KindAuthorization, "InsufficientAllowance", "token allowance too low")

	ErrZeroAmount         = newError(KindInput, "ZeroAmount", "amount must be positive")
	ErrZeroPrice          = newError(KindInput, "ZeroPrice", "price must be positive")
	ErrZeroPayment        = newError(KindInput, "ZeroPayment", "payment must be positive")
	ErrInvalidAccount     = newError(KindInput, "InvalidAccount", "invalid account")
	ErrInsufficientFunds  = newError(KindInput, "InsufficientFunds", "insufficient value balance")
	ErrInsufficientTokens = newError(KindInput, "InsufficientTokens", "insufficient token balance")
	ErrRefundRejected     = newError(KindInput, "RefundRejected", "caller rejects refunds")

	ErrTransferRejected = newError(KindTransfer, "TransferRejected", "recipient rejected incoming value")
)

// KindOf 返回错误分类；非领域错误返回空串
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf 返回错误码；非领域错误返回空串
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
