package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrSendExhausted 所有广播尝试都失败时返回，不携带具体原因
var ErrSendExhausted = errors.New("failed to submit transaction after multiple attempts")

// ErrorKind 单次广播失败的分类
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTransient
	KindRateLimited
	KindRejected
	KindBlockhashExpired
	KindAlreadyProcessed
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindRejected:
		return "rejected"
	case KindBlockhashExpired:
		return "blockhash_expired"
	case KindAlreadyProcessed:
		return "already_processed"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Permanent 表示继续重发同一份 payload 不会改变结果
func (k ErrorKind) Permanent() bool {
	switch k {
	case KindRejected, KindBlockhashExpired, KindAlreadyProcessed:
		return true
	default:
		return false
	}
}

// Solana JSON-RPC 错误码
const (
	codeSendTxPreflightFailure   = -32002
	codeTxSignatureVerifyFailure = -32003
	codeBlockNotAvailable        = -32004
	codeNodeUnhealthy            = -32005
	codeTxSignatureLenMismatch   = -32013
	codeUnsupportedTxVersion     = -32015
	codeMinContextSlotNotReached = -32016
	codeInvalidRequest           = -32600
	codeInvalidParams            = -32602
	codeInternalError            = -32603
	codeTooManyRequests          = 429
)

// RPCError 节点返回的 JSON-RPC 错误
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (e *RPCError) Kind() ErrorKind {
	msg := strings.ToLower(e.Message)
	switch {
	case e.Code == codeTooManyRequests, strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return KindRateLimited
	case strings.Contains(msg, "already been processed"), strings.Contains(msg, "alreadyprocessed"):
		return KindAlreadyProcessed
	case strings.Contains(msg, "blockhash not found"):
		return KindBlockhashExpired
	}

	switch e.Code {
	case codeNodeUnhealthy, codeMinContextSlotNotReached, codeBlockNotAvailable, codeInternalError:
		return KindTransient
	case codeSendTxPreflightFailure, codeTxSignatureVerifyFailure, codeTxSignatureLenMismatch,
		codeUnsupportedTxVersion, codeInvalidRequest, codeInvalidParams:
		return KindRejected
	}
	return KindUnknown
}

// Classify 将单次广播错误归类
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Kind()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	// SDK 对非 200 响应只返回文本错误
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "too many requests"), strings.Contains(msg, "rate limit"):
		return KindRateLimited
	case strings.Contains(msg, "already been processed"):
		return KindAlreadyProcessed
	case strings.Contains(msg, "blockhash not found"):
		return KindBlockhashExpired
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "eof"), strings.Contains(msg, "timeout"), strings.Contains(msg, "502"),
		strings.Contains(msg, "503"), strings.Contains(msg, "504"):
		return KindTransient
	}
	return KindUnknown
}

// AttemptError 描述某一次广播失败
type AttemptError struct {
	Attempt int
	Kind    ErrorKind
	Err     error
}

func newAttemptError(attempt int, err error) *AttemptError {
	return &AttemptError{Attempt: attempt, Kind: Classify(err), Err: err}
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("attempt %d (%s): %v", e.Attempt, e.Kind, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}
