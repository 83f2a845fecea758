package dispatcher

import (
	"context"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/rpc"

	"tx-dispatcher-sol/internal/pkg/types"
)

// LedgerClient 是 dispatcher 依赖的最小 RPC 能力集合。
// 连接由调用方创建并在多次 dispatch 之间共享。
type LedgerClient interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.Commitment) (BlockhashRef, error)
	SendTransaction(ctx context.Context, payload []byte, opts SendOptions) (types.Signature, error)
}

// Signer 由调用方持有，dispatcher 只在单次调用内借用
type Signer interface {
	PublicKey() common.PublicKey
	Sign(message []byte) []byte
}

// BlockhashRef 是构造交易所需的新鲜度凭证，只在很短的窗口内有效，不可缓存
type BlockhashRef struct {
	Hash                 types.Hash
	Slot                 uint64 // 响应的 context slot，用作 minContextSlot
	LastValidBlockHeight uint64
}

type SendOptions struct {
	SkipPreflight       bool
	PreflightCommitment rpc.Commitment
	Encoding            rpc.SendTransactionConfigEncoding
	MaxRetries          uint64
	MinContextSlot      uint64
}

// Report 汇总一次 dispatch 的广播情况
type Report struct {
	Signature types.Signature   // 最近一次被节点接受的签名
	Expected  types.Signature   // 本地签名结果
	Attempts  int               // 实际发起的广播次数
	Accepted  int               // 被节点接受的次数
	Failures  map[ErrorKind]int // 按错误类型统计的失败次数
}
