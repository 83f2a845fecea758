package dispatcher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/blocto/solana-go-sdk/rpc"
	"github.com/mr-tron/base58"

	"tx-dispatcher-sol/internal/pkg/types"
)

// sendTxConfig SDK 的 SendTransactionConfig 没有 minContextSlot，这里补上
type sendTxConfig struct {
	rpc.SendTransactionConfig
	MinContextSlot uint64 `json:"minContextSlot,omitempty"`
}

// RpcLedgerClient 基于 solana-go-sdk 的 JSON-RPC 实现，内部 http 连接可被多次 dispatch 复用
type RpcLedgerClient struct {
	client      rpc.RpcClient
	callTimeout time.Duration // 单次 RPC 调用超时，0 表示只受上层 ctx 控制
}

func NewRpcLedgerClient(endpoint string, callTimeout time.Duration) *RpcLedgerClient {
	return &RpcLedgerClient{
		client:      rpc.NewRpcClient(endpoint),
		callTimeout: callTimeout,
	}
}

func (c *RpcLedgerClient) GetLatestBlockhash(ctx context.Context, commitment rpc.Commitment) (BlockhashRef, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.client.GetLatestBlockhashWithConfig(ctx, rpc.GetLatestBlockhashConfig{
		Commitment: commitment,
	})
	if err != nil {
		return BlockhashRef{}, callError(ctx, "getLatestBlockhash", err)
	}
	if resp.Error != nil {
		return BlockhashRef{}, &RPCError{Code: resp.Error.Code, Message: resp.Error.Message}
	}

	hash, err := types.HashFromBase58(resp.Result.Value.Blockhash)
	if err != nil {
		return BlockhashRef{}, fmt.Errorf("getLatestBlockhash returned bad hash: %w", err)
	}
	return BlockhashRef{
		Hash:                 hash,
		Slot:                 resp.Result.Context.Slot,
		LastValidBlockHeight: resp.Result.Value.LatestValidBlockHeight,
	}, nil
}

func (c *RpcLedgerClient) SendTransaction(ctx context.Context, payload []byte, opts SendOptions) (types.Signature, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	encoding := opts.Encoding
	if encoding == "" {
		encoding = rpc.SendTransactionConfigEncodingBase64
	}
	encoded, err := encodePayload(payload, encoding)
	if err != nil {
		return types.Signature{}, err
	}

	body, err := c.client.Call(ctx, "sendTransaction", encoded, sendTxConfig{
		SendTransactionConfig: rpc.SendTransactionConfig{
			SkipPreflight:       opts.SkipPreflight,
			PreflightCommitment: opts.PreflightCommitment,
			Encoding:            encoding,
			MaxRetries:          opts.MaxRetries,
		},
		MinContextSlot: opts.MinContextSlot,
	})
	if err != nil {
		return types.Signature{}, callError(ctx, "sendTransaction", err)
	}

	var resp rpc.JsonRpcResponse[string]
	if err := json.Unmarshal(body, &resp); err != nil {
		return types.Signature{}, fmt.Errorf("sendTransaction bad response: %w", err)
	}
	if resp.Error != nil {
		return types.Signature{}, &RPCError{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	return types.SignatureFromBase58(resp.Result)
}

// callError SDK 用 %v 包装传输错误，超时/取消需要从 ctx 重新挂上
func callError(ctx context.Context, method string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s failed: %w: %v", method, ctxErr, err)
	}
	return fmt.Errorf("%s failed: %w", method, err)
}

func (c *RpcLedgerClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.callTimeout)
}

func encodePayload(payload []byte, encoding rpc.SendTransactionConfigEncoding) (string, error) {
	switch encoding {
	case rpc.SendTransactionConfigEncodingBase64:
		return base64.StdEncoding.EncodeToString(payload), nil
	case rpc.SendTransactionConfigEncodingBase58:
		return base58.Encode(payload), nil
	default:
		return "", fmt.Errorf("unsupported transaction encoding %q", encoding)
	}
}
