package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/blocto/solana-go-sdk/rpc"
	sdktypes "github.com/blocto/solana-go-sdk/types"
	"github.com/cenkalti/backoff/v4"

	"tx-dispatcher-sol/internal/consts"
	"tx-dispatcher-sol/internal/pkg/logger"
	"tx-dispatcher-sol/internal/pkg/types"
)

// AttemptResult 每次广播结束后回调给观察者
type AttemptResult struct {
	Attempt   int
	Signature types.Signature // 仅成功时有值
	Err       *AttemptError   // 成功时为 nil
}

type Dispatcher struct {
	client    LedgerClient
	signer    Signer
	policy    RetryPolicy
	metrics   *Metrics
	onAttempt func(AttemptResult)
}

type Option func(*Dispatcher)

func WithPolicy(p RetryPolicy) Option {
	return func(d *Dispatcher) { d.policy = p }
}

func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithAttemptObserver(fn func(AttemptResult)) Option {
	return func(d *Dispatcher) { d.onAttempt = fn }
}

func NewDispatcher(client LedgerClient, signer Signer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		client: client,
		signer: signer,
		policy: DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch 构造、签名并广播交易，返回最近一次被节点接受的签名。
// 只保证节点接受过广播，不等待确认；skipConfirm 目前不影响行为。
func (d *Dispatcher) Dispatch(ctx context.Context, ixs []sdktypes.Instruction, skipConfirm bool) (types.Signature, error) {
	report, err := d.DispatchWithReport(ctx, ixs, skipConfirm)
	if err != nil {
		return types.Signature{}, err
	}
	return report.Signature, nil
}

func (d *Dispatcher) DispatchWithReport(ctx context.Context, ixs []sdktypes.Instruction, _ bool) (Report, error) {
	start := time.Now()

	// 1. 获取 blockhash，失败直接返回
	ref, err := d.client.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		d.metrics.observeCall(outcomeResolveFailed)
		return Report{}, err
	}

	// 2. 构造并签名，只签一次
	tx, err := assemble(ixs, d.signer, ref)
	if err != nil {
		d.metrics.observeCall(outcomeAssembleFailed)
		return Report{}, fmt.Errorf("assemble transaction: %w", err)
	}

	// 3. 重复广播同一份 payload
	report, err := d.broadcast(ctx, tx, sendOptions(ref.Slot))
	if err != nil {
		logger.Warnf("[Dispatcher] 广播失败: sig=%s attempts=%d failures=%v err=%v, 耗时: %v",
			tx.signature, report.Attempts, report.Failures, err, time.Since(start))
		return report, err
	}

	if report.Signature != tx.signature {
		logger.Warnf("[Dispatcher] 节点返回签名与本地不一致: local=%s remote=%s", tx.signature, report.Signature)
	}
	logger.Infof("[Dispatcher] 交易已提交: sig=%s slot=%d attempts=%d accepted=%d, 耗时: %v",
		report.Signature, ref.Slot, report.Attempts, report.Accepted, time.Since(start))
	return report, nil
}

func sendOptions(minContextSlot uint64) SendOptions {
	return SendOptions{
		SkipPreflight:       true,
		PreflightCommitment: rpc.CommitmentConfirmed,
		Encoding:            rpc.SendTransactionConfigEncodingBase64,
		MaxRetries:          consts.RpcMaxRetries,
		MinContextSlot:      minContextSlot,
	}
}

func (d *Dispatcher) broadcast(parent context.Context, tx signedTx, opts SendOptions) (Report, error) {
	policy := d.policy
	ctx := parent
	if policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, policy.Timeout)
		defer cancel()
	}

	report := Report{
		Expected: tx.signature,
		Failures: make(map[ErrorKind]int),
	}
	b := policy.backOff()
	maxAttempts := policy.attempts()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			wait := b.NextBackOff()
			if wait == backoff.Stop || !sleepCtx(ctx, wait) {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}

		report.Attempts++
		sig, err := d.client.SendTransaction(ctx, tx.payload, opts)
		if err != nil && Classify(err) == KindAlreadyProcessed {
			// 节点已处理过这笔交易，等同于被接受
			logger.Debugf("[Dispatcher] 第 %d 次广播: 交易已被处理: %v", attempt, err)
			sig, err = tx.signature, nil
		}
		if err != nil {
			attemptErr := newAttemptError(attempt, err)
			report.Failures[attemptErr.Kind]++
			d.metrics.observeAttempt(attemptErr.Kind, false)
			d.notify(AttemptResult{Attempt: attempt, Err: attemptErr})
			logger.Debugf("[Dispatcher] 第 %d 次广播失败: %v", attempt, attemptErr)

			if policy.AbortOnPermanent && attemptErr.Kind.Permanent() {
				logger.Warnf("[Dispatcher] 不可恢复错误，停止广播: %v", attemptErr)
				break
			}
			continue
		}

		// 所有成功都对应同一笔交易，直接覆盖
		report.Signature = sig
		report.Accepted++
		d.metrics.observeAttempt(KindUnknown, true)
		d.notify(AttemptResult{Attempt: attempt, Signature: sig})
		logger.Debugf("[Dispatcher] 第 %d 次广播成功: sig=%s", attempt, sig)

		if policy.StopOnFirstSuccess {
			break
		}
	}

	d.metrics.observeAccepted(report.Accepted)
	if report.Accepted > 0 {
		d.metrics.observeCall(outcomeSubmitted)
		return report, nil
	}
	if err := parent.Err(); err != nil {
		d.metrics.observeCall(outcomeCanceled)
		return report, err
	}
	d.metrics.observeCall(outcomeExhausted)
	return report, ErrSendExhausted
}

func (d *Dispatcher) notify(res AttemptResult) {
	if d.onAttempt != nil {
		d.onAttempt(res)
	}
}

// sleepCtx 返回 false 表示 ctx 已结束
func sleepCtx(ctx context.Context, wait time.Duration) bool {
	if wait <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
