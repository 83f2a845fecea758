package dispatcher

import (
	"context"
	"crypto/ed25519"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/program/system"
	"github.com/blocto/solana-go-sdk/rpc"
	sdktypes "github.com/blocto/solana-go-sdk/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tx-dispatcher-sol/internal/consts"
	"tx-dispatcher-sol/internal/pkg/types"
)

// fakeLedger 记录每次广播的 payload，按 respond 决定接受或拒绝
type fakeLedger struct {
	mu           sync.Mutex
	ref          BlockhashRef
	blockhashErr error
	respond      func(attempt int) error
	commitments  []rpc.Commitment
	payloads     [][]byte
	opts         []SendOptions
}

func newFakeLedger() *fakeLedger {
	var h types.Hash
	for i := range h {
		h[i] = byte(i + 1)
	}
	return &fakeLedger{ref: BlockhashRef{Hash: h, Slot: 321_000_000, LastValidBlockHeight: 300_000_150}}
}

func (f *fakeLedger) GetLatestBlockhash(_ context.Context, commitment rpc.Commitment) (BlockhashRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitments = append(f.commitments, commitment)
	if f.blockhashErr != nil {
		return BlockhashRef{}, f.blockhashErr
	}
	return f.ref, nil
}

func (f *fakeLedger) SendTransaction(ctx context.Context, payload []byte, opts SendOptions) (types.Signature, error) {
	f.mu.Lock()
	f.payloads = append(f.payloads, append([]byte(nil), payload...))
	f.opts = append(f.opts, opts)
	attempt := len(f.payloads)
	respond := f.respond
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return types.Signature{}, err
	}
	if respond != nil {
		if err := respond(attempt); err != nil {
			return types.Signature{}, err
		}
	}
	return signatureOf(payload), nil
}

func (f *fakeLedger) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

// 单签名交易的线性格式：compact-u16(1) + 64 字节签名 + message
func signatureOf(payload []byte) types.Signature {
	var s types.Signature
	copy(s[:], payload[1:65])
	return s
}

type countingSigner struct {
	account sdktypes.Account
	calls   int
}

func (s *countingSigner) PublicKey() common.PublicKey { return s.account.PublicKey }

func (s *countingSigner) Sign(message []byte) []byte {
	s.calls++
	return s.account.Sign(message)
}

func newSigner() *countingSigner {
	return &countingSigner{account: sdktypes.NewAccount()}
}

func transferTo(signer *countingSigner) []sdktypes.Instruction {
	to := sdktypes.NewAccount()
	return []sdktypes.Instruction{
		system.Transfer(system.TransferParam{
			From:   signer.PublicKey(),
			To:     to.PublicKey,
			Amount: 1_000,
		}),
	}
}

func rejectAll(int) error {
	return &RPCError{Code: codeNodeUnhealthy, Message: "Node is behind"}
}

func TestDispatch_AcceptsOnlyThirdAttempt(t *testing.T) {
	ledger := newFakeLedger()
	ledger.respond = func(attempt int) error {
		if attempt == 3 {
			return nil
		}
		return errors.New("connection reset by peer")
	}
	signer := newSigner()
	d := NewDispatcher(ledger, signer)

	sig, err := d.Dispatch(context.Background(), transferTo(signer), false)
	require.NoError(t, err)
	assert.False(t, sig.IsZero())

	require.Equal(t, consts.DefaultSendAttempts, ledger.sendCount(), "不应在成功后提前退出")
	assert.Equal(t, 1, signer.calls, "只签名一次")
	assert.Equal(t, signatureOf(ledger.payloads[2]), sig)

	// 签名是对 message 的 ed25519 签名
	msg := ledger.payloads[0][65:]
	assert.True(t, ed25519.Verify(ed25519.PublicKey(signer.account.PublicKey[:]), msg, sig[:]))
}

func TestDispatch_PayloadIdenticalAcrossAttempts(t *testing.T) {
	ledger := newFakeLedger()
	signer := newSigner()
	d := NewDispatcher(ledger, signer)

	_, err := d.Dispatch(context.Background(), transferTo(signer), true)
	require.NoError(t, err)

	require.Len(t, ledger.payloads, consts.DefaultSendAttempts)
	for i, p := range ledger.payloads {
		assert.Equal(t, ledger.payloads[0], p, "attempt %d payload differs", i+1)
	}
	assert.Equal(t, 1, signer.calls)
}

func TestDispatch_AllRejected(t *testing.T) {
	ledger := newFakeLedger()
	ledger.respond = rejectAll
	signer := newSigner()
	d := NewDispatcher(ledger, signer)

	sig, err := d.Dispatch(context.Background(), transferTo(signer), false)
	assert.ErrorIs(t, err, ErrSendExhausted)
	assert.True(t, sig.IsZero())
	assert.Equal(t, consts.DefaultSendAttempts, ledger.sendCount())
}

func TestDispatch_BlockhashFailureAbortsBeforeBroadcast(t *testing.T) {
	ledger := newFakeLedger()
	resolveErr := errors.New("getLatestBlockhash failed: dial tcp: connection refused")
	ledger.blockhashErr = resolveErr
	signer := newSigner()
	d := NewDispatcher(ledger, signer)

	_, err := d.Dispatch(context.Background(), transferTo(signer), false)
	assert.Same(t, resolveErr, err, "错误应原样返回")
	assert.Equal(t, 0, ledger.sendCount())
	assert.Equal(t, 0, signer.calls)
}

func TestDispatch_SendOptions(t *testing.T) {
	ledger := newFakeLedger()
	signer := newSigner()
	d := NewDispatcher(ledger, signer, WithPolicy(RetryPolicy{MaxAttempts: 2}))

	_, err := d.Dispatch(context.Background(), transferTo(signer), false)
	require.NoError(t, err)

	require.Equal(t, []rpc.Commitment{rpc.CommitmentConfirmed}, ledger.commitments)
	require.Len(t, ledger.opts, 2)
	for _, opts := range ledger.opts {
		assert.True(t, opts.SkipPreflight)
		assert.Equal(t, rpc.CommitmentConfirmed, opts.PreflightCommitment)
		assert.Equal(t, rpc.SendTransactionConfigEncodingBase64, opts.Encoding)
		assert.Equal(t, uint64(consts.RpcMaxRetries), opts.MaxRetries)
		assert.Equal(t, ledger.ref.Slot, opts.MinContextSlot)
	}
}

func TestDispatch_ExtraSignerRejected(t *testing.T) {
	ledger := newFakeLedger()
	signer := newSigner()
	other := sdktypes.NewAccount()
	ixs := []sdktypes.Instruction{
		system.Transfer(system.TransferParam{From: other.PublicKey, To: signer.PublicKey(), Amount: 1}),
	}
	d := NewDispatcher(ledger, signer)

	_, err := d.Dispatch(context.Background(), ixs, false)
	assert.ErrorIs(t, err, ErrExtraSigners)
	assert.Equal(t, 0, ledger.sendCount())
	assert.Equal(t, 0, signer.calls)
}

func TestDispatch_StopOnFirstSuccess(t *testing.T) {
	ledger := newFakeLedger()
	ledger.respond = func(attempt int) error {
		if attempt < 4 {
			return errors.New("i/o timeout")
		}
		return nil
	}
	signer := newSigner()
	d := NewDispatcher(ledger, signer, WithPolicy(RetryPolicy{MaxAttempts: 10, StopOnFirstSuccess: true}))

	report, err := d.DispatchWithReport(context.Background(), transferTo(signer), false)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Attempts)
	assert.Equal(t, 1, report.Accepted)
	assert.Equal(t, 3, report.Failures[KindTransient])
	assert.Equal(t, report.Expected, report.Signature)
}

func TestDispatch_AbortOnPermanent(t *testing.T) {
	ledger := newFakeLedger()
	ledger.respond = func(int) error {
		return &RPCError{Code: codeTxSignatureVerifyFailure, Message: "Transaction signature verification failure"}
	}
	signer := newSigner()
	d := NewDispatcher(ledger, signer, WithPolicy(RetryPolicy{AbortOnPermanent: true}))

	_, err := d.Dispatch(context.Background(), transferTo(signer), false)
	assert.ErrorIs(t, err, ErrSendExhausted)
	assert.Equal(t, 1, ledger.sendCount())
}

func TestDispatch_AlreadyProcessedCountsAsAccepted(t *testing.T) {
	ledger := newFakeLedger()
	ledger.respond = func(int) error {
		return &RPCError{Code: codeSendTxPreflightFailure, Message: "Transaction simulation failed: This transaction has already been processed"}
	}
	signer := newSigner()
	d := NewDispatcher(ledger, signer, WithPolicy(RetryPolicy{MaxAttempts: 5, AbortOnPermanent: true}))

	report, err := d.DispatchWithReport(context.Background(), transferTo(signer), false)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Attempts)
	assert.Equal(t, 5, report.Accepted)
	assert.Empty(t, report.Failures)
	assert.False(t, report.Signature.IsZero())
	assert.Equal(t, report.Expected, report.Signature)
}

func TestDispatch_PermanentErrorsIgnoredByDefault(t *testing.T) {
	ledger := newFakeLedger()
	ledger.respond = func(int) error {
		return &RPCError{Code: codeSendTxPreflightFailure, Message: "Transaction simulation failed: Blockhash not found"}
	}
	signer := newSigner()
	d := NewDispatcher(ledger, signer, WithPolicy(RetryPolicy{MaxAttempts: 7}))

	report, err := d.DispatchWithReport(context.Background(), transferTo(signer), false)
	assert.ErrorIs(t, err, ErrSendExhausted)
	assert.Equal(t, 7, report.Attempts)
	assert.Equal(t, 7, report.Failures[KindBlockhashExpired])
}

func TestDispatch_CancelWithoutSuccess(t *testing.T) {
	ledger := newFakeLedger()
	ctx, cancel := context.WithCancel(context.Background())
	ledger.respond = func(attempt int) error {
		if attempt == 5 {
			cancel()
		}
		return errors.New("connection refused")
	}
	signer := newSigner()
	d := NewDispatcher(ledger, signer)

	_, err := d.Dispatch(ctx, transferTo(signer), false)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 5, ledger.sendCount())
}

func TestDispatch_CancelAfterSuccessKeepsSignature(t *testing.T) {
	ledger := newFakeLedger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ledger.respond = func(attempt int) error {
		if attempt == 2 {
			cancel()
			return errors.New("connection refused")
		}
		return nil
	}
	signer := newSigner()
	d := NewDispatcher(ledger, signer)

	sig, err := d.Dispatch(ctx, transferTo(signer), false)
	require.NoError(t, err)
	assert.Equal(t, signatureOf(ledger.payloads[0]), sig)
	assert.Equal(t, 2, ledger.sendCount())
}

func TestDispatch_BackOffStopEndsLoop(t *testing.T) {
	ledger := newFakeLedger()
	ledger.respond = rejectAll
	signer := newSigner()
	policy := RetryPolicy{
		MaxAttempts: 50,
		NewBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
		},
	}
	d := NewDispatcher(ledger, signer, WithPolicy(policy))

	_, err := d.Dispatch(context.Background(), transferTo(signer), false)
	assert.ErrorIs(t, err, ErrSendExhausted)
	assert.Equal(t, 3, ledger.sendCount())
}

func TestDispatch_TimeoutReturnsExhausted(t *testing.T) {
	ledger := newFakeLedger()
	ledger.respond = rejectAll
	signer := newSigner()
	policy := RetryPolicy{
		MaxAttempts: 10_000,
		NewBackOff: func() backoff.BackOff {
			return backoff.NewConstantBackOff(5 * time.Millisecond)
		},
		Timeout: 40 * time.Millisecond,
	}
	d := NewDispatcher(ledger, signer, WithPolicy(policy))

	_, err := d.Dispatch(context.Background(), transferTo(signer), false)
	assert.ErrorIs(t, err, ErrSendExhausted)
	assert.Less(t, ledger.sendCount(), 10_000)
	assert.GreaterOrEqual(t, ledger.sendCount(), 1)
}

func TestExponentialBackOff(t *testing.T) {
	b := ExponentialBackOff(10*time.Millisecond, 40*time.Millisecond, 2)()
	b.Reset()
	for i := 0; i < 20; i++ {
		wait := b.NextBackOff()
		require.NotEqual(t, backoff.Stop, wait)
		assert.LessOrEqual(t, wait, 60*time.Millisecond) // MaxInterval + 随机抖动
	}
}

func TestDispatch_ObserverAndMetrics(t *testing.T) {
	ledger := newFakeLedger()
	ledger.respond = func(attempt int) error {
		if attempt%2 == 0 {
			return nil
		}
		return &RPCError{Code: codeTooManyRequests, Message: "Too many requests"}
	}
	signer := newSigner()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	var results []AttemptResult
	d := NewDispatcher(ledger, signer,
		WithPolicy(RetryPolicy{MaxAttempts: 10}),
		WithMetrics(metrics),
		WithAttemptObserver(func(r AttemptResult) { results = append(results, r) }),
	)

	_, err := d.Dispatch(context.Background(), transferTo(signer), false)
	require.NoError(t, err)

	require.Len(t, results, 10)
	assert.NotNil(t, results[0].Err)
	assert.Equal(t, KindRateLimited, results[0].Err.Kind)
	assert.Nil(t, results[1].Err)
	assert.False(t, results[1].Signature.IsZero())

	assert.Equal(t, 5.0, testutil.ToFloat64(metrics.attempts.WithLabelValues("accepted", "")))
	assert.Equal(t, 5.0, testutil.ToFloat64(metrics.attempts.WithLabelValues("failed", "rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.calls.WithLabelValues(outcomeSubmitted)))
}
