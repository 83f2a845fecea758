package dispatcher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/blocto/solana-go-sdk/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tx-dispatcher-sol/internal/pkg/types"
)

type jsonRpcRequest struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

func newRpcServer(t *testing.T, handle func(req jsonRpcRequest) string) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonRpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(handle(req)))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRpcLedgerClient_GetLatestBlockhash(t *testing.T) {
	var want types.Hash
	want[31] = 9
	srv := newRpcServer(t, func(req jsonRpcRequest) string {
		assert.Equal(t, "getLatestBlockhash", req.Method)
		return `{"jsonrpc":"2.0","id":1,"result":{"context":{"slot":4242},"value":{"blockhash":"` +
			want.String() + `","lastValidBlockHeight":4400}}}`
	})

	c := NewRpcLedgerClient(srv.URL, time.Second)
	ref, err := c.GetLatestBlockhash(context.Background(), rpc.CommitmentConfirmed)
	require.NoError(t, err)
	assert.Equal(t, want, ref.Hash)
	assert.Equal(t, uint64(4242), ref.Slot)
	assert.Equal(t, uint64(4400), ref.LastValidBlockHeight)
}

func TestRpcLedgerClient_SendTransaction(t *testing.T) {
	var sig types.Signature
	sig[0] = 1
	payload := []byte{1, 2, 3, 4, 5}

	var cfg map[string]any
	srv := newRpcServer(t, func(req jsonRpcRequest) string {
		assert.Equal(t, "sendTransaction", req.Method)
		require.Len(t, req.Params, 2)

		var encoded string
		require.NoError(t, json.Unmarshal(req.Params[0], &encoded))
		assert.Equal(t, base64.StdEncoding.EncodeToString(payload), encoded)
		require.NoError(t, json.Unmarshal(req.Params[1], &cfg))

		return `{"jsonrpc":"2.0","id":1,"result":"` + sig.String() + `"}`
	})

	c := NewRpcLedgerClient(srv.URL, time.Second)
	got, err := c.SendTransaction(context.Background(), payload, sendOptions(777))
	require.NoError(t, err)
	assert.Equal(t, sig, got)

	assert.Equal(t, true, cfg["skipPreflight"])
	assert.Equal(t, "confirmed", cfg["preflightCommitment"])
	assert.Equal(t, "base64", cfg["encoding"])
	assert.Equal(t, float64(1), cfg["maxRetries"])
	assert.Equal(t, float64(777), cfg["minContextSlot"])
}

func TestRpcLedgerClient_SendTransactionRpcError(t *testing.T) {
	srv := newRpcServer(t, func(jsonRpcRequest) string {
		return `{"jsonrpc":"2.0","id":1,"error":{"code":-32002,"message":"Transaction simulation failed: Blockhash not found"}}`
	})

	c := NewRpcLedgerClient(srv.URL, time.Second)
	_, err := c.SendTransaction(context.Background(), []byte{1}, sendOptions(1))
	require.Error(t, err)
	assert.Equal(t, KindBlockhashExpired, Classify(err))
}

func TestRpcLedgerClient_CallTimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c := NewRpcLedgerClient(srv.URL, 20*time.Millisecond)

	_, err := c.SendTransaction(context.Background(), []byte{1}, sendOptions(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, KindTransient, Classify(err))

	_, err = c.GetLatestBlockhash(context.Background(), rpc.CommitmentConfirmed)
	require.Error(t, err)
	assert.Equal(t, KindTransient, Classify(err))
}

func TestRpcLedgerClient_CancelledContext(t *testing.T) {
	srv := newRpcServer(t, func(jsonRpcRequest) string {
		return `{"jsonrpc":"2.0","id":1,"result":"1"}`
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewRpcLedgerClient(srv.URL, time.Second)
	_, err := c.SendTransaction(ctx, []byte{1}, sendOptions(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, KindCanceled, Classify(err))
}

func TestEncodePayload(t *testing.T) {
	s, err := encodePayload([]byte{0, 1}, rpc.SendTransactionConfigEncodingBase58)
	require.NoError(t, err)
	assert.Equal(t, "12", s)

	_, err = encodePayload([]byte{0}, rpc.SendTransactionConfigEncoding("hex"))
	assert.Error(t, err)
}
