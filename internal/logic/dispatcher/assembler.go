package dispatcher

import (
	"errors"
	"fmt"

	sdktypes "github.com/blocto/solana-go-sdk/types"

	"tx-dispatcher-sol/internal/pkg/types"
)

var ErrExtraSigners = errors.New("instructions require signers other than the fee payer")

// signedTx 签名后不可变，每次广播发送同一份字节
type signedTx struct {
	payload   []byte
	signature types.Signature
}

// assemble 以 signer 作为 fee payer 构造交易并签名一次
func assemble(ixs []sdktypes.Instruction, signer Signer, ref BlockhashRef) (signedTx, error) {
	msg := sdktypes.NewMessage(sdktypes.NewMessageParam{
		FeePayer:        signer.PublicKey(),
		Instructions:    ixs,
		RecentBlockhash: ref.Hash.String(),
	})
	if n := msg.Header.NumRequireSignatures; n != 1 {
		return signedTx{}, fmt.Errorf("%w: need %d signatures", ErrExtraSigners, n)
	}

	msgBytes, err := msg.Serialize()
	if err != nil {
		return signedTx{}, fmt.Errorf("serialize message: %w", err)
	}

	sig := signer.Sign(msgBytes)
	txSig, err := types.SignatureFromBytes(sig)
	if err != nil {
		return signedTx{}, fmt.Errorf("signer output: %w", err)
	}

	tx := sdktypes.Transaction{
		Signatures: []sdktypes.Signature{sdktypes.Signature(sig)},
		Message:    msg,
	}
	raw, err := tx.Serialize()
	if err != nil {
		return signedTx{}, fmt.Errorf("serialize transaction: %w", err)
	}
	return signedTx{payload: raw, signature: txSig}, nil
}
