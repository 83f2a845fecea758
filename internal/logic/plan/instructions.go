package plan

import (
	"fmt"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/program/system"
	"github.com/blocto/solana-go-sdk/program/token"
	sdktypes "github.com/blocto/solana-go-sdk/types"
	"github.com/near/borsh-go"

	"tx-dispatcher-sol/internal/consts"
	"tx-dispatcher-sol/internal/pkg/types"
)

// ComputeBudget 指令的判别字节
const (
	computeBudgetSetUnitLimit uint8 = 2
	computeBudgetSetUnitPrice uint8 = 3
)

type setComputeUnitLimitData struct {
	Instruction uint8
	Units       uint32
}

type setComputeUnitPriceData struct {
	Instruction   uint8
	MicroLamports uint64
}

// Instructions 按 compute budget → SOL 转账 → token 转账 → memo 的顺序构造指令
func (j *Job) Instructions(payer common.PublicKey) ([]sdktypes.Instruction, error) {
	ixs := make([]sdktypes.Instruction, 0, 2+len(j.Transfers)+len(j.TokenTransfers)+1)

	if j.ComputeUnitLimit > 0 {
		ix, err := SetComputeUnitLimit(j.ComputeUnitLimit)
		if err != nil {
			return nil, err
		}
		ixs = append(ixs, ix)
	}
	if j.ComputeUnitPrice > 0 {
		ix, err := SetComputeUnitPrice(j.ComputeUnitPrice)
		if err != nil {
			return nil, err
		}
		ixs = append(ixs, ix)
	}

	for i, t := range j.Transfers {
		to, err := types.TryPubkeyFromBase58(t.To)
		if err != nil {
			return nil, fmt.Errorf("transfer #%d: %w", i, err)
		}
		ixs = append(ixs, system.Transfer(system.TransferParam{
			From:   payer,
			To:     to.Common(),
			Amount: t.Lamports,
		}))
	}

	for i, t := range j.TokenTransfers {
		mint, err := types.TryPubkeyFromBase58(t.Mint)
		if err != nil {
			return nil, fmt.Errorf("token transfer #%d: %w", i, err)
		}
		from, err := types.TryPubkeyFromBase58(t.From)
		if err != nil {
			return nil, fmt.Errorf("token transfer #%d: %w", i, err)
		}
		to, err := types.TryPubkeyFromBase58(t.To)
		if err != nil {
			return nil, fmt.Errorf("token transfer #%d: %w", i, err)
		}
		ixs = append(ixs, token.TransferChecked(token.TransferCheckedParam{
			From:     from.Common(),
			To:       to.Common(),
			Mint:     mint.Common(),
			Auth:     payer,
			Signers:  []common.PublicKey{},
			Amount:   t.Amount,
			Decimals: t.Decimals,
		}))
	}

	if j.Memo != "" {
		ixs = append(ixs, Memo(payer, j.Memo))
	}
	return ixs, nil
}

func SetComputeUnitLimit(units uint32) (sdktypes.Instruction, error) {
	data, err := borsh.Serialize(setComputeUnitLimitData{
		Instruction: computeBudgetSetUnitLimit,
		Units:       units,
	})
	if err != nil {
		return sdktypes.Instruction{}, fmt.Errorf("encode SetComputeUnitLimit: %w", err)
	}
	return sdktypes.Instruction{
		ProgramID: consts.ComputeBudgetProgram.Common(),
		Accounts:  []sdktypes.AccountMeta{},
		Data:      data,
	}, nil
}

func SetComputeUnitPrice(microLamports uint64) (sdktypes.Instruction, error) {
	data, err := borsh.Serialize(setComputeUnitPriceData{
		Instruction:   computeBudgetSetUnitPrice,
		MicroLamports: microLamports,
	})
	if err != nil {
		return sdktypes.Instruction{}, fmt.Errorf("encode SetComputeUnitPrice: %w", err)
	}
	return sdktypes.Instruction{
		ProgramID: consts.ComputeBudgetProgram.Common(),
		Accounts:  []sdktypes.AccountMeta{},
		Data:      data,
	}, nil
}

// Memo 由 signer 署名的 SPL memo
func Memo(signer common.PublicKey, text string) sdktypes.Instruction {
	return sdktypes.Instruction{
		ProgramID: consts.MemoProgram.Common(),
		Accounts: []sdktypes.AccountMeta{
			{PubKey: signer, IsSigner: true, IsWritable: false},
		},
		Data: []byte(text),
	}
}
