package consts

import (
	"tx-dispatcher-sol/internal/pkg/types"
)

// 公钥形式的地址常量（types.Pubkey），用于构造指令与比对
var (
	SystemProgram        = types.PubkeyFromBase58(SystemProgramStr)
	TokenProgram         = types.PubkeyFromBase58(TokenProgramStr)
	TokenProgram2022     = types.PubkeyFromBase58(TokenProgram2022Str)
	ComputeBudgetProgram = types.PubkeyFromBase58(ComputeBudgetProgramIdStr)
	MemoProgram          = types.PubkeyFromBase58(MemoProgramStr)
)
