package signer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/blocto/solana-go-sdk/common"
	sdktypes "github.com/blocto/solana-go-sdk/types"
	"github.com/mr-tron/base58"
)

var ErrNoSignerConfigured = errors.New("no signer configured: set keypair_path or secret_base58")

// AccountSigner 包装 SDK 的 Account，满足 dispatcher.Signer
type AccountSigner struct {
	account sdktypes.Account
}

func (s *AccountSigner) PublicKey() common.PublicKey {
	return s.account.PublicKey
}

func (s *AccountSigner) Sign(message []byte) []byte {
	return s.account.Sign(message)
}

// FromAccount 直接使用已解析的账户
func FromAccount(account sdktypes.Account) *AccountSigner {
	return &AccountSigner{account: account}
}

// FromBase58 解析 base58 编码的 64 字节私钥
func FromBase58(secret string) (*AccountSigner, error) {
	raw, err := base58.Decode(secret)
	if err != nil {
		return nil, fmt.Errorf("decode base58 secret: %w", err)
	}
	return fromSecretBytes(raw)
}

// LoadKeypairFile 读取 solana-keygen 生成的 keypair 文件（64 个字节的 JSON 数组）
func LoadKeypairFile(path string) (*AccountSigner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair file %s: %w", path, err)
	}

	var values []uint16
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse keypair file %s: %w", path, err)
	}
	raw := make([]byte, len(values))
	for i, v := range values {
		if v > 0xff {
			return nil, fmt.Errorf("keypair file %s: byte %d out of range: %d", path, i, v)
		}
		raw[i] = byte(v)
	}
	return fromSecretBytes(raw)
}

// Load 按优先级选择：keypair 文件 > base58 私钥
func Load(keypairPath, secretBase58 string) (*AccountSigner, error) {
	switch {
	case keypairPath != "":
		return LoadKeypairFile(keypairPath)
	case secretBase58 != "":
		return FromBase58(secretBase58)
	default:
		return nil, ErrNoSignerConfigured
	}
}

func fromSecretBytes(raw []byte) (*AccountSigner, error) {
	if len(raw) != 64 {
		return nil, fmt.Errorf("invalid secret key length: got %d, want 64", len(raw))
	}
	account, err := sdktypes.AccountFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("build account: %w", err)
	}
	return &AccountSigner{account: account}, nil
}
