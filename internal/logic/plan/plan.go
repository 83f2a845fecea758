package plan

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"tx-dispatcher-sol/internal/pkg/types"
)

// Plan 一次批量派发的输入文件
type Plan struct {
	SkipConfirm bool  `yaml:"skip_confirm"`
	Jobs        []Job `yaml:"jobs"`
}

// Job 对应一笔交易
type Job struct {
	ID               string          `yaml:"id"`                 // 业务幂等键
	ComputeUnitLimit uint32          `yaml:"compute_unit_limit"` // 0 表示不设置
	ComputeUnitPrice uint64          `yaml:"compute_unit_price"` // 优先费（micro-lamports/CU），0 表示不设置
	Memo             string          `yaml:"memo"`
	Transfers        []Transfer      `yaml:"transfers"`
	TokenTransfers   []TokenTransfer `yaml:"token_transfers"`
}

type Transfer struct {
	To       string `yaml:"to"`
	Lamports uint64 `yaml:"lamports"`
}

type TokenTransfer struct {
	Mint     string `yaml:"mint"`
	From     string `yaml:"from"` // 源 token account，owner 必须是 fee payer
	To       string `yaml:"to"`   // 目标 token account
	Amount   uint64 `yaml:"amount"`
	Decimals uint8  `yaml:"decimals"`
}

var ErrEmptyPlan = errors.New("plan has no jobs")

func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Plan) Validate() error {
	if len(p.Jobs) == 0 {
		return ErrEmptyPlan
	}
	seen := make(map[string]struct{}, len(p.Jobs))
	for i := range p.Jobs {
		job := &p.Jobs[i]
		if job.ID == "" {
			return fmt.Errorf("job #%d: missing id", i)
		}
		if _, ok := seen[job.ID]; ok {
			return fmt.Errorf("job %s: duplicate id", job.ID)
		}
		seen[job.ID] = struct{}{}
		if err := job.validate(); err != nil {
			return fmt.Errorf("job %s: %w", job.ID, err)
		}
	}
	return nil
}

func (j *Job) validate() error {
	if len(j.Transfers) == 0 && len(j.TokenTransfers) == 0 && j.Memo == "" {
		return errors.New("no instructions")
	}
	for i, t := range j.Transfers {
		if _, err := types.TryPubkeyFromBase58(t.To); err != nil {
			return fmt.Errorf("transfer #%d: %w", i, err)
		}
		if t.Lamports == 0 {
			return fmt.Errorf("transfer #%d: lamports must be positive", i)
		}
	}
	for i, t := range j.TokenTransfers {
		for _, addr := range []string{t.Mint, t.From, t.To} {
			if _, err := types.TryPubkeyFromBase58(addr); err != nil {
				return fmt.Errorf("token transfer #%d: %w", i, err)
			}
		}
		if t.Amount == 0 {
			return fmt.Errorf("token transfer #%d: amount must be positive", i)
		}
	}
	return nil
}
