package record

import "time"

// JobStatus 表示 job 的派发状态（Redis 中以整数存储）
type JobStatus int

const (
	JobUnknown   JobStatus = 0 // Redis 不存在
	JobSubmitted JobStatus = 1 // ✅ 至少一次广播被节点接受
	JobFailed    JobStatus = 2 // ❌ 全部广播失败，可重新派发
	JobPending   JobStatus = 3 // 🕒 正在派发
)

func (s JobStatus) String() string {
	switch s {
	case JobSubmitted:
		return "submitted"
	case JobFailed:
		return "failed"
	case JobPending:
		return "pending"
	default:
		return "unknown"
	}
}

// JobRecord 一次派发的落地记录
type JobRecord struct {
	Status    JobStatus
	Signature string // base58，失败时为空
	Attempts  int
	UpdatedAt time.Time
}
