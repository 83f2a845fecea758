package consts

const (
	ChainIDSolana uint32 = 100000
)

// 广播参数（与链上节点的约定值）
const (
	// DefaultSendAttempts 单次 dispatch 的广播次数上限
	DefaultSendAttempts = 100
	// RpcMaxRetries 节点内部对 sendTransaction 的重试次数
	RpcMaxRetries = 1
)

// 事件类型前缀，写在 Kafka 消息前 4 字节
const (
	EventTypeDispatchOutcome uint32 = 1
)
