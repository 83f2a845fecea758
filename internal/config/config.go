package config

import (
	"time"

	"tx-dispatcher-sol/internal/logic/dispatcher"
	"tx-dispatcher-sol/internal/pkg/logger"
	"tx-dispatcher-sol/internal/pkg/mq"
)

type LogConfig struct {
	Format   string `json:"format,default=console"` // 日志格式，支持 "console" 或 "json"
	LogDir   string `json:"log_dir,optional"`       // 日志目录（可为相对路径或绝对路径）
	Level    string `json:"level,default=info"`     // 日志级别：debug / info / warn / error
	Compress bool   `json:"compress,optional"`      // 是否压缩旧日志文件
}

func (c *LogConfig) ToLogOption() logger.LogOption {
	return logger.LogOption{
		Format:   c.Format,
		LogDir:   c.LogDir,
		Level:    c.Level,
		Compress: c.Compress,
	}
}

// RpcConfig Solana JSON-RPC 节点配置
type RpcConfig struct {
	Endpoint      string `json:"endpoint"`                     // 例如 https://api.mainnet-beta.solana.com
	CallTimeoutMs int    `json:"call_timeout_ms,default=5000"` // 单次 RPC 调用超时
}

// SignerConfig fee payer 私钥来源，二选一
type SignerConfig struct {
	KeypairPath  string `json:"keypair_path,optional"`  // solana-keygen 生成的 JSON keypair
	SecretBase58 string `json:"secret_base58,optional"` // base58 私钥，建议通过环境变量注入
}

// PolicyConfig 广播重试策略；默认值即固定 100 次、无间隔、不提前退出
type PolicyConfig struct {
	MaxAttempts        int     `json:"max_attempts,default=100"`
	StopOnFirstSuccess bool    `json:"stop_on_first_success,optional"`
	AbortOnPermanent   bool    `json:"abort_on_permanent,optional"`
	TimeoutMs          int     `json:"timeout_ms,optional"`         // 整个广播循环的截止时间，0 不限
	BackoffInitialMs   int     `json:"backoff_initial_ms,optional"` // 0 表示不等待
	BackoffMaxMs       int     `json:"backoff_max_ms,optional"`
	BackoffMultiplier  float64 `json:"backoff_multiplier,default=2"`
}

func (c *PolicyConfig) ToRetryPolicy() dispatcher.RetryPolicy {
	policy := dispatcher.RetryPolicy{
		MaxAttempts:        c.MaxAttempts,
		StopOnFirstSuccess: c.StopOnFirstSuccess,
		AbortOnPermanent:   c.AbortOnPermanent,
		Timeout:            time.Duration(c.TimeoutMs) * time.Millisecond,
	}
	if c.BackoffInitialMs > 0 {
		initial := time.Duration(c.BackoffInitialMs) * time.Millisecond
		maxInterval := time.Duration(c.BackoffMaxMs) * time.Millisecond
		if maxInterval < initial {
			maxInterval = initial
		}
		policy.NewBackOff = dispatcher.ExponentialBackOff(initial, maxInterval, c.BackoffMultiplier)
	}
	return policy
}

// KafkaProducerConfig 表示 Kafka 生产者相关配置，Brokers 为空时不发布结果
type KafkaProducerConfig struct {
	Brokers       string `json:"brokers,optional"`             // Kafka broker 地址，多个用英文逗号分隔
	BatchSize     int    `json:"batch_size,optional"`          // 批处理大小（单位字节）
	LingerMs      int    `json:"linger_ms,default=5"`          // 批处理最大延迟（毫秒）
	Topic         string `json:"topic,default=dispatch-outcome"`
	Partitions    int    `json:"partitions,default=4"`
	SendTimeoutMs int    `json:"send_timeout_ms,default=3000"` // 单条消息等待 ack 的超时
}

func (c *KafkaProducerConfig) Enabled() bool {
	return c.Brokers != ""
}

func (c *KafkaProducerConfig) ToKafkaOption() mq.KafkaProducerOption {
	return mq.KafkaProducerOption{
		Brokers:   c.Brokers,
		BatchSize: c.BatchSize,
		LingerMs:  c.LingerMs,
		Topics: []mq.TopicOption{
			{Topic: c.Topic, Partitions: c.Partitions},
		},
	}
}

// RedisConfig Addr 为空时不做 job 幂等记录
type RedisConfig struct {
	Addr     string `json:"addr,optional"`
	Password string `json:"password,optional"`
	DB       int    `json:"db,optional"`
	TTLHours int    `json:"ttl_hours,default=168"`
}

type MetricsConfig struct {
	ListenAddr string `json:"listen_addr,optional"` // 例如 :9100，空则不暴露
}

// DispatchConfig 是主配置结构体
type DispatchConfig struct {
	LogConf           LogConfig           `json:"logger,optional"`
	RpcConf           RpcConfig           `json:"rpc"`
	SignerConf        SignerConfig        `json:"signer"`
	PolicyConf        PolicyConfig        `json:"policy,optional"`
	KafkaProducerConf KafkaProducerConfig `json:"kafka_producer,optional"`
	RedisConf         RedisConfig         `json:"redis,optional"`
	MetricsConf       MetricsConfig       `json:"metrics,optional"`
}
