package svc

import (
	"context"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"tx-dispatcher-sol/internal/config"
	"tx-dispatcher-sol/internal/logic/dispatcher"
	"tx-dispatcher-sol/internal/logic/record"
	"tx-dispatcher-sol/internal/mq"
	"tx-dispatcher-sol/internal/pkg/logger"
	pkgmq "tx-dispatcher-sol/internal/pkg/mq"
	"tx-dispatcher-sol/internal/signer"
)

const (
	redisPingTimeout = 3 * time.Second
	flushTimeoutMs   = 5000
)

// ServiceContext 持有进程内共享的资源，RPC 连接在所有 job 之间复用
type ServiceContext struct {
	Config     config.DispatchConfig
	Registry   *prometheus.Registry
	Ledger     *dispatcher.RpcLedgerClient
	Signer     *signer.AccountSigner
	Dispatcher *dispatcher.Dispatcher
	Producer   *kafka.Producer       // 未配置 Kafka 时为 nil
	Publisher  *mq.Publisher         // 未配置 Kafka 时为 nil
	Redis      *redis.Client         // 未配置 Redis 时为 nil
	JobStore   *record.RedisJobStore // 未配置 Redis 时为 nil
}

// NewServiceContext 按配置初始化所有依赖，失败时释放已创建的资源
func NewServiceContext(c config.DispatchConfig) (_ *ServiceContext, err error) {
	if c.RpcConf.Endpoint == "" {
		return nil, fmt.Errorf("rpc.endpoint is required")
	}

	sc := &ServiceContext{Config: c}
	defer func() {
		if err != nil {
			sc.Close()
		}
	}()

	// 1. fee payer
	sc.Signer, err = signer.Load(c.SignerConf.KeypairPath, c.SignerConf.SecretBase58)
	if err != nil {
		return nil, fmt.Errorf("load signer: %w", err)
	}
	logger.Infof("[svc] fee payer: %s", sc.Signer.PublicKey().ToBase58())

	// 2. metrics
	sc.Registry = prometheus.NewRegistry()
	sc.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// 3. RPC + dispatcher
	sc.Ledger = dispatcher.NewRpcLedgerClient(c.RpcConf.Endpoint, time.Duration(c.RpcConf.CallTimeoutMs)*time.Millisecond)
	sc.Dispatcher = dispatcher.NewDispatcher(sc.Ledger, sc.Signer,
		dispatcher.WithPolicy(c.PolicyConf.ToRetryPolicy()),
		dispatcher.WithMetrics(dispatcher.NewMetrics(sc.Registry)),
	)

	// 4. Kafka（可选）
	if c.KafkaProducerConf.Enabled() {
		sc.Producer, err = pkgmq.NewKafkaProducer(c.KafkaProducerConf.ToKafkaOption())
		if err != nil {
			return nil, fmt.Errorf("init kafka producer: %w", err)
		}
		sc.Publisher = mq.NewPublisher(sc.Producer, time.Duration(c.KafkaProducerConf.SendTimeoutMs)*time.Millisecond)
	}

	// 5. Redis（可选）
	if c.RedisConf.Addr != "" {
		sc.Redis = redis.NewClient(&redis.Options{
			Addr:     c.RedisConf.Addr,
			Password: c.RedisConf.Password,
			DB:       c.RedisConf.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
		err = sc.Redis.Ping(ctx).Err()
		cancel()
		if err != nil {
			return nil, fmt.Errorf("redis ping %s: %w", c.RedisConf.Addr, err)
		}
		sc.JobStore = record.NewRedisJobStore(sc.Redis, time.Duration(c.RedisConf.TTLHours)*time.Hour)
	}

	logger.Infof("[svc] service context ready, rpc=%s, kafka=%v, redis=%v",
		c.RpcConf.Endpoint, sc.Producer != nil, sc.Redis != nil)
	return sc, nil
}

// Close 关闭服务上下文中的资源
func (sc *ServiceContext) Close() {
	if sc.Producer != nil {
		if remaining := sc.Producer.Flush(flushTimeoutMs); remaining > 0 {
			logger.Warnf("[svc] %d kafka message(s) not flushed", remaining)
		}
		sc.Producer.Close()
		sc.Producer = nil
	}
	if sc.Redis != nil {
		if err := sc.Redis.Close(); err != nil {
			logger.Warnf("[svc] close redis: %v", err)
		}
		sc.Redis = nil
	}
}
