package outcome

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"tx-dispatcher-sol/internal/consts"
	"tx-dispatcher-sol/internal/logic/dispatcher"
	"tx-dispatcher-sol/internal/logic/record"
	"tx-dispatcher-sol/internal/mq"
	"tx-dispatcher-sol/internal/pkg/types"
	"tx-dispatcher-sol/internal/utils"
)

// Outcome 一个 job 派发结束后的结果
type Outcome struct {
	JobID     string
	Status    record.JobStatus
	Signature types.Signature // 被节点接受的签名，失败时为零值
	Expected  types.Signature // 本地签名，组装失败时为零值
	Err       error
	Attempts  int
	Accepted  int
	Failures  map[dispatcher.ErrorKind]int
	At        time.Time
}

// PartitionKey 返回用于选分区的字节，优先使用被接受的签名
func (o *Outcome) PartitionKey() []byte {
	switch {
	case !o.Signature.IsZero():
		return o.Signature[:]
	case !o.Expected.IsZero():
		return o.Expected[:]
	default:
		return nil
	}
}

// ToStruct 转为 structpb，字段名即下游消费的 key
func (o *Outcome) ToStruct() (*structpb.Struct, error) {
	at := o.At
	if at.IsZero() {
		at = time.Now()
	}

	fields := map[string]any{
		"job_id":   o.JobID,
		"status":   o.Status.String(),
		"attempts": o.Attempts,
		"accepted": o.Accepted,
		"chain_id": consts.ChainIDSolana,
		"time_ms":  at.UnixMilli(),
	}
	if !o.Signature.IsZero() {
		fields["signature"] = o.Signature.String()
	}
	if !o.Expected.IsZero() {
		fields["expected_signature"] = o.Expected.String()
	}
	if o.Err != nil {
		fields["error"] = o.Err.Error()
	}
	if len(o.Failures) > 0 {
		failures := make(map[string]any, len(o.Failures))
		for kind, n := range o.Failures {
			failures[kind.String()] = n
		}
		fields["failures"] = failures
	}

	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("outcome to struct: %w", err)
	}
	return st, nil
}

// BuildKafkaJob 把 outcome 编码成一条 KafkaJob，按签名分区；没有签名的落到 0 号分区
func BuildKafkaJob(o *Outcome, topic string, partitions int) (*mq.KafkaJob, error) {
	if partitions <= 0 {
		partitions = 1
	}

	msg, err := o.ToStruct()
	if err != nil {
		return nil, err
	}
	value, err := utils.EncodeEvent(consts.EventTypeDispatchOutcome, msg)
	if err != nil {
		return nil, err
	}

	pid := utils.PartitionHashBytes(o.PartitionKey(), uint32(partitions))
	return &mq.KafkaJob{
		Topic:     topic,
		Partition: int32(pid),
		Key:       []byte(o.JobID),
		Value:     value,
	}, nil
}
