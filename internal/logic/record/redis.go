package record

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisJobStore 记录每个 job 的派发结果，用于重启后的幂等判定
type RedisJobStore struct {
	rdb *redis.Client
	ttl time.Duration
}

const (
	jobPrefix  = "dispatch:job"
	defaultTTL = 7 * 24 * time.Hour

	fieldStatus    = "status"
	fieldSignature = "signature"
	fieldAttempts  = "attempts"
	fieldUpdatedAt = "updated_at"
)

// NewRedisJobStore ttl<=0 时使用默认 7 天
func NewRedisJobStore(rdb *redis.Client, ttl time.Duration) *RedisJobStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisJobStore{rdb: rdb, ttl: ttl}
}

func jobKey(jobID string) string {
	return fmt.Sprintf("%s:%s", jobPrefix, jobID)
}

// Load 返回 job 的记录，不存在时 ok=false
func (r *RedisJobStore) Load(ctx context.Context, jobID string) (rec JobRecord, ok bool, err error) {
	fields, err := r.rdb.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return JobRecord{}, false, fmt.Errorf("redis hgetall error: %w", err)
	}
	if len(fields) == 0 {
		return JobRecord{}, false, nil
	}
	return decodeRecord(fields), true, nil
}

// Save 覆盖写入 job 记录并刷新 TTL
func (r *RedisJobStore) Save(ctx context.Context, jobID string, rec JobRecord) error {
	key := jobKey(jobID)
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			fieldStatus, int(rec.Status),
			fieldSignature, rec.Signature,
			fieldAttempts, rec.Attempts,
			fieldUpdatedAt, rec.UpdatedAt.Unix(),
		)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save job %s error: %w", jobID, err)
	}
	return nil
}

// MarkPending 标记 job 正在派发
func (r *RedisJobStore) MarkPending(ctx context.Context, jobID string) error {
	return r.Save(ctx, jobID, JobRecord{Status: JobPending})
}

func decodeRecord(fields map[string]string) JobRecord {
	var rec JobRecord
	if v, err := strconv.Atoi(fields[fieldStatus]); err == nil {
		switch JobStatus(v) {
		case JobSubmitted, JobFailed, JobPending:
			rec.Status = JobStatus(v)
		default:
			rec.Status = JobUnknown // 容错处理
		}
	}
	rec.Signature = fields[fieldSignature]
	rec.Attempts, _ = strconv.Atoi(fields[fieldAttempts])
	if ts, err := strconv.ParseInt(fields[fieldUpdatedAt], 10, 64); err == nil {
		rec.UpdatedAt = time.Unix(ts, 0)
	}
	return rec
}
