package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blocto/solana-go-sdk/common"
	sdktypes "github.com/blocto/solana-go-sdk/types"

	"tx-dispatcher-sol/internal/logic/dispatcher"
	"tx-dispatcher-sol/internal/logic/outcome"
	"tx-dispatcher-sol/internal/logic/plan"
	"tx-dispatcher-sol/internal/logic/record"
	"tx-dispatcher-sol/internal/mq"
	"tx-dispatcher-sol/internal/pkg/logger"
)

const (
	publishTimeout = 5 * time.Second
	storeTimeout   = 2 * time.Second
	stopWait       = 10 * time.Second
)

type JobDispatcher interface {
	DispatchWithReport(ctx context.Context, ixs []sdktypes.Instruction, skipConfirm bool) (dispatcher.Report, error)
}

// JobStore 是 job 幂等记录，nil 表示不记录
type JobStore interface {
	Load(ctx context.Context, jobID string) (record.JobRecord, bool, error)
	Save(ctx context.Context, jobID string, rec record.JobRecord) error
	MarkPending(ctx context.Context, jobID string) error
}

type OutcomePublisher interface {
	Publish(ctx context.Context, jobs ...*mq.KafkaJob) error
}

// Summary 一次 plan 执行的统计
type Summary struct {
	Submitted int
	Failed    int
	Skipped   int
}

type DispatchServiceOption struct {
	Store      JobStore
	Publisher  OutcomePublisher
	Topic      string
	Partitions int
}

// DispatchService 顺序执行 plan 中的所有 job，实现 go-zero service.Service
type DispatchService struct {
	plan       *plan.Plan
	payer      common.PublicKey
	dispatcher JobDispatcher
	opt        DispatchServiceOption

	ctx      context.Context
	cancel   context.CancelFunc
	started  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	outcomes []outcome.Outcome
	summary  Summary
}

func NewDispatchService(p *plan.Plan, payer common.PublicKey, d JobDispatcher, opt DispatchServiceOption) *DispatchService {
	ctx, cancel := context.WithCancel(context.Background())
	return &DispatchService{
		plan:       p,
		payer:      payer,
		dispatcher: d,
		opt:        opt,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

func (s *DispatchService) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	defer close(s.done)

	summary := s.Run(s.ctx)
	logger.Infof("[DispatchService] plan finished, submitted=%d, failed=%d, skipped=%d",
		summary.Submitted, summary.Failed, summary.Skipped)
}

// Stop 取消正在进行的 dispatch，并等待当前 job 收尾
func (s *DispatchService) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		if !s.started.Load() {
			return
		}
		select {
		case <-s.done:
		case <-time.After(stopWait):
			logger.Warnf("[DispatchService] stop timed out after %v", stopWait)
		}
	})
}

// Done 在 plan 全部执行完（或被取消）后关闭
func (s *DispatchService) Done() <-chan struct{} {
	return s.done
}

func (s *DispatchService) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

func (s *DispatchService) Outcomes() []outcome.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]outcome.Outcome, len(s.outcomes))
	copy(out, s.outcomes)
	return out
}

// Run 依次派发每个 job，ctx 取消后不再开始新的 job
func (s *DispatchService) Run(ctx context.Context) Summary {
	for i := range s.plan.Jobs {
		if ctx.Err() != nil {
			logger.Warnf("[DispatchService] cancelled, %d job(s) not started", len(s.plan.Jobs)-i)
			break
		}
		s.runJob(ctx, &s.plan.Jobs[i])
	}
	return s.Summary()
}

func (s *DispatchService) runJob(ctx context.Context, job *plan.Job) {
	if s.alreadySubmitted(ctx, job.ID) {
		s.mu.Lock()
		s.summary.Skipped++
		s.mu.Unlock()
		return
	}

	o := outcome.Outcome{JobID: job.ID}
	ixs, err := job.Instructions(s.payer)
	if err != nil {
		o.Err = fmt.Errorf("build instructions: %w", err)
	} else {
		s.markPending(ctx, job.ID)

		report, dispatchErr := s.dispatcher.DispatchWithReport(ctx, ixs, s.plan.SkipConfirm)
		o.Err = dispatchErr
		o.Signature = report.Signature
		o.Expected = report.Expected
		o.Attempts = report.Attempts
		o.Accepted = report.Accepted
		o.Failures = report.Failures
	}

	o.At = time.Now()
	if o.Err == nil {
		o.Status = record.JobSubmitted
		logger.Infof("[DispatchService] job %s submitted, signature=%s, accepted=%d/%d",
			job.ID, o.Signature, o.Accepted, o.Attempts)
	} else {
		o.Status = record.JobFailed
		logger.Errorf("[DispatchService] job %s failed after %d attempt(s): %v", job.ID, o.Attempts, o.Err)
	}

	s.saveRecord(ctx, &o)
	s.publish(ctx, &o)

	s.mu.Lock()
	s.outcomes = append(s.outcomes, o)
	if o.Status == record.JobSubmitted {
		s.summary.Submitted++
	} else {
		s.summary.Failed++
	}
	s.mu.Unlock()
}

// alreadySubmitted 记录存储不可用时按未提交处理
func (s *DispatchService) alreadySubmitted(ctx context.Context, jobID string) bool {
	if s.opt.Store == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	rec, ok, err := s.opt.Store.Load(ctx, jobID)
	if err != nil {
		logger.Warnf("[DispatchService] load record for job %s failed: %v", jobID, err)
		return false
	}
	if ok && rec.Status == record.JobSubmitted {
		logger.Infof("[DispatchService] job %s already submitted (signature=%s), skip", jobID, rec.Signature)
		return true
	}
	return false
}

func (s *DispatchService) markPending(ctx context.Context, jobID string) {
	if s.opt.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	if err := s.opt.Store.MarkPending(ctx, jobID); err != nil {
		logger.Warnf("[DispatchService] mark job %s pending failed: %v", jobID, err)
	}
}

// saveRecord 和 publish 在 ctx 被取消后仍需执行，否则最后一个 job 的结果会丢
func (s *DispatchService) saveRecord(ctx context.Context, o *outcome.Outcome) {
	if s.opt.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	rec := record.JobRecord{
		Status:    o.Status,
		Attempts:  o.Attempts,
		UpdatedAt: o.At,
	}
	if !o.Signature.IsZero() {
		rec.Signature = o.Signature.String()
	}
	if err := s.opt.Store.Save(ctx, o.JobID, rec); err != nil {
		logger.Warnf("[DispatchService] save record for job %s failed: %v", o.JobID, err)
	}
}

func (s *DispatchService) publish(ctx context.Context, o *outcome.Outcome) {
	if s.opt.Publisher == nil {
		return
	}
	job, err := outcome.BuildKafkaJob(o, s.opt.Topic, s.opt.Partitions)
	if err != nil {
		logger.Errorf("[DispatchService] encode outcome of job %s failed: %v", o.JobID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.opt.Publisher.Publish(ctx, job); err != nil {
		logger.Errorf("[DispatchService] publish outcome of job %s failed: %v", o.JobID, err)
	}
}

