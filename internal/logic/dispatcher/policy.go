package dispatcher

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"tx-dispatcher-sol/internal/consts"
)

// RetryPolicy 控制广播循环。零值字段回退到默认行为：
// 固定次数、无间隔、不提前退出、忽略所有错误类型。
type RetryPolicy struct {
	MaxAttempts        int                   // 广播次数上限，<=0 时使用 consts.DefaultSendAttempts
	NewBackOff         func() backoff.BackOff // 每次 dispatch 新建一个；nil 表示不等待
	Timeout            time.Duration         // 整个广播循环的截止时间，0 表示不限
	StopOnFirstSuccess bool                  // 首次被接受后立即返回
	AbortOnPermanent   bool                  // 遇到不可恢复错误时停止
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: consts.DefaultSendAttempts}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return consts.DefaultSendAttempts
	}
	return p.MaxAttempts
}

func (p RetryPolicy) backOff() backoff.BackOff {
	if p.NewBackOff == nil {
		return &backoff.ZeroBackOff{}
	}
	b := p.NewBackOff()
	b.Reset()
	return b
}

// ExponentialBackOff 返回一个不会自行终止的指数退避工厂，次数与总时长由 RetryPolicy 控制
func ExponentialBackOff(initial, maxInterval time.Duration, multiplier float64) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = initial
		b.MaxInterval = maxInterval
		if multiplier > 1 {
			b.Multiplier = multiplier
		}
		b.MaxElapsedTime = 0
		return b
	}
}
