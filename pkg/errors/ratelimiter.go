package errors

import (
	"sync"
	"time"
)

// rateLimiter 按调用栈对上报做静默，同一调用栈在silent时间内只上报一次
type rateLimiter struct {
	lock   sync.Mutex
	silent time.Duration
	now    func() time.Time
	buffer map[string]*errorStats
}

func newRateLimiter(silent time.Duration) *rateLimiter {
	return &rateLimiter{
		silent: silent,
		now:    time.Now,
		buffer: map[string]*errorStats{},
	}
}

type errorStats struct {
	totalOccurCount int
	// 上次上报后被静默的次数
	occurCountSinceLastReport int
	lastReportTime            *time.Time
}

func (b *rateLimiter) StackBasedRateLimited(stack string) (bool, errorStats) {
	b.lock.Lock()
	defer b.lock.Unlock()
	stats, ok := b.buffer[stack]
	if !ok {
		stats = &errorStats{}
		b.buffer[stack] = stats
	}
	snapshot := *stats
	now := b.now()
	stats.totalOccurCount++
	if stats.lastReportTime != nil && now.Sub(*stats.lastReportTime) < b.silent {
		stats.occurCountSinceLastReport++
		return true, snapshot
	}
	stats.occurCountSinceLastReport = 0
	stats.lastReportTime = &now
	return false, snapshot
}
