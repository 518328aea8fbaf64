package batch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// pacer spaces API calls across all workers. A nil pacer never waits.
type pacer struct {
	limiter *rate.Limiter
}

func newPacer(perMinute int) *pacer {
	if perMinute <= 0 {
		return nil
	}
	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &pacer{limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst)}
}

func (p *pacer) Wait(ctx context.Context) error {
	if p == nil {
		return ctx.Err()
	}
	return p.limiter.Wait(ctx)
}

// ProgressTracker tracks batch processing progress
type ProgressTracker struct {
	Total     int
	Completed int
	StartTime time.Time
	mu        sync.RWMutex
}

// Increment records one finished item and returns the new count
func (p *ProgressTracker) Increment() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Completed++
	return p.Completed
}

func (p *ProgressTracker) Percent() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.Total == 0 {
		return 0
	}
	return float64(p.Completed) / float64(p.Total) * 100
}

func (p *ProgressTracker) Elapsed() time.Duration {
	return time.Since(p.StartTime)
}

func (p *ProgressTracker) ETA() time.Duration {
	p.mu.RLock()
	completed := p.Completed
	total := p.Total
	p.mu.RUnlock()

	if completed == 0 {
		return 0
	}

	elapsed := p.Elapsed()
	perItem := elapsed / time.Duration(completed)
	return perItem * time.Duration(total-completed)
}
