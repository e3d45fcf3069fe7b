package infra

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// SemaphorePool implementa domain.SlotPool sobre x/sync/semaphore.
type SemaphorePool struct {
	sem   *semaphore.Weighted
	size  int64
	inUse atomic.Int64
}

// NewSemaphorePool cria o pool com `size` vagas (mínimo 1).
func NewSemaphorePool(size int) *SemaphorePool {
	if size <= 0 {
		size = 1
	}
	return &SemaphorePool{sem: semaphore.NewWeighted(int64(size)), size: int64(size)}
}

func (p *SemaphorePool) Acquire(ctx context.Context) (func(), bool) {
	if !p.sem.TryAcquire(1) {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return nil, false
		}
	}
	p.inUse.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			p.inUse.Add(-1)
			p.sem.Release(1)
		})
	}, true
}

// InUse é o número de vagas ocupadas agora.
func (p *SemaphorePool) InUse() int64 { return p.inUse.Load() }

func (p *SemaphorePool) Size() int64 { return p.size }
