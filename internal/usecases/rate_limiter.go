package usecases

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// RateLimiter ограничивает число одновременных обращений к хранилищу.
type RateLimiter struct {
	sem *semaphore.Weighted
}

// NewRateLimiter создает ограничитель на maxConcurrent операций.
func NewRateLimiter(maxConcurrent int) *RateLimiter {
	if maxConcurrent < 1 {
		maxConcurrent = 10
	}
	return &RateLimiter{sem: semaphore.NewWeighted(int64(maxConcurrent))}
}

// Acquire ждет свободный слот или отмену контекста.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	return rl.sem.Acquire(ctx, 1)
}

// Release освобождает слот, занятый Acquire.
func (rl *RateLimiter) Release() {
	rl.sem.Release(1)
}
