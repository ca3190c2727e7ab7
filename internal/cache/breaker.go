package cache

import (
	"context"
	"errors"
	"time"

	"github.com/Bartolojed11/enm-api/internal/domain"
	"github.com/sony/gobreaker/v2"
)

// BreakerCache wraps a ViewCache in a circuit breaker so an unreachable
// Redis fails fast instead of adding its timeout to every read. While the
// breaker is open, Get reports a cache miss and writes are dropped; readers
// fall through to the repository.
type BreakerCache struct {
	inner ViewCache
	cb    *gobreaker.CircuitBreaker[*domain.CartView]
}

func NewBreakerCache(inner ViewCache) *BreakerCache {
	cb := gobreaker.NewCircuitBreaker[*domain.CartView](gobreaker.Settings{
		Name:        "cart-view-cache",
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// A miss is a healthy answer, not a cache failure.
			return err == nil || errors.Is(err, ErrCacheMiss)
		},
	})

	return &BreakerCache{inner: inner, cb: cb}
}

func (b *BreakerCache) Get(ctx context.Context, userID string) (*domain.CartView, error) {
	view, err := b.cb.Execute(func() (*domain.CartView, error) {
		return b.inner.Get(ctx, userID)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	return view, nil
}

func (b *BreakerCache) Set(ctx context.Context, userID string, view *domain.CartView) error {
	_, err := b.cb.Execute(func() (*domain.CartView, error) {
		return nil, b.inner.Set(ctx, userID, view)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil
	}
	return err
}

// Delete never swallows failures: a dropped invalidation could leave a
// stale view to be served after the breaker closes, so callers get to log it.
func (b *BreakerCache) Delete(ctx context.Context, userID string) error {
	_, err := b.cb.Execute(func() (*domain.CartView, error) {
		return nil, b.inner.Delete(ctx, userID)
	})
	return err
}
