package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/domain"
	"golang.org/x/time/rate"
)

// ReliableRuntime оборачивает контейнерный рантайм в защитный контур:
// Rate Limiter (сборка — дорогая операция, не даем зашквалить демон),
// Circuit Breaker (лежащий docker-демон отсекаем быстро, без очереди
// зависших вызовов) и Retry для транзиентных сбоев сборки (сетевые
// обрывы при скачивании пакетов).
type ReliableRuntime struct {
	next    Runtime
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewReliableRuntime(next Runtime, maxBuildRate int) *ReliableRuntime {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "container-runtime",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second, // Через это время CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		// Предохранитель следит за здоровьем ДЕМОНА. Сбои уровня воркло́ада —
		// таймаут кода, осмысленный отказ сборки — успехом демона не являются,
		// но и поводом размыкать цепь тоже
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var timeoutErr *domain.ExecutionTimeoutError
			var buildErr *domain.BuildFailureError
			return errors.As(err, &timeoutErr) ||
				errors.As(err, &buildErr) ||
				errors.Is(err, domain.ErrBuildTimeout)
		},
	})

	if maxBuildRate <= 0 {
		maxBuildRate = 10
	}
	limiter := rate.NewLimiter(rate.Limit(maxBuildRate), maxBuildRate)

	return &ReliableRuntime{next: next, cb: cb, limiter: limiter}
}

func (w *ReliableRuntime) BuildImage(ctx context.Context, tag, contextDir string, timeout time.Duration) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("build rate limit: %w", err)
	}

	_, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(2),
			retry.Delay(2*time.Second),
			retry.RetryIf(func(err error) bool {
				// Таймаут сборки и осмысленный отказ инструмента не ретраим:
				// повтор даст тот же результат, только дороже
				if errors.Is(err, domain.ErrBuildTimeout) {
					return false
				}
				var buildErr *domain.BuildFailureError
				return !errors.As(err, &buildErr)
			}),
		)
		return nil, r.Do(func() error {
			return w.next.BuildImage(ctx, tag, contextDir, timeout)
		})
	})
	return err
}

// RunContainer не ретраится: запуск кода — операция с побочными эффектами.
func (w *ReliableRuntime) RunContainer(ctx context.Context, spec RunSpec) (*domain.ExecutionResult, error) {
	result, err := w.cb.Execute(func() (interface{}, error) {
		return w.next.RunContainer(ctx, spec)
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.ExecutionResult), nil
}

func (w *ReliableRuntime) RemoveImage(ctx context.Context, tag string) error {
	return w.next.RemoveImage(ctx, tag)
}
