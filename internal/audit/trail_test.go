package audit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capturingStorage struct {
	mu      sync.Mutex
	batches [][]AuditEvent
	err     error
}

func (s *capturingStorage) WriteBatch(_ context.Context, events []AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	cp := make([]AuditEvent, len(events))
	copy(cp, events)
	s.batches = append(s.batches, cp)
	return nil
}

func (s *capturingStorage) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func (s *capturingStorage) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func event(id string) AuditEvent {
	return AuditEvent{
		ID:      id,
		AgentID: "agent-1",
		Action:  ActionPermissionCheck,
	}
}

func TestTrail_DrainOnStop(t *testing.T) {
	storage := &capturingStorage{}
	trail := NewTrail(storage, 100, time.Hour, zap.NewNop())
	trail.Start()

	for i := 0; i < 7; i++ {
		trail.Log(event(fmt.Sprintf("ev-%d", i)))
	}
	trail.Stop()

	// Интервал заведомо не успел сработать: всё дописал drain
	assert.Equal(t, 7, storage.total())
}

func TestTrail_FlushOnBatchSize(t *testing.T) {
	storage := &capturingStorage{}
	trail := NewTrail(storage, 1000, time.Hour, zap.NewNop())
	trail.Start()

	for i := 0; i < batchSize; i++ {
		trail.Log(event(fmt.Sprintf("ev-%d", i)))
	}

	require.Eventually(t, func() bool {
		return storage.total() == batchSize
	}, 2*time.Second, 10*time.Millisecond, "full batch must flush without waiting for the ticker")

	trail.Stop()
	assert.Equal(t, batchSize, storage.total())
}

func TestTrail_FlushOnTicker(t *testing.T) {
	storage := &capturingStorage{}
	trail := NewTrail(storage, 100, 30*time.Millisecond, zap.NewNop())
	trail.Start()
	defer trail.Stop()

	trail.Log(event("ev-1"))
	trail.Log(event("ev-2"))

	require.Eventually(t, func() bool {
		return storage.total() == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, storage.batchCount())
}

func TestTrail_LogAfterStopIsDropped(t *testing.T) {
	storage := &capturingStorage{}
	trail := NewTrail(storage, 100, time.Hour, zap.NewNop())
	trail.Start()
	trail.Stop()

	// Не должно паниковать записью в закрытый канал
	trail.Log(event("late"))

	assert.Equal(t, 0, storage.total())
}

func TestTrail_OverflowDoesNotBlock(t *testing.T) {
	storage := &capturingStorage{}
	// Воркер не запущен: канал на 2 события переполняется сразу
	trail := NewTrail(storage, 2, time.Hour, zap.NewNop())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			trail.Log(event(fmt.Sprintf("ev-%d", i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Log must shed load instead of blocking the caller")
	}
	assert.Equal(t, 2, trail.Pending())
}

func TestTrail_TimestampDefaulted(t *testing.T) {
	storage := &capturingStorage{}
	trail := NewTrail(storage, 100, time.Hour, zap.NewNop())
	trail.Start()

	trail.Log(event("ev-1"))
	trail.Stop()

	require.Equal(t, 1, storage.total())
	assert.False(t, storage.batches[0][0].Timestamp.IsZero())
}

func TestTrail_StorageFailureDoesNotStopWorker(t *testing.T) {
	storage := &capturingStorage{err: context.DeadlineExceeded}
	trail := NewTrail(storage, 100, 20*time.Millisecond, zap.NewNop())
	trail.Start()

	trail.Log(event("ev-1"))
	time.Sleep(60 * time.Millisecond)

	storage.mu.Lock()
	storage.err = nil
	storage.mu.Unlock()

	trail.Log(event("ev-2"))
	trail.Stop()

	// Первый батч потерян на стороне хранилища, но воркер жив и дописал второй
	assert.GreaterOrEqual(t, storage.total(), 1)
}
