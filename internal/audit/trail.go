package audit

/*
Файл trail.go реализует Audit Trail — неблокирующий сбор и персистентность
записей о решениях governance-слоя и попытках исполнения.

Ключевые свойства:
- Non-blocking Logging: события уходят в буферизированный канал, задержки
  записи в БД не влияют на Response Time шлюза.
- Batching: накопление в памяти и пакетная вставка в PostgreSQL по таймеру
  или при достижении лимита батча.
- Drain Pattern: при остановке сервиса канал запирается, воркер вычитывает
  остатки и делает финальный flush — записи аудита не теряются при рестарте.
- Load Shedding: при переполнении буфера событие не блокирует вызывающего,
  а уходит в структурный лог (данные не исчезают молча).
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически сохраняются записи.
type StorageInterface interface {
	// WriteBatch сохраняет пачку событий за один запрос
	WriteBatch(ctx context.Context, events []AuditEvent) error
}

// Auditor — то, что видят компоненты-писатели (governance, engine).
type Auditor interface {
	Log(event AuditEvent)
}

type Trail struct {
	ch            chan AuditEvent
	repo          StorageInterface
	logger        *zap.Logger
	wg            sync.WaitGroup
	flushInterval time.Duration
	// Атомарный флаг (0 - открыт, 1 - закрыт): защита от Log после Stop
	isClosed int32
}

const batchSize = 100

func NewTrail(repo StorageInterface, bufferSize int, flushInterval time.Duration, logger *zap.Logger) *Trail {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if flushInterval <= 0 {
		flushInterval = 500 * time.Millisecond
	}
	return &Trail{
		ch:            make(chan AuditEvent, bufferSize),
		repo:          repo,
		logger:        logger.With(zap.String("mod", "audit-trail")),
		flushInterval: flushInterval,
	}
}

func (t *Trail) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (t *Trail) Stop() {
	atomic.StoreInt32(&t.isClosed, 1)

	// Крошечная пауза, чтобы текущие Log успели проскочить
	time.Sleep(10 * time.Millisecond)

	t.logger.Info("stopping audit trail: closing channel and flushing buffer...")
	close(t.ch)
	t.wg.Wait()
	t.logger.Info("audit trail stopped gracefully")
}

func (t *Trail) Log(event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if atomic.LoadInt32(&t.isClosed) == 1 {
		t.logger.Warn("audit event dropped: trail is stopping", zap.String("id", event.ID))
		return
	}

	select {
	case t.ch <- event:
	default:
		// Backpressure: буфер переполнен, событие уходит хотя бы в лог
		t.logger.Error("audit_buffer_overflow",
			zap.String("agent_id", event.AgentID),
			zap.String("action", string(event.Action)),
			zap.String("trace_id", event.TraceID),
		)
	}
}

// Pending — текущая заполненность буфера (для gauge-метрики).
func (t *Trail) Pending() int {
	return len(t.ch)
}

func (t *Trail) worker() {
	defer t.wg.Done()

	batch := make([]AuditEvent, 0, batchSize)
	ticker := time.NewTicker(t.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст к моменту финального flush уже закрыт
		if err := t.repo.WriteBatch(context.Background(), batch); err != nil {
			t.logger.Error("audit flush failed", zap.Int("batch", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case event, ok := <-t.ch:
			if !ok {
				// Канал закрыт в Stop(): вычитали остатки, финальный flush, выходим
				flush()
				t.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
