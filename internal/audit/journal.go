package audit

/*
Journal is the asynchronous skill-call trail.

Log never blocks the pipeline: events go into a buffered channel and a single
worker writes them in batches (by size or by timer). When the buffer is full
the event is dropped and logged. Stop closes the channel and waits for the
worker to drain it and flush the last batch.
*/

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBufferSize    = 10_000
	DefaultFlushInterval = 500 * time.Millisecond
	DefaultBatchSize     = 100
)

// Storage is where batches end up (Redis lists, Postgres table).
type Storage interface {
	WriteBatch(ctx context.Context, events []SkillCallEvent) error
}

// Auditor is the write side consumed by the pipeline.
type Auditor interface {
	Log(event SkillCallEvent)
}

// MultiStorage writes every batch to each storage and joins the errors.
type MultiStorage []Storage

func (m MultiStorage) WriteBatch(ctx context.Context, events []SkillCallEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteBatch(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Journal struct {
	ch            chan SkillCallEvent
	repo          Storage
	logger        *zap.Logger
	flushInterval time.Duration
	batchSize     int
	wg            sync.WaitGroup
	closed        atomic.Bool
	mu            sync.RWMutex // guards ch against close while sending
}

type Option func(*Journal)

func WithFlushInterval(d time.Duration) Option {
	return func(j *Journal) {
		if d > 0 {
			j.flushInterval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(j *Journal) {
		if n > 0 {
			j.batchSize = n
		}
	}
}

func NewJournal(repo Storage, bufferSize int, logger *zap.Logger, opts ...Option) *Journal {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	j := &Journal{
		ch:            make(chan SkillCallEvent, bufferSize),
		repo:          repo,
		logger:        logger.With(zap.String("mod", "audit")),
		flushInterval: DefaultFlushInterval,
		batchSize:     DefaultBatchSize,
	}
	for _, o := range opts {
		o(j)
	}
	return j
}

func (j *Journal) Start() {
	j.wg.Add(1)
	go j.worker()
}

// Stop rejects new events and waits until everything buffered is written.
func (j *Journal) Stop() {
	if !j.closed.CompareAndSwap(false, true) {
		return
	}
	j.logger.Info("stopping audit journal, flushing buffer")
	j.mu.Lock()
	close(j.ch)
	j.mu.Unlock()
	j.wg.Wait()
	j.logger.Info("audit journal stopped")
}

// Len is the number of buffered events, for the backpressure gauge.
func (j *Journal) Len() int { return len(j.ch) }

func (j *Journal) Log(event SkillCallEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed.Load() {
		j.logger.Warn("audit event dropped: journal is stopping", zap.String("id", event.ID))
		return
	}

	select {
	case j.ch <- event:
	default:
		j.logger.Error("audit_buffer_overflow",
			zap.String("skill", event.Skill),
			zap.String("outcome", event.Outcome),
			zap.String("trace_id", event.TraceID),
		)
	}
}

func (j *Journal) worker() {
	defer j.wg.Done()

	batch := make([]SkillCallEvent, 0, j.batchSize)
	ticker := time.NewTicker(j.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// the request context may be long gone by now
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := j.repo.WriteBatch(ctx, batch); err != nil {
			j.logger.Error("audit flush failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case event, ok := <-j.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, event)
			if len(batch) >= j.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
