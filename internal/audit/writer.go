package audit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/carbongrid/enforcer/internal/policy"
)

// Writer batches decision records and flushes them to the store in the
// background, keeping storage latency off the enforcement path.
type Writer struct {
	store    *Store
	recorder WriteRecorder

	buffer    []*Record
	bufferMu  sync.Mutex
	bufferMax int

	flushInterval time.Duration
	flushChan     chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	written  int64
	dropped  int64
	flushes  int64
	metricMu sync.Mutex
}

// WriteRecorder receives writer outcome counts, e.g. for Prometheus
// counters. Implementations must be safe for concurrent use.
type WriteRecorder interface {
	AuditWritten(n int)
	AuditDropped(n int)
}

// WriterConfig holds configuration for the audit writer.
type WriterConfig struct {
	BufferSize    int
	FlushInterval time.Duration
	// Recorder is optional.
	Recorder WriteRecorder
}

// NewWriter creates an async audit writer over the store.
func NewWriter(store *Store, cfg WriterConfig) *Writer {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Writer{
		store:         store,
		recorder:      cfg.Recorder,
		buffer:        make([]*Record, 0, cfg.BufferSize),
		bufferMax:     cfg.BufferSize,
		flushInterval: cfg.FlushInterval,
		flushChan:     make(chan struct{}, 1),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start begins the background flush loop.
func (w *Writer) Start() {
	w.wg.Add(1)
	go w.flushLoop()
	log.Info().
		Int("buffer_size", w.bufferMax).
		Dur("flush_interval", w.flushInterval).
		Msg("Audit writer started")
}

// ObserveDecision implements policy.Observer: every finished decision is
// queued for persistence.
func (w *Writer) ObserveDecision(req *policy.RequestContext, res *policy.EnforcementResult) {
	w.Write(FromDecision(req, res))
}

// Write queues a record. When the buffer is full the oldest record is
// dropped and an async flush is triggered.
func (w *Writer) Write(record *Record) {
	w.bufferMu.Lock()
	defer w.bufferMu.Unlock()

	if len(w.buffer) >= w.bufferMax {
		select {
		case w.flushChan <- struct{}{}:
		default:
		}
		w.buffer = w.buffer[1:]
		w.metricMu.Lock()
		w.dropped++
		w.metricMu.Unlock()
		if w.recorder != nil {
			w.recorder.AuditDropped(1)
		}
	}

	w.buffer = append(w.buffer, record)
}

func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			w.flush()
			return
		case <-ticker.C:
			w.flush()
		case <-w.flushChan:
			w.flush()
		}
	}
}

func (w *Writer) flush() {
	w.bufferMu.Lock()
	if len(w.buffer) == 0 {
		w.bufferMu.Unlock()
		return
	}
	records := w.buffer
	w.buffer = make([]*Record, 0, w.bufferMax)
	w.bufferMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := w.store.InsertBatch(ctx, records); err != nil {
		log.Error().Err(err).Int("count", len(records)).Msg("Failed to flush audit records")
		w.metricMu.Lock()
		w.dropped += int64(len(records))
		w.metricMu.Unlock()
		if w.recorder != nil {
			w.recorder.AuditDropped(len(records))
		}
		return
	}

	w.metricMu.Lock()
	w.written += int64(len(records))
	w.flushes++
	w.metricMu.Unlock()
	if w.recorder != nil {
		w.recorder.AuditWritten(len(records))
	}

	log.Debug().Int("count", len(records)).Msg("Flushed audit records")
}

// Flush forces an immediate flush of the buffer.
func (w *Writer) Flush() {
	w.flush()
}

// Stop flushes remaining records and stops the writer.
func (w *Writer) Stop() {
	w.cancel()
	w.wg.Wait()

	stats := w.Stats()
	log.Info().
		Int64("written", stats.Written).
		Int64("dropped", stats.Dropped).
		Int64("flushes", stats.Flushes).
		Msg("Audit writer stopped")
}

// WriterStats contains writer statistics.
type WriterStats struct {
	Written    int64
	Dropped    int64
	Flushes    int64
	BufferSize int
}

// Stats returns current writer statistics.
func (w *Writer) Stats() WriterStats {
	w.metricMu.Lock()
	written, dropped, flushes := w.written, w.dropped, w.flushes
	w.metricMu.Unlock()

	w.bufferMu.Lock()
	bufferSize := len(w.buffer)
	w.bufferMu.Unlock()

	return WriterStats{
		Written:    written,
		Dropped:    dropped,
		Flushes:    flushes,
		BufferSize: bufferSize,
	}
}
