package batch

import (
	"context"
	"sync"
	"time"

	"github.com/b2bflash/crawler/internal/store"
	"github.com/b2bflash/crawler/pkg/models"
	"github.com/rs/zerolog/log"
)

// flushBuffer accumulates chunk records from all workers and writes them to
// persistence in single bulk inserts. The first worker to observe the buffer
// at the flush threshold wins the flush latch; producers block briefly when
// the buffer grows past twice the threshold (backpressure).
type flushBuffer struct {
	st        store.Store
	flushSize int
	onFlush   func()

	mu       sync.Mutex
	records  []models.ChunkRecord
	flushing bool
}

func newFlushBuffer(st store.Store, flushSize int, onFlush func()) *flushBuffer {
	return &flushBuffer{st: st, flushSize: flushSize, onFlush: onFlush}
}

// Add appends records and flushes when the threshold is reached. Blocks while
// the buffer sits over the backpressure bound, re-checking periodically so
// cancellation is observed.
func (b *flushBuffer) Add(ctx context.Context, records []models.ChunkRecord) {
	if len(records) == 0 {
		return
	}

	for {
		b.mu.Lock()
		if len(b.records) < 2*b.flushSize || ctx.Err() != nil {
			break
		}
		b.mu.Unlock()
		select {
		case <-ctx.Done():
		case <-time.After(50 * time.Millisecond):
		}
	}
	// lock held
	b.records = append(b.records, records...)
	shouldFlush := len(b.records) >= b.flushSize && !b.flushing
	if shouldFlush {
		b.flushing = true
	}
	b.mu.Unlock()

	if shouldFlush {
		b.flush(ctx)
	}
}

// flush drains the whole buffer into one bulk insert. A failed insert is
// retried once; on the second failure the records are dropped with an error
// log rather than wedging the batch.
func (b *flushBuffer) flush(ctx context.Context) {
	b.mu.Lock()
	batch := b.records
	b.records = nil
	b.flushing = false
	b.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	if _, err := b.st.BulkInsertChunks(ctx, batch); err != nil {
		log.Warn().Err(err).Int("records", len(batch)).Msg("Bulk insert failed, retrying once")
		if _, err := b.st.BulkInsertChunks(ctx, batch); err != nil {
			log.Error().Err(err).Int("records", len(batch)).Msg("Bulk insert failed twice, dropping records")
			return
		}
	}
	if b.onFlush != nil {
		b.onFlush()
	}
}

// Drain performs the final flush regardless of size.
func (b *flushBuffer) Drain(ctx context.Context) {
	b.flush(ctx)
}

// Size returns the current number of buffered records.
func (b *flushBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}
