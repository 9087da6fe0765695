package batch

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/b2bflash/crawler/internal/adaptive"
	"github.com/b2bflash/crawler/internal/chunker"
	"github.com/b2bflash/crawler/internal/scraper"
	"github.com/b2bflash/crawler/internal/store"
	"github.com/b2bflash/crawler/pkg/models"
	"github.com/rs/zerolog/log"
)

// CompanyScraper is the slice of the scraper the batch needs; the concrete
// implementation is internal/scraper.Scraper.
type CompanyScraper interface {
	ScrapeWith(ctx context.Context, rawURL string, ov scraper.Overrides) *models.ScrapeResult
}

// Options configure one batch activation.
type Options struct {
	WorkerCount  int
	FlushSize    int
	Instances    int
	StatusFilter []string
	Limit        int // 0 = all pending

	PageSize int // cursor page size; defaults to 500

	// Infrastructure returns the proxy/governor/breaker/limiter status
	// blocks for the status payload.
	Infrastructure func() map[string]any
}

// Processor drives one batch: it paginates pending companies with a cursor,
// partitions them across instances, runs worker pools, and flushes chunk
// records through the shared buffer.
type Processor struct {
	id      string
	st      store.Store
	scrape  CompanyScraper
	chunk   *chunker.Chunker
	manager *adaptive.Manager
	opts    Options

	total     int
	metrics   *metrics
	buffer    *flushBuffer
	cancelled atomic.Bool
	status    atomic.Value // string
	instances []*instanceState

	cancelFn context.CancelFunc
	done     chan struct{}
}

// instanceState tracks one partition's worker pool.
type instanceState struct {
	id int

	mu        sync.Mutex
	status    string
	processed int
	success   int
	errors    int
	started   time.Time
}

// InstanceStatus is the per-instance block of the status payload.
type InstanceStatus struct {
	ID               int     `json:"id"`
	Status           string  `json:"status"`
	Processed        int     `json:"processed"`
	Success          int     `json:"success"`
	Errors           int     `json:"errors"`
	ThroughputPerMin float64 `json:"throughput_per_min"`
}

// NewProcessor creates a batch processor. manager may be nil.
func NewProcessor(st store.Store, scrape CompanyScraper, chunk *chunker.Chunker, manager *adaptive.Manager, opts Options) *Processor {
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 100
	}
	if opts.Instances <= 0 {
		opts.Instances = 1
	}
	if opts.Instances > opts.WorkerCount {
		opts.Instances = opts.WorkerCount
	}
	if opts.FlushSize <= 0 {
		opts.FlushSize = 100
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 500
	}

	p := &Processor{
		id:      newBatchID(),
		st:      st,
		scrape:  scrape,
		chunk:   chunk,
		manager: manager,
		opts:    opts,
		metrics: newMetrics(),
		done:    make(chan struct{}),
	}
	p.buffer = newFlushBuffer(st, opts.FlushSize, p.metrics.recordFlush)
	p.status.Store(models.BatchPending)
	for i := 0; i < opts.Instances; i++ {
		p.instances = append(p.instances, &instanceState{id: i, status: models.BatchPending})
	}
	return p
}

// ID returns the batch identifier.
func (p *Processor) ID() string { return p.id }

// Total returns the pending-company count taken at initialization.
func (p *Processor) Total() int { return p.total }

// Status returns the batch lifecycle state.
func (p *Processor) Status() string { return p.status.Load().(string) }

// Initialize counts the candidate pool. Must run before Start.
func (p *Processor) Initialize(ctx context.Context) error {
	total, err := p.st.CountPending(ctx, p.opts.StatusFilter)
	if err != nil {
		return fmt.Errorf("counting pending companies: %w", err)
	}
	if p.opts.Limit > 0 && total > p.opts.Limit {
		total = p.opts.Limit
	}
	p.total = total
	return nil
}

// Start launches the batch in the background.
func (p *Processor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancelFn = cancel
	p.status.Store(models.BatchRunning)

	workersPer := p.opts.WorkerCount / p.opts.Instances
	if workersPer < 1 {
		workersPer = 1
	}
	log.Info().
		Str("batch_id", p.id).
		Int("total", p.total).
		Int("instances", p.opts.Instances).
		Int("workers_per_instance", workersPer).
		Int("flush_size", p.opts.FlushSize).
		Msg("Batch started")

	go p.run(runCtx, workersPer)
}

// Cancel requests a cooperative stop: workers finish in-flight companies,
// the buffer drains, and the batch lands in the cancelled state.
func (p *Processor) Cancel() {
	if p.cancelled.Swap(true) {
		return
	}
	log.Info().Str("batch_id", p.id).Msg("Batch cancel requested")
}

// Wait blocks until the batch reaches a terminal state.
func (p *Processor) Wait() { <-p.done }

func (p *Processor) run(ctx context.Context, workersPer int) {
	defer close(p.done)

	queues := make([]chan models.Company, p.opts.Instances)
	for i := range queues {
		queues[i] = make(chan models.Company, workersPer*2)
	}

	var wg sync.WaitGroup
	for i, inst := range p.instances {
		wg.Add(1)
		go func(inst *instanceState, queue chan models.Company) {
			defer wg.Done()
			p.runInstance(ctx, inst, queue, workersPer)
		}(inst, queues[i])
	}

	p.feed(ctx, queues)
	for _, q := range queues {
		close(q)
	}
	wg.Wait()

	// Final drain regardless of how we got here.
	p.buffer.Drain(ctx)

	final := models.BatchCompleted
	if p.cancelled.Load() {
		final = models.BatchCancelled
	}
	p.status.Store(final)

	if p.manager != nil {
		p.manager.OptimizeAfterBatch(p.metrics.snapshot().Processed)
	}

	snap := p.metrics.snapshot()
	log.Info().
		Str("batch_id", p.id).
		Str("status", final).
		Int("processed", snap.Processed).
		Int("success", snap.Success).
		Int("errors", snap.Errors).
		Int("flushes", snap.FlushesDone).
		Msg("Batch finished")
}

// feed paginates pending companies with the id cursor and deals them to the
// instance queues round-robin.
func (p *Processor) feed(ctx context.Context, queues []chan models.Company) {
	var afterID int64
	dispatched := 0
	next := 0

	for !p.cancelled.Load() && ctx.Err() == nil {
		limit := p.opts.PageSize
		if p.opts.Limit > 0 && p.opts.Limit-dispatched < limit {
			limit = p.opts.Limit - dispatched
		}
		if limit <= 0 {
			return
		}

		page, err := p.st.ListPending(ctx, p.opts.StatusFilter, afterID, limit)
		if err != nil {
			log.Error().Err(err).Str("batch_id", p.id).Msg("Cursor page failed, ending feed")
			return
		}
		if len(page) == 0 {
			return
		}
		afterID = page[len(page)-1].ID

		for _, company := range page {
			if p.cancelled.Load() || ctx.Err() != nil {
				return
			}
			select {
			case queues[next%len(queues)] <- company:
				next++
				dispatched++
			case <-ctx.Done():
				return
			}
		}
	}
}

func (p *Processor) runInstance(ctx context.Context, inst *instanceState, queue <-chan models.Company, workers int) {
	inst.mu.Lock()
	inst.status = models.BatchRunning
	inst.started = time.Now()
	inst.mu.Unlock()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for company := range queue {
				if p.cancelled.Load() {
					continue // drain without processing
				}
				p.processCompany(ctx, inst, company)
			}
		}()
	}
	wg.Wait()

	inst.mu.Lock()
	inst.status = models.BatchCompleted
	inst.mu.Unlock()
}

// processCompany runs scrape + chunk + buffer for one company. Panics and
// unexpected adapter errors are contained at this boundary.
func (p *Processor) processCompany(ctx context.Context, inst *instanceState, company models.Company) {
	p.metrics.startCompany()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("cnpj", company.CNPJ).
				Str("url", company.WebsiteURL).
				Interface("panic", r).
				Msg("Worker recovered from panic")
			p.metrics.finishCompany(false, msSince(start), 0, 0)
			p.metrics.recordError(company.CNPJ, company.WebsiteURL, "other")
			p.instanceFinish(inst, false)
		}
	}()

	var ov scraper.Overrides
	if p.manager != nil {
		snap := p.manager.Snapshot()
		ov = scraper.Overrides{DefaultStrategy: snap.DefaultStrategy}
	}

	result := p.scrape.ScrapeWith(ctx, company.WebsiteURL, ov)
	pages := result.SuccessfulPages()

	var records []models.ChunkRecord
	ok := result.MainPageOK && len(pages) > 0
	if ok {
		for _, ch := range p.chunk.ChunkPages(pages) {
			records = append(records, models.ChunkRecord{
				CNPJ:        company.CNPJ,
				DiscoveryID: company.ID,
				WebsiteURL:  company.WebsiteURL,
				ChunkIndex:  ch.Index,
				TotalChunks: ch.TotalChunks,
				Content:     ch.Content,
				TokenCount:  ch.TokenCount,
				PageSource:  joinPages(ch.PagesIncluded),
			})
		}
		p.buffer.Add(ctx, records)
	} else {
		category := result.MainPageFailReason
		if category == "" {
			category = "other"
		}
		p.metrics.recordError(company.CNPJ, company.WebsiteURL, category)
	}

	latency := msSince(start)
	p.metrics.finishCompany(ok, latency, len(pages), result.TotalRetries)
	p.instanceFinish(inst, ok)

	if err := p.st.SaveScrapeOutcome(ctx, company.CNPJ, models.ScrapeOutcome{
		CNPJ:        company.CNPJ,
		Success:     ok,
		Pages:       len(pages),
		Chunks:      len(records),
		FailReason:  result.MainPageFailReason,
		DurationMs:  latency,
		CompletedAt: time.Now(),
	}); err != nil {
		log.Warn().Err(err).Str("cnpj", company.CNPJ).Msg("Failed to save scrape outcome")
	}
}

func (p *Processor) instanceFinish(inst *instanceState, ok bool) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.processed++
	if ok {
		inst.success++
	} else {
		inst.errors++
	}
}

func joinPages(urls []string) string {
	out := ""
	for i, u := range urls {
		if i > 0 {
			out += ";"
		}
		out += u
	}
	return out
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}

func newBatchID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "batch000"
	}
	return hex.EncodeToString(b)
}
