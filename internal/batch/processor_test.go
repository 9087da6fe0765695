package batch

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/b2bflash/crawler/internal/chunker"
	"github.com/b2bflash/crawler/internal/scraper"
	"github.com/b2bflash/crawler/internal/store"
	"github.com/b2bflash/crawler/pkg/models"
)

// fakeScraper returns canned results without touching the network.
type fakeScraper struct {
	delay    time.Duration
	failEvery int
	calls    atomic.Int64
}

func (f *fakeScraper) ScrapeWith(ctx context.Context, rawURL string, _ scraper.Overrides) *models.ScrapeResult {
	n := f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}
	if f.failEvery > 0 && n%int64(f.failEvery) == 0 {
		return &models.ScrapeResult{
			MainPageOK:         false,
			MainPageFailReason: "timeout",
			TotalTimeMs:        1,
		}
	}
	content := strings.Repeat("Company profile text with plenty of descriptive words. ", 10)
	return &models.ScrapeResult{
		MainPageOK:   true,
		StrategyUsed: models.StrategyFast,
		Pages: []*models.ScrapedPage{
			{URL: rawURL, Content: content, StatusCode: 200},
		},
		TotalTimeMs: 1,
	}
}

func seedStore(n int) *store.Memory {
	m := store.NewMemory()
	companies := make([]models.Company, n)
	for i := 0; i < n; i++ {
		companies[i] = models.Company{
			ID:         int64(i + 1),
			CNPJ:       fmt.Sprintf("%08d", i+1),
			WebsiteURL: fmt.Sprintf("http://c%d.example", i+1),
			Status:     "alto",
		}
	}
	m.Seed(companies)
	return m
}

func testChunker() *chunker.Chunker {
	return chunker.New(chunker.Options{MaxChunkTokens: 100000, CharsPerToken: 3.5})
}

func runBatch(t *testing.T, st *store.Memory, sc CompanyScraper, opts Options) *Processor {
	t.Helper()
	p := NewProcessor(st, sc, testChunker(), nil, opts)
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	p.Start(context.Background())
	p.Wait()
	return p
}

func TestBatchProcessesAll(t *testing.T) {
	st := seedStore(40)
	p := runBatch(t, st, &fakeScraper{}, Options{
		WorkerCount: 8, Instances: 2, FlushSize: 10,
		StatusFilter: []string{"alto"}, PageSize: 7,
	})

	if p.Status() != models.BatchCompleted {
		t.Fatalf("status = %s, want completed", p.Status())
	}
	doc := p.StatusDoc()
	if doc.Processed != 40 || doc.SuccessCount != 40 {
		t.Errorf("processed=%d success=%d, want 40/40", doc.Processed, doc.SuccessCount)
	}
	if doc.BufferSize != 0 {
		t.Errorf("buffer size = %d after completion, want 0", doc.BufferSize)
	}
	if doc.FlushesDone < 1 {
		t.Error("no flushes recorded")
	}
	if len(st.Chunks()) != 40 {
		t.Errorf("chunk records = %d, want 40", len(st.Chunks()))
	}

	// No duplicate rows per company.
	perCNPJ := map[string]int{}
	for _, ch := range st.Chunks() {
		perCNPJ[ch.CNPJ]++
	}
	for cnpj, n := range perCNPJ {
		if n != 1 {
			t.Errorf("company %s has %d chunk rows, want 1", cnpj, n)
		}
	}
}

func TestBatchRespectsLimit(t *testing.T) {
	st := seedStore(50)
	p := runBatch(t, st, &fakeScraper{}, Options{
		WorkerCount: 4, Instances: 2, FlushSize: 100,
		StatusFilter: []string{"alto"}, Limit: 12, PageSize: 5,
	})

	if doc := p.StatusDoc(); doc.Processed != 12 {
		t.Errorf("processed = %d, want limit 12", doc.Processed)
	}
}

func TestBatchErrorAccounting(t *testing.T) {
	st := seedStore(30)
	p := runBatch(t, st, &fakeScraper{failEvery: 3}, Options{
		WorkerCount: 3, Instances: 1, FlushSize: 10,
		StatusFilter: []string{"alto"},
	})

	doc := p.StatusDoc()
	if doc.ErrorCount != 10 {
		t.Errorf("errors = %d, want 10", doc.ErrorCount)
	}
	if doc.ErrorBreakdown["timeout"] != 10 {
		t.Errorf("timeout breakdown = %d, want 10", doc.ErrorBreakdown["timeout"])
	}
	if doc.SuccessRatePct < 66 || doc.SuccessRatePct > 67 {
		t.Errorf("success rate = %.1f, want ~66.7", doc.SuccessRatePct)
	}
	if len(doc.LastErrors) == 0 || len(doc.LastErrors) > 10 {
		t.Errorf("last errors = %d entries", len(doc.LastErrors))
	}
	if doc.ProcessingTimeMs.P50 <= 0 {
		t.Error("latency percentiles missing")
	}

	// Failed companies get an outcome row but no chunk rows.
	outcomes := st.Outcomes()
	failed := 0
	for _, o := range outcomes {
		if !o.Success {
			failed++
			if o.FailReason != "timeout" {
				t.Errorf("fail reason = %s", o.FailReason)
			}
		}
	}
	if failed != 10 {
		t.Errorf("failed outcomes = %d, want 10", failed)
	}
}

func TestBatchCancelDrains(t *testing.T) {
	st := seedStore(500)
	slow := &fakeScraper{delay: 5 * time.Millisecond}
	p := NewProcessor(st, slow, testChunker(), nil, Options{
		WorkerCount: 20, Instances: 5, FlushSize: 50,
		StatusFilter: []string{"alto"},
	})
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	p.Start(context.Background())

	// Let some work happen, then cancel.
	for p.StatusDoc().Processed < 30 {
		time.Sleep(5 * time.Millisecond)
	}
	p.Cancel()
	p.Wait()

	doc := p.StatusDoc()
	if doc.Status != models.BatchCancelled {
		t.Fatalf("status = %s, want cancelled", doc.Status)
	}
	if doc.BufferSize != 0 {
		t.Errorf("buffer size = %d after cancel, want 0 (drained)", doc.BufferSize)
	}
	if doc.Processed >= 500 {
		t.Error("cancel did not stop the batch early")
	}
	// Everything processed made it to persistence exactly once.
	perCNPJ := map[string]int{}
	for _, ch := range st.Chunks() {
		perCNPJ[ch.CNPJ]++
	}
	for cnpj, n := range perCNPJ {
		if n != 1 {
			t.Errorf("company %s has %d chunk rows after cancel", cnpj, n)
		}
	}
}

func TestBatchFlushRetriesOnce(t *testing.T) {
	st := seedStore(20)
	st.FailNextInsert()
	p := runBatch(t, st, &fakeScraper{}, Options{
		WorkerCount: 4, Instances: 1, FlushSize: 5,
		StatusFilter: []string{"alto"},
	})

	if p.Status() != models.BatchCompleted {
		t.Fatalf("status = %s", p.Status())
	}
	if len(st.Chunks()) != 20 {
		t.Errorf("chunks = %d, want 20 (failed flush retried)", len(st.Chunks()))
	}
}

func TestBatchInstancePartitioning(t *testing.T) {
	st := seedStore(60)
	p := runBatch(t, st, &fakeScraper{}, Options{
		WorkerCount: 12, Instances: 4, FlushSize: 100,
		StatusFilter: []string{"alto"},
	})

	doc := p.StatusDoc()
	if len(doc.Instances) != 4 {
		t.Fatalf("instances = %d, want 4", len(doc.Instances))
	}
	sum := 0
	for _, inst := range doc.Instances {
		if inst.Processed == 0 {
			t.Errorf("instance %d processed nothing", inst.ID)
		}
		if inst.Status != models.BatchCompleted {
			t.Errorf("instance %d status = %s", inst.ID, inst.Status)
		}
		sum += inst.Processed
	}
	if sum != 60 {
		t.Errorf("instances processed %d total, want 60", sum)
	}
}
