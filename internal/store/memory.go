package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/b2bflash/crawler/pkg/models"
)

// Memory is the in-memory Store used by tests and --store=memory runs.
type Memory struct {
	mu        sync.Mutex
	companies []models.Company
	chunks    []models.ChunkRecord
	outcomes  map[string]models.ScrapeOutcome

	failNextInsert bool
	inserts        int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{outcomes: make(map[string]models.ScrapeOutcome)}
}

// Seed loads companies for a test run.
func (m *Memory) Seed(companies []models.Company) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.companies = append(m.companies, companies...)
	sort.Slice(m.companies, func(i, j int) bool { return m.companies[i].ID < m.companies[j].ID })
}

// FailNextInsert makes the next BulkInsertChunks call fail, for atomicity tests.
func (m *Memory) FailNextInsert() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNextInsert = true
}

func (m *Memory) CountPending(_ context.Context, statusFilter []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	scraped := m.scrapedSet()
	n := 0
	for _, c := range m.companies {
		if matchStatus(c.Status, statusFilter) && !scraped[c.CNPJ] {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListPending(_ context.Context, statusFilter []string, afterID int64, limit int) ([]models.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	scraped := m.scrapedSet()
	var out []models.Company
	for _, c := range m.companies {
		if c.ID <= afterID {
			continue
		}
		if !matchStatus(c.Status, statusFilter) || scraped[c.CNPJ] {
			continue
		}
		out = append(out, c)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) BulkInsertChunks(_ context.Context, records []models.ChunkRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failNextInsert {
		m.failNextInsert = false
		return 0, errors.New("simulated bulk insert failure")
	}
	// All-or-nothing by construction: records only land after the check.
	m.chunks = append(m.chunks, records...)
	m.inserts++
	return len(records), nil
}

func (m *Memory) SaveScrapeOutcome(_ context.Context, cnpj string, outcome models.ScrapeOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[cnpj] = outcome
	return nil
}

func (m *Memory) Close() {}

// Chunks returns a copy of everything inserted so far.
func (m *Memory) Chunks() []models.ChunkRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ChunkRecord, len(m.chunks))
	copy(out, m.chunks)
	return out
}

// Inserts returns how many bulk inserts have committed.
func (m *Memory) Inserts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inserts
}

// Outcomes returns a copy of the recorded outcomes.
func (m *Memory) Outcomes() map[string]models.ScrapeOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]models.ScrapeOutcome, len(m.outcomes))
	for k, v := range m.outcomes {
		out[k] = v
	}
	return out
}

// caller holds the lock
func (m *Memory) scrapedSet() map[string]bool {
	scraped := make(map[string]bool)
	for _, ch := range m.chunks {
		scraped[ch.CNPJ] = true
	}
	return scraped
}

func matchStatus(status string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == status {
			return true
		}
	}
	return false
}
