package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/b2bflash/crawler/pkg/models"
)

func seedCompanies(n int) []models.Company {
	out := make([]models.Company, n)
	for i := 0; i < n; i++ {
		out[i] = models.Company{
			ID:         int64(i + 1),
			CNPJ:       fmt.Sprintf("%08d", i+1),
			WebsiteURL: fmt.Sprintf("http://c%d.example", i+1),
			Status:     "alto",
		}
	}
	return out
}

func TestCursorPaginationVisitsEachRowOnce(t *testing.T) {
	m := NewMemory()
	m.Seed(seedCompanies(57))
	ctx := context.Background()

	seen := make(map[int64]int)
	var afterID int64
	for {
		page, err := m.ListPending(ctx, []string{"alto"}, afterID, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(page) == 0 {
			break
		}
		for _, c := range page {
			seen[c.ID]++
			if c.ID <= afterID {
				t.Fatalf("row %d returned out of cursor order (after %d)", c.ID, afterID)
			}
		}
		afterID = page[len(page)-1].ID
	}

	if len(seen) != 57 {
		t.Errorf("visited %d rows, want 57", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("row %d visited %d times", id, n)
		}
	}
}

func TestListPendingSkipsScraped(t *testing.T) {
	m := NewMemory()
	m.Seed(seedCompanies(5))
	ctx := context.Background()

	if _, err := m.BulkInsertChunks(ctx, []models.ChunkRecord{
		{CNPJ: "00000002", ChunkIndex: 0, TotalChunks: 1, Content: "x"},
	}); err != nil {
		t.Fatal(err)
	}

	page, err := m.ListPending(ctx, []string{"alto"}, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 4 {
		t.Errorf("pending = %d, want 4 after one company scraped", len(page))
	}
	for _, c := range page {
		if c.CNPJ == "00000002" {
			t.Error("scraped company still listed as pending")
		}
	}
}

func TestListPendingStatusFilter(t *testing.T) {
	m := NewMemory()
	m.Seed([]models.Company{
		{ID: 1, CNPJ: "a", Status: "alto"},
		{ID: 2, CNPJ: "b", Status: "baixo"},
		{ID: 3, CNPJ: "c", Status: "medio"},
	})

	page, err := m.ListPending(context.Background(), []string{"alto", "medio"}, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 {
		t.Errorf("filtered pending = %d, want 2", len(page))
	}
}

func TestBulkInsertAtomicity(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	records := []models.ChunkRecord{
		{CNPJ: "x", ChunkIndex: 0, TotalChunks: 2, Content: "a"},
		{CNPJ: "x", ChunkIndex: 1, TotalChunks: 2, Content: "b"},
	}

	m.FailNextInsert()
	if _, err := m.BulkInsertChunks(ctx, records); err == nil {
		t.Fatal("expected simulated failure")
	}
	if got := len(m.Chunks()); got != 0 {
		t.Errorf("failed insert left %d visible records, want 0", got)
	}

	n, err := m.BulkInsertChunks(ctx, records)
	if err != nil || n != 2 {
		t.Fatalf("insert after failure: n=%d err=%v", n, err)
	}
	if got := len(m.Chunks()); got != 2 {
		t.Errorf("visible records = %d, want 2", got)
	}
}

func TestCountPending(t *testing.T) {
	m := NewMemory()
	m.Seed(seedCompanies(8))

	n, err := m.CountPending(context.Background(), []string{"alto"})
	if err != nil || n != 8 {
		t.Fatalf("count = %d err=%v, want 8", n, err)
	}
}
