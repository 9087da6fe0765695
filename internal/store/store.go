package store

import (
	"context"

	"github.com/b2bflash/crawler/pkg/models"
)

// Store is the persistence surface the engine requires. The batch processor
// paginates pending companies with a cursor (id > afterID), never offsets,
// and writes chunks through all-or-nothing bulk inserts.
type Store interface {
	// CountPending returns how many companies match the filter and have not
	// been scraped yet. Used for progress display only; the work path
	// iterates with ListPending.
	CountPending(ctx context.Context, statusFilter []string) (int, error)

	// ListPending returns up to limit companies with id > afterID, in id
	// order, matching the filter and not already scraped.
	ListPending(ctx context.Context, statusFilter []string, afterID int64, limit int) ([]models.Company, error)

	// BulkInsertChunks writes all records in one transaction. Either every
	// record becomes visible or none does.
	BulkInsertChunks(ctx context.Context, records []models.ChunkRecord) (int, error)

	// SaveScrapeOutcome records the terminal state of one company's scrape.
	SaveScrapeOutcome(ctx context.Context, cnpj string, outcome models.ScrapeOutcome) error

	// Close releases connections.
	Close()
}
