package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/b2bflash/crawler/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Postgres implements Store over a pgx connection pool. Bulk inserts use the
// CopyFrom protocol inside a transaction for all-or-nothing semantics.
type Postgres struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgres connects a pool and verifies it with a ping.
func NewPostgres(ctx context.Context, databaseURL, schema string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	cfg.MaxConns = 20

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if schema == "" {
		schema = "public"
	}
	log.Info().Str("schema", schema).Msg("Postgres store connected")
	return &Postgres{pool: pool, schema: schema}, nil
}

func (p *Postgres) CountPending(ctx context.Context, statusFilter []string) (int, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM %q.website_discovery wd
		WHERE wd.discovery_status = ANY($1)
		  AND wd.website_url IS NOT NULL
		  AND NOT EXISTS (
		    SELECT 1 FROM %q.scraped_chunks sc
		    WHERE sc.cnpj_basico = wd.cnpj_basico
		  )`, p.schema, p.schema)

	var n int
	if err := p.pool.QueryRow(ctx, query, statusFilter).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting pending companies: %w", err)
	}
	return n, nil
}

func (p *Postgres) ListPending(ctx context.Context, statusFilter []string, afterID int64, limit int) ([]models.Company, error) {
	query := fmt.Sprintf(`
		SELECT wd.id, wd.cnpj_basico, wd.website_url, wd.discovery_status
		FROM %q.website_discovery wd
		WHERE wd.discovery_status = ANY($1)
		  AND wd.website_url IS NOT NULL
		  AND wd.id > $2
		  AND NOT EXISTS (
		    SELECT 1 FROM %q.scraped_chunks sc
		    WHERE sc.cnpj_basico = wd.cnpj_basico
		  )
		ORDER BY wd.id
		LIMIT $3`, p.schema, p.schema)

	rows, err := p.pool.Query(ctx, query, statusFilter, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending companies: %w", err)
	}
	defer rows.Close()

	var out []models.Company
	for rows.Next() {
		var c models.Company
		if err := rows.Scan(&c.ID, &c.CNPJ, &c.WebsiteURL, &c.Status); err != nil {
			return nil, fmt.Errorf("scanning company row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) BulkInsertChunks(ctx context.Context, records []models.ChunkRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning bulk insert: %w", err)
	}
	defer tx.Rollback(ctx)

	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{
			r.CNPJ, r.DiscoveryID, r.WebsiteURL, r.ChunkIndex, r.TotalChunks,
			r.Content, r.TokenCount, r.PageSource, nullable(r.Error),
		}
	}

	n, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{p.schema, "scraped_chunks"},
		[]string{
			"cnpj_basico", "discovery_id", "website_url", "chunk_index",
			"total_chunks", "chunk_content", "token_count", "page_source", "error",
		},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("copying chunk records: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing bulk insert: %w", err)
	}

	log.Info().Int64("records", n).Msg("Bulk insert committed")
	return int(n), nil
}

func (p *Postgres) SaveScrapeOutcome(ctx context.Context, cnpj string, outcome models.ScrapeOutcome) error {
	query := fmt.Sprintf(`
		INSERT INTO %q.scrape_outcomes
			(cnpj_basico, success, pages, chunks, fail_reason, duration_ms, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (cnpj_basico) DO UPDATE SET
			success = EXCLUDED.success,
			pages = EXCLUDED.pages,
			chunks = EXCLUDED.chunks,
			fail_reason = EXCLUDED.fail_reason,
			duration_ms = EXCLUDED.duration_ms,
			completed_at = EXCLUDED.completed_at`, p.schema)

	_, err := p.pool.Exec(ctx, query,
		cnpj, outcome.Success, outcome.Pages, outcome.Chunks,
		nullable(outcome.FailReason), outcome.DurationMs, outcome.CompletedAt)
	if err != nil {
		return fmt.Errorf("saving scrape outcome for %s: %w", cnpj, err)
	}
	return nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func nullable(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
