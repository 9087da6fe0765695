package server

import (
	"context"
	"net/http"
	"time"

	"github.com/b2bflash/crawler/internal/batch"
	"github.com/b2bflash/crawler/internal/config"
	"github.com/b2bflash/crawler/internal/jobs"
	"github.com/b2bflash/crawler/pkg/models"
	"github.com/go-mizu/mizu"
	"github.com/rs/zerolog/log"
)

// BatchRequest is the start-batch payload.
type BatchRequest struct {
	Limit        int      `json:"limit"`
	WorkerCount  int      `json:"worker_count"`
	FlushSize    int      `json:"flush_size"`
	Instances    int      `json:"instances"`
	StatusFilter []string `json:"status_filter"`
}

// BatchResponse acknowledges a started batch.
type BatchResponse struct {
	Success        bool   `json:"success"`
	BatchID        string `json:"batch_id"`
	TotalCompanies int    `json:"total_companies"`
	WorkerCount    int    `json:"worker_count"`
	FlushSize      int    `json:"flush_size"`
	Instances      int    `json:"instances"`
	Message        string `json:"message"`
}

func (s *Server) handleStartBatch(c *mizu.Ctx) error {
	var req BatchRequest
	if err := c.BindJSON(&req, 0); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"success": false, "error": "invalid request body"})
	}

	if req.WorkerCount <= 0 {
		req.WorkerCount = config.DefaultWorkerCount
	}
	if req.FlushSize <= 0 {
		req.FlushSize = config.DefaultFlushSize
	}
	if req.Instances <= 0 {
		req.Instances = config.DefaultInstances
	}
	if len(req.StatusFilter) == 0 {
		req.StatusFilter = config.DefaultStatusFilter
	}
	if req.WorkerCount > config.MaxWorkerCount || req.FlushSize > config.MaxFlushSize || req.Instances > config.MaxInstances {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "worker_count, flush_size, or instances above the allowed maximum",
		})
	}

	p, err := s.app.StartBatch(c.Context(), batch.Options{
		WorkerCount:  req.WorkerCount,
		FlushSize:    req.FlushSize,
		Instances:    req.Instances,
		StatusFilter: req.StatusFilter,
		Limit:        req.Limit,
	})
	if err != nil {
		if existing := s.app.ActiveBatch(); existing != nil && existing.Status() == models.BatchRunning {
			return c.JSON(http.StatusConflict, map[string]any{
				"success": false,
				"error":   err.Error(),
			})
		}
		return c.JSON(http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
	}

	return c.JSON(http.StatusOK, BatchResponse{
		Success:        true,
		BatchID:        p.ID(),
		TotalCompanies: p.Total(),
		WorkerCount:    req.WorkerCount,
		FlushSize:      req.FlushSize,
		Instances:      req.Instances,
		Message:        "batch " + p.ID() + " started",
	})
}

func (s *Server) handleBatchStatus(c *mizu.Ctx) error {
	b := s.app.ActiveBatch()
	if b == nil {
		return c.JSON(http.StatusNotFound, map[string]any{"error": "no batch has been started"})
	}
	return c.JSON(http.StatusOK, b.StatusDoc())
}

func (s *Server) handleCancelBatch(c *mizu.Ctx) error {
	b := s.app.ActiveBatch()
	if b == nil || b.Status() != models.BatchRunning {
		return c.JSON(http.StatusNotFound, map[string]any{"success": false, "error": "no batch running"})
	}
	b.Cancel()
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "batch " + b.ID() + " cancelled; buffer will drain",
	})
}

// AcceptRequest is the single-company payload. website_url may be omitted
// when discovery is configured; the company's official site is then found
// via the search provider before scraping.
type AcceptRequest struct {
	CNPJ        string `json:"cnpj"`
	WebsiteURL  string `json:"website_url"`
	CompanyName string `json:"company_name"`
}

func (s *Server) handleAcceptCompany(c *mizu.Ctx) error {
	var req AcceptRequest
	if err := c.BindJSON(&req, 0); err != nil || req.CNPJ == "" {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "cnpj is required",
		})
	}
	if req.WebsiteURL == "" && s.app.Discovery == nil {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "website_url is required when no search provider is configured",
		})
	}

	job := jobs.Job{
		ID: req.CNPJ,
		Run: func(ctx context.Context) {
			url := req.WebsiteURL
			if url == "" {
				found, err := s.app.Discovery.FindSite(ctx, req.CNPJ, req.CompanyName)
				if err != nil || found == "" {
					if err != nil {
						log.Warn().Err(err).Str("cnpj", req.CNPJ).Msg("Site discovery failed")
					}
					s.saveFailedOutcome(ctx, req.CNPJ, "no_website")
					return
				}
				url = found
			}
			s.processCompany(ctx, req.CNPJ, url)
		},
	}
	if err := s.app.Jobs.Enqueue(job); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "company queued for scraping",
		"status":  "accepted",
	})
}

// saveFailedOutcome records a terminal failure that happened before any
// scrape could run.
func (s *Server) saveFailedOutcome(ctx context.Context, cnpj, reason string) {
	outcome := models.ScrapeOutcome{
		CNPJ:        cnpj,
		Success:     false,
		FailReason:  reason,
		CompletedAt: time.Now(),
	}
	if err := s.app.Store.SaveScrapeOutcome(ctx, cnpj, outcome); err != nil {
		log.Warn().Err(err).Str("cnpj", cnpj).Msg("Failed to save outcome")
	}
}

// processCompany runs the scrape+chunk+persist pipeline for one accepted
// company outside any batch.
func (s *Server) processCompany(ctx context.Context, cnpj, websiteURL string) {
	start := time.Now()
	result := s.app.Scraper.Scrape(ctx, websiteURL)
	pages := result.SuccessfulPages()

	var records []models.ChunkRecord
	if result.MainPageOK && len(pages) > 0 {
		for _, ch := range s.app.Chunker.ChunkPages(pages) {
			records = append(records, models.ChunkRecord{
				CNPJ:        cnpj,
				WebsiteURL:  websiteURL,
				ChunkIndex:  ch.Index,
				TotalChunks: ch.TotalChunks,
				Content:     ch.Content,
				TokenCount:  ch.TokenCount,
				PageSource:  pageSources(ch.PagesIncluded),
			})
		}
		if _, err := s.app.Store.BulkInsertChunks(ctx, records); err != nil {
			log.Error().Err(err).Str("cnpj", cnpj).Msg("Failed to persist chunks")
		}
	}

	outcome := models.ScrapeOutcome{
		CNPJ:        cnpj,
		Success:     result.MainPageOK,
		Pages:       len(pages),
		Chunks:      len(records),
		FailReason:  result.MainPageFailReason,
		DurationMs:  float64(time.Since(start).Microseconds()) / 1000.0,
		CompletedAt: time.Now(),
	}
	if err := s.app.Store.SaveScrapeOutcome(ctx, cnpj, outcome); err != nil {
		log.Warn().Err(err).Str("cnpj", cnpj).Msg("Failed to save outcome")
	}
}

// handleHealth delegates liveness to mizu's ReadyzHandler, which reports
// 503 once shutdown begins, and adds the job-queue depth while healthy.
func (s *Server) handleHealth(c *mizu.Ctx) error {
	probe := &healthProbe{code: http.StatusOK}
	s.mizu.ReadyzHandler().ServeHTTP(probe, c.Request())
	if probe.code != http.StatusOK {
		return c.JSON(probe.code, map[string]any{"status": "shutting_down"})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ok",
		"queue_depth": s.app.Jobs.Depth(),
	})
}

// healthProbe captures only the status code ReadyzHandler writes.
type healthProbe struct {
	code   int
	header http.Header
}

func (p *healthProbe) Header() http.Header {
	if p.header == nil {
		p.header = http.Header{}
	}
	return p.header
}

func (p *healthProbe) Write(b []byte) (int, error) { return len(b), nil }
func (p *healthProbe) WriteHeader(code int)        { p.code = code }

func pageSources(urls []string) string {
	out := ""
	for i, u := range urls {
		if i > 0 {
			out += ";"
		}
		out += u
	}
	return out
}
