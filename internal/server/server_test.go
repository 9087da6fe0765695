package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/b2bflash/crawler/internal/app"
	"github.com/b2bflash/crawler/internal/config"
	"github.com/b2bflash/crawler/internal/discovery"
	"github.com/b2bflash/crawler/internal/store"
	"github.com/b2bflash/crawler/pkg/models"
)

func testConfig() *config.Config {
	return &config.Config{
		LogLevel:              "error",
		JSONLog:               true,
		GracePeriod:           5 * time.Second,
		GlobalConcurrency:     100,
		PerDomainConcurrency:  10,
		SlowDomainConcurrency: 5,
		AcquireTimeout:        2 * time.Second,
		SlowRestoreSuccesses:  5,
		FailureThreshold:      12,
		RecoveryTimeout:       30 * time.Second,
		HalfOpenTests:         3,
		ProbeTimeout:          2 * time.Second,
		ProbeAttempts:         1,
		MaxLinks:              50,
		MaxSubpages:           5,
		MinContentChars:       100,
		DomainRPS:             1000,
		DomainBurst:           1000,
		TextFormat:            "text",
		MaxChunkTokens:        100000,
		CharsPerToken:         3.5,
		StoreKind:             "memory",
		JobQueueSize:          16,
		JobQueueWorkers:       2,
		LLMMaxConcurrent:      10,
		LLMTimeout:            time.Minute,
	}
}

func newTestServer(t *testing.T) (*Server, *app.Application) {
	t.Helper()
	a, err := app.New(context.Background(), testConfig())
	if err != nil {
		t.Fatal(err)
	}
	return New(a), a
}

// contentSite serves pages with enough text to pass the content threshold.
func contentSite() *httptest.Server {
	filler := strings.Repeat("Words about products and services offered by this company. ", 20)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "<html><body><p>%s</p></body></html>", filler)
	}))
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestStatusWithoutBatch(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v2/scrape/batch/status", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestCancelWithoutBatch(t *testing.T) {
	s, _ := newTestServer(t)
	rr := postJSON(t, s.Handler(), "/v2/scrape/batch/cancel", map[string]any{})
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestBatchLifecycleOverHTTP(t *testing.T) {
	s, a := newTestServer(t)
	site := contentSite()
	defer site.Close()

	mem := a.Store.(*store.Memory)
	companies := make([]models.Company, 20)
	for i := range companies {
		companies[i] = models.Company{
			ID:         int64(i + 1),
			CNPJ:       fmt.Sprintf("%08d", i+1),
			WebsiteURL: site.URL + fmt.Sprintf("/c%d", i+1),
			Status:     "alto",
		}
	}
	mem.Seed(companies)

	rr := postJSON(t, s.Handler(), "/v2/scrape/batch", BatchRequest{
		WorkerCount: 4, FlushSize: 5, Instances: 2, StatusFilter: []string{"alto"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("start status = %d: %s", rr.Code, rr.Body.String())
	}
	var started BatchResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &started); err != nil {
		t.Fatal(err)
	}
	if !started.Success || started.BatchID == "" || started.TotalCompanies != 20 {
		t.Fatalf("start response = %+v", started)
	}

	// Second start while running (or just finished) either conflicts or the
	// batch already completed; poll status until terminal.
	deadline := time.Now().Add(15 * time.Second)
	var doc map[string]any
	for time.Now().Before(deadline) {
		req := httptest.NewRequest(http.MethodGet, "/v2/scrape/batch/status", nil)
		srr := httptest.NewRecorder()
		s.Handler().ServeHTTP(srr, req)
		if srr.Code != http.StatusOK {
			t.Fatalf("status code = %d", srr.Code)
		}
		if err := json.Unmarshal(srr.Body.Bytes(), &doc); err != nil {
			t.Fatal(err)
		}
		if doc["status"] == models.BatchCompleted {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if doc["status"] != models.BatchCompleted {
		t.Fatalf("batch did not complete: %v", doc["status"])
	}
	if doc["processed"].(float64) != 20 {
		t.Errorf("processed = %v, want 20", doc["processed"])
	}
	if len(mem.Chunks()) == 0 {
		t.Error("no chunks persisted")
	}
}

func TestSecondBatchConflicts(t *testing.T) {
	s, a := newTestServer(t)
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		fmt.Fprintf(w, "<html><body>%s</body></html>", strings.Repeat("text ", 100))
	}))
	defer slow.Close()

	mem := a.Store.(*store.Memory)
	companies := make([]models.Company, 50)
	for i := range companies {
		companies[i] = models.Company{
			ID: int64(i + 1), CNPJ: fmt.Sprintf("%08d", i+1),
			WebsiteURL: slow.URL + fmt.Sprintf("/c%d", i+1), Status: "alto",
		}
	}
	mem.Seed(companies)

	if rr := postJSON(t, s.Handler(), "/v2/scrape/batch", BatchRequest{
		WorkerCount: 2, FlushSize: 100, Instances: 1, StatusFilter: []string{"alto"},
	}); rr.Code != http.StatusOK {
		t.Fatalf("first start = %d", rr.Code)
	}

	rr := postJSON(t, s.Handler(), "/v2/scrape/batch", BatchRequest{
		WorkerCount: 2, FlushSize: 100, Instances: 1, StatusFilter: []string{"alto"},
	})
	if rr.Code != http.StatusConflict {
		t.Errorf("second start = %d, want 409", rr.Code)
	}

	// Cancel drains and frees the slot.
	if rr := postJSON(t, s.Handler(), "/v2/scrape/batch/cancel", nil); rr.Code != http.StatusOK {
		t.Errorf("cancel = %d", rr.Code)
	}
	a.ActiveBatch().Wait()
	if st := a.ActiveBatch().Status(); st != models.BatchCancelled {
		t.Errorf("status after cancel = %s", st)
	}
}

func TestAcceptCompany(t *testing.T) {
	s, a := newTestServer(t)
	site := contentSite()
	defer site.Close()

	rr := postJSON(t, s.Handler(), "/v2/scrape", AcceptRequest{
		CNPJ: "11222333", WebsiteURL: site.URL + "/",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("accept = %d: %s", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["status"] != "accepted" {
		t.Errorf("response = %v", resp)
	}

	// Synchronize on the queue instead of sleeping blindly.
	if err := a.Jobs.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}

	mem := a.Store.(*store.Memory)
	if len(mem.Chunks()) == 0 {
		t.Error("accepted company produced no chunks")
	}
	if _, ok := mem.Outcomes()["11222333"]; !ok {
		t.Error("no outcome recorded")
	}
}

func TestAcceptValidation(t *testing.T) {
	s, _ := newTestServer(t)

	// No CNPJ at all.
	rr := postJSON(t, s.Handler(), "/v2/scrape", AcceptRequest{WebsiteURL: "http://x.example"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d without cnpj, want 400", rr.Code)
	}

	// No URL and no search provider configured.
	rr = postJSON(t, s.Handler(), "/v2/scrape", AcceptRequest{CNPJ: "123"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d without url or discovery, want 400", rr.Code)
	}
}

type fakeSearchProvider struct {
	candidates []discovery.Candidate
}

func (f *fakeSearchProvider) Search(context.Context, string, int) ([]discovery.Candidate, error) {
	return f.candidates, nil
}

func TestAcceptCompanyViaDiscovery(t *testing.T) {
	s, a := newTestServer(t)
	site := contentSite()
	defer site.Close()

	a.Discovery = discovery.NewService(
		&fakeSearchProvider{candidates: []discovery.Candidate{{URL: site.URL + "/"}}},
		discovery.NewHeuristicPicker(),
		discovery.NewLLMGate(2, 0),
		time.Minute,
	)

	rr := postJSON(t, s.Handler(), "/v2/scrape", AcceptRequest{
		CNPJ: "99887766", CompanyName: "Acme Ltda",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("accept = %d: %s", rr.Code, rr.Body.String())
	}

	if err := a.Jobs.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}

	mem := a.Store.(*store.Memory)
	if len(mem.Chunks()) == 0 {
		t.Error("discovered company produced no chunks")
	}
	outcome, ok := mem.Outcomes()["99887766"]
	if !ok || !outcome.Success {
		t.Errorf("outcome = %+v", outcome)
	}
}

func TestAcceptCompanyDiscoveryFindsNothing(t *testing.T) {
	s, a := newTestServer(t)
	a.Discovery = discovery.NewService(
		&fakeSearchProvider{},
		discovery.NewHeuristicPicker(),
		nil,
		time.Minute,
	)

	rr := postJSON(t, s.Handler(), "/v2/scrape", AcceptRequest{CNPJ: "55667788", CompanyName: "Fantasma SA"})
	if rr.Code != http.StatusOK {
		t.Fatalf("accept = %d", rr.Code)
	}
	if err := a.Jobs.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}

	mem := a.Store.(*store.Memory)
	outcome, ok := mem.Outcomes()["55667788"]
	if !ok || outcome.Success || outcome.FailReason != "no_website" {
		t.Errorf("outcome = %+v", outcome)
	}
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("health = %d", rr.Code)
	}
	var body map[string]any
	json.Unmarshal(rr.Body.Bytes(), &body)
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}
