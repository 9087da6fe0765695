package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestFilterDirectories(t *testing.T) {
	candidates := []Candidate{
		{URL: "https://acme.com.br"},
		{URL: "https://www.facebook.com/acme"},
		{URL: "https://cnpj.biz/12345"},
		{URL: "https://acme.ind.br/sobre"},
	}
	out := FilterDirectories(candidates)
	if len(out) != 2 {
		t.Fatalf("filtered = %d, want 2", len(out))
	}
	for _, c := range out {
		if isDirectory(c.URL) {
			t.Errorf("directory survived filter: %s", c.URL)
		}
	}
}

func TestBuildQuery(t *testing.T) {
	if q := BuildQuery("Acme Ltda", "12345678"); q != "Acme Ltda CNPJ 12345678" {
		t.Errorf("query = %q", q)
	}
	if q := BuildQuery("Acme Ltda", ""); q != "Acme Ltda" {
		t.Errorf("query = %q", q)
	}
}

func TestSerperClientParsesAndFilters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-KEY") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"organic":[
			{"title":"Acme","link":"https://acme.com.br","snippet":"official"},
			{"title":"Acme FB","link":"https://facebook.com/acme","snippet":"social"}
		]}`))
	}))
	defer server.Close()

	c := NewSerperClient("test-key", 2*time.Second)
	c.client = server.Client()
	// Point the client at the fake endpoint through a rewriting transport.
	c.client.Transport = rewriteHost(server.URL)

	hits, err := c.Search(context.Background(), "Acme CNPJ 123", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].URL != "https://acme.com.br" {
		t.Errorf("hits = %+v", hits)
	}
}

// rewriteHost sends every request to the test server regardless of URL.
func rewriteHost(target string) http.RoundTripper {
	return roundTripFunc(func(req *http.Request) (*http.Response, error) {
		req2 := req.Clone(req.Context())
		req2.URL.Scheme = "http"
		req2.URL.Host = strings.TrimPrefix(target, "http://")
		return http.DefaultTransport.RoundTrip(req2)
	})
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestLLMGateBoundsConcurrency(t *testing.T) {
	g := NewLLMGate(3, 0)

	var (
		mu      sync.Mutex
		active  int
		peak    int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := g.Acquire(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()

			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	if peak > 3 {
		t.Errorf("peak concurrent = %d, limit 3", peak)
	}
	if g.InUse() != 0 {
		t.Errorf("in use = %d after release, want 0", g.InUse())
	}
}
