package feeds

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestKEVCatalogJSON(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"vulnerabilities": [
		  {"cveID": "CVE-2026-1111"},
		  {"cveID": "cve-2026-2222"}
		]}`))
	}))
	defer server.Close()

	catalog := NewKEVCatalog([]string{server.URL}, server.Client())

	ids, err := catalog.KnownExploited(context.Background())
	if err != nil {
		t.Fatalf("KnownExploited error: %v", err)
	}

	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}
	if !ids["CVE-2026-2222"] {
		t.Fatal("ids must be uppercased")
	}
}

func TestKEVCatalogCSVFallback(t *testing.T) {
	t.Parallel()

	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path == "/kev.json" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte("vendorProject,product,cveID,dateAdded\nAcme,Gateway,CVE-2026-3333,2026-08-01\n"))
	}))
	defer server.Close()

	catalog := NewKEVCatalog([]string{server.URL + "/kev.json", server.URL + "/kev.csv"}, server.Client())

	ids, err := catalog.KnownExploited(context.Background())
	if err != nil {
		t.Fatalf("KnownExploited error: %v", err)
	}

	if calls != 2 {
		t.Fatalf("expected json then csv attempt, got %d calls", calls)
	}
	if !ids["CVE-2026-3333"] {
		t.Fatalf("missing csv id, got %v", ids)
	}
}

func TestKEVCatalogAllEndpointsDown(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	catalog := NewKEVCatalog([]string{server.URL}, server.Client())

	if _, err := catalog.KnownExploited(context.Background()); err == nil {
		t.Fatal("expected error when every endpoint fails")
	}
}

func TestKEVCatalogCSVWithoutCVEColumn(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte("vendor,product\nAcme,Gateway\n"))
	}))
	defer server.Close()

	catalog := NewKEVCatalog([]string{server.URL}, server.Client())

	if _, err := catalog.KnownExploited(context.Background()); err == nil {
		t.Fatal("expected error for csv without cveID column")
	}
}
