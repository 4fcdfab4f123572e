package preflight

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"fieldsync/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckCollector_Reachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithCollectorURL(srv.URL+"/reports"))
	result := CheckCollector(context.Background(), cfg)
	if !result.Passed {
		t.Fatalf("expected collector reachable, got: %s", result.Detail)
	}
}

func TestCheckCollector_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithCollectorURL("http://"+addr+"/reports"))
	result := CheckCollector(context.Background(), cfg)
	if result.Passed {
		t.Fatal("expected failure for closed port")
	}
}

func TestCheckNtfy_OK(t *testing.T) {
	methods := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods <- r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	result := CheckNtfy(context.Background(), srv.URL+"/fieldsync", 0)
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	if method := <-methods; method != http.MethodHead {
		t.Fatalf("expected HEAD request, got %s", method)
	}
}

func TestCheckNtfy_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if result := CheckNtfy(context.Background(), srv.URL+"/fieldsync", 0); result.Passed {
		t.Fatal("expected failure for 502")
	}
}

func TestCheckDatabase(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.MustEnqueue(t, store, testsupport.Payload("one"))

	result, health := CheckDatabase(context.Background(), store)
	if !result.Passed {
		t.Fatalf("expected healthy database, got: %s", result.Detail)
	}
	if health.PendingReports != 1 {
		t.Fatalf("expected 1 pending report, got %d", health.PendingReports)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil); results != nil {
		t.Fatalf("expected nil results, got %v", results)
	}
}

func TestRunAll_IncludesSpoolWhenEnabled(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithSpool())
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	results := RunAll(context.Background(), cfg)
	names := map[string]bool{}
	for _, r := range results {
		names[r.Name] = true
	}
	for _, want := range []string{"State directory", "Spool directory", "Collector"} {
		if !names[want] {
			t.Fatalf("expected %q check, got %+v", want, results)
		}
	}
	if names["ntfy"] {
		t.Fatal("ntfy check should be skipped without a topic")
	}
	for _, r := range Failed(results) {
		if r.Name != "Collector" {
			t.Fatalf("unexpected failed check %+v", r)
		}
	}
}
