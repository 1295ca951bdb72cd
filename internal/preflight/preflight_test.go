package preflight

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"whisperd/internal/testsupport"
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

func TestCheckAPIBind(t *testing.T) {
	if result := CheckAPIBind(context.Background(), "127.0.0.1:0"); !result.Passed {
		t.Fatalf("expected free port to pass, got: %s", result.Detail)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	result := CheckAPIBind(context.Background(), ln.Addr().String())
	if result.Passed {
		t.Fatal("expected occupied port to fail")
	}

	if result := CheckAPIBind(context.Background(), ""); result.Passed {
		t.Fatal("expected empty bind to fail")
	}
}

func TestCheckHFToken(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Engine.HFToken = ""
	if result := CheckHFToken(cfg); !result.Passed || result.Detail == "Configured" {
		t.Fatalf("unexpected result without token: %#v", result)
	}
	cfg.Engine.HFToken = "hf_secret"
	if result := CheckHFToken(cfg); result.Detail != "Configured" {
		t.Fatalf("unexpected result with token: %#v", result)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_MissingDirectories(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	failed := Failed(RunAll(context.Background(), cfg))
	if len(failed) != 2 {
		t.Fatalf("expected cache and log directory failures, got %#v", failed)
	}
}

func TestRunAll_ReadyConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	results := RunAll(context.Background(), cfg)
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	for _, r := range results {
		if !r.Passed {
			t.Errorf("check %q failed: %s", r.Name, r.Detail)
		}
	}
}

func TestCheckSystemDeps(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())

	statuses := CheckSystemDeps(context.Background(), cfg)
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	for _, s := range statuses {
		if !s.Available {
			t.Errorf("expected %s to resolve from stub PATH: %s", s.Name, s.Detail)
		}
	}
}
