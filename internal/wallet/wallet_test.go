package wallet

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestFileResolver(t *testing.T) {
	dir := t.TempDir()

	desc, err := FileResolver{}.Resolve(context.Background(), dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if desc.Dir != dir {
		t.Errorf("got dir %q, want %q", desc.Dir, dir)
	}
}

func TestFileResolverMissing(t *testing.T) {
	if _, err := (FileResolver{}).Resolve(context.Background(), "/does/not/exist"); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestFileResolverNotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "wallet.zip")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := (FileResolver{}).Resolve(context.Background(), file); err == nil {
		t.Fatal("expected error for non-directory location")
	}
}

// A bare fetched object is staged under the name database backends expect.
func TestHTTPResolverStagesRootCert(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("cert-bytes"))
	}))
	defer srv.Close()

	r := NewHTTPResolver(zap.NewNop())
	desc, err := r.Resolve(context.Background(), srv.URL+"/bucket/ca.pem")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer os.RemoveAll(desc.Dir)

	data, err := os.ReadFile(filepath.Join(desc.Dir, "root.crt"))
	if err != nil {
		t.Fatalf("read staged wallet: %v", err)
	}
	if string(data) != "cert-bytes" {
		t.Errorf("staged content = %q", data)
	}
}

// A zip bundle is unpacked so its certificate files land in the wallet
// directory directly.
func TestHTTPResolverUnpacksZipBundle(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range map[string]string{
		"wallet/root.crt":     "root-cert",
		"wallet/tnsnames.ora": "tns-config",
	} {
		f, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create zip entry: %v", err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("write zip entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	r := NewHTTPResolver(zap.NewNop())
	desc, err := r.Resolve(context.Background(), srv.URL+"/bucket/wallet.zip")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer os.RemoveAll(desc.Dir)

	data, err := os.ReadFile(filepath.Join(desc.Dir, "root.crt"))
	if err != nil {
		t.Fatalf("read extracted root.crt: %v", err)
	}
	if string(data) != "root-cert" {
		t.Errorf("extracted content = %q", data)
	}
	if _, err := os.Stat(filepath.Join(desc.Dir, "tnsnames.ora")); err != nil {
		t.Errorf("expected tnsnames.ora alongside root.crt: %v", err)
	}
}

func TestHTTPResolverRejectsBadZip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not a zip"))
	}))
	defer srv.Close()

	r := NewHTTPResolver(zap.NewNop())
	if _, err := r.Resolve(context.Background(), srv.URL+"/bucket/wallet.zip"); err == nil {
		t.Fatal("expected error for a corrupt archive")
	}
}

func TestHTTPResolverErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	r := NewHTTPResolver(zap.NewNop())
	if _, err := r.Resolve(context.Background(), srv.URL+"/missing"); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestNewResolverScheme(t *testing.T) {
	logger := zap.NewNop()
	if _, ok := NewResolver("https://bucket/wallet.zip", logger).(*HTTPResolver); !ok {
		t.Error("https location must pick the HTTP resolver")
	}
	if _, ok := NewResolver("/data/wallet", logger).(FileResolver); !ok {
		t.Error("local path must pick the file resolver")
	}
}
