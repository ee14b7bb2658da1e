package wallet

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Descriptor points at locally readable database connection material.
// The provisioning core treats it as opaque; backends decide what, if
// anything, they need from it.
type Descriptor struct {
	// Dir is a directory containing wallet files (certificates, tns config).
	Dir string
}

// Resolver turns a wallet location into a Descriptor. Locations may be local
// directories or object-store URLs.
type Resolver interface {
	Resolve(ctx context.Context, location string) (Descriptor, error)
}

// FileResolver resolves a wallet from a local directory.
type FileResolver struct{}

// Resolve verifies the location exists and is a directory.
func (FileResolver) Resolve(ctx context.Context, location string) (Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return Descriptor{}, err
	}
	abs, err := filepath.Abs(location)
	if err != nil {
		return Descriptor{}, fmt.Errorf("wallet: resolve path %s: %w", location, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Descriptor{}, fmt.Errorf("wallet: stat %s: %w", abs, err)
	}
	if !info.IsDir() {
		return Descriptor{}, fmt.Errorf("wallet: %s is not a directory", abs)
	}
	return Descriptor{Dir: abs}, nil
}

// HTTPResolver fetches wallet material from an object-store URL into a
// temporary directory.
type HTTPResolver struct {
	client *http.Client
	logger *zap.Logger
}

// NewHTTPResolver creates an HTTPResolver.
func NewHTTPResolver(logger *zap.Logger) *HTTPResolver {
	return &HTTPResolver{client: &http.Client{}, logger: logger}
}

// Resolve downloads the object at location and stages it in a temp dir.
// Zip bundles are unpacked so their certificate files land directly in the
// directory; any other object is taken to be a bare root certificate and
// staged as root.crt, the name database backends look for.
func (r *HTTPResolver) Resolve(ctx context.Context, location string) (Descriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return Descriptor{}, fmt.Errorf("wallet: create request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Descriptor{}, fmt.Errorf("wallet: fetch %s: %w", location, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Descriptor{}, fmt.Errorf("wallet: fetch %s: status %d", location, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Descriptor{}, fmt.Errorf("wallet: read %s: %w", location, err)
	}

	dir, err := os.MkdirTemp("", "flowbridge-wallet-")
	if err != nil {
		return Descriptor{}, fmt.Errorf("wallet: temp dir: %w", err)
	}

	if strings.HasSuffix(strings.ToLower(location), ".zip") {
		if err := unpackZip(body, dir); err != nil {
			os.RemoveAll(dir)
			return Descriptor{}, fmt.Errorf("wallet: unpack %s: %w", location, err)
		}
	} else {
		dst := filepath.Join(dir, "root.crt")
		if err := os.WriteFile(dst, body, 0o600); err != nil {
			os.RemoveAll(dir)
			return Descriptor{}, fmt.Errorf("wallet: write %s: %w", dst, err)
		}
	}

	r.logger.Info("wallet staged", zap.String("location", location), zap.String("dir", dir))
	return Descriptor{Dir: dir}, nil
}

// unpackZip extracts a wallet archive into dir, flattening any leading
// directories and refusing entries that would escape it.
func unpackZip(data []byte, dir string) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return err
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := filepath.Base(f.Name)
		if name == "." || name == ".." || name == "/" {
			return fmt.Errorf("archive entry %q has no usable name", f.Name)
		}
		dst := filepath.Join(dir, name)
		src, err := f.Open()
		if err != nil {
			return fmt.Errorf("open archive entry %s: %w", f.Name, err)
		}
		out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
		if err != nil {
			src.Close()
			return fmt.Errorf("create %s: %w", dst, err)
		}
		_, err = io.Copy(out, src)
		src.Close()
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}
	return nil
}

// NewResolver picks a resolver for the location scheme: http(s) URLs go to
// the object-store path, everything else is treated as a local directory.
func NewResolver(location string, logger *zap.Logger) Resolver {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return NewHTTPResolver(logger)
	}
	return FileResolver{}
}
