package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"genstudio/internal/domain"
)

func TestArtifactKey(t *testing.T) {
	tests := []struct {
		phase domain.Phase
		mime  string
		want  string
	}{
		{domain.PhasePreview, "image/svg+xml", "generations/gen-1/preview.svg"},
		{domain.PhaseFinal, "text/plain; charset=utf-8", "generations/gen-1/final.txt"},
		{domain.PhaseFinal, "application/x-unknown", "generations/gen-1/final.bin"},
		{domain.PhaseNone, "video/mp4", "generations/gen-1/output.mp4"},
	}
	for _, tt := range tests {
		if got := ArtifactKey("gen-1", tt.phase, tt.mime); got != tt.want {
			t.Errorf("ArtifactKey(%s, %s) = %q, want %q", tt.phase, tt.mime, got, tt.want)
		}
	}
}

func TestArtifactsSaveWritesFileAndReturnsURL(t *testing.T) {
	dir := t.TempDir()
	files, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	artifacts := NewArtifacts(files, "http://localhost:8080/static/")

	url, err := artifacts.Save(context.Background(), "gen-1", domain.PhasePreview, "text/plain", []byte("hello"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if url != "http://localhost:8080/static/generations/gen-1/preview.txt" {
		t.Fatalf("url = %q", url)
	}
	data, err := os.ReadFile(filepath.Join(dir, "generations", "gen-1", "preview.txt"))
	if err != nil || string(data) != "hello" {
		t.Fatalf("file content = %q, %v", data, err)
	}
}

func TestArtifactsRejectEmptyData(t *testing.T) {
	files, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, err := NewArtifacts(files, "").Save(context.Background(), "gen-1", domain.PhaseFinal, "image/png", nil); err == nil {
		t.Fatal("expected error for empty artifact")
	}
}

func TestSanitizeKeyBlocksTraversal(t *testing.T) {
	for _, key := range []string{"", "  ", "../etc/passwd", "a/../../b", ".."} {
		if _, err := sanitizeKey(key); err == nil {
			t.Errorf("sanitizeKey(%q) accepted", key)
		}
	}
	if got, err := sanitizeKey("/generations//gen-1/./final.png"); err != nil || got != "generations/gen-1/final.png" {
		t.Errorf("sanitizeKey = %q, %v", got, err)
	}
}

func TestFileStoreHandlerServesArtifacts(t *testing.T) {
	files, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, err := files.Write(context.Background(), "generations/gen-1/final.txt", []byte("done")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	h := files.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/generations/gen-1/final.txt", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "done" {
		t.Fatalf("GET artifact = %d %q", rr.Code, rr.Body.String())
	}

	for _, p := range []string{"/generations/", "/generations/gen-1/.upload-123"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, p, nil))
		if rr.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", p, rr.Code)
		}
	}
}
