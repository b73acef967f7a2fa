package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/masayosh4/lets-chat/internal/models"
)

func TestLocalProvider_SaveAndURL(t *testing.T) {
	dir := t.TempDir()
	p, err := NewLocalProvider(dir)
	if err != nil {
		t.Fatalf("NewLocalProvider() error = %v", err)
	}

	file := &models.File{ID: 7, Name: "report final.pdf", Type: "application/pdf"}
	if err := p.Save(context.Background(), file, strings.NewReader("pdf-bytes")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "7"))
	if err != nil {
		t.Fatalf("reading saved blob: %v", err)
	}
	if string(b) != "pdf-bytes" {
		t.Errorf("saved content = %q, want pdf-bytes", b)
	}

	if got := p.GetURL(file); got != "files/7/report%20final.pdf" {
		t.Errorf("GetURL() = %q, want files/7/report%%20final.pdf", got)
	}
}

func TestLocalProvider_CancelledContext(t *testing.T) {
	p, err := NewLocalProvider(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalProvider() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	file := &models.File{ID: 1, Name: "a.png"}
	if err := p.Save(ctx, file, strings.NewReader("x")); err == nil {
		t.Error("Save() with cancelled context succeeded, want error")
	}
}

func TestMemoryProvider(t *testing.T) {
	p := NewMemoryProvider()
	file := &models.File{ID: 3, Name: "cat.png"}
	if err := p.Save(context.Background(), file, strings.NewReader("png")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	b, ok := p.Get(3)
	if !ok || string(b) != "png" {
		t.Errorf("Get(3) = (%q, %v), want (png, true)", b, ok)
	}
	if got := p.GetURL(file); got != "files/3/cat.png" {
		t.Errorf("GetURL() = %q, want files/3/cat.png", got)
	}
}

func TestNewProvider(t *testing.T) {
	if _, err := NewProvider("local", t.TempDir()); err != nil {
		t.Errorf("NewProvider(local) error = %v", err)
	}
	if _, err := NewProvider("memory", ""); err != nil {
		t.Errorf("NewProvider(memory) error = %v", err)
	}
	if _, err := NewProvider("s3", ""); err == nil {
		t.Error("NewProvider(s3) succeeded, want error for unknown provider")
	}
}
