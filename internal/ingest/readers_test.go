package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestReadFileTextVerbatim(t *testing.T) {
	path := writeTemp(t, "notes.md", []byte("# heading\n\nbody text\n"))
	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got != "# heading\n\nbody text\n" {
		t.Fatalf("text formats must be read verbatim, got %q", got)
	}
}

func TestReadFileRejectsBinaryText(t *testing.T) {
	path := writeTemp(t, "blob.txt", []byte{0xff, 0xfe, 0x00, 0x01})
	if _, err := ReadFile(path); err == nil || !strings.Contains(err.Error(), "utf-8") {
		t.Fatalf("non-utf8 content must be refused, got %v", err)
	}
}

func TestReadFileUnknownFormat(t *testing.T) {
	path := writeTemp(t, "report.docx", []byte("PK\x03\x04"))
	if _, err := ReadFile(path); err == nil || !strings.Contains(err.Error(), "no reader") {
		t.Fatalf("office formats have no reader, got %v", err)
	}
}

func TestReadFileMalformedPDF(t *testing.T) {
	path := writeTemp(t, "broken.pdf", []byte("this is not a pdf"))
	if _, err := ReadFile(path); err == nil || !strings.Contains(err.Error(), "pdf") {
		t.Fatalf("a malformed pdf must fail through the pdf reader, got %v", err)
	}
}

func TestReadFileMissing(t *testing.T) {
	if _, err := ReadFile(filepath.Join(t.TempDir(), "absent.txt")); err == nil {
		t.Fatalf("missing files must be refused")
	}
}
