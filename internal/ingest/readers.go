package ingest

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	readability "github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"
)

// textExtensions are formats read verbatim.
var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".csv": true, ".log": true,
	".json": true, ".yaml": true, ".yml": true, ".toml": true, ".xml": true,
	".go": true, ".py": true, ".js": true, ".ts": true, ".java": true,
	".c": true, ".cc": true, ".cpp": true, ".h": true, ".rs": true,
	".rb": true, ".sh": true, ".sql": true, ".proto": true,
}

// ReadFile loads a partition's source document as plain text. Missing files
// are refused; HTML is reduced to its readable article text; PDF text is
// extracted page by page; binary office formats have no reader and fail the
// partition.
func ReadFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("source file %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("source %s is a directory", path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case textExtensions[ext]:
		return readText(path)
	case ext == ".html" || ext == ".htm":
		return readHTML(path)
	case ext == ".pdf":
		return readPDF(path)
	default:
		return "", fmt.Errorf("no reader for %s files", ext)
	}
}

func readText(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%s is not valid utf-8 text", filepath.Base(path))
	}
	return string(b), nil
}

func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()
	text, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf %s: %w", path, err)
	}
	b, err := io.ReadAll(text)
	if err != nil {
		return "", fmt.Errorf("extract pdf %s: %w", path, err)
	}
	return string(b), nil
}

func readHTML(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	pageURL := &url.URL{Scheme: "file", Path: path}
	article, err := readability.FromReader(f, pageURL)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", path, err)
	}
	return article.TextContent, nil
}
