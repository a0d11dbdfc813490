package model

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/tmc/langchaingo/documentloaders"
)

// PDFParser extracts the text layer of a PDF page by page.
type PDFParser struct {
	logger *slog.Logger
}

func NewPDFParser() *PDFParser {
	return &PDFParser{logger: slog.Default()}
}

func (p *PDFParser) Parse(ctx context.Context, path string, props map[string]any) (*ParsedDocument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	pages, err := documentloaders.NewPDF(f, info.Size()).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf %s: %w", path, err)
	}

	var sb strings.Builder
	for i, page := range pages {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(page.PageContent)
	}

	details := map[string]any{
		"file_size": info.Size(),
		"pages":     len(pages),
	}
	// pdfcpu is stricter than the text extractor; a failure here is only logged.
	if count, err := api.PageCountFile(path); err != nil {
		p.logger.Warn("pdf structure check failed", "path", path, "error", err)
		details["pdf_valid"] = false
	} else {
		details["pages"] = count
		details["pdf_valid"] = true
	}

	return &ParsedDocument{
		Text:    sb.String(),
		Title:   titleFrom(props, path),
		Details: details,
	}, nil
}
