package model

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"hybridsearch/types"
)

var ErrUnsupportedContentType = errors.New("unsupported content type")

// ParsedDocument is the text extracted from one source file.
type ParsedDocument struct {
	Text    string
	Title   string
	Details map[string]any
}

type Parser interface {
	Parse(ctx context.Context, path string, props map[string]any) (*ParsedDocument, error)
}

// Parsers selects a Parser by MIME type.
type Parsers map[string]Parser

func DefaultParsers() Parsers {
	return Parsers{types.ContentTypePDF: NewPDFParser()}
}

func (p Parsers) For(contentType string) (Parser, error) {
	parser, ok := p[contentType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContentType, contentType)
	}
	return parser, nil
}

// generateTitle builds a readable title from a file name.
func generateTitle(filePath string) string {
	fileName := filepath.Base(filePath)
	// Удаляем расширение
	if ext := filepath.Ext(fileName); ext != "" {
		fileName = strings.TrimSuffix(fileName, ext)
	}
	// Заменяем подчеркивания и дефисы на пробелы
	fileName = strings.ReplaceAll(fileName, "_", " ")
	fileName = strings.ReplaceAll(fileName, "-", " ")
	return fileName
}

// titleFrom prefers a non-empty "title" source property.
func titleFrom(props map[string]any, path string) string {
	if t, ok := props["title"].(string); ok && strings.TrimSpace(t) != "" {
		return strings.TrimSpace(t)
	}
	return generateTitle(path)
}
