package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/iago/pdf-processor-back/internal/domain"
	"github.com/iago/pdf-processor-back/internal/markdown"
	"github.com/ledongthuc/pdf"
)

// TextBackend extracts the embedded text layer locally, page by page.
// It serves the pypdf parser kind.
type TextBackend struct{}

func NewTextBackend() *TextBackend {
	return &TextBackend{}
}

func (b *TextBackend) Kind() domain.ParserKind {
	return domain.ParserPyPDF
}

func (b *TextBackend) Extract(ctx context.Context, document []byte, _ string) (extraction domain.Extraction, err error) {
	if err := ctx.Err(); err != nil {
		return domain.Extraction{}, err
	}
	if len(document) == 0 {
		return domain.Extraction{}, &domain.ExtractionError{Parser: b.Kind(), Err: domain.ErrEmptyDocument}
	}

	// The reader panics on some malformed cross-reference tables.
	defer func() {
		if recovered := recover(); recovered != nil {
			extraction = domain.Extraction{}
			err = &domain.ExtractionError{Parser: b.Kind(), Err: fmt.Errorf("malformed pdf: %v", recovered)}
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(document), int64(len(document)))
	if err != nil {
		return domain.Extraction{}, &domain.ExtractionError{Parser: b.Kind(), Err: err}
	}

	pageCount := reader.NumPage()
	if pageCount == 0 {
		return domain.Extraction{}, &domain.ExtractionError{Parser: b.Kind(), Err: errors.New("document has no pages")}
	}

	var builder strings.Builder
	for index := 1; index <= pageCount; index++ {
		if err := ctx.Err(); err != nil {
			return domain.Extraction{}, err
		}
		page := reader.Page(index)
		if page.V.IsNull() {
			builder.WriteString("\n")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return domain.Extraction{}, &domain.ExtractionError{
				Parser: b.Kind(),
				Err:    fmt.Errorf("page %d: %w", index, err),
			}
		}
		builder.WriteString(strings.ToValidUTF8(text, "�"))
		builder.WriteString("\n")
	}

	text := strings.TrimSpace(builder.String())
	return domain.Extraction{
		Text:       text,
		Markdown:   markdown.FromText(text),
		PageCount:  pageCount,
		Metadata:   documentInfo(reader, pageCount),
		ParserUsed: b.Kind(),
	}, nil
}

func documentInfo(reader *pdf.Reader, pageCount int) map[string]any {
	metadata := map[string]any{"pages": pageCount}
	info := reader.Trailer().Key("Info")
	if info.IsNull() {
		return metadata
	}
	metadata["title"] = strings.TrimSpace(info.Key("Title").Text())
	metadata["author"] = strings.TrimSpace(info.Key("Author").Text())
	return metadata
}
