package pdf

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

const pageSeparator = "\n\n"

// TextExtractor extracts plain text page by page with ledongthuc/pdf
type TextExtractor struct{}

// NewTextExtractor creates a new text extractor
func NewTextExtractor() *TextExtractor {
	return &TextExtractor{}
}

// Extract opens the payload and returns its page count and text. Pages whose
// content cannot be decoded are skipped. Parser panics are reported as errors.
func (e *TextExtractor) Extract(ctx context.Context, data []byte, opts Options) (result *Result, err error) {
	if len(data) == 0 {
		return nil, &ExtractError{Op: "open", Err: ErrNoContent}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &ExtractError{Op: "extract", Err: fmt.Errorf("malformed PDF: %v", r)}
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &ExtractError{Op: "open", Err: err}
	}

	pageCount := reader.NumPage()
	last := pageCount
	if opts.MaxPages > 0 && opts.MaxPages < last {
		last = opts.MaxPages
	}

	return &Result{
		PageCount: pageCount,
		Text:      extractPages(reader, last),
	}, nil
}

// extractPages concatenates the text of pages 1..last. Every page, the first
// and empty ones included, is preceded by pageSeparator; a page that cannot
// be decoded contributes an empty text.
func extractPages(reader *pdf.Reader, last int) string {
	var builder strings.Builder

	for pageNum := 1; pageNum <= last; pageNum++ {
		builder.WriteString(pageSeparator)

		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		content, err := page.GetPlainText(nil)
		if err != nil {
			// Continue with other pages even if one fails
			continue
		}

		builder.WriteString(content)
	}

	return builder.String()
}
