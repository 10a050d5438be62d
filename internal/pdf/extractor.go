package pdf

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoContent is returned when an extractor is handed an empty payload
var ErrNoContent = errors.New("empty PDF payload")

// Options controls a single extraction
type Options struct {
	// MaxPages bounds the number of pages whose text is extracted.
	// Zero means every page.
	MaxPages int
}

// Result is the output of an extraction. It is not modified after Extract
// returns.
type Result struct {
	PageCount int
	// Info is the document information dictionary as read from the file,
	// keyed by the PDF entry name (Title, Author, CreationDate, ...).
	Info map[string]string
	Text string
}

// Extractor turns raw PDF bytes into text and metadata
type Extractor interface {
	Extract(ctx context.Context, data []byte, opts Options) (*Result, error)
}

// InfoReader reads the document information dictionary of a PDF
type InfoReader interface {
	ReadInfo(data []byte) (map[string]string, error)
}

// ExtractError describes a failed extraction step
type ExtractError struct {
	Op  string
	Err error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}

// Adapter combines text extraction with a metadata reader
type Adapter struct {
	text *TextExtractor
	info InfoReader
}

// NewAdapter creates an adapter. A nil InfoReader falls back to reading the
// trailer through the text library.
func NewAdapter(text *TextExtractor, info InfoReader) *Adapter {
	if text == nil {
		text = NewTextExtractor()
	}
	if info == nil {
		info = NewTrailerInfoReader()
	}
	return &Adapter{text: text, info: info}
}

// NewAdapterForEngine builds an adapter whose metadata reader is selected by
// name ("pdfcpu" or "ledongthuc")
func NewAdapterForEngine(engine string) (*Adapter, error) {
	switch engine {
	case "pdfcpu":
		return NewAdapter(NewTextExtractor(), NewPDFCPUInfoReader()), nil
	case "ledongthuc", "":
		return NewAdapter(NewTextExtractor(), NewTrailerInfoReader()), nil
	default:
		return nil, fmt.Errorf("unsupported metadata engine: %s", engine)
	}
}

// Extract runs text extraction and then reads the information dictionary.
// Only a text extraction failure fails the whole call; an unreadable info
// dictionary yields empty metadata.
func (a *Adapter) Extract(ctx context.Context, data []byte, opts Options) (*Result, error) {
	result, err := a.text.Extract(ctx, data, opts)
	if err != nil {
		return nil, err
	}

	info, err := a.info.ReadInfo(data)
	if err != nil || info == nil {
		info = map[string]string{}
	}
	result.Info = info

	return result, nil
}
