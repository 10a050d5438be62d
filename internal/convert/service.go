// Package convert runs one PDF conversion: it validates the payload, calls
// the extraction adapter and shapes the JSON response. A Service holds no
// per-request state and is safe for concurrent use.
package convert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/a3tai/pdfconvd/internal/pdf"
)

// Error labels returned to callers
const (
	LabelNoData      = "No PDF data received"
	LabelParseFailed = "Failed to parse PDF"
)

// ErrNoData is returned for an empty or absent payload
var ErrNoData = errors.New(LabelNoData)

// ExtractionError reports a failed extraction. Its message is the adapter's.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string {
	if e.Err == nil || e.Err.Error() == "" {
		return "unknown extraction failure"
	}
	return e.Err.Error()
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Service converts PDF payloads into Responses
type Service struct {
	extractor pdf.Extractor
	logger    zerolog.Logger
}

// NewService creates a conversion service around an extractor
func NewService(extractor pdf.Extractor, logger zerolog.Logger) (*Service, error) {
	if extractor == nil {
		return nil, fmt.Errorf("extractor cannot be nil")
	}

	return &Service{
		extractor: extractor,
		logger:    logger,
	}, nil
}

// Convert extracts every page of data and builds the response. It returns
// ErrNoData for an empty payload without touching the extractor, and an
// *ExtractionError when extraction fails. No retry is attempted.
func (s *Service) Convert(ctx context.Context, data []byte) (*Response, error) {
	if len(data) == 0 {
		return nil, ErrNoData
	}

	id := uuid.NewString()
	logger := s.logger.With().Str("conversion_id", id).Int("bytes", len(data)).Logger()
	start := time.Now()

	result, err := s.extractor.Extract(ctx, data, pdf.Options{MaxPages: 0})
	if err != nil {
		logger.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("PDF parsing error")
		return nil, &ExtractionError{Err: err}
	}

	resp := BuildResponse(result)

	logger.Debug().
		Int("pages", resp.Metadata.PageCount).
		Int("text_length", resp.Content.TextLength).
		Dur("elapsed", time.Since(start)).
		Msg("PDF converted")

	return resp, nil
}
