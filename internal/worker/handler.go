package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/a3tai/pdfconvd/internal/convert"
)

const (
	ContentTypePDF = "application/pdf"

	LabelUnsupportedType = "Unsupported content type"
	LabelTooLarge        = "PDF exceeds maximum size"
)

// Converter runs one conversion. *convert.Service implements it.
type Converter interface {
	Convert(ctx context.Context, data []byte) (*convert.Response, error)
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type healthResponse struct {
	Status string `json:"status"`
	PID    int    `json:"pid"`
}

type handler struct {
	converter   Converter
	logger      zerolog.Logger
	maxBodySize int64
}

// NewRouter builds the worker's HTTP routes
func NewRouter(converter Converter, maxBodySize int64, logger zerolog.Logger) http.Handler {
	h := &handler{
		converter:   converter,
		logger:      logger,
		maxBodySize: maxBodySize,
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", h.health)
	r.Post("/convert", h.convert)

	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", PID: os.Getpid()})
}

// convert handles POST /convert. The body is the raw PDF.
func (h *handler) convert(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength == 0 || (r.ContentLength < 0 && emptyBody(r)) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: convert.LabelNoData})
		return
	}

	if !isPDF(r.Header.Get("Content-Type")) {
		writeJSON(w, http.StatusUnsupportedMediaType, errorResponse{Error: LabelUnsupportedType})
		return
	}

	body := r.Body
	if h.maxBodySize > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: LabelTooLarge})
			return
		}
		h.logger.Warn().Err(err).Str("request_id", chimiddleware.GetReqID(r.Context())).Msg("Failed to read request body")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: convert.LabelNoData})
		return
	}

	if len(data) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: convert.LabelNoData})
		return
	}

	resp, err := h.converter.Convert(r.Context(), data)
	if err != nil {
		if errors.Is(err, convert.ErrNoData) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: convert.LabelNoData})
			return
		}

		// The service has already logged the failure
		details := err.Error()
		if details == "" {
			details = "unknown extraction failure"
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   convert.LabelParseFailed,
			Details: details,
		})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// emptyBody reports whether a body of unknown length has no bytes at all.
// The peeked byte stays readable through r.Body.
func emptyBody(r *http.Request) bool {
	br := bufio.NewReader(r.Body)
	if _, err := br.Peek(1); errors.Is(err, io.EOF) {
		return true
	}
	r.Body = peekedBody{Reader: br, Closer: r.Body}
	return false
}

type peekedBody struct {
	*bufio.Reader
	io.Closer
}

func isPDF(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.EqualFold(mediaType, ContentTypePDF)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger writes one access log line per request through zerolog
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}

				event := logger.Info()
				if status >= http.StatusInternalServerError {
					event = logger.Warn()
				}
				event.
					Str("request_id", chimiddleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("remote", r.RemoteAddr).
					Int("status", status).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Msg("request")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
