package pdf

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFCPUInfoReader reads the information dictionary with pdfcpu in relaxed
// validation mode
type PDFCPUInfoReader struct{}

// NewPDFCPUInfoReader creates a pdfcpu backed info reader
func NewPDFCPUInfoReader() *PDFCPUInfoReader {
	return &PDFCPUInfoReader{}
}

// ReadInfo returns every entry of the Info dictionary decoded to a string.
// A document without an Info dictionary yields an empty map.
func (r *PDFCPUInfoReader) ReadInfo(data []byte) (info map[string]string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			info = nil
			err = &ExtractError{Op: "read_info", Err: fmt.Errorf("pdfcpu panic: %v", rec)}
		}
	}()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return nil, &ExtractError{Op: "read_info", Err: fmt.Errorf("failed to read PDF context: %w", err)}
	}

	info = make(map[string]string)
	if ctx.Info == nil {
		return info, nil
	}

	dict, err := ctx.DereferenceDict(*ctx.Info)
	if err != nil {
		return nil, &ExtractError{Op: "read_info", Err: fmt.Errorf("failed to dereference info dictionary: %w", err)}
	}

	for key, obj := range dict {
		if obj == nil {
			continue
		}

		if s, err := ctx.DereferenceStringOrHexLiteral(obj, model.V10, nil); err == nil {
			info[key] = s
			continue
		}

		if name, err := ctx.DereferenceName(obj, model.V10, nil); err == nil {
			info[key] = string(name)
			continue
		}

		if resolved, err := ctx.Dereference(obj); err == nil && resolved != nil {
			info[key] = resolved.String()
		}
	}

	return info, nil
}

// TrailerInfoReader reads the information dictionary through the trailer
// exposed by ledongthuc/pdf
type TrailerInfoReader struct{}

// NewTrailerInfoReader creates a ledongthuc backed info reader
func NewTrailerInfoReader() *TrailerInfoReader {
	return &TrailerInfoReader{}
}

// ReadInfo returns every entry of the trailer's Info dictionary as found,
// empty values included. Only null entries are skipped, as pdfcpu does.
func (r *TrailerInfoReader) ReadInfo(data []byte) (info map[string]string, err error) {
	// The ledongthuc/pdf library panics on some malformed values
	defer func() {
		if rec := recover(); rec != nil {
			info = nil
			err = &ExtractError{Op: "read_info", Err: fmt.Errorf("malformed info dictionary: %v", rec)}
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &ExtractError{Op: "read_info", Err: err}
	}

	info = make(map[string]string)

	trailer := reader.Trailer()
	if trailer.IsNull() {
		return info, nil
	}

	dict := trailer.Key("Info")
	if dict.IsNull() || dict.Kind() != pdf.Dict {
		return info, nil
	}

	for _, key := range dict.Keys() {
		value := dict.Key(key)
		if value.IsNull() {
			continue
		}
		info[key] = valueString(value)
	}

	return info, nil
}

// valueString renders a ledongthuc value without the quoting of Value.String
func valueString(v pdf.Value) string {
	switch v.Kind() {
	case pdf.String:
		return v.Text()
	case pdf.Name:
		return v.Name()
	default:
		return v.String()
	}
}
