package convert

import (
	"strings"
	"unicode/utf16"

	"github.com/a3tai/pdfconvd/internal/pdf"
)

// NotAvailable is rendered for metadata fields the document does not carry
const NotAvailable = "N/A"

// Information dictionary keys surfaced in the metadata block
const (
	InfoTitle        = "Title"
	InfoAuthor       = "Author"
	InfoCreator      = "Creator"
	InfoProducer     = "Producer"
	InfoCreationDate = "CreationDate"
	InfoModDate      = "ModDate"
)

// Response is the JSON document returned for a successful conversion
type Response struct {
	Metadata Metadata          `json:"metadata"`
	Content  Content           `json:"content"`
	RawInfo  map[string]string `json:"rawInfo"`
}

// Metadata is the simplified view of the information dictionary
type Metadata struct {
	Title            string `json:"title"`
	Author           string `json:"author"`
	Creator          string `json:"creator"`
	Producer         string `json:"producer"`
	CreationDate     string `json:"creationDate"`
	ModificationDate string `json:"modificationDate"`
	PageCount        int    `json:"pageCount"`
}

// Content carries the extracted text and figures derived from it
type Content struct {
	FullText   string `json:"fullText"`
	TextLength int    `json:"textLength"`
	WordCount  int    `json:"wordCount"`
}

// BuildResponse shapes an extraction result. Derived fields are computed
// here on every call.
func BuildResponse(result *pdf.Result) *Response {
	info := result.Info
	if info == nil {
		info = map[string]string{}
	}

	return &Response{
		Metadata: Metadata{
			Title:            ResolveField(info, InfoTitle),
			Author:           ResolveField(info, InfoAuthor),
			Creator:          ResolveField(info, InfoCreator),
			Producer:         ResolveField(info, InfoProducer),
			CreationDate:     ResolveField(info, InfoCreationDate),
			ModificationDate: ResolveField(info, InfoModDate),
			PageCount:        result.PageCount,
		},
		Content: Content{
			FullText:   result.Text,
			TextLength: TextLength(result.Text),
			WordCount:  WordCount(result.Text),
		},
		RawInfo: info,
	}
}

// ResolveField returns the entry for key, or NotAvailable when the entry is
// missing or empty. Whitespace is a value.
func ResolveField(info map[string]string, key string) string {
	value, ok := info[key]
	if !ok || value == "" {
		return NotAvailable
	}
	return value
}

// TextLength counts UTF-16 code units, so a character outside the Basic
// Multilingual Plane counts as two
func TextLength(text string) int {
	n := 0
	for _, r := range text {
		n += utf16.RuneLen(r)
	}
	return n
}

// WordCount counts the non-empty tokens separated by runs of whitespace
func WordCount(text string) int {
	return len(strings.Fields(text))
}
