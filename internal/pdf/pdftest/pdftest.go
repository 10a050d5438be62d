// Package pdftest builds small, well-formed PDF documents in memory for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
)

// Document describes the PDF to build
type Document struct {
	// Pages holds the text drawn on each page, one line per entry
	Pages [][]string
	// Info entries are written as literal strings. A nil map omits the
	// Info dictionary from the trailer.
	Info map[string]string
}

// Build renders the document as PDF 1.4 bytes with a correct xref table
func Build(doc Document) []byte {
	var objects []string

	// 1: catalog, 2: pages, 3: font, then page/content pairs, then info
	pageCount := len(doc.Pages)
	firstPage := 4

	kids := make([]string, pageCount)
	for i := range doc.Pages {
		kids[i] = fmt.Sprintf("%d 0 R", firstPage+2*i)
	}

	objects = append(objects,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pageCount),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	)

	for i, lines := range doc.Pages {
		contentNum := firstPage + 2*i + 1
		objects = append(objects, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] "+
				"/Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", contentNum))

		stream := contentStream(lines)
		objects = append(objects, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}

	infoNum := 0
	if doc.Info != nil {
		keys := make([]string, 0, len(doc.Info))
		for k := range doc.Info {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var entries []string
		for _, k := range keys {
			entries = append(entries, fmt.Sprintf("/%s (%s)", k, escape(doc.Info[k])))
		}
		objects = append(objects, "<< "+strings.Join(entries, " ")+" >>")
		infoNum = len(objects)
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}

	buf.WriteString("trailer\n")
	if infoNum > 0 {
		fmt.Fprintf(&buf, "<< /Size %d /Root 1 0 R /Info %d 0 R >>\n", len(objects)+1, infoNum)
	} else {
		fmt.Fprintf(&buf, "<< /Size %d /Root 1 0 R >>\n", len(objects)+1)
	}
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xref)

	return buf.Bytes()
}

// Simple is a one page document with the given text and no Info dictionary
func Simple(text string) []byte {
	return Build(Document{Pages: [][]string{{text}}})
}

func contentStream(lines []string) string {
	var b strings.Builder
	b.WriteString("BT\n/F1 12 Tf\n14 TL\n72 720 Td\n")
	for _, line := range lines {
		fmt.Fprintf(&b, "(%s) Tj\nT*\n", escape(line))
	}
	b.WriteString("ET")
	return b.String()
}

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}
