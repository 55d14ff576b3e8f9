// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"bytes"
	"fmt"
	"strings"
)

// BuildPDF renders a minimal but well-formed PDF with one text line per page.
// Title and author are written to the Info dictionary when non-empty.
func BuildPDF(pages []string, title, author string) []byte {
	var objects []string

	// 1: catalog, 2: pages tree, 3: font, then page/content pairs, then info.
	pageCount := len(pages)
	kids := make([]string, 0, pageCount)
	for i := 0; i < pageCount; i++ {
		kids = append(kids, fmt.Sprintf("%d 0 R", 4+2*i))
	}

	objects = append(objects,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pageCount),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	)

	for i, text := range pages {
		contentID := 5 + 2*i
		stream := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", escapePDFString(text))
		objects = append(objects,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", contentID),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
		)
	}

	infoID := 0
	if title != "" || author != "" {
		var info strings.Builder
		info.WriteString("<<")
		if title != "" {
			info.WriteString(fmt.Sprintf(" /Title (%s)", escapePDFString(title)))
		}
		if author != "" {
			info.WriteString(fmt.Sprintf(" /Author (%s)", escapePDFString(author)))
		}
		info.WriteString(" >>")
		objects = append(objects, info.String())
		infoID = len(objects)
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, body := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}

	xrefOffset := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, offset := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offset)
	}

	trailer := fmt.Sprintf("<< /Size %d /Root 1 0 R", len(objects)+1)
	if infoID > 0 {
		trailer += fmt.Sprintf(" /Info %d 0 R", infoID)
	}
	trailer += " >>"
	fmt.Fprintf(&buf, "trailer\n%s\nstartxref\n%d\n%%%%EOF\n", trailer, xrefOffset)
	return buf.Bytes()
}

func escapePDFString(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return replacer.Replace(value)
}
