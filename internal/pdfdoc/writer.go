package pdfdoc

import (
	"bytes"
	"fmt"
	"strings"
)

// Letter size in points.
const (
	LetterWidth  = 612.0
	LetterHeight = 792.0
)

// TextLine is a single run of Helvetica text placed at a baseline position.
type TextLine struct {
	X, Y float64
	Size float64
	Text string
}

// PageSpec describes one page of a generated text PDF.
type PageSpec struct {
	Width, Height float64
	Lines         []TextLine
}

// helveticaWidths are the standard Helvetica advance widths for codes 32..126.
var helveticaWidths = [95]int{
	278, 278, 355, 556, 556, 889, 667, 191, 333, 333, 389, 584, 278, 333, 278, 278,
	556, 556, 556, 556, 556, 556, 556, 556, 556, 556, 278, 278, 584, 584, 584, 556,
	1015, 667, 667, 722, 722, 667, 611, 778, 722, 278, 500, 667, 556, 833, 722, 778,
	667, 778, 722, 667, 611, 722, 667, 944, 667, 667, 611, 278, 278, 278, 469, 556,
	333, 556, 556, 500, 556, 556, 278, 556, 556, 222, 222, 500, 222, 833, 556, 556,
	556, 556, 333, 500, 278, 556, 500, 722, 500, 500, 500, 334, 260, 334, 584,
}

// TextWidth returns the rendered width of s in Helvetica at size points.
func TextWidth(s string, size float64) float64 {
	var w int
	for _, r := range s {
		if r >= 32 && r <= 126 {
			w += helveticaWidths[r-32]
		} else {
			w += 556
		}
	}
	return float64(w) / 1000 * size
}

// BuildTextPDF writes a minimal PDF with positioned text. It is used for
// the validation summary page and for fixtures.
func BuildTextPDF(pages []PageSpec) []byte {
	if len(pages) == 0 {
		pages = []PageSpec{{}}
	}

	var buf bytes.Buffer
	offsets := []int{0}
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets)-1, body)
	}

	buf.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")

	const fontObj = 3
	firstPageObj := fontObj + 1
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", firstPageObj+2*i)
	}

	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))

	widths := make([]string, len(helveticaWidths))
	for i, w := range helveticaWidths {
		widths[i] = fmt.Sprint(w)
	}
	obj(fmt.Sprintf("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding /FirstChar 32 /LastChar 126 /Widths [%s] >>",
		strings.Join(widths, " ")))

	for i, p := range pages {
		w, h := p.Width, p.Height
		if w <= 0 || h <= 0 {
			w, h = LetterWidth, LetterHeight
		}
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %s %s] /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>",
			num(w), num(h), fontObj, firstPageObj+2*i+1))

		var content bytes.Buffer
		for _, l := range p.Lines {
			size := l.Size
			if size <= 0 {
				size = 10
			}
			fmt.Fprintf(&content, "BT /F1 %s Tf 1 0 0 1 %s %s Tm (%s) Tj ET\n",
				num(size), num(l.X), num(l.Y), escapeString(l.Text))
		}
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", content.Len(), content.String()))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets))
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets[1:] {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets), xref)
	return buf.Bytes()
}

func num(f float64) string {
	s := strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", f), "0"), ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}

// escapeString escapes a PDF literal string and drops characters outside
// the font's range.
func escapeString(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '(' || r == ')' || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r >= 32 && r <= 126:
			b.WriteRune(r)
		default:
			b.WriteByte('?')
		}
	}
	return b.String()
}
