package pdfdoc

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
)

// Box is a rectangle in PDF points with the origin at the bottom-left.
type Box struct {
	X0, Y0, X1, Y1 float64
}

// Union returns the smallest box covering b and o.
func (b Box) Union(o Box) Box {
	if b == (Box{}) {
		return o
	}
	return Box{
		X0: math.Min(b.X0, o.X0),
		Y0: math.Min(b.Y0, o.Y0),
		X1: math.Max(b.X1, o.X1),
		Y1: math.Max(b.Y1, o.Y1),
	}
}

// CenterY returns the vertical midpoint.
func (b Box) CenterY() float64 {
	return (b.Y0 + b.Y1) / 2
}

// Word is a run of non-space glyphs on one baseline.
type Word struct {
	Text string
	Size float64
	Box  Box
}

// Line is a set of words sharing a baseline, left to right.
type Line struct {
	Words []Word
	Box   Box
}

// Text joins the line's words with single spaces.
func (l Line) Text() string {
	parts := make([]string, len(l.Words))
	for i, w := range l.Words {
		parts[i] = w.Text
	}
	return strings.Join(parts, " ")
}

// PageLayout is the positioned text of one page.
type PageLayout struct {
	Index  int // 0-based
	Width  float64
	Height float64
	Lines  []Line // top to bottom
}

// Text returns the page text, one line per row.
func (p PageLayout) Text() string {
	rows := make([]string, len(p.Lines))
	for i, l := range p.Lines {
		rows[i] = l.Text()
	}
	return strings.Join(rows, "\n")
}

// Find locates the first line containing needle (case-insensitive) whose
// row is not in used, and returns the box of the matching words.
// used is keyed by rounded row center and updated on success.
func (p PageLayout) Find(needle string, used map[int]bool) (Box, bool) {
	needle = strings.ToLower(strings.TrimSpace(needle))
	if needle == "" {
		return Box{}, false
	}
	for _, l := range p.Lines {
		key := int(math.Round(l.Box.CenterY()))
		if used[key] {
			continue
		}
		lower := strings.ToLower(l.Text())
		idx := strings.Index(lower, needle)
		if idx < 0 {
			continue
		}
		// Map the character span back onto the words it touches.
		var box Box
		pos := 0
		for _, w := range l.Words {
			start, end := pos, pos+len(w.Text)
			if end > idx && start < idx+len(needle) {
				box = box.Union(w.Box)
			}
			pos = end + 1
		}
		if used != nil {
			used[key] = true
		}
		return box, true
	}
	return Box{}, false
}

// ReadLayout reads positioned text from every page of the file at path.
func ReadLayout(path string) ([]PageLayout, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer f.Close()
	return readLayout(r)
}

// ReadLayoutBytes is ReadLayout over an in-memory document.
func ReadLayoutBytes(data []byte) ([]PageLayout, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return readLayout(r)
}

func readLayout(r *pdf.Reader) (pages []PageLayout, err error) {
	// The text layer parser panics on malformed content streams.
	defer func() {
		if rec := recover(); rec != nil {
			pages, err = nil, fmt.Errorf("%w: text layer: %v", ErrUnreadable, rec)
		}
	}()

	n := r.NumPage()
	pages = make([]PageLayout, 0, n)
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		layout := PageLayout{Index: i - 1, Width: LetterWidth, Height: LetterHeight}
		if p.V.IsNull() {
			pages = append(pages, layout)
			continue
		}
		if w, h, ok := mediaBox(p); ok {
			layout.Width, layout.Height = w, h
		}
		layout.Lines = buildLines(p.Content().Text)
		pages = append(pages, layout)
	}
	return pages, nil
}

func mediaBox(p pdf.Page) (float64, float64, bool) {
	box := p.V.Key("MediaBox")
	for parent := p.V.Key("Parent"); box.IsNull() && !parent.IsNull(); parent = parent.Key("Parent") {
		box = parent.Key("MediaBox")
	}
	if box.Len() != 4 {
		return 0, 0, false
	}
	w := box.Index(2).Float64() - box.Index(0).Float64()
	h := box.Index(3).Float64() - box.Index(1).Float64()
	if w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

// buildLines merges per-glyph text items into words and rows.
func buildLines(glyphs []pdf.Text) []Line {
	items := make([]pdf.Text, 0, len(glyphs))
	for _, g := range glyphs {
		if g.S == "" || g.S == "\n" {
			continue
		}
		items = append(items, g)
	}
	if len(items) == 0 {
		return nil
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Y != items[j].Y {
			return items[i].Y > items[j].Y
		}
		return items[i].X < items[j].X
	})

	var rows [][]pdf.Text
	for _, it := range items {
		if n := len(rows); n > 0 {
			ref := rows[n-1][0]
			if math.Abs(ref.Y-it.Y) <= rowTolerance(ref, it) {
				rows[n-1] = append(rows[n-1], it)
				continue
			}
		}
		rows = append(rows, []pdf.Text{it})
	}

	lines := make([]Line, 0, len(rows))
	for _, row := range rows {
		sort.SliceStable(row, func(i, j int) bool { return row[i].X < row[j].X })
		if l := wordsOf(row); len(l.Words) > 0 {
			lines = append(lines, l)
		}
	}
	return lines
}

func rowTolerance(a, b pdf.Text) float64 {
	size := math.Max(a.FontSize, b.FontSize)
	if size <= 0 {
		size = 10
	}
	return size * 0.4
}

func glyphWidth(t pdf.Text) float64 {
	if t.W > 0 {
		return t.W
	}
	size := t.FontSize
	if size <= 0 {
		size = 10
	}
	return size * 0.5 * float64(len([]rune(t.S)))
}

func wordsOf(row []pdf.Text) Line {
	var line Line
	var cur strings.Builder
	var box Box
	var size float64
	lastEnd := math.Inf(-1)

	flush := func() {
		if cur.Len() == 0 {
			return
		}
		w := Word{Text: cur.String(), Size: size, Box: box}
		line.Words = append(line.Words, w)
		line.Box = line.Box.Union(w.Box)
		cur.Reset()
		box = Box{}
	}

	for _, g := range row {
		if strings.TrimFunc(g.S, unicode.IsSpace) == "" {
			flush()
			lastEnd = g.X + glyphWidth(g)
			continue
		}
		fs := g.FontSize
		if fs <= 0 {
			fs = 10
		}
		if cur.Len() > 0 && g.X-lastEnd > fs*0.25 {
			flush()
		}
		gb := Box{X0: g.X, Y0: g.Y - fs*0.2, X1: g.X + glyphWidth(g), Y1: g.Y + fs*0.8}
		box = box.Union(gb)
		size = fs
		cur.WriteString(g.S)
		lastEnd = gb.X1
	}
	flush()
	return line
}
