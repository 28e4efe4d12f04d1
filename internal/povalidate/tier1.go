package povalidate

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/jackzampolin/scanrelay/internal/pdfdoc"
)

// Confidence for a regex line parse, and for a document with no line items.
const (
	textConfidence = 0.5
	noneConfidence = 0.1
)

var (
	serialHeader = regexp.MustCompile(`(?i)\b(serial\s*(?:#|number|no\.?)?|s/?n)\b`)
	priceHeader  = regexp.MustCompile(`(?i)\b(unit\s*price|price|rate|amount|ext(?:ended)?\.?\s*(?:price|amt)?|total|each)\b`)
	qtyHeader    = regexp.MustCompile(`(?i)\b(qty|quantity)\b`)
	descHeader   = regexp.MustCompile(`(?i)\b(desc(?:ription)?|product|service|detail)\b`)

	descPrimary   = regexp.MustCompile(`(?i)\b(desc(?:ription)?|product)\b`)
	descSecondary = regexp.MustCompile(`(?i)\b(service|detail)\b`)
	itemWord      = regexp.MustCompile(`(?i)\bitem\b`)
	itemNumber    = regexp.MustCompile(`(?i)(line|#|no\.?|number)`)

	skipRow  = regexp.MustCompile(`(?i)(sub\s*total|grand\s*total|\btotal\b|full\s*tax|withheld|route\s*to)`)
	skipLine = regexp.MustCompile(`(?i)(sub\s*tota[il]|grand\s*total|order\s*total|\btotal\s*:|^total$|^tax\b|^shipping\b|^freight\b|comments|approved\s+by)`)

	serialInText = regexp.MustCompile(`(?i)(?:s/?n[:#]?\s*|serial\s*(?:#|no\.?)?:?\s*)([A-Z0-9][A-Z0-9_.\-]{2,30})`)
	ipAddress    = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)
	dollarPrice  = regexp.MustCompile(`\$(\d[\d,.]+)`)
	notPrice     = regexp.MustCompile(`[^\d.\-]`)
	notDigit     = regexp.MustCompile(`[^\d]`)
	multiSpace   = regexp.MustCompile(`\s{2,}`)
)

var poPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)purchase\s+order\s*(?:#|no\.?:?)\s*([A-Z0-9][\w\-]{2,30})`),
	regexp.MustCompile(`(?i)purchase\s+order[ \t]+(\d[\w\-]{2,30})`),
	regexp.MustCompile(`(?i)\bPO\s+Number\s*:?\s*([A-Z0-9][\w\-]{2,30})`),
	regexp.MustCompile(`(?i)\bPO\s*(?:#|No\.?)\s*:?\s*([A-Z0-9][\w\-]{2,30})`),
	regexp.MustCompile(`(?i)customer\s+PO[#:]?\s+([A-Z0-9][\w\-]{2,30})`),
	regexp.MustCompile(`(?i)invoice\s*#:?\s*(\d[\d\-]{4,30})`),
}

var poFalsePositives = map[string]bool{
	"VENDOR": true, "TO": true, "NUMBER": true, "NO": true, "DATE": true, "UPDATE": true,
	"REQUEST": true, "DETERMINED": true, "HOLD": true, "PAGE": true, "CUSTOMER": true,
}

// FindPONumber returns the first PO number found by the ordered patterns,
// skipping known false positives.
func FindPONumber(text string) string {
	for _, re := range poPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			v := strings.TrimSpace(m[1])
			if poFalsePositives[strings.ToUpper(v)] {
				continue
			}
			return v
		}
	}
	return ""
}

// SerialFromText pulls an "S/N:"-style serial out of free text. IP
// addresses are rejected.
func SerialFromText(text string) string {
	m := serialInText.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	sn := strings.TrimSpace(m[1])
	if ipAddress.MatchString(sn) {
		return ""
	}
	return sn
}

func parsePrice(raw string) *float64 {
	cleaned := notPrice.ReplaceAllString(raw, "")
	if cleaned == "" {
		return nil
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return &v
}

// ExtractTier1 reads line items from the text layer. A table parse is tried
// first; without a table, "$" prices are picked out line by line.
func ExtractTier1(pages []pdfdoc.PageLayout) *Extraction {
	texts := make([]string, 0, len(pages))
	for _, p := range pages {
		if t := p.Text(); t != "" {
			texts = append(texts, t)
		}
	}
	raw := strings.Join(texts, "\n")
	ext := &Extraction{
		PONumber: FindPONumber(raw),
		RawText:  truncate(raw, RawTextLimit),
	}

	if items, conf := parseTables(pages); len(items) > 0 {
		enrichSerials(items, raw)
		ext.LineItems, ext.Confidence, ext.Method = items, conf, MethodTable
		return ext
	}
	if items := parseTextLines(pages); len(items) > 0 {
		ext.LineItems, ext.Confidence, ext.Method = items, textConfidence, MethodText
		return ext
	}
	ext.Method, ext.Confidence, ext.Failed = MethodNone, noneConfidence, true
	return ext
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back off to a rune boundary.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// cell is a run of words separated by less than a column gap.
type cell struct {
	text string
	box  pdfdoc.Box
}

// cellsOf groups a line's words into cells. A horizontal gap wider than
// the font size starts a new cell.
func cellsOf(l pdfdoc.Line) []cell {
	var out []cell
	for i, w := range l.Words {
		gap := math.Inf(1)
		if i > 0 {
			gap = w.Box.X0 - l.Words[i-1].Box.X1
		}
		size := w.Size
		if size <= 0 {
			size = 10
		}
		if len(out) == 0 || gap > size {
			out = append(out, cell{text: w.Text, box: w.Box})
			continue
		}
		c := &out[len(out)-1]
		c.text += " " + w.Text
		c.box = c.box.Union(w.Box)
	}
	return out
}

// columns maps header cells to the roles a line item needs. -1 is absent.
type columns struct {
	headers  []cell
	serial   int
	price    int
	extended int
	qty      int
	desc     int
}

func (c columns) found() int {
	n := 0
	for _, i := range []int{c.serial, c.price, c.qty, c.desc} {
		if i >= 0 {
			n++
		}
	}
	return n
}

// column returns the header index whose span holds x. Boundaries sit
// midway between neighbouring headers.
func (c columns) column(x float64) int {
	for i := 0; i < len(c.headers)-1; i++ {
		if x < (c.headers[i].box.X1+c.headers[i+1].box.X0)/2 {
			return i
		}
	}
	return len(c.headers) - 1
}

func headerScore(cells []cell) int {
	score := 0
	for _, c := range cells {
		for _, re := range []*regexp.Regexp{serialHeader, priceHeader, qtyHeader, descHeader} {
			if re.MatchString(c.text) {
				score++
				break
			}
		}
	}
	return score
}

func firstMatch(cells []cell, re *regexp.Regexp) int {
	for i, c := range cells {
		if re.MatchString(c.text) {
			return i
		}
	}
	return -1
}

func descColumn(cells []cell) int {
	if i := firstMatch(cells, descPrimary); i >= 0 {
		return i
	}
	if i := firstMatch(cells, descSecondary); i >= 0 {
		return i
	}
	for i, c := range cells {
		if itemWord.MatchString(c.text) && !itemNumber.MatchString(c.text) {
			return i
		}
	}
	return -1
}

func detectColumns(cells []cell) (columns, bool) {
	cols := columns{
		headers:  cells,
		serial:   firstMatch(cells, serialHeader),
		price:    firstMatch(cells, priceHeader),
		extended: -1,
		qty:      firstMatch(cells, qtyHeader),
		desc:     descColumn(cells),
	}
	if cols.price < 0 && cols.serial < 0 {
		return cols, false
	}
	if cols.price >= 0 {
		last := -1
		for i, c := range cells {
			if priceHeader.MatchString(c.text) {
				last = i
			}
		}
		if last != cols.price {
			cols.extended = last
		}
	}
	return cols, true
}

// parseTables finds a header row on each page and reads the rows below it.
// The best-scoring table wins; later tables with the same column layout are
// treated as continuations and appended.
func parseTables(pages []pdfdoc.PageLayout) ([]LineItem, float64) {
	type table struct {
		cols  columns
		items []LineItem
		conf  float64
	}
	var tables []table
	for _, p := range pages {
		cols, start, ok := findHeader(p)
		if !ok {
			continue
		}
		items := parseRows(p, cols, start)
		if len(items) == 0 {
			continue
		}
		tables = append(tables, table{cols: cols, items: items, conf: tableConfidence(cols, items)})
	}
	if len(tables) == 0 {
		return nil, 0
	}

	best := 0
	for i, t := range tables {
		if t.conf > tables[best].conf {
			best = i
		}
	}
	items := append([]LineItem(nil), tables[best].items...)
	for i := best + 1; i < len(tables); i++ {
		if sameLayout(tables[best].cols, tables[i].cols) {
			items = append(items, tables[i].items...)
		}
	}
	return items, tableConfidence(tables[best].cols, items)
}

func sameLayout(a, b columns) bool {
	return a.serial == b.serial && a.price == b.price && a.extended == b.extended &&
		a.qty == b.qty && a.desc == b.desc && len(a.headers) == len(b.headers)
}

func tableConfidence(cols columns, items []LineItem) float64 {
	if len(items) == 0 {
		return 0
	}
	withSerial, withPrice := 0, 0
	for _, it := range items {
		if it.SerialNumber != "" {
			withSerial++
		}
		if it.UnitPrice != nil {
			withPrice++
		}
	}
	colConf := float64(cols.found()) / 4
	dataConf := float64(withSerial+withPrice) / float64(2*len(items))
	return math.Round((0.5*colConf+0.5*dataConf)*1000) / 1000
}

// findHeader returns the best header row on the page, needing at least two
// recognised columns.
func findHeader(p pdfdoc.PageLayout) (columns, int, bool) {
	bestIdx, bestScore := -1, 1
	var bestCells []cell
	for i, l := range p.Lines {
		cells := cellsOf(l)
		if s := headerScore(cells); s > bestScore {
			bestIdx, bestScore, bestCells = i, s, cells
		}
	}
	if bestIdx < 0 || bestIdx == len(p.Lines)-1 {
		return columns{}, 0, false
	}
	cols, ok := detectColumns(bestCells)
	return cols, bestIdx + 1, ok
}

// parseRows reads data rows from line start onward. A row without a serial
// or price continues the previous item's description when it sits directly
// below it; a gap of more than three lines ends the table.
func parseRows(p pdfdoc.PageLayout, cols columns, start int) []LineItem {
	var items []LineItem
	lastY := p.Lines[start-1].Box.CenterY()
	lineHeight := p.Lines[start-1].Box.Y1 - p.Lines[start-1].Box.Y0
	if lineHeight <= 0 {
		lineHeight = 12
	}

	for _, l := range p.Lines[start:] {
		gap := lastY - l.Box.CenterY()
		if gap > 4*lineHeight+2 {
			break
		}
		lastY = l.Box.CenterY()

		cellText := make([]string, len(cols.headers))
		for _, w := range l.Words {
			i := cols.column((w.Box.X0 + w.Box.X1) / 2)
			if cellText[i] != "" {
				cellText[i] += " "
			}
			cellText[i] += w.Text
		}
		if skipRow.MatchString(l.Text()) {
			continue
		}
		get := func(i int) string {
			if i < 0 {
				return ""
			}
			return strings.TrimSpace(cellText[i])
		}

		sn := get(cols.serial)
		desc := multiSpace.ReplaceAllString(get(cols.desc), " ")
		unit := parsePrice(get(cols.price))
		var ext *float64
		if cols.extended >= 0 {
			ext = parsePrice(get(cols.extended))
		}

		if sn == "" && unit == nil && ext == nil {
			if desc == "" {
				continue
			}
			// Continuation of the previous row.
			if n := len(items); n > 0 && gap < 2*lineHeight {
				prev := &items[n-1]
				prev.Description = strings.TrimSpace(prev.Description + " " + desc)
				if prev.SerialNumber == "" {
					prev.SerialNumber = SerialFromText(prev.Description)
				}
				box := prev.BBox.Union(l.Box)
				prev.BBox = &box
				continue
			}
		}
		if sn == "" && desc != "" {
			sn = SerialFromText(desc)
		}

		item := LineItem{
			SerialNumber:  sn,
			Description:   desc,
			UnitPrice:     unit,
			ExtendedPrice: ext,
			Page:          p.Index,
		}
		if q := notDigit.ReplaceAllString(get(cols.qty), ""); q != "" {
			if v, err := strconv.ParseFloat(q, 64); err == nil {
				item.Quantity = &v
			}
		}
		box := l.Box
		item.BBox = &box
		items = append(items, item)
	}
	return items
}

// enrichSerials hands serials found in the raw text, in order, to items
// that lack one. Serials already assigned are not reused.
func enrichSerials(items []LineItem, raw string) {
	assigned := map[string]bool{}
	for _, it := range items {
		if it.SerialNumber != "" {
			assigned[it.SerialNumber] = true
		}
	}
	var pool []string
	for _, m := range serialInText.FindAllStringSubmatch(raw, -1) {
		sn := strings.TrimSpace(m[1])
		if ipAddress.MatchString(sn) || assigned[sn] {
			continue
		}
		pool = append(pool, sn)
	}
	for i := range items {
		if items[i].SerialNumber != "" {
			continue
		}
		if len(pool) == 0 {
			return
		}
		items[i].SerialNumber, pool = pool[0], pool[1:]
	}
}

// parseTextLines treats each line holding a "$" price as a line item. The
// last two prices are unit and extended; the serial comes from a window of
// nearby lines.
func parseTextLines(pages []pdfdoc.PageLayout) []LineItem {
	var items []LineItem
	for _, p := range pages {
		lines := make([]string, len(p.Lines))
		for i, l := range p.Lines {
			lines[i] = l.Text()
		}

		for i, line := range lines {
			var prices []*float64
			for _, m := range dollarPrice.FindAllStringSubmatch(line, -1) {
				if v := parsePrice(m[1]); v != nil {
					prices = append(prices, v)
				}
			}
			if len(prices) == 0 {
				continue
			}

			desc := strings.TrimSpace(dollarPrice.ReplaceAllString(line, ""))
			desc = truncate(multiSpace.ReplaceAllString(desc, " "), 120)
			if skipLine.MatchString(desc) {
				continue
			}
			for j := i + 1; j < len(lines) && j < i+3; j++ {
				next := strings.TrimSpace(lines[j])
				if next == "" {
					continue
				}
				if dollarPrice.MatchString(next) || len(next) > 80 || skipLine.MatchString(next) {
					break
				}
				desc = truncate(desc+" | "+next, 250)
			}

			lo, hi := max(0, i-2), min(len(lines), i+7)
			qty := 1.0
			item := LineItem{
				SerialNumber: SerialFromText(strings.Join(lines[lo:hi], "\n")),
				Description:  desc,
				UnitPrice:    prices[len(prices)-1],
				Quantity:     &qty,
				Page:         p.Index,
			}
			if len(prices) >= 2 {
				item.UnitPrice = prices[len(prices)-2]
				item.ExtendedPrice = prices[len(prices)-1]
			}
			box := p.Lines[i].Box
			item.BBox = &box
			items = append(items, item)
		}
	}
	return items
}
