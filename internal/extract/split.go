package extract

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jackzampolin/scanrelay/internal/pdfdoc"
	"github.com/jackzampolin/scanrelay/internal/pocache"
)

// Segment is a contiguous page range [Start, End] (0-based, inclusive)
// sharing one work-order id. An empty WorkOrder is its own class.
type Segment struct {
	Start     int     `json:"start"`
	End       int     `json:"end"`
	WorkOrder string  `json:"work_order,omitempty"`
	DocType   DocType `json:"doc_type"`
	// PONumber is set when the file name names a purchase order.
	PONumber string `json:"po_number,omitempty"`
	// Path is the child PDF once written.
	Path string `json:"path,omitempty"`
}

// Pages returns the number of pages in the segment.
func (s Segment) Pages() int {
	return s.End - s.Start + 1
}

// Split partitions pages by work-order id. A new segment opens exactly when
// a page's id differs from the previous page's.
func Split(workOrders []string) []Segment {
	var segs []Segment
	for i, wo := range workOrders {
		if n := len(segs); n > 0 && segs[n-1].WorkOrder == wo {
			segs[n-1].End = i
			continue
		}
		segs = append(segs, Segment{Start: i, End: i, WorkOrder: wo})
	}
	return segs
}

// Plan splits and classifies doc for a folder whose default type is
// folderDefault.
//
// A file name with a PO prefix makes the whole file one PurchaseOrder
// segment. Work orders in the file name make the whole file one segment for
// the first of them. Otherwise pages are split by detected work order and
// each segment is classified by its content.
func Plan(doc *Document, folderDefault DocType) []Segment {
	last := doc.PageCount - 1
	if last < 0 {
		return nil
	}
	name := filepath.Base(doc.SourcePath)

	if po, err := pocache.ParsePONumber(name); err == nil {
		return []Segment{{Start: 0, End: last, DocType: PurchaseOrder, PONumber: po}}
	}
	if len(doc.FilenameWorkOrders) > 0 {
		seg := Segment{Start: 0, End: last, WorkOrder: doc.FilenameWorkOrders[0]}
		seg.DocType = Classify(doc.Text(0, last), seg.WorkOrder, folderDefault)
		return []Segment{seg}
	}

	segs := Split(doc.WorkOrders())
	for i := range segs {
		segs[i].DocType = Classify(doc.Text(segs[i].Start, segs[i].End), segs[i].WorkOrder, folderDefault)
	}
	return segs
}

// Classify picks a DocType from content signals, falling back to the
// folder default. Purchase-order signals only count on segments without a
// work order.
func Classify(text, workOrder string, folderDefault DocType) DocType {
	lower := strings.ToLower(text)
	if workOrder == "" && (strings.Contains(lower, "purchase order") || strings.Contains(lower, "po number")) {
		return PurchaseOrder
	}
	if strings.Contains(lower, "certificate of calibration") {
		return OrderCertificate
	}
	if folderDefault == "" {
		return General
	}
	return folderDefault
}

// WriteSegments writes each segment of doc as a child PDF in dir and sets
// its Path. A single segment covering the whole document reuses doc.Path.
func WriteSegments(doc *Document, segs []Segment, dir string) error {
	stem := strings.TrimSuffix(filepath.Base(doc.SourcePath), filepath.Ext(doc.SourcePath))
	for i := range segs {
		s := &segs[i]
		if len(segs) == 1 && s.Start == 0 && s.End == doc.PageCount-1 {
			s.Path = doc.Path
			continue
		}
		label := s.WorkOrder
		if label == "" {
			label = fmt.Sprintf("p%d-%d", s.Start+1, s.End+1)
		}
		out := filepath.Join(dir, fmt.Sprintf("%s_%02d_%s.pdf", stem, i+1, label))
		if err := pdfdoc.ExtractPages(doc.Path, out, s.Start, s.End); err != nil {
			return fmt.Errorf("write segment %d: %w", i+1, err)
		}
		s.Path = out
	}
	return nil
}
