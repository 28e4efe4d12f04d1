package pdfdoc

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// Anchor positions for stamps.
const (
	AnchorBottomLeft = "bl"
	AnchorTopRight   = "tr"
)

// Stamp is a text overlay on one page.
type Stamp struct {
	Page   int // 0-based
	Text   string
	X, Y   float64 // offset from the anchor in points
	Anchor string  // default bottom-left
	Size   int     // font size in points, default 8
	Color  string  // #RRGGBB
}

func (s Stamp) description() string {
	anchor := s.Anchor
	if anchor == "" {
		anchor = AnchorBottomLeft
	}
	size := s.Size
	if size <= 0 {
		size = 8
	}
	color := s.Color
	if color == "" {
		color = "#000000"
	}
	parts := []string{
		"fontname:Helvetica",
		fmt.Sprintf("points:%d", size),
		"fillcolor:" + color,
		"position:" + anchor,
		fmt.Sprintf("offset:%s %s", num(s.X), num(s.Y)),
		"scalefactor:1 abs",
		"rotation:0",
		"aligntext:left",
	}
	return strings.Join(parts, ", ")
}

// ApplyStamps returns a copy of data with every stamp drawn on top of its
// page. The input is not modified.
func ApplyStamps(data []byte, stamps []Stamp) ([]byte, error) {
	if len(stamps) == 0 {
		return append([]byte(nil), data...), nil
	}

	byPage := make(map[int][]*model.Watermark)
	for _, s := range stamps {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		wm, err := api.TextWatermark(s.Text, s.description(), true, false, types.POINTS)
		if err != nil {
			return nil, fmt.Errorf("stamp %q: %w", s.Text, err)
		}
		byPage[s.Page+1] = append(byPage[s.Page+1], wm)
	}

	var out bytes.Buffer
	if err := api.AddWatermarksSliceMap(bytes.NewReader(data), &out, byPage, relaxed()); err != nil {
		return nil, fmt.Errorf("apply stamps: %w", err)
	}
	return out.Bytes(), nil
}
