package pipeline

import (
	"time"

	"github.com/jackzampolin/scanrelay/internal/extract"
	"github.com/jackzampolin/scanrelay/internal/povalidate"
	"github.com/jackzampolin/scanrelay/internal/upload"
)

// State is where a file ended up.
type State string

const (
	StateArchived State = "Archived"
	StateRejected State = "Rejected"
	StateReleased State = "ReleasedBackToQueue"
	StateSkipped  State = "Skipped"
)

// SegmentResult is what happened to one segment.
type SegmentResult struct {
	Start       int                  `json:"start"`
	End         int                  `json:"end"`
	WorkOrder   string               `json:"work_order,omitempty"`
	PONumber    string               `json:"po_number,omitempty"`
	DocType     extract.DocType      `json:"doc_type"`
	Name        string               `json:"name"`
	Uploads     []*upload.Result     `json:"uploads,omitempty"`
	Validations []*povalidate.Result `json:"validations,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// Outcome is the terminal result of processing one file.
type Outcome struct {
	Folder    string          `json:"folder"`
	File      string          `json:"file"`
	State     State           `json:"state"`
	Reason    string          `json:"reason,omitempty"`
	FinalPath string          `json:"final_path,omitempty"`
	Segments  []SegmentResult `json:"segments,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
}

// UploadCount returns the number of segment uploads, duplicates included.
func (o *Outcome) UploadCount() int {
	n := 0
	for _, s := range o.Segments {
		n += len(s.Uploads)
	}
	return n
}

// Validations returns every validation result in segment order.
func (o *Outcome) Validations() []*povalidate.Result {
	var out []*povalidate.Result
	for _, s := range o.Segments {
		out = append(out, s.Validations...)
	}
	return out
}
