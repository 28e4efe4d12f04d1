// Package upload attaches documents to record-system service orders,
// resolving naming conflicts by suffixing and skipping content that was
// already uploaded.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackzampolin/scanrelay/internal/claim"
	"github.com/jackzampolin/scanrelay/internal/journal"
	"github.com/jackzampolin/scanrelay/internal/qualer"
)

// DefaultMaxAttempts bounds naming-conflict retries.
const DefaultMaxAttempts = 10

// ErrNamingExhausted means every candidate name was taken.
var ErrNamingExhausted = errors.New("upload: naming conflicts exhausted")

// DocumentStore lists and accepts service-order documents.
type DocumentStore interface {
	DocumentNames(ctx context.Context, orderID int64) ([]string, error)
	UploadDocument(ctx context.Context, orderID int64, name string, data []byte, reportType string, private bool) error
}

// Ledger remembers what was uploaded. *journal.Journal satisfies it.
type Ledger interface {
	FindUpload(ctx context.Context, hash string, orderID int64, reportType string) (*journal.Upload, bool, error)
	RecordUpload(ctx context.Context, u *journal.Upload) error
}

// Config configures an Uploader.
type Config struct {
	Store       DocumentStore
	Ledger      Ledger // nil disables dedupe
	MaxAttempts int    // default: 10
	DryRun      bool
	Logger      *slog.Logger
}

// Uploader runs uploads.
type Uploader struct {
	store       DocumentStore
	ledger      Ledger
	maxAttempts int
	dryRun      bool
	logger      *slog.Logger
}

// New creates an Uploader.
func New(cfg Config) *Uploader {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Uploader{
		store:       cfg.Store,
		ledger:      cfg.Ledger,
		maxAttempts: cfg.MaxAttempts,
		dryRun:      cfg.DryRun,
		logger:      cfg.Logger,
	}
}

// Request is one document to attach.
type Request struct {
	OrderID    int64
	Name       string
	Data       []byte
	ReportType string
	Private    bool

	// DedupeKey identifies the content for dedupe. Empty means the
	// SHA-256 of Data.
	DedupeKey string

	// Recorded in the journal only.
	WorkOrder  string
	SourcePath string
}

// Result describes a finished upload.
type Result struct {
	Name      string `json:"name"`
	OrderID   int64  `json:"order_id"`
	Attempts  int    `json:"attempts"`
	Duplicate bool   `json:"duplicate,omitempty"`
	DryRun    bool   `json:"dry_run,omitempty"`
}

// Upload attaches req.Data to the order under the first free name.
func (u *Uploader) Upload(ctx context.Context, req Request) (*Result, error) {
	if req.OrderID == 0 {
		return nil, fmt.Errorf("upload %s: no service order", req.Name)
	}
	logger := u.logger.With("file", req.Name, "order_id", req.OrderID, "report_type", req.ReportType)

	hash := req.DedupeKey
	if hash == "" {
		hash = journal.ContentHash(req.Data)
	}
	if u.ledger != nil {
		prev, ok, err := u.ledger.FindUpload(ctx, hash, req.OrderID, req.ReportType)
		if err != nil {
			logger.Warn("upload journal lookup failed", "error", err)
		} else if ok {
			logger.Info("skipping duplicate upload", "uploaded_as", prev.FileName, "uploaded_at", prev.RecordedAt)
			return &Result{Name: prev.FileName, OrderID: req.OrderID, Duplicate: true}, nil
		}
	}

	if u.dryRun {
		logger.Info("dry run, not uploading", "bytes", len(req.Data))
		return &Result{Name: req.Name, OrderID: req.OrderID, DryRun: true}, nil
	}

	existing, err := u.store.DocumentNames(ctx, req.OrderID)
	if err != nil {
		return nil, fmt.Errorf("list documents for order %d: %w", req.OrderID, err)
	}
	taken := make(map[string]bool, len(existing))
	for _, n := range existing {
		taken[n] = true
	}

	name := req.Name
	for attempt := 1; attempt <= u.maxAttempts; attempt++ {
		for taken[name] {
			name = claim.IncrementFilename(name)
		}
		err := u.store.UploadDocument(ctx, req.OrderID, name, req.Data, req.ReportType, req.Private)
		if err == nil {
			logger.Info("uploaded document", "name", name, "attempts", attempt)
			u.record(ctx, logger, req, name, hash)
			return &Result{Name: name, OrderID: req.OrderID, Attempts: attempt}, nil
		}
		if !errors.Is(err, qualer.ErrNamingConflict) {
			return nil, fmt.Errorf("upload %s to order %d: %w", name, req.OrderID, err)
		}
		logger.Debug("naming conflict, incrementing", "name", name, "attempt", attempt)
		taken[name] = true
	}
	return nil, fmt.Errorf("%s after %d attempts on order %d: %w", req.Name, u.maxAttempts, req.OrderID, ErrNamingExhausted)
}

func (u *Uploader) record(ctx context.Context, logger *slog.Logger, req Request, name, hash string) {
	if u.ledger == nil {
		return
	}
	err := u.ledger.RecordUpload(ctx, &journal.Upload{
		ContentHash: hash,
		OrderID:     req.OrderID,
		ReportType:  req.ReportType,
		FileName:    name,
		WorkOrder:   req.WorkOrder,
		SourcePath:  req.SourcePath,
	})
	if err != nil {
		logger.Warn("failed to journal upload", "error", err)
	}
}
