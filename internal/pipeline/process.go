// Package pipeline runs a claimed scan from staging to its final place:
// extraction, splitting, routing, upload, purchase-order validation, then
// archive, reject or release.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/jackzampolin/scanrelay/internal/claim"
	"github.com/jackzampolin/scanrelay/internal/config"
	"github.com/jackzampolin/scanrelay/internal/events"
	"github.com/jackzampolin/scanrelay/internal/extract"
	"github.com/jackzampolin/scanrelay/internal/journal"
	"github.com/jackzampolin/scanrelay/internal/pdfdoc"
	"github.com/jackzampolin/scanrelay/internal/pocache"
	"github.com/jackzampolin/scanrelay/internal/povalidate"
	"github.com/jackzampolin/scanrelay/internal/qualer"
	"github.com/jackzampolin/scanrelay/internal/upload"
)

// annotatedReportType is the report type annotated purchase orders use.
const annotatedReportType = "general"

// DocumentExtractor builds a Document from a PDF.
type DocumentExtractor interface {
	Extract(ctx context.Context, path, workDir string) (*extract.Document, error)
}

// RecordSystem resolves work orders and work items.
type RecordSystem interface {
	ServiceOrderID(ctx context.Context, workOrderNumber string) (int64, error)
	FetchWorkItems(ctx context.Context, orderID int64) ([]qualer.WorkItem, error)
}

// POResolver maps purchase-order numbers to service orders.
type POResolver interface {
	Lookup(ctx context.Context, po string) (pocache.Entry, error)
}

// DocumentUploader attaches documents to service orders.
type DocumentUploader interface {
	Upload(ctx context.Context, req upload.Request) (*upload.Result, error)
}

// Journal records outcomes and validations.
type Journal interface {
	RecordOutcome(ctx context.Context, o *journal.Outcome) error
	RecordValidation(ctx context.Context, v *journal.Validation) error
}

// claimer is the part of *claim.Manager a Pipeline drives.
type claimer interface {
	Claim(ctx context.Context, path string, detected time.Time, history []claim.Snapshot) (*claim.ClaimedFile, error)
	ReadFile(ctx context.Context, f *claim.ClaimedFile) ([]byte, error)
	Release(ctx context.Context, f *claim.ClaimedFile) (string, error)
	Archive(ctx context.Context, f *claim.ClaimedFile, outputDir string) (string, error)
	Reject(ctx context.Context, f *claim.ClaimedFile, rejectDir string) (string, error)
	Delete(ctx context.Context, f *claim.ClaimedFile) error
	StagingDir() string
}

// Config configures a Pipeline for one folder.
type Config struct {
	Folder     config.FolderCfg
	Claims     *claim.Manager
	Extractor  DocumentExtractor
	Records    RecordSystem
	POs        POResolver
	Uploader   DocumentUploader
	Checker    *Checker
	Journal    Journal    // optional
	Bus        *events.Bus // optional
	DeleteMode bool
	Logger     *slog.Logger
}

// Pipeline processes files for one folder. It is not safe for concurrent
// use; each folder loop owns one.
type Pipeline struct {
	folder     config.FolderCfg
	docType    extract.DocType
	manager    *claim.Manager
	claims     claimer
	extractor  DocumentExtractor
	records    RecordSystem
	pos        POResolver
	uploader   DocumentUploader
	checker    *Checker
	journal    Journal
	bus        *events.Bus
	deleteMode bool
	logger     *slog.Logger
}

// New validates cfg and returns a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Claims == nil || cfg.Extractor == nil || cfg.Uploader == nil {
		return nil, fmt.Errorf("pipeline %s: claims, extractor and uploader are required", cfg.Folder.Name)
	}
	docType, err := extract.ParseDocType(cfg.Folder.DocType)
	if err != nil {
		return nil, fmt.Errorf("folder %s: %w", cfg.Folder.Name, err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("folder", cfg.Folder.Name)
	if cfg.Checker == nil {
		cfg.Checker = NewChecker(nil, "", logger)
	}
	return &Pipeline{
		folder:     cfg.Folder,
		docType:    docType,
		manager:    cfg.Claims,
		claims:     cfg.Claims,
		extractor:  cfg.Extractor,
		records:    cfg.Records,
		pos:        cfg.POs,
		uploader:   cfg.Uploader,
		checker:    cfg.Checker,
		journal:    cfg.Journal,
		bus:        cfg.Bus,
		deleteMode: cfg.DeleteMode,
		logger:     logger,
	}, nil
}

// Claims returns the folder's claim manager.
func (p *Pipeline) Claims() *claim.Manager {
	return p.manager
}

// Process claims the file at path and processes it. A lost claim is a
// Skipped outcome and a locked file is Released.
func (p *Pipeline) Process(ctx context.Context, path string, detected time.Time, history []claim.Snapshot) *Outcome {
	f, err := p.claims.Claim(ctx, path, detected, history)
	if err != nil {
		out := &Outcome{Folder: p.folder.Name, File: filepath.Base(path), StartedAt: time.Now()}
		switch {
		case errors.Is(err, claim.ErrClaimConflict):
			// Another instance owns it.
			p.logger.Debug("claim lost", "file", path)
			out.State = StateSkipped
			out.Reason = "claimed by another instance"
			out.FinalPath = path
			out.Duration = time.Since(out.StartedAt)
			return out
		case claim.IsTransientLock(err):
			out.State = StateReleased
			out.Reason = err.Error()
			out.FinalPath = path
		default:
			out.State = StateSkipped
			out.Reason = fmt.Sprintf("claim failed: %v", err)
			out.FinalPath = path
		}
		p.complete(ctx, out)
		return out
	}

	p.publish(events.Event{
		Kind:    events.KindFileClaimed,
		Folder:  p.folder.Name,
		Path:    path,
		Message: "claimed " + f.Name(),
		Data:    map[string]any{"staging_path": f.StagingPath},
	})
	return p.ProcessClaimedFile(ctx, f)
}

// ProcessClaimedFile runs a file this instance owns to a terminal outcome.
// It never returns nil and never panics.
func (p *Pipeline) ProcessClaimedFile(ctx context.Context, f *claim.ClaimedFile) (out *Outcome) {
	out = &Outcome{Folder: p.folder.Name, File: f.Name(), StartedAt: time.Now()}
	logger := p.logger.With("file", f.Name())

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while processing file", "panic", r, "stack", string(debug.Stack()))
			p.reject(ctx, f, out, fmt.Sprintf("panic: %v", r))
		}
		p.complete(ctx, out)
	}()

	if err := f.Transition(claim.StateProcessing); err != nil {
		p.reject(ctx, f, out, err.Error())
		return out
	}

	src, err := p.claims.ReadFile(ctx, f)
	if err != nil {
		if claim.IsTransientLock(err) {
			p.release(ctx, f, out, err.Error())
		} else {
			p.reject(ctx, f, out, fmt.Sprintf("read: %v", err))
		}
		return out
	}
	if err := pdfdoc.Validate(f.StagingPath); err != nil {
		p.reject(ctx, f, out, err.Error())
		return out
	}

	workDir, err := os.MkdirTemp(p.claims.StagingDir(), ".work-")
	if err != nil {
		p.release(ctx, f, out, fmt.Sprintf("create work dir: %v", err))
		return out
	}
	defer os.RemoveAll(workDir)

	doc, err := p.extractor.Extract(ctx, f.StagingPath, workDir)
	if err != nil {
		if ctx.Err() != nil {
			p.release(ctx, f, out, "interrupted during extraction")
			return out
		}
		p.reject(ctx, f, out, fmt.Sprintf("extract: %v", err))
		return out
	}

	// Split output is not byte-stable, so uploads dedupe on the source
	// content and page range instead.
	srcHash := journal.ContentHash(src)
	segs := extract.Plan(doc, p.docType)
	if err := extract.WriteSegments(doc, segs, workDir); err != nil {
		p.reject(ctx, f, out, err.Error())
		return out
	}
	logger.Info("document split", "pages", doc.PageCount, "segments", len(segs))

	failed := 0
	for i, seg := range segs {
		sr := p.processSegment(ctx, f, doc, seg, srcHash, len(segs), i)
		if sr.Error != "" {
			failed++
		}
		out.Segments = append(out.Segments, sr)
	}

	if failed > 0 {
		p.reject(ctx, f, out, fmt.Sprintf("%d of %d segment(s) failed to upload", failed, len(segs)))
		return out
	}
	p.archive(ctx, f, out)
	return out
}

func (p *Pipeline) processSegment(ctx context.Context, f *claim.ClaimedFile, doc *extract.Document, seg extract.Segment, srcHash string, total, index int) SegmentResult {
	name := f.Name()
	if total > 1 {
		name = filepath.Base(seg.Path)
	}
	sr := SegmentResult{
		Start:     seg.Start,
		End:       seg.End,
		WorkOrder: seg.WorkOrder,
		PONumber:  seg.PONumber,
		DocType:   seg.DocType,
		Name:      name,
	}
	logger := p.logger.With("file", f.Name(), "segment", index+1, "doc_type", seg.DocType)

	if seg.DocType == extract.PurchaseOrder && sr.PONumber == "" {
		sr.PONumber = povalidate.FindPONumber(doc.Text(seg.Start, seg.End))
	}

	targets, err := p.route(ctx, seg.WorkOrder, sr.PONumber)
	if err != nil {
		logger.Warn("segment could not be routed", "work_order", seg.WorkOrder, "po", sr.PONumber, "error", err)
		sr.Error = err.Error()
		return sr
	}

	data, err := os.ReadFile(seg.Path)
	if err != nil {
		sr.Error = fmt.Sprintf("read segment: %v", err)
		return sr
	}

	key := fmt.Sprintf("%s:%d-%d", srcHash, seg.Start, seg.End)
	for _, t := range targets {
		res, err := p.uploader.Upload(ctx, upload.Request{
			OrderID:    t.orderID,
			Name:       name,
			Data:       data,
			ReportType: seg.DocType.ReportType(),
			Private:    p.folder.Private,
			DedupeKey:  key,
			WorkOrder:  t.workOrder,
			SourcePath: f.OriginalPath,
		})
		if err != nil {
			logger.Error("upload failed", "order_id", t.orderID, "error", err)
			sr.Error = err.Error()
			return sr
		}
		sr.Uploads = append(sr.Uploads, res)

		if seg.DocType == extract.PurchaseOrder && p.folder.ValidatePO {
			if v := p.validate(ctx, logger, f, name, data, key, t); v != nil {
				sr.Validations = append(sr.Validations, v)
			}
		}
	}
	return sr
}

type target struct {
	orderID   int64
	workOrder string
}

// route resolves where a segment goes: its work order's service order, or
// every service order carrying its PO number.
func (p *Pipeline) route(ctx context.Context, workOrder, po string) ([]target, error) {
	switch {
	case workOrder != "":
		if p.records == nil {
			return nil, errors.New("no record system configured")
		}
		id, err := p.records.ServiceOrderID(ctx, workOrder)
		if err != nil {
			return nil, fmt.Errorf("work order %s: %w", workOrder, err)
		}
		return []target{{orderID: id, workOrder: workOrder}}, nil
	case po != "":
		if p.pos == nil {
			return nil, errors.New("no purchase-order cache configured")
		}
		entry, err := p.pos.Lookup(ctx, po)
		if err != nil {
			return nil, fmt.Errorf("po %s: %w", po, err)
		}
		out := make([]target, 0, len(entry.ServiceOrderIDs))
		for i, id := range entry.ServiceOrderIDs {
			t := target{orderID: id}
			if i < len(entry.WorkOrders) {
				t.workOrder = entry.WorkOrders[i]
			}
			out = append(out, t)
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("po %s: %w", po, pocache.ErrNotFound)
		}
		return out, nil
	}
	return nil, errors.New("no work order or purchase order number")
}

// validate checks a purchase order against one service order. Failures are
// logged and never fail the upload.
func (p *Pipeline) validate(ctx context.Context, logger *slog.Logger, f *claim.ClaimedFile, name string, data []byte, key string, t target) *povalidate.Result {
	if p.records == nil {
		return nil
	}
	items, err := p.records.FetchWorkItems(ctx, t.orderID)
	if err != nil {
		logger.Warn("could not fetch work items, skipping validation", "order_id", t.orderID, "error", err)
		return nil
	}
	annotated, res := p.checker.ValidatePurchaseOrder(ctx, name, data, t.orderID, WorkItems(items))
	outcome := povalidate.OutcomeOf(res)

	if annotated != nil {
		_, err := p.uploader.Upload(ctx, upload.Request{
			OrderID:    t.orderID,
			Name:       povalidate.AnnotatedName(name, outcome),
			Data:       annotated,
			ReportType: annotatedReportType,
			Private:    p.folder.Private,
			DedupeKey:  key + ":" + string(outcome),
			WorkOrder:  t.workOrder,
			SourcePath: f.OriginalPath,
		})
		if err != nil {
			logger.Warn("annotated copy upload failed", "order_id", t.orderID, "error", err)
		}
	}

	if p.journal != nil {
		if err := p.journal.RecordValidation(ctx, &journal.Validation{Folder: p.folder.Name, Outcome: string(outcome), Result: *res}); err != nil {
			logger.Warn("failed to journal validation", "error", err)
		}
	}
	p.publish(events.Event{
		Kind:    events.KindValidationComplete,
		Folder:  p.folder.Name,
		Path:    f.OriginalPath,
		Message: fmt.Sprintf("%s: %s", name, res.Status),
		Data: map[string]any{
			"order_id":   t.orderID,
			"po_number":  res.PONumber,
			"status":     string(res.Status),
			"outcome":    string(outcome),
			"mismatches": len(res.Mismatches),
			"missing":    len(res.Missing),
		},
	})
	return res
}

func (p *Pipeline) archive(ctx context.Context, f *claim.ClaimedFile, out *Outcome) {
	if p.deleteMode || p.folder.OutputDir == "" {
		if err := p.claims.Delete(ctx, f); err != nil {
			p.finishFailed(ctx, f, out, "delete", err)
			return
		}
		out.State = StateArchived
		out.Reason = "uploaded, deleted"
		return
	}
	dest, err := p.claims.Archive(ctx, f, p.folder.OutputDir)
	if err != nil {
		p.finishFailed(ctx, f, out, "archive", err)
		return
	}
	out.State = StateArchived
	out.Reason = "uploaded"
	out.FinalPath = dest
}

func (p *Pipeline) reject(ctx context.Context, f *claim.ClaimedFile, out *Outcome, reason string) {
	out.State = StateRejected
	out.Reason = reason
	dest, err := p.claims.Reject(ctx, f, p.folder.RejectDir)
	if err != nil {
		p.logger.Error("failed to move file to reject dir", "file", f.Name(), "error", err)
		out.FinalPath = f.StagingPath
		return
	}
	out.FinalPath = dest
}

func (p *Pipeline) release(ctx context.Context, f *claim.ClaimedFile, out *Outcome, reason string) {
	out.State = StateReleased
	out.Reason = reason
	dest, err := p.claims.Release(ctx, f)
	if err != nil {
		p.logger.Error("failed to release file", "file", f.Name(), "error", err)
		out.FinalPath = f.StagingPath
		return
	}
	out.FinalPath = dest
}

// finishFailed handles a failed archive or delete after a successful upload.
// The file is released so a later pass sees it; the journal dedupes the
// uploads that already happened.
func (p *Pipeline) finishFailed(ctx context.Context, f *claim.ClaimedFile, out *Outcome, op string, err error) {
	p.logger.Error("failed to finish file", "op", op, "file", f.Name(), "error", err)
	p.release(ctx, f, out, fmt.Sprintf("%s failed: %v", op, err))
}

func (p *Pipeline) complete(ctx context.Context, out *Outcome) {
	out.Duration = time.Since(out.StartedAt)

	level := slog.LevelInfo
	if out.State == StateRejected {
		level = slog.LevelWarn
	}
	p.logger.Log(ctx, level, "file processed",
		"file", out.File,
		"state", out.State,
		"reason", out.Reason,
		"segments", len(out.Segments),
		"uploads", out.UploadCount(),
		"duration", out.Duration)

	if p.journal != nil {
		err := p.journal.RecordOutcome(context.WithoutCancel(ctx), &journal.Outcome{
			Folder:     out.Folder,
			SourcePath: out.File,
			FinalPath:  out.FinalPath,
			State:      string(out.State),
			Reason:     out.Reason,
			Segments:   len(out.Segments),
			Uploads:    out.UploadCount(),
		})
		if err != nil {
			p.logger.Warn("failed to journal outcome", "file", out.File, "error", err)
		}
	}

	p.publish(events.Event{
		Kind:    events.KindFileProcessed,
		Folder:  out.Folder,
		Path:    out.FinalPath,
		Message: fmt.Sprintf("%s: %s", out.File, out.State),
		Data: map[string]any{
			"state":    string(out.State),
			"reason":   out.Reason,
			"segments": len(out.Segments),
			"uploads":  out.UploadCount(),
		},
	})
}

func (p *Pipeline) publish(e events.Event) {
	if p.bus != nil {
		p.bus.Publish(e)
	}
}
