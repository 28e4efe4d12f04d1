package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackzampolin/scanrelay/internal/claim"
	"github.com/jackzampolin/scanrelay/internal/config"
	"github.com/jackzampolin/scanrelay/internal/events"
	"github.com/jackzampolin/scanrelay/internal/extract"
	"github.com/jackzampolin/scanrelay/internal/home"
	"github.com/jackzampolin/scanrelay/internal/journal"
	"github.com/jackzampolin/scanrelay/internal/pdfdoc"
	"github.com/jackzampolin/scanrelay/internal/pipeline"
	"github.com/jackzampolin/scanrelay/internal/pocache"
	"github.com/jackzampolin/scanrelay/internal/povalidate"
	"github.com/jackzampolin/scanrelay/internal/providers"
	"github.com/jackzampolin/scanrelay/internal/qualer"
	"github.com/jackzampolin/scanrelay/internal/upload"
)

var errNoFolders = errors.New("no folders configured; run `scanrelay config init` and edit the config")

func errUnknownFolder(name string) error {
	return fmt.Errorf("no folder named %q in config", name)
}

// app holds what every command needs. Heavier services are built on demand.
type app struct {
	home     *home.Dir
	cfgMgr   *config.Manager
	logLevel *slog.LevelVar
	logger   *slog.Logger

	qualer  *qualer.Client
	cache   *pocache.Cache
	journal *journal.Journal
	reg     *providers.Registry
}

// loadApp resolves the home directory, loads config and sets up logging.
func loadApp() (*app, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, err
	}

	file := cfgFile
	if file == "" && h.ConfigExists() {
		file = h.ConfigPath()
	}
	mgr, err := config.NewManager(file)
	if err != nil {
		return nil, err
	}
	cfg := mgr.Get()

	level := new(slog.LevelVar)
	level.Set(cfg.SlogLevel())
	// Logs go to stderr so command output on stdout stays parseable.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	a := &app{home: h, cfgMgr: mgr, logLevel: level, logger: logger}
	a.qualer = qualer.NewClient(qualer.Config{
		BaseURL:    cfg.QualerBaseURL(),
		APIKey:     cfg.QualerAPIKey(),
		Timeout:    cfg.Qualer.Timeout,
		MaxRetries: cfg.Qualer.MaxRetries,
		Logger:     logger,
	})
	cachePath := cfg.Cache.Path
	if cachePath == "" {
		cachePath = h.CachePath()
	}
	a.cache = pocache.New(cachePath, a.qualer, logger)
	return a, nil
}

func (a *app) cfg() *config.Config {
	return a.cfgMgr.Get()
}

// openJournal opens the local journal once.
func (a *app) openJournal() (*journal.Journal, error) {
	if a.journal != nil {
		return a.journal, nil
	}
	j, err := journal.Open(a.home.JournalPath())
	if err != nil {
		return nil, err
	}
	a.journal = j
	return j, nil
}

// providers builds the OCR and vision capabilities once.
func (a *app) providers(ctx context.Context) (*providers.Registry, error) {
	if a.reg != nil {
		return a.reg, nil
	}
	reg, err := providers.NewRegistryFromConfig(ctx, a.cfg(), a.logger)
	if err != nil {
		return nil, err
	}
	a.reg = reg
	return reg, nil
}

func (a *app) renderer() *pdfdoc.Renderer {
	cfg := a.cfg()
	return &pdfdoc.Renderer{Bin: cfg.Extract.PdftoppmPath, DPI: cfg.Extract.RenderDPI}
}

func (a *app) extractor(ctx context.Context) (*extract.Extractor, error) {
	reg, err := a.providers(ctx)
	if err != nil {
		return nil, err
	}
	cfg := a.cfg()
	return extract.New(extract.Config{
		WorkOrderPattern: cfg.Extract.WorkOrderPattern,
		MinChars:         cfg.Extract.MinChars,
		RenderDPI:        cfg.Extract.RenderDPI,
		Transcriber:      reg.Transcriber,
		Orientation:      reg.Orientation,
		Renderer:         a.renderer(),
		Logger:           a.logger,
	})
}

func (a *app) validator(ctx context.Context) (*povalidate.Validator, error) {
	reg, err := a.providers(ctx)
	if err != nil {
		return nil, err
	}
	ext := povalidate.NewExtractor(povalidate.ExtractorConfig{
		Vision:    reg.Vision,
		Renderer:  a.renderer(),
		Threshold: a.cfg().Validation.ConfidenceThreshold,
		Logger:    a.logger,
	})
	return povalidate.NewValidator(ext, a.logger), nil
}

// pipeline builds the claim manager and pipeline for one folder.
func (a *app) pipeline(ctx context.Context, folder config.FolderCfg, bus *events.Bus) (*pipeline.Pipeline, error) {
	cfg := a.cfg()
	id, err := a.home.InstanceID()
	if err != nil {
		return nil, err
	}
	claims, err := claim.NewManager(claim.Config{
		Folder:        folder.Name,
		InputDir:      folder.InputDir,
		InstanceID:    id,
		RetryAttempts: uint(max(cfg.Watch.LockRetryAttempts, 0)),
		RetryDelay:    cfg.Watch.LockRetryDelay,
		RetryMaxDelay: cfg.Watch.LockRetryMaxDelay,
		Logger:        a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("folder %s: %w", folder.Name, err)
	}
	ext, err := a.extractor(ctx)
	if err != nil {
		return nil, err
	}
	v, err := a.validator(ctx)
	if err != nil {
		return nil, err
	}
	j, err := a.openJournal()
	if err != nil {
		return nil, err
	}
	up := upload.New(upload.Config{
		Store:       a.qualer,
		Ledger:      j,
		MaxAttempts: cfg.Upload.MaxAttempts,
		DryRun:      cfg.DryRun,
		Logger:      a.logger,
	})
	return pipeline.New(pipeline.Config{
		Folder:     folder,
		Claims:     claims,
		Extractor:  ext,
		Records:    a.qualer,
		POs:        a.cache,
		Uploader:   up,
		Checker:    pipeline.NewChecker(v, claims.StagingDir(), a.logger),
		Journal:    j,
		Bus:        bus,
		DeleteMode: cfg.DeleteMode,
		Logger:     a.logger,
	})
}

// folder picks a folder by name, or the only one configured.
func (a *app) folder(name string) (config.FolderCfg, error) {
	cfg := a.cfg()
	if name != "" {
		f, ok := cfg.Folder(name)
		if !ok {
			return config.FolderCfg{}, errUnknownFolder(name)
		}
		return f, nil
	}
	switch len(cfg.Folders) {
	case 0:
		return config.FolderCfg{}, errNoFolders
	case 1:
		return cfg.Folders[0], nil
	default:
		return config.FolderCfg{}, errors.New("several folders configured; pick one with --folder")
	}
}

func (a *app) Close() error {
	var errs []error
	if a.reg != nil {
		errs = append(errs, a.reg.Close())
	}
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
	}
	return errors.Join(errs...)
}
