package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/scanrelay/internal/config"
	"github.com/jackzampolin/scanrelay/internal/connectivity"
	"github.com/jackzampolin/scanrelay/internal/events"
	"github.com/jackzampolin/scanrelay/internal/server"
	"github.com/jackzampolin/scanrelay/internal/watcher"
)

var (
	watchFolders    []string
	watchMaxRuntime time.Duration
	watchServe      bool
	watchDryRun     bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the configured folders and process new scans",
	Long: `Watch every configured folder (or those named with --folder) and
process each PDF once it stops changing.

Each folder runs in its own supervised loop; a loop that fails is
restarted with backoff without affecting the others. With --serve (or
server.enabled in config) a read-only status API is started as well.

Examples:
  scanrelay watch
  scanrelay watch --folder scans --max-runtime 8h
  scanrelay watch --serve --dry-run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		cfg := a.cfg()
		if cmd.Flags().Changed("dry-run") {
			cfg.DryRun = watchDryRun
		}
		if cmd.Flags().Changed("max-runtime") {
			cfg.MaxRuntime = watchMaxRuntime
		}

		folders, err := selectFolders(cfg, watchFolders)
		if err != nil {
			return err
		}

		bus := events.NewBus(events.BusConfig{Logger: a.logger})
		defer bus.Close()

		var loops []*watcher.Loop
		dirs := make(map[string]string, len(folders))
		for _, f := range folders {
			p, err := a.pipeline(ctx, f, bus)
			if err != nil {
				return err
			}
			l, err := watcher.NewLoop(watcher.LoopConfig{
				Folder:       f.Name,
				InputDir:     f.InputDir,
				Processor:    p,
				Claims:       p.Claims(),
				PollInterval: cfg.Watch.PollInterval,
				StablePolls:  cfg.Watch.StablePolls,
				Bus:          bus,
				Logger:       a.logger,
			})
			if err != nil {
				return err
			}
			loops = append(loops, l)
			dirs[f.Name] = f.InputDir
		}

		a.cfgMgr.OnChange(func(c *config.Config) {
			a.logLevel.Set(c.SlogLevel())
			a.logger.Info("config reloaded; folder and provider changes apply on restart", "log_level", c.LogLevel)
		})
		a.cfgMgr.WatchConfig()

		recorder := events.NewRecorder(500)
		probe := connectivity.New(connectivity.Config{
			API:     a.qualer,
			Folders: dirs,
			Bus:     bus,
			Logger:  a.logger,
		})
		w := watcher.New(watcher.Config{
			Loops:      loops,
			MaxRuntime: cfg.MaxRuntime,
			Bus:        bus,
			Logger:     a.logger,
		})

		j, err := a.openJournal()
		if err != nil {
			return err
		}

		a.logger.Info("watching folders", "folders", len(loops), "dry_run", cfg.DryRun, "qualer", a.qualer.BaseURL())

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			recorder.Run(gctx, bus)
			return nil
		})
		g.Go(func() error {
			probe.Run(gctx)
			return nil
		})
		g.Go(func() error {
			if _, err := a.cache.Refresh(gctx); err != nil {
				a.logger.Warn("PO cache refresh failed, lookups fall back to the API", "error", err)
			}
			return nil
		})
		if watchServe || cfg.Server.Enabled {
			srv := server.New(server.Config{
				Host:     cfg.Server.Host,
				Port:     cfg.Server.Port,
				Recorder: recorder,
				History:  j,
				Status:   probe,
				Logger:   a.logger,
			})
			g.Go(func() error { return srv.Start(gctx) })
		}
		g.Go(func() error {
			// The watch ends when every loop has stopped, so wind down the rest.
			defer cancel()
			return w.Run(gctx)
		})
		return g.Wait()
	},
}

// selectFolders returns the named folders, or all of them.
func selectFolders(cfg *config.Config, names []string) ([]config.FolderCfg, error) {
	if len(names) == 0 {
		if len(cfg.Folders) == 0 {
			return nil, errNoFolders
		}
		return cfg.Folders, nil
	}
	out := make([]config.FolderCfg, 0, len(names))
	for _, n := range names {
		f, ok := cfg.Folder(n)
		if !ok {
			return nil, errUnknownFolder(n)
		}
		out = append(out, f)
	}
	return out, nil
}

func init() {
	watchCmd.Flags().StringSliceVar(&watchFolders, "folder", nil, "folder name to watch (repeatable, default: all)")
	watchCmd.Flags().DurationVar(&watchMaxRuntime, "max-runtime", 0, "stop claiming new files after this long (0 = run until stopped)")
	watchCmd.Flags().BoolVar(&watchServe, "serve", false, "start the status server")
	watchCmd.Flags().BoolVar(&watchDryRun, "dry-run", false, "process files but never upload")

	rootCmd.AddCommand(watchCmd)
}
