package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/roman-kulish/temfield/internal/api"
	"github.com/roman-kulish/temfield/internal/control"
	"github.com/roman-kulish/temfield/internal/instrument"
	"github.com/roman-kulish/temfield/internal/measurement"
	"github.com/roman-kulish/temfield/internal/report"
	"github.com/roman-kulish/temfield/internal/sequencer"
	"github.com/roman-kulish/temfield/internal/settings"
	"github.com/roman-kulish/temfield/internal/storage"
)

const (
	dbFileName      = "temfield.sqlite"
	shutdownTimeout = 10 * time.Second
)

// Options are the command line switches of a run
type Options struct {
	SettingsPath string
	AutoStart    bool
	Once         bool
	Progress     bool
}

func Run(ctx context.Context, config *Config, opts Options, logger *slog.Logger) error {
	settingsPath := opts.SettingsPath
	if settingsPath == "" {
		var err error
		if settingsPath, err = settings.DefaultPath(); err != nil {
			return err
		}
	}

	s, err := settings.Load(settingsPath)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	logger.Info("settings loaded", slog.String("path", settingsPath))

	chain, err := instrument.LoadChain(s.Settings.Names, s.Settings.SearchPath, logger)
	if err != nil {
		return fmt.Errorf("loading instruments: %w", err)
	}

	store, err := createStorage(&config.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	defer store.Close()

	test := measurement.New(chain, store, measurement.Conditions{
		EUTDescription: s.Settings.EUTDescription,
		CW:             s.FieldStrength.CW,
		AM:             s.FieldStrength.AM,
	}, measurement.WithLogger(logger), measurement.WithMaxBatchSize(config.Storage.MaxBatchSize))

	exp := exporter{
		test:   test,
		dir:    s.Settings.TableSaveDir,
		logger: logger.With(slog.String("component", "export")),
	}
	if config.Archive.Enabled {
		if exp.archiver, err = report.NewS3Archiver(ctx, config.Archive.S3, logger); err != nil {
			return fmt.Errorf("creating archive: %w", err)
		}
	}
	defer exp.wait()

	// the loop outlives ctx so a run in progress can be wound down on exit
	loopCtx, stopLoop := context.WithCancel(context.WithoutCancel(ctx))
	defer stopLoop()

	loop := control.NewLoop(control.WithLoopLogger(logger))
	go func() { _ = loop.Run(loopCtx) }()

	ctrl, err := control.NewController(loop, test, s.Range(), s.Dwell(),
		control.WithLogger(logger),
		control.WithRangeCheck(settings.CheckRange),
		control.WithSequencerOptions(
			sequencer.WithPollInterval(config.Sequencer.PollInterval),
			sequencer.WithMinDwell(config.Sequencer.MinDwell),
		),
		control.WithCompletionHook(exp.onComplete))
	if err != nil {
		return fmt.Errorf("creating controller: %w", err)
	}

	plan, dwell, err := ctrl.Plan(ctx)
	if err != nil {
		return err
	}
	logger.Info("sweep plan", slog.String("summary", plan.Summary(dwell)))

	handler := api.New(ctrl, store,
		api.WithLogger(logger),
		api.WithAllowedOrigins(config.HTTP.Origins...),
		api.WithTelemetry(test))

	srv := &http.Server{
		Addr:              config.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		logger.Info(fmt.Sprintf("control API listening on %s", config.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	if opts.Progress {
		go func() {
			if err := showProgress(ctx, ctrl); err != nil {
				logger.Warn(err.Error())
			}
		}()
	}

	var runErr error
	if opts.AutoStart {
		if err = ctrl.Dispatch(ctx, control.CommandStart); err != nil {
			logger.Error(err.Error())
		}
	}

	switch {
	case opts.Once && err != nil:
		runErr = err
	case opts.Once && opts.AutoStart:
		select {
		case <-ctx.Done():
		case <-ctrl.Done():
			logger.Info("all frequencies processed")
		case runErr = <-srvErr:
		}
	default:
		select {
		case <-ctx.Done():
		case runErr = <-srvErr:
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(fmt.Sprintf("shutting down control API: %s", err.Error()))
	}

	if err := abortRun(shutdownCtx, ctrl); err != nil {
		logger.Warn(fmt.Sprintf("aborting run: %s", err.Error()))
	}

	if err := saveSettings(shutdownCtx, ctrl, s, settingsPath); err != nil {
		logger.Warn(fmt.Sprintf("saving settings: %s", err.Error()))
	}

	stopLoop()
	<-loop.Done()

	return runErr
}

// abortRun pauses a running sweep and resets it, which finishes the test and
// puts the instruments into standby.
func abortRun(ctx context.Context, ctrl *control.Controller) error {
	status, err := ctrl.Status(ctx)
	if err != nil {
		return err
	}

	switch status.Progress.State {
	case sequencer.StateRunning:
		if err = ctrl.Dispatch(ctx, control.CommandPause); err != nil {
			return err
		}
		fallthrough

	case sequencer.StatePaused:
		return ctrl.Dispatch(ctx, control.CommandReset)
	}
	return nil
}

func saveSettings(ctx context.Context, ctrl *control.Controller, s *settings.Settings, path string) error {
	status, err := ctrl.Status(ctx)
	if err != nil {
		return err
	}
	_, dwell, err := ctrl.Plan(ctx)
	if err != nil {
		return err
	}

	if err = s.SetRange(status.Range); err != nil {
		return fmt.Errorf("keeping saved range: %w", err)
	}
	s.SetDwell(dwell)

	// a file Load rejects would keep the application from starting
	if err = s.Validate(); err != nil {
		return fmt.Errorf("refusing to save: %w", err)
	}
	return s.Save(path)
}

func createStorage(config *StorageConfig) (*storage.SqliteStore, error) {
	dir := config.DataDirectory
	if !filepath.IsAbs(dir) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current working directory: %w", err)
		}
		dir = filepath.Join(wd, dir)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory '%s': %w", dir, err)
	}

	return storage.NewSqliteStore(filepath.Join(dir, dbFileName)), nil
}
