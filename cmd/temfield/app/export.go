package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/roman-kulish/temfield/internal/control"
	"github.com/roman-kulish/temfield/internal/measurement"
	"github.com/roman-kulish/temfield/internal/report"
)

const archiveTimeout = time.Minute

// exporter saves the result table of every completed run
type exporter struct {
	test     *measurement.Test
	dir      string
	archiver report.Archiver

	wg     sync.WaitGroup
	logger *slog.Logger
}

func (e *exporter) onComplete(_ context.Context, run control.Run) {
	session := e.test.Session()
	if session == nil {
		return
	}

	path, err := report.SaveTable(e.dir, session, e.test.Points())
	if err != nil {
		e.logger.Error(fmt.Sprintf("saving table: %s", err.Error()), slog.Int64("sessionID", session.ID))
		return
	}
	e.logger.Info("table saved", slog.String("path", path), slog.Int("points", run.Plan.Len()))

	if e.archiver == nil {
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := archiveFile(e.archiver, path); err != nil {
			e.logger.Error(fmt.Sprintf("archiving table: %s", err.Error()), slog.String("path", path))
		}
	}()
}

// wait blocks until pending uploads have finished
func (e *exporter) wait() {
	e.wg.Wait()
}

func archiveFile(archiver report.Archiver, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	_, err = archiver.Archive(ctx, filepath.Base(path), f)
	return err
}
