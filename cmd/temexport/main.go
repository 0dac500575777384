// Command temexport writes the result table of a stored session to a CSV
// file and optionally uploads it to an S3 bucket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/roman-kulish/temfield/internal/report"
	"github.com/roman-kulish/temfield/internal/result"
	"github.com/roman-kulish/temfield/internal/storage"
)

type config struct {
	dbPath    string
	sessionID int64
	outDir    string
	list      bool
	archive   report.S3Config
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	var c config
	flag.StringVar(&c.dbPath, "db", "", "Path to the database file")
	flag.Int64Var(&c.sessionID, "s", 0, "Session ID")
	flag.StringVar(&c.outDir, "o", ".", "Directory to write the table to")
	flag.BoolVar(&c.list, "list", false, "List the stored sessions and exit")
	flag.StringVar(&c.archive.Bucket, "bucket", "", "Upload the table to this S3 bucket")
	flag.StringVar(&c.archive.Prefix, "prefix", "", "Object key prefix in the bucket")
	flag.StringVar(&c.archive.Region, "region", "", "S3 region")
	flag.StringVar(&c.archive.Endpoint, "endpoint", "", "S3 compatible endpoint, e.g. a MinIO host")
	flag.Parse()

	if c.dbPath == "" || (!c.list && c.sessionID <= 0) {
		flag.Usage()
		logger.Error("db path and session id are required")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, &c, logger); err != nil {
		logger.Error(err.Error())

		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, c *config, logger *slog.Logger) error {
	if _, err := os.Stat(c.dbPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", c.dbPath, err)
	}

	store := storage.NewSqliteStore(c.dbPath)
	defer store.Close()

	if c.list {
		return listSessions(ctx, store)
	}

	session, err := store.Session(ctx, c.sessionID)
	if err != nil {
		return err
	}

	stored, err := store.Points(ctx, c.sessionID)
	if err != nil {
		return fmt.Errorf("reading points: %w", err)
	}

	points := make([]result.Point, len(stored))
	for i, p := range stored {
		points[i] = p.Point
	}

	path, err := report.SaveTable(c.outDir, session, points)
	if err != nil {
		return err
	}
	logger.Info("table saved", slog.String("path", path), slog.Int("points", len(points)))

	if c.archive.Bucket == "" {
		return nil
	}

	archiver, err := report.NewS3Archiver(ctx, c.archive, logger)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = archiver.Archive(ctx, filepath.Base(path), f)
	return err
}

func listSessions(ctx context.Context, store *storage.SqliteStore) error {
	sessions, err := store.Sessions(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		return errors.New("no sessions stored")
	}

	for _, s := range sessions {
		fmt.Printf("%d\t%s\t%s\t%.2f V/m\n", s.ID, s.StartTime.Local().Format("2006-01-02 15:04:05"), s.RunID, s.TargetField)
	}
	return nil
}
