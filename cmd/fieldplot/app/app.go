package app

import (
	"context"
	"fmt"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"

	"github.com/roman-kulish/temfield/internal/storage"
	"github.com/roman-kulish/temfield/internal/sweep"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if _, err := os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", config.DBPath, err)
	}

	store := storage.NewSqliteStore(config.DBPath)
	defer store.Close()

	return plotField(ctx, store, config, logger)
}

func plotField(ctx context.Context, store *storage.SqliteStore, config *Config, logger *slog.Logger) (err error) {
	session, err := store.Session(ctx, config.SessionID)
	if err != nil {
		return err
	}

	points, err := store.Points(ctx, config.SessionID)
	if err != nil {
		return fmt.Errorf("reading points: %w", err)
	}

	data := NewFieldData(session, points)

	logger.Info("finished reading data points",
		slog.Group("stats",
			slog.String("runID", session.RunID),
			slog.Int("points", len(data.Points)),
			slog.Int("errors", data.Errors),
			slog.String("minFreq", sweep.FormatHz(data.FrequencyMin)),
			slog.String("maxFreq", sweep.FormatHz(data.FrequencyMax)),
			slog.String("maxField", fmt.Sprintf("%0.2fV/m", data.FieldMax)),
		))

	renderer, err := NewFieldRenderer(RenderConfig{
		Width:         config.Width,
		Height:        config.Height,
		LinearAxis:    config.LinearAxis,
		NoAnnotations: config.NoAnnotations,
	})
	if err != nil {
		return fmt.Errorf("creating field renderer: %w", err)
	}

	logger.Info("rendering field plot",
		slog.Group("image",
			slog.String("destination", config.OutputFile),
			slog.String("format", string(config.Format)),
			slog.Int("width", config.Width),
			slog.Int("height", config.Height),
		))

	img, err := renderer.Render(data)
	if err != nil {
		return fmt.Errorf("rendering field plot: %w", err)
	}

	out, err := os.Create(config.OutputFile)
	if err != nil {
		return err
	}
	defer func() {
		if cErr := out.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	switch config.Format {
	case ImagePNG:
		err = png.Encode(out, img)

	case ImageJPEG:
		err = jpeg.Encode(out, img, &jpeg.Options{
			Quality: 98,
		})
	}
	return err
}
