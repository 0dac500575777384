package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roman-kulish/temfield/internal/result"
)

const defaultReaderBatchSize = 500

// ErrReaderClosed is returned by a PointReader used after Close.
var ErrReaderClosed = errors.New("reader closed")

// ReaderOption configures a PointReader with specific filtering criteria.
type ReaderOption func(*PointReader)

// WithFreqRange keeps only points with minFreq <= frequency <= maxFreq.
func WithFreqRange(minFreq, maxFreq float64) ReaderOption {
	return func(r *PointReader) {
		r.minFreq = &minFreq
		r.maxFreq = &maxFreq
	}
}

// WithStatus keeps only points with the given status.
func WithStatus(status result.Status) ReaderOption {
	return func(r *PointReader) {
		r.status = &status
	}
}

// WithTelemetry joins each point with the probe reading it links to.
func WithTelemetry() ReaderOption {
	return func(r *PointReader) {
		r.includeTelemetry = true
	}
}

// WithBatchSize sets how many rows are fetched per query.
func WithBatchSize(size int) ReaderOption {
	return func(r *PointReader) {
		if size > 0 {
			r.batchSize = size
		}
	}
}

// PointReader iterates over the result points of one session.
type PointReader struct {
	db      *sql.DB
	session *result.Session

	includeTelemetry bool
	minFreq          *float64
	maxFreq          *float64
	status           *result.Status
	batchSize        int

	lastID    int64
	buf       []result.PointWithTelemetry
	pos       int
	exhausted bool
	closed    bool
	err       error
}

func newPointReader(db *sql.DB, session *result.Session, opts ...ReaderOption) *PointReader {
	r := &PointReader{
		db:        db,
		session:   session,
		batchSize: defaultReaderBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Session returns the session this reader is accessing.
func (r *PointReader) Session() *result.Session {
	return r.session
}

// Next advances the iterator and returns true if there is another point to
// read. It returns false at the end of data or on error; check Error.
func (r *PointReader) Next(ctx context.Context) bool {
	if r.closed {
		r.err = ErrReaderClosed
		return false
	}
	if r.err != nil {
		return false
	}

	if r.pos+1 < len(r.buf) {
		r.pos++
		return true
	}
	if r.exhausted {
		return false
	}

	if r.err = r.fetch(ctx); r.err != nil {
		return false
	}
	r.pos = 0
	return len(r.buf) > 0
}

// Current returns the current point. It is undefined after Next returns false.
func (r *PointReader) Current() *result.PointWithTelemetry {
	if r.pos < 0 || r.pos >= len(r.buf) {
		return nil
	}
	return &r.buf[r.pos]
}

// Error returns any error that occurred during iteration.
func (r *PointReader) Error() error {
	return r.err
}

// Close releases the reader. It is safe to call Close multiple times.
func (r *PointReader) Close() error {
	r.closed = true
	r.buf = nil
	return nil
}

func (r *PointReader) query() (string, []any) {
	var sb strings.Builder
	if r.includeTelemetry {
		sb.WriteString(selectPointsWithTelemetrySQL)
	} else {
		sb.WriteString(selectPointsSQL)
	}

	args := []any{r.session.ID, r.lastID}

	if r.minFreq != nil {
		sb.WriteString(" AND p.frequency >= ?")
		args = append(args, *r.minFreq)
	}
	if r.maxFreq != nil {
		sb.WriteString(" AND p.frequency <= ?")
		args = append(args, *r.maxFreq)
	}
	if r.status != nil {
		sb.WriteString(" AND p.status = ?")
		args = append(args, string(*r.status))
	}

	sb.WriteString(" ORDER BY p.id LIMIT ?")
	args = append(args, r.batchSize)

	return sb.String(), args
}

func (r *PointReader) fetch(ctx context.Context) (err error) {
	query, args := r.query()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying points: %w", err)
	}
	defer closeWithError(rows, &err)

	r.buf = r.buf[:0]
	for rows.Next() {
		var p pointData
		dest := []any{&p.ID, &p.SessionID, &p.Timestamp, &p.Frequency, &p.CW, &p.Field, &p.Status, &p.TelemetryID}

		var t telemetryData
		var tTimestamp sql.NullTime
		if r.includeTelemetry {
			dest = append(dest, &tTimestamp, &t.Ex, &t.Ey, &t.Ez, &t.Temperature, &t.Battery)
		}

		if err = rows.Scan(dest...); err != nil {
			return fmt.Errorf("scanning point: %w", err)
		}

		point := result.PointWithTelemetry{Point: p.toPoint()}
		if r.includeTelemetry && tTimestamp.Valid {
			t.Timestamp = tTimestamp.Time
			point.Telemetry = t.toTelemetry()
		}

		r.buf = append(r.buf, point)
		r.lastID = p.ID
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("iterating points: %w", err)
	}

	if len(r.buf) < r.batchSize {
		r.exhausted = true
	}
	return nil
}
