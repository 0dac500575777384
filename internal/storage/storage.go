package storage

import (
	"context"
	"errors"

	_ "github.com/mattn/go-sqlite3"
	"github.com/roman-kulish/temfield/internal/result"
	"github.com/roman-kulish/temfield/internal/telemetry"
)

// ErrNotFound is returned when a requested session does not exist.
var ErrNotFound = errors.New("not found")

// Store provides an interface for managing susceptibility test data storage operations.
// It handles sessions, probe telemetry and result points in a thread-safe manner.
// All operations that write to the database should be considered atomic.
type Store interface {
	// CreateSession records a new test run and returns its unique identifier.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - session: Run identifier, start time and test conditions (ID is ignored)
	//   - config: Optional run configuration. Can be string, []byte, or JSON-serializable object
	//
	// Returns:
	//   - sessionID: Unique identifier for the created session
	//   - error: If session creation fails or context is cancelled
	CreateSession(ctx context.Context, session *result.Session, config any) (sessionID int64, err error)

	// Session retrieves a specific test session by its ID.
	//
	// Returns an error wrapping ErrNotFound if the session does not exist.
	Session(ctx context.Context, id int64) (session *result.Session, err error)

	// Sessions returns all test sessions ordered by start time in ascending order.
	Sessions(ctx context.Context) (sessions []*result.Session, err error)

	// StoreTelemetry saves a field probe reading for a specific session.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - sessionID: ID of the session this reading belongs to
	//   - t: Probe reading
	//
	// Returns:
	//   - telemetryID: Unique identifier for the stored reading, to be linked from result points
	//   - error: If storage fails or context is cancelled
	StoreTelemetry(ctx context.Context, sessionID int64, t *telemetry.Telemetry) (telemetryID int64, err error)

	// StorePoints saves result points of a session in a single atomic transaction.
	// Point IDs and session IDs of the given points are ignored.
	StorePoints(ctx context.Context, sessionID int64, points []result.Point) error

	// Close releases all database connections and resources.
	// After Close is called, the store instance cannot be reused.
	// It is safe to call Close multiple times.
	Close() error
}
