package storage

import (
	"database/sql"
	"time"
)

type pointData struct {
	ID          int64
	SessionID   int64
	Timestamp   time.Time
	Frequency   float64
	CW          float64
	Field       sql.NullFloat64
	Status      string
	TelemetryID sql.NullInt64
}

type telemetryData struct {
	ID          int64
	SessionID   int64
	Timestamp   time.Time
	Ex          sql.NullFloat64
	Ey          sql.NullFloat64
	Ez          sql.NullFloat64
	Temperature sql.NullFloat64
	Battery     sql.NullFloat64
}
