package storage

import (
	"database/sql"
	"errors"

	"github.com/roman-kulish/temfield/internal/result"
	"github.com/roman-kulish/temfield/internal/telemetry"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && !errors.Is(cErr, sql.ErrTxDone) && *err == nil {
		*err = cErr
	}
}

func toTelemetryData(sessionID int64, t *telemetry.Telemetry) *telemetryData {
	return &telemetryData{
		SessionID:   sessionID,
		Timestamp:   t.Timestamp.UTC(),
		Ex:          toNullFloat64(t.Ex),
		Ey:          toNullFloat64(t.Ey),
		Ez:          toNullFloat64(t.Ez),
		Temperature: toNullFloat64(t.Temperature),
		Battery:     toNullFloat64(t.Battery),
	}
}

func toPointData(sessionID int64, p result.Point) *pointData {
	var tmID sql.NullInt64
	if p.TelemetryID != nil {
		tmID.Int64 = *p.TelemetryID
		tmID.Valid = true
	}

	return &pointData{
		SessionID:   sessionID,
		Timestamp:   p.Timestamp.UTC(),
		Frequency:   p.Frequency,
		CW:          p.CW,
		Field:       toNullFloat64(p.Field),
		Status:      string(p.Status),
		TelemetryID: tmID,
	}
}

func (d *pointData) toPoint() result.Point {
	return result.Point{
		ID:          d.ID,
		SessionID:   d.SessionID,
		Timestamp:   d.Timestamp,
		Frequency:   d.Frequency,
		CW:          d.CW,
		Field:       fromSQLNullType[float64](d.Field.Float64, d.Field.Valid),
		Status:      result.Status(d.Status),
		TelemetryID: fromSQLNullType[int64](d.TelemetryID.Int64, d.TelemetryID.Valid),
	}
}

func (d *telemetryData) toTelemetry() *telemetry.Telemetry {
	return &telemetry.Telemetry{
		Timestamp:   d.Timestamp,
		Ex:          fromSQLNullType[float64](d.Ex.Float64, d.Ex.Valid),
		Ey:          fromSQLNullType[float64](d.Ey.Float64, d.Ey.Valid),
		Ez:          fromSQLNullType[float64](d.Ez.Float64, d.Ez.Valid),
		Temperature: fromSQLNullType[float64](d.Temperature.Float64, d.Temperature.Valid),
		Battery:     fromSQLNullType[float64](d.Battery.Float64, d.Battery.Valid),
	}
}

func toNullFloat64(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func fromSQLNullType[T float64 | int64](v T, valid bool) *T {
	if !valid {
		return nil
	}
	return &v
}
