package storage

import (
	_ "embed"
)

const (
	insertSessionSQL = `
INSERT INTO sessions (run_id,
                      start_time,
                      eut_description,
                      target_field,
                      am,
                      config)
VALUES (?, ?, ?, ?, ?, ?)`

	selectSessionSQL = `
SELECT id,
       run_id,
       start_time,
       eut_description,
       target_field,
       am,
       config
FROM sessions
WHERE id = ?`

	selectSessionsSQL = `
SELECT id,
       run_id,
       start_time,
       eut_description,
       target_field,
       am,
       config
FROM sessions
ORDER BY start_time, id`

	insertTelemetrySQL = `
INSERT INTO telemetry (session_id,
                       timestamp,
                       ex,
                       ey,
                       ez,
                       temperature,
                       battery)
VALUES (?, ?, ?, ?, ?, ?, ?)`

	insertPointsSQL = `
INSERT INTO points (session_id,
                    timestamp,
                    frequency,
                    cw,
                    field,
                    status,
                    telemetry_id)
VALUES `

	insertPointPlaceholder = "(?, ?, ?, ?, ?, ?, ?)"

	selectPointsSQL = `
SELECT p.id,
       p.session_id,
       p.timestamp,
       p.frequency,
       p.cw,
       p.field,
       p.status,
       p.telemetry_id
FROM points p
WHERE p.session_id = ?
  AND p.id > ?`

	selectPointsWithTelemetrySQL = `
SELECT p.id,
       p.session_id,
       p.timestamp,
       p.frequency,
       p.cw,
       p.field,
       p.status,
       p.telemetry_id,
       t.timestamp,
       t.ex,
       t.ey,
       t.ez,
       t.temperature,
       t.battery
FROM points p
         LEFT JOIN telemetry t ON t.id = p.telemetry_id
WHERE p.session_id = ?
  AND p.id > ?`

	initIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_points_session_frequency ON points (session_id, frequency);
CREATE INDEX IF NOT EXISTS idx_telemetry_session ON telemetry (session_id);`
)

//go:embed schema.sql
var initSchemaSQL string
