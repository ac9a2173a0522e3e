/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/pigwatch/pigwatch/internal/apierror"
	"github.com/pigwatch/pigwatch/model"
)

// ReadRecent returns the positions of a pig reported at or after since, oldest first.
func (d Datasource) ReadRecent(ctx context.Context, pigID string, since time.Time) ([]model.TelemetryPoint, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT pig_id, tool_type, ts, gc, kp
		FROM pig_positions
		WHERE pig_id = $1 AND ts >= $2
		ORDER BY ts ASC, id ASC
	`, pigID, since)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read telemetry", err)
	}
	defer func() { _ = rows.Close() }()

	var points []model.TelemetryPoint
	for rows.Next() {
		var p model.TelemetryPoint
		var toolType sql.NullString
		var gc sql.NullInt64
		var kp sql.NullFloat64
		if err := rows.Scan(&p.PigID, &toolType, &p.Timestamp, &gc, &kp); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan telemetry", err)
		}
		p.ToolType = toolType.String
		if gc.Valid {
			v := int(gc.Int64)
			p.GlobalChannel = &v
		}
		if kp.Valid {
			v := kp.Float64
			p.KP = &v
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating over telemetry", err)
	}
	return points, nil
}

// ListActivePigs returns the ids of pigs that reported at or after since.
func (d Datasource) ListActivePigs(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT DISTINCT pig_id
		FROM pig_positions
		WHERE ts >= $1
		ORDER BY pig_id
	`, since)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list active pigs", err)
	}
	defer func() { _ = rows.Close() }()

	var pigs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan pig id", err)
		}
		pigs = append(pigs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating over active pigs", err)
	}
	return pigs, nil
}

// RecordTelemetry appends positions in a single transaction.
func (d Datasource) RecordTelemetry(ctx context.Context, points ...model.TelemetryPoint) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin telemetry transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pig_positions (pig_id, tool_type, ts, gc, kp)
		VALUES ($1, $2, $3, $4, $5)
	`)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to prepare telemetry insert", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, p := range points {
		var gc sql.NullInt64
		var kp sql.NullFloat64
		if p.GlobalChannel != nil {
			gc = sql.NullInt64{Int64: int64(*p.GlobalChannel), Valid: true}
		}
		if p.KP != nil {
			kp = sql.NullFloat64{Float64: *p.KP, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, p.PigID, nullString(p.ToolType), p.Timestamp, gc, kp); err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record telemetry", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit telemetry", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
