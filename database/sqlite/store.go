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

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/pigwatch/pigwatch/database"
	"github.com/pigwatch/pigwatch/internal/apierror"
	"github.com/pigwatch/pigwatch/model"
)

func (d *Datasource) ReadRecent(ctx context.Context, pigID string, since time.Time) ([]model.TelemetryPoint, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT pig_id, tool_type, ts, gc, kp
		FROM pig_positions
		WHERE pig_id = ? AND ts >= ?
		ORDER BY ts ASC, id ASC
	`, pigID, nanos(since))
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read telemetry", storeErr(err))
	}
	defer func() { _ = rows.Close() }()

	var points []model.TelemetryPoint
	for rows.Next() {
		var p model.TelemetryPoint
		var toolType sql.NullString
		var ts int64
		var gc sql.NullInt64
		var kp sql.NullFloat64
		if err := rows.Scan(&p.PigID, &toolType, &ts, &gc, &kp); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan telemetry", err)
		}
		p.ToolType = toolType.String
		p.Timestamp = fromNanos(ts)
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
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating over telemetry", storeErr(err))
	}
	return points, nil
}

func (d *Datasource) ListActivePigs(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT DISTINCT pig_id FROM pig_positions WHERE ts >= ? ORDER BY pig_id
	`, nanos(since))
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list active pigs", storeErr(err))
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
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating over active pigs", storeErr(err))
	}
	return pigs, nil
}

func (d *Datasource) RecordTelemetry(ctx context.Context, points ...model.TelemetryPoint) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin telemetry transaction", storeErr(err))
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pig_positions (pig_id, tool_type, ts, gc, kp) VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to prepare telemetry insert", storeErr(err))
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
		if _, err := stmt.ExecContext(ctx, p.PigID, nullString(p.ToolType), nanos(p.Timestamp), gc, kp); err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record telemetry", storeErr(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit telemetry", storeErr(err))
	}
	return nil
}

func (d *Datasource) GetPigState(ctx context.Context, pigID string) (*model.PigState, error) {
	var raw []byte
	var updated int64
	err := d.Conn.QueryRowContext(ctx, `
		SELECT state_json, updated_at FROM pig_state WHERE pig_id = ?
	`, pigID).Scan(&raw, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to load pig state", storeErr(err))
	}
	state := &model.PigState{UpdatedAt: fromNanos(updated)}
	return database.DecodePigState(raw, state)
}

func (d *Datasource) PutPigState(ctx context.Context, pigID string, state *model.PigState) error {
	raw, err := database.EncodePigState(state)
	if err != nil {
		return err
	}
	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO pig_state (pig_id, state_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (pig_id)
		DO UPDATE SET state_json = excluded.state_json, updated_at = excluded.updated_at
	`, pigID, string(raw), nanos(time.Now()))
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to save pig state", storeErr(err))
	}
	return nil
}
