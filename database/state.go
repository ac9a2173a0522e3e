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
	"encoding/json"
	"errors"

	"github.com/pigwatch/pigwatch/internal/apierror"
	"github.com/pigwatch/pigwatch/model"
)

// GetPigState loads the state document of a pig. It returns nil, nil when none exists.
func (d Datasource) GetPigState(ctx context.Context, pigID string) (*model.PigState, error) {
	var raw []byte
	state := &model.PigState{}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT state_json, updated_at FROM pig_state WHERE pig_id = $1
	`, pigID).Scan(&raw, &state.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to load pig state", err)
	}
	return DecodePigState(raw, state)
}

// PutPigState replaces the state document of a pig.
func (d Datasource) PutPigState(ctx context.Context, pigID string, state *model.PigState) error {
	raw, err := EncodePigState(state)
	if err != nil {
		return err
	}
	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO pig_state (pig_id, state_json, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (pig_id)
		DO UPDATE SET state_json = EXCLUDED.state_json, updated_at = NOW()
	`, pigID, string(raw))
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to save pig state", err)
	}
	return nil
}

// EncodePigState serializes a state document, stamping the current layout version.
func EncodePigState(state *model.PigState) ([]byte, error) {
	if state == nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "pig state is required", nil)
	}
	state.Version = model.PigStateVersion
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to encode pig state", err)
	}
	return raw, nil
}

// DecodePigState parses a stored document into state and validates its layout.
func DecodePigState(raw []byte, state *model.PigState) (*model.PigState, error) {
	if err := json.Unmarshal(raw, state); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to decode pig state", err)
	}
	if err := state.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Invalid pig state", err)
	}
	return state, nil
}
