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

package pigwatch

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/pigwatch/pigwatch/internal/apierror"
	"github.com/pigwatch/pigwatch/model"
)

// GetPigState returns the detector's state document for a pig.
func (p *Pigwatch) GetPigState(ctx context.Context, pigID string) (*model.PigState, error) {
	state, err := p.datasource.GetPigState(ctx, pigID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Pig with ID '%s' has no state", pigID), nil)
	}
	return state, nil
}

// ResetPig discards the run context of a pig so its next telemetry opens a new
// run. This is the only way out of COMPLETED. Telemetry already consumed is
// not replayed.
func (p *Pigwatch) ResetPig(ctx context.Context, pigID string) (*model.PigState, error) {
	state, err := p.GetPigState(ctx, pigID)
	if err != nil {
		return nil, err
	}
	previous := state.Phase
	state.Reset()
	if err := p.datasource.PutPigState(ctx, pigID, state); err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"pig_id":         pigID,
		"previous_phase": previous,
	}).Info("pig reset")
	return state, nil
}
