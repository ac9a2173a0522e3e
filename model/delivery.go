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

package model

import (
	"errors"
	"fmt"
)

var (
	ErrTerminalStatus = errors.New("notification is in a terminal delivery status")
	ErrNotClaimed     = errors.New("notification is not claimed for delivery")
	ErrUnknownOutcome = errors.New("unknown delivery outcome")
)

// Outcome is the classified result of a single delivery attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetryable
	OutcomePermanent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomePermanent:
		return "permanent"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Decision is what the sender must persist after an attempt.
type Decision struct {
	Status       DeliveryStatus
	AttemptCount int
}

// IsValid reports whether the status is part of the delivery lifecycle.
func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliveryNew, DeliverySending, DeliveryRetry, DeliverySent, DeliveryDead:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is possible.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliverySent || s == DeliveryDead
}

// CanTransitionTo reports whether a transition from s to next is allowed.
func (s DeliveryStatus) CanTransitionTo(next DeliveryStatus) bool {
	switch s {
	case DeliveryNew, DeliveryRetry:
		return next == DeliverySending
	case DeliverySending:
		return next == DeliverySent || next == DeliveryRetry || next == DeliveryDead
	default:
		return false
	}
}

func (s ApprovalStatus) IsValid() bool {
	switch s {
	case ApprovalWaiting, ApprovalApproved, ApprovalRejected:
		return true
	default:
		return false
	}
}

// NextDelivery computes the status a claimed row moves to after an attempt with the
// given outcome. attemptCount is the count before this attempt. A retryable failure
// that exhausts maxAttempts lands in DEAD.
func NextDelivery(current DeliveryStatus, outcome Outcome, attemptCount, maxAttempts int) (Decision, error) {
	if current.IsTerminal() {
		return Decision{Status: current, AttemptCount: attemptCount}, ErrTerminalStatus
	}
	if current != DeliverySending {
		return Decision{Status: current, AttemptCount: attemptCount}, ErrNotClaimed
	}

	switch outcome {
	case OutcomeSuccess:
		return Decision{Status: DeliverySent, AttemptCount: attemptCount}, nil
	case OutcomePermanent:
		return Decision{Status: DeliveryDead, AttemptCount: attemptCount + 1}, nil
	case OutcomeRetryable:
		next := attemptCount + 1
		if maxAttempts > 0 && next >= maxAttempts {
			return Decision{Status: DeliveryDead, AttemptCount: next}, nil
		}
		return Decision{Status: DeliveryRetry, AttemptCount: next}, nil
	default:
		return Decision{Status: current, AttemptCount: attemptCount}, fmt.Errorf("%w: %d", ErrUnknownOutcome, int(outcome))
	}
}
