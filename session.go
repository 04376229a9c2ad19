package checkout

import (
	"context"

	"github.com/sirupsen/logrus"
)

// SessionPatchService reconciles locally collected user details against the
// last cached session snapshot, issuing a single minimal-diff update only
// when values actually differ.
type SessionPatchService struct {
	api PaymentAPI
	log *logrus.Entry
}

// NewSessionPatchService creates a patch service over the given API.
func NewSessionPatchService(api PaymentAPI, logger *logrus.Logger) *SessionPatchService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SessionPatchService{
		api: api,
		log: logger.WithField("component", "session_patch"),
	}
}

// ComputeDiff compares local against cached field by field and returns one
// update action per differing field. All fields equal yields an empty diff.
func ComputeDiff(local, cached UserDetails) []FieldUpdateAction {
	var actions []FieldUpdateAction
	if local.FirstName != cached.FirstName {
		actions = append(actions, FieldUpdateAction{Action: ActionSetCustomerFirstName, Value: local.FirstName})
	}
	if local.LastName != cached.LastName {
		actions = append(actions, FieldUpdateAction{Action: ActionSetCustomerLastName, Value: local.LastName})
	}
	if local.Email != cached.Email {
		actions = append(actions, FieldUpdateAction{Action: ActionSetCustomerEmailAddress, Value: local.Email})
	}
	return actions
}

// ApplyIfNeeded issues a single batched session update carrying every
// differing field. An empty diff makes no network call. A failed update is
// surfaced as a session-update failure, distinct from a generic transport
// error, so the caller can tell "could not update my data" from "could not
// reach the server".
func (s *SessionPatchService) ApplyIfNeeded(ctx context.Context, local, cached UserDetails) error {
	actions := ComputeDiff(local, cached)
	if len(actions) == 0 {
		return nil
	}

	s.log.WithField("actions", len(actions)).Debug("applying session patch")
	if err := s.api.UpdateSession(ctx, actions); err != nil {
		return NewCheckoutError(ErrCodeSessionUpdateFailed, "failed to update client session", map[string]interface{}{
			"cause": err.Error(),
		})
	}
	return nil
}
