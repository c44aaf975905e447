// Package lifecycle gates how a transaction's status may change. Every
// mutation in the engine goes through Validate; an illegal move is
// rejected with an InvalidStateTransitionError and nothing is written.
package lifecycle

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// transitionRule describes one permitted move and who may trigger it.
type transitionRule struct {
	from  domain.TransactionStatus
	to    domain.TransactionStatus
	roles []domain.Role
}

// The complete transition table. COMPLETED and CANCELLED are terminal;
// FRAUD_DETECTED allows only the administrative override back to
// COMPLETED after human review.
var transitions = []transitionRule{
	// Automatic decisions from the ensemble run.
	{domain.StatusPending, domain.StatusCompleted, []domain.Role{domain.RoleSystem}},
	{domain.StatusPending, domain.StatusFraudDetected, []domain.Role{domain.RoleSystem}},

	// Explicit actor actions while still pending.
	{domain.StatusPending, domain.StatusCancelled, []domain.Role{domain.RoleOwner, domain.RoleAdmin}},
	{domain.StatusPending, domain.StatusFailed, []domain.Role{domain.RoleSystem}},

	// Administrative recovery paths.
	{domain.StatusFailed, domain.StatusPending, []domain.Role{domain.RoleAdmin}},
	{domain.StatusFraudDetected, domain.StatusCompleted, []domain.Role{domain.RoleAdmin}},
}

// Validate reports whether the transition from -> to is permitted for
// the given role. Returns an InvalidStateTransitionError otherwise.
func Validate(from, to domain.TransactionStatus, role domain.Role) error {
	for _, rule := range transitions {
		if rule.from != from || rule.to != to {
			continue
		}
		for _, r := range rule.roles {
			if r == role {
				return nil
			}
		}
	}
	return &domain.InvalidStateTransitionError{From: from, To: to, Role: role}
}

// Terminal reports whether no further automatic transition leaves the
// status.
func Terminal(s domain.TransactionStatus) bool {
	switch s {
	case domain.StatusCompleted, domain.StatusCancelled:
		return true
	}
	return false
}
