package lifecycle

import (
	"errors"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		from    domain.TransactionStatus
		to      domain.TransactionStatus
		role    domain.Role
		allowed bool
	}{
		// Automatic decision paths.
		{"SystemCompletes", domain.StatusPending, domain.StatusCompleted, domain.RoleSystem, true},
		{"SystemBlocks", domain.StatusPending, domain.StatusFraudDetected, domain.RoleSystem, true},
		{"SystemFails", domain.StatusPending, domain.StatusFailed, domain.RoleSystem, true},

		// Decisions are system-only.
		{"AdminCannotComplete", domain.StatusPending, domain.StatusCompleted, domain.RoleAdmin, false},
		{"OwnerCannotComplete", domain.StatusPending, domain.StatusCompleted, domain.RoleOwner, false},
		{"AdminCannotBlock", domain.StatusPending, domain.StatusFraudDetected, domain.RoleAdmin, false},

		// Cancellation while pending.
		{"OwnerCancels", domain.StatusPending, domain.StatusCancelled, domain.RoleOwner, true},
		{"AdminCancels", domain.StatusPending, domain.StatusCancelled, domain.RoleAdmin, true},
		{"SystemCannotCancel", domain.StatusPending, domain.StatusCancelled, domain.RoleSystem, false},

		// Administrative recovery.
		{"AdminRetries", domain.StatusFailed, domain.StatusPending, domain.RoleAdmin, true},
		{"OwnerCannotRetry", domain.StatusFailed, domain.StatusPending, domain.RoleOwner, false},
		{"SystemCannotRetry", domain.StatusFailed, domain.StatusPending, domain.RoleSystem, false},
		{"AdminOverridesFraud", domain.StatusFraudDetected, domain.StatusCompleted, domain.RoleAdmin, true},
		{"OwnerCannotOverride", domain.StatusFraudDetected, domain.StatusCompleted, domain.RoleOwner, false},

		// Terminal states admit nothing.
		{"CompletedIsFinal", domain.StatusCompleted, domain.StatusCancelled, domain.RoleAdmin, false},
		{"CompletedCannotReopen", domain.StatusCompleted, domain.StatusPending, domain.RoleAdmin, false},
		{"CancelledIsFinal", domain.StatusCancelled, domain.StatusPending, domain.RoleAdmin, false},
		{"CancelledCannotComplete", domain.StatusCancelled, domain.StatusCompleted, domain.RoleSystem, false},

		// Fraud cannot be cancelled, only overridden.
		{"FraudCannotCancel", domain.StatusFraudDetected, domain.StatusCancelled, domain.RoleAdmin, false},
		{"FraudCannotFail", domain.StatusFraudDetected, domain.StatusFailed, domain.RoleSystem, false},

		// Self transitions are not in the table.
		{"NoSelfTransition", domain.StatusPending, domain.StatusPending, domain.RoleSystem, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.from, tc.to, tc.role)

			if tc.allowed {
				if err != nil {
					t.Errorf("expected %s -> %s (%s) to be allowed: %v", tc.from, tc.to, tc.role, err)
				}
				return
			}

			var stateErr *domain.InvalidStateTransitionError
			if !errors.As(err, &stateErr) {
				t.Fatalf("expected InvalidStateTransitionError, got %v", err)
			}
			if stateErr.From != tc.from || stateErr.To != tc.to || stateErr.Role != tc.role {
				t.Errorf("error fields mismatch: %+v", stateErr)
			}
		})
	}
}

func TestTerminal(t *testing.T) {
	cases := []struct {
		status domain.TransactionStatus
		want   bool
	}{
		{domain.StatusCompleted, true},
		{domain.StatusCancelled, true},
		{domain.StatusPending, false},
		{domain.StatusFraudDetected, false},
		{domain.StatusFailed, false},
	}

	for _, tc := range cases {
		if got := Terminal(tc.status); got != tc.want {
			t.Errorf("Terminal(%s) = %v, want %v", tc.status, got, tc.want)
		}
	}
}
