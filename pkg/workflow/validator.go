package workflow

import (
	"context"
	"fmt"
)

// InstanceChecker reports whether a non-archived instance exists. Implemented
// by the instance store.
type InstanceChecker interface {
	Exists(ctx context.Context, instanceID string) (bool, error)
}

// Validator enforces the dependent-phase precondition: a dependent phase may
// execute only against an existing non-archived instance.
type Validator struct {
	instances InstanceChecker
}

// NewValidator creates a validator backed by the given instance checker.
func NewValidator(instances InstanceChecker) *Validator {
	return &Validator{instances: instances}
}

// Validate checks the resolution's preconditions. Independent phases are
// always valid; an id, if present, is honored as a resume target. Dependent
// phases return a ValidationError when the id is missing or does not name a
// non-archived instance. The returned error carries remediation text with a
// worked example using the exact phase token requested.
func (v *Validator) Validate(ctx context.Context, res Resolution) error {
	if !res.Phase.Dependent {
		return nil
	}

	if res.InstanceID == "" {
		return NewValidationError(
			fmt.Sprintf("%s requires an instance id", res.Phase.Token),
			"missing instance id",
			fmt.Sprintf("The %s phase operates on an existing instance. Include the instance id in your comment, for example: `%s`.",
				res.Phase.Name, res.Phase.WorkedExample()),
		)
	}

	exists, err := v.instances.Exists(ctx, res.InstanceID)
	if err != nil {
		return fmt.Errorf("check instance %s: %w", res.InstanceID, err)
	}
	if !exists {
		return NewValidationError(
			fmt.Sprintf("no active instance %s", res.InstanceID),
			"unknown instance id",
			fmt.Sprintf("No active instance `%s` was found. Check the id and try again, for example: `%s`.",
				res.InstanceID, res.Phase.WorkedExample()),
		)
	}

	return nil
}
