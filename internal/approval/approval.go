// Package approval evaluates an ordered set of approval steps into an
// aggregate workflow status. Evaluation is pure; step mutation and
// persistence happen in the engine.
package approval

import (
	"fmt"

	"reportline/internal/domain"
)

type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepApproved StepStatus = "approved"
	StepRejected StepStatus = "rejected"
)

type WorkflowStatus string

const (
	WorkflowPending    WorkflowStatus = "pending"
	WorkflowInProgress WorkflowStatus = "in_progress"
	WorkflowApproved   WorkflowStatus = "approved"
	WorkflowRejected   WorkflowStatus = "rejected"
)

// Aggregate derives the workflow status from the step list.
//
// Rejection is sticky: any rejected step, required or not, pins the
// workflow at rejected regardless of later approvals of other steps.
// Otherwise the workflow is approved once every required step is approved,
// in_progress once any decision has been recorded, and pending before any.
// A workflow with no required steps never reaches approved on its own;
// steps must be added first.
func Aggregate(steps []domain.ApprovalStep) WorkflowStatus {
	if len(steps) == 0 {
		return WorkflowPending
	}
	decided := 0
	required := 0
	requiredApproved := 0
	for _, s := range steps {
		switch StepStatus(s.Status) {
		case StepRejected:
			return WorkflowRejected
		case StepApproved:
			decided++
		}
		if s.Required {
			required++
			if StepStatus(s.Status) == StepApproved {
				requiredApproved++
			}
		}
	}
	if required > 0 && requiredApproved == required {
		return WorkflowApproved
	}
	if decided > 0 {
		return WorkflowInProgress
	}
	return WorkflowPending
}

// ApprovalRequiredError signals an attempted advance into the approved
// stage while the workflow is not fully approved.
type ApprovalRequiredError struct {
	Status WorkflowStatus
}

func (e ApprovalRequiredError) Error() string {
	return fmt.Sprintf("approval workflow not approved (status %s)", e.Status)
}
