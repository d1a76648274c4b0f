package approval

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"reportline/internal/domain"
)

func step(pos int, required bool, status StepStatus) domain.ApprovalStep {
	return domain.ApprovalStep{
		ID:         "step-" + string(rune('a'+pos)),
		Position:   pos,
		ApproverID: "approver",
		Required:   required,
		Status:     string(status),
	}
}

func TestAggregate(t *testing.T) {
	cases := []struct {
		name  string
		steps []domain.ApprovalStep
		want  WorkflowStatus
	}{
		{"no steps", nil, WorkflowPending},
		{"all pending", []domain.ApprovalStep{step(1, true, StepPending), step(2, true, StepPending)}, WorkflowPending},
		{"partially approved", []domain.ApprovalStep{step(1, true, StepApproved), step(2, true, StepPending)}, WorkflowInProgress},
		{"all required approved", []domain.ApprovalStep{step(1, true, StepApproved), step(2, true, StepApproved)}, WorkflowApproved},
		{"optional still pending", []domain.ApprovalStep{step(1, true, StepApproved), step(2, false, StepPending)}, WorkflowApproved},
		{"only optional steps", []domain.ApprovalStep{step(1, false, StepApproved)}, WorkflowInProgress},
		{"required rejected", []domain.ApprovalStep{step(1, true, StepRejected), step(2, true, StepPending)}, WorkflowRejected},
		{"optional rejected still rejects", []domain.ApprovalStep{step(1, true, StepApproved), step(2, false, StepRejected)}, WorkflowRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Aggregate(tc.steps))
		})
	}
}

// Rejection stays sticky even when every other step is approved afterwards.
func TestAggregateRejectionSticky(t *testing.T) {
	steps := []domain.ApprovalStep{
		step(1, true, StepRejected),
		step(2, true, StepPending),
		step(3, true, StepPending),
	}
	assert.Equal(t, WorkflowRejected, Aggregate(steps))

	steps[1].Status = string(StepApproved)
	steps[2].Status = string(StepApproved)
	assert.Equal(t, WorkflowRejected, Aggregate(steps))
}

func TestApprovalRequiredError(t *testing.T) {
	err := ApprovalRequiredError{Status: WorkflowInProgress}
	assert.Contains(t, err.Error(), "in_progress")
}
