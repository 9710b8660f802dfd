package engine

import (
	"fmt"
	"strings"
)

// ConflictError signals a state transition the current data forbids, such as
// activating an empty template or re-completing a finished assignment pair.
type ConflictError struct {
	Reason string
}

func (e ConflictError) Error() string { return e.Reason }

// DuplicateAssignmentError is returned when an open assignment already exists
// for the (collaborator, milestone, role) triple.
type DuplicateAssignmentError struct {
	CollaboratorID string
	Milestone      string
	TargetRole     string
}

func (e DuplicateAssignmentError) Error() string {
	return fmt.Sprintf("open %s assignment already exists for collaborator %s at %s", e.TargetRole, e.CollaboratorID, e.Milestone)
}

// IncompleteAnswersError lists the required questions a submission left
// unanswered or answered out of range.
type IncompleteAnswersError struct {
	Missing []string
}

func (e IncompleteAnswersError) Error() string {
	return "incomplete answers: " + strings.Join(e.Missing, ", ")
}

// AlreadyCompletedError rejects writes against a completed assignment.
type AlreadyCompletedError struct {
	AssignmentID string
}

func (e AlreadyCompletedError) Error() string {
	return fmt.Sprintf("assignment %s is already completed", e.AssignmentID)
}
