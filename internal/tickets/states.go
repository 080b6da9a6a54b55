// Package tickets implements the ticket workflow: status transitions,
// assignment, undo, and merging.
package tickets

import (
	"errors"
	"fmt"
	"time"

	"github.com/flowdesk-io/flowdesk/internal/models"
)

var (
	// ErrInvalidTransition rejects a status change the workflow does not
	// allow.
	ErrInvalidTransition = errors.New("tickets: invalid status transition")
	// ErrNoTeamMembers rejects entering assigned without any team member.
	ErrNoTeamMembers = errors.New("tickets: assignment requires at least one team member")
	// ErrUndoNotAllowed rejects undo on a ticket that left not_assigned.
	ErrUndoNotAllowed = errors.New("tickets: undo is only allowed while not assigned")
	// ErrClientMismatch rejects merging tickets of different clients.
	ErrClientMismatch = errors.New("tickets: merge requires matching clients")
)

// forwardOrder is the main workflow progression.
var forwardOrder = []models.Status{
	models.StatusNotAssigned,
	models.StatusAssigned,
	models.StatusInProcess,
	models.StatusRFQC,
	models.StatusQCD,
	models.StatusFileReceived,
	models.StatusSent,
}

// sideBranches are reachable from every forward state except sent, and
// resumable back into the workflow. cancelled is terminal.
var sideBranches = []models.Status{
	models.StatusPaused,
	models.StatusOnHold,
	models.StatusTBC,
	models.StatusCancelled,
}

func isSideBranch(s models.Status) bool {
	for _, b := range sideBranches {
		if s == b {
			return true
		}
	}
	return false
}

func forwardIndex(s models.Status) int {
	for i, f := range forwardOrder {
		if s == f {
			return i
		}
	}
	return -1
}

// CanTransition reports whether the workflow permits from -> to.
func CanTransition(from, to models.Status) bool {
	if from == to {
		return false
	}
	if from == models.StatusCancelled || from == models.StatusSent {
		return false
	}
	if i := forwardIndex(from); i >= 0 {
		if j := forwardIndex(to); j == i+1 {
			return true
		}
		return isSideBranch(to)
	}
	if isSideBranch(from) {
		// Resuming re-enters the workflow anywhere past not_assigned, or
		// gives up entirely.
		if j := forwardIndex(to); j >= 1 {
			return true
		}
		return to == models.StatusCancelled
	}
	return false
}

// applyTransition mutates the ticket's status after validating the move.
// First entry into in_process stamps the start timestamp; re-entering
// later does not restamp it.
func applyTransition(t *models.Ticket, to models.Status, now time.Time) error {
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}
	if to == models.StatusAssigned && len(t.TeamMembers) == 0 {
		return ErrNoTeamMembers
	}
	if to == models.StatusInProcess && t.InProcessAt == nil {
		at := now.UTC()
		t.InProcessAt = &at
	}
	t.Status = to
	return nil
}
