package workspace

import (
	"errors"
	"fmt"
)

type Status string

const (
	StatusDraft          Status = "draft"
	StatusInProgress     Status = "in_progress"
	StatusReadyForReview Status = "ready_for_review"
	// Terminal states are never stored: the workspace row is deleted.
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var ErrInvalidTransition = errors.New("workspace: invalid status transition")

var transitions = map[Status][]Status{
	StatusDraft:          {StatusInProgress, StatusCompleted, StatusCancelled},
	StatusInProgress:     {StatusReadyForReview, StatusCompleted, StatusCancelled},
	StatusReadyForReview: {StatusInProgress, StatusCompleted, StatusCancelled},
}

// Terminal reports whether s ends the workspace's life.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// afterEdit is the status a workspace moves to once it has been edited.
func afterEdit(s Status) Status {
	switch s {
	case StatusDraft, StatusReadyForReview:
		return StatusInProgress
	}
	return s
}
