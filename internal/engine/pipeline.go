package engine

import (
	"errors"
	"slices"

	"github.com/BadgerOps/portable/internal/store"
)

var (
	// ErrAlreadyTerminal is returned when cancelling an export that has
	// already completed or failed.
	ErrAlreadyTerminal = errors.New("export already finished")

	// ErrIllegalTransition is returned for a status change the pipeline does not allow.
	ErrIllegalTransition = errors.New("illegal export status transition")

	// errStopped ends a pipeline run whose export was finished elsewhere (cancelled).
	errStopped = errors.New("export finished by another caller")
)

// transitions lists the legal next states for each non-terminal state.
// Encrypting is the only optional stage.
var transitions = map[store.ExportStatus][]store.ExportStatus{
	store.ExportPending:    {store.ExportPreparing, store.ExportFailed},
	store.ExportPreparing:  {store.ExportPackaging, store.ExportFailed},
	store.ExportPackaging:  {store.ExportEncrypting, store.ExportCompleted, store.ExportFailed},
	store.ExportEncrypting: {store.ExportCompleted, store.ExportFailed},
}

// CanTransition reports whether an export may move from one status to another.
func CanTransition(from, to store.ExportStatus) bool {
	return slices.Contains(transitions[from], to)
}

// ValidHistory reports whether a sequence of statuses is a legal pipeline run:
// it starts pending, moves only forward, and may end in failed from any
// non-terminal state.
func ValidHistory(history []store.StatusChange) bool {
	if len(history) == 0 || history[0].Status != store.ExportPending {
		return false
	}
	for i := 1; i < len(history); i++ {
		if !CanTransition(history[i-1].Status, history[i].Status) {
			return false
		}
		if history[i].At.Before(history[i-1].At) {
			return false
		}
	}
	return true
}
