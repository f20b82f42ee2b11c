package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInitiativeNotFound = errors.New("initiative not found")
	ErrSlotOccupied       = errors.New("slot is already occupied")
	ErrAlreadySlotted     = errors.New("initiative is already assigned to a slot")
	ErrNotSlotted         = errors.New("initiative is not assigned to a slot")
	ErrSlotOutOfRange     = errors.New("slot is out of range")
	ErrTargetMismatch     = errors.New("target slot no longer holds the expected initiative")
	ErrSameInitiative     = errors.New("cannot swap an initiative with itself")

	// ErrConcurrencyConflict indicates that the underlying storage rejected an
	// update because a newer version of the entity is already persisted.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// SlotRangeError reports a slot number outside 1..TotalSlots.
type SlotRangeError struct {
	Slot       int
	TotalSlots int
}

func (e *SlotRangeError) Error() string {
	return fmt.Sprintf("slot %d is out of range 1..%d", e.Slot, e.TotalSlots)
}

func (e *SlotRangeError) Unwrap() error { return ErrSlotOutOfRange }
