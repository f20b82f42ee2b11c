package domain

const (
	SlotAssigned = "slot-assigned"
	SlotRemoved  = "slot-removed"
	SlotMoved    = "slot-moved"
	SlotSwapped  = "slot-swapped"
)

// SlotEvent records a committed change to slot occupancy.
type SlotEvent struct {
	ID                 string `json:"id"`
	TenantID           string `json:"tenantId"`
	Type               string `json:"type"`
	InitiativeID       string `json:"initiativeId"`
	Slot               int    `json:"slot,omitempty"`
	PreviousSlot       int    `json:"previousSlot,omitempty"`
	TargetInitiativeID string `json:"targetInitiativeId,omitempty"`
	Timestamp          int64  `json:"timestamp"`
}

// SwapResult describes what a swap request actually did.
type SwapResult struct {
	Dragged      Initiative  `json:"dragged"`
	Target       *Initiative `json:"target,omitempty"`
	PreviousSlot int         `json:"previousSlot,omitempty"`
}

// Swapped reports whether two initiatives exchanged slots.
func (r SwapResult) Swapped() bool { return r.Target != nil }
