package api

import "slotboard/domain"

// MutationMaxSize caps decoded mutation bodies.
const MutationMaxSize = 16 * 1024 // 16 KiB

const headerIdempotencyKey = "Idempotency-Key"

// POST /api/slots/assign request body
type assignRequest struct {
	InitiativeID string `json:"initiativeId"`
	Slot         int    `json:"slot"`
}

// POST /api/slots/remove request body
type removeRequest struct {
	InitiativeID string `json:"initiativeId"`
}

// POST /api/slots/swap request body
type swapRequest struct {
	DraggedInitiativeID string `json:"draggedInitiativeId"`
	TargetSlot          int    `json:"targetSlot"`
	TargetInitiativeID  string `json:"targetInitiativeId,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type initiativesResponse struct {
	Initiatives []domain.Initiative `json:"initiatives"`
}

type mutationResponse struct {
	OK        bool               `json:"ok"`
	Duplicate bool               `json:"duplicate,omitempty"`
	Event     *domain.SlotEvent  `json:"event,omitempty"`
	Swap      *domain.SwapResult `json:"swap,omitempty"`
}
