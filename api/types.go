package api

import (
	"context"

	"slotboard/domain"
)

// SlotStore is the tenant-scoped remote slot store the handlers drive.
type SlotStore interface {
	FetchInitiatives(ctx context.Context, tenantID string) ([]domain.Initiative, error)
	Assign(ctx context.Context, tenantID, initiativeID string, slot int) error
	RemoveFromSlot(ctx context.Context, tenantID, initiativeID string) error
	Swap(ctx context.Context, tenantID, draggedID string, targetSlot int, targetID string) (domain.SwapResult, error)
}

// Principal is the caller identified by a bearer token.
type Principal struct {
	UserID   string
	TenantID string
}

// Authenticator is implemented by types able to identify the caller from an
// Authorization header.
type Authenticator interface {
	PrincipalFromAuthHeader(string) (Principal, error)
}

// Deduper prevents a retried mutation from being applied twice.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, tenantID, key string) (bool, error)
	// Remove deletes a previously added key, used when the mutation fails.
	Remove(ctx context.Context, tenantID, key string) error
}

// EventSink receives committed slot events.
type EventSink interface {
	PublishEvents(ctx context.Context, events []domain.SlotEvent) error
}
