package board

import (
	"context"
	"errors"

	"slotboard/domain"
)

// NoticeKind separates success from failure toasts.
type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
)

// Notice is a user visible toast.
type Notice struct {
	Kind    NoticeKind
	Title   string
	Message string
}

// Notifier delivers notices to the user.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

// SlotStore is the remote persistence boundary for slot occupancy.
type SlotStore interface {
	Assign(ctx context.Context, initiativeID string, slot int) error
	RemoveFromSlot(ctx context.Context, initiativeID string) error
	Swap(ctx context.Context, draggedID string, targetSlot int, targetID string) error
}

// Revalidator refreshes the board's data after a committed mutation.
type Revalidator interface {
	Revalidate(ctx context.Context)
}

const (
	fallbackMoveError   = "Failed to move initiative"
	fallbackAssignError = "Failed to assign initiative"
	fallbackRemoveError = "Failed to remove initiative from slot"
)

func errorNotice(title string, err error, fallback string) Notice {
	msg := fallback
	if err != nil && !errors.Is(err, context.Canceled) && err.Error() != "" {
		msg = err.Error()
	}
	return Notice{Kind: NoticeError, Title: title, Message: msg}
}

func displayTitle(in domain.Initiative) string {
	if in.Title == "" {
		return in.ID
	}
	return in.Title
}
