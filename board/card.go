package board

import (
	"context"
	"errors"

	"slotboard/domain"
)

// ErrRemoveInFlight is returned when a remove is requested for an initiative
// whose previous remove has not completed.
var ErrRemoveInFlight = errors.New("remove already in progress")

const (
	markerThickness = 3
	markerOffset    = 10
)

// InsertMarker is the accent bar drawn on the edge an insert targets.
type InsertMarker struct {
	Edge      Direction
	Thickness int
	Offset    int
}

// CardView is everything a renderer needs to draw one cell.
type CardView struct {
	Slot       int
	Initiative *domain.Initiative
	Draggable  bool
	Droppable  bool
	Dimmed     bool
	Dragging   bool
	DragOver   bool
	Removing   bool
	Marker     *InsertMarker
}

// Empty reports whether the cell has no occupant.
func (v CardView) Empty() bool { return v.Initiative == nil }

// Card is the rendering surface shared by all card variants.
type Card interface {
	Slot() int
	Initiative() (domain.Initiative, bool)
	Draggable() bool
	AcceptsDrop() bool
	View() CardView
}

// DragSource is implemented by cards that can be picked up.
type DragSource interface {
	Card
	DragStart() bool
	DragEnd()
}

// DropZone is implemented by cards that accept drops.
type DropZone interface {
	Card
	DragOver(x, y float64, rect Rect) (DropTarget, bool)
	DragLeave()
	Drop(ctx context.Context, x, y float64, rect Rect) bool
}

// Removable is implemented by cards that offer the remove action.
type Removable interface {
	Card
	Remove(ctx context.Context) error
}

// DetailOpener is implemented by occupied cards.
type DetailOpener interface {
	Card
	OpenDetail()
}

func newCard(b *Board, slot int, in domain.Initiative, filteredOut bool) Card {
	if filteredOut {
		return &ReadOnlyCard{board: b, slot: slot, initiative: in}
	}
	return &InteractiveCard{board: b, slot: slot, initiative: in}
}

func (b *Board) decorate(v *CardView) {
	s := b.Session()
	if s.Dragged != nil && v.Initiative != nil && s.Dragged.ID == v.Initiative.ID {
		v.Dragging = true
	}
	if v.Droppable && s.DragOverSlot != nil && *s.DragOverSlot == v.Slot {
		v.DragOver = true
		if s.Target.Mode == ModeInsert && s.Target.Direction != DirectionNone {
			v.Marker = &InsertMarker{Edge: s.Target.Direction, Thickness: markerThickness, Offset: markerOffset}
		}
	}
}

// EmptyCard is an unoccupied slot. It offers the assign affordance and
// accepts drops.
type EmptyCard struct {
	board *Board
	slot  int
}

func (c *EmptyCard) Slot() int                             { return c.slot }
func (c *EmptyCard) Initiative() (domain.Initiative, bool) { return domain.Initiative{}, false }
func (c *EmptyCard) Draggable() bool                       { return false }
func (c *EmptyCard) AcceptsDrop() bool                     { return !c.board.HasActiveFilters() }

func (c *EmptyCard) View() CardView {
	v := CardView{Slot: c.slot, Droppable: c.AcceptsDrop()}
	c.board.decorate(&v)
	return v
}

func (c *EmptyCard) DragOver(x, y float64, rect Rect) (DropTarget, bool) {
	t := Resolve(x, y, rect, c.slot)
	return t, c.board.DragOver(t)
}

func (c *EmptyCard) DragLeave() { c.board.DragLeave() }

func (c *EmptyCard) Drop(ctx context.Context, x, y float64, rect Rect) bool {
	t := Resolve(x, y, rect, c.slot)
	return c.board.Drop(ctx, c.slot, nil, t.Mode)
}

// OpenAssign opens the initiative picker for this slot. The picker closes on
// any interaction reported to scope.
func (c *EmptyCard) OpenAssign(scope *DismissScope) *Picker {
	return c.board.OpenPicker(c.slot, scope)
}

// InteractiveCard is an occupied slot the user may drag, drop onto and remove.
type InteractiveCard struct {
	board      *Board
	slot       int
	initiative domain.Initiative
}

func (c *InteractiveCard) Slot() int { return c.slot }
func (c *InteractiveCard) Initiative() (domain.Initiative, bool) {
	return c.initiative, true
}
func (c *InteractiveCard) Draggable() bool   { return !c.board.HasActiveFilters() }
func (c *InteractiveCard) AcceptsDrop() bool { return !c.board.HasActiveFilters() }

func (c *InteractiveCard) View() CardView {
	in := c.initiative
	v := CardView{
		Slot:       c.slot,
		Initiative: &in,
		Draggable:  c.Draggable(),
		Droppable:  c.AcceptsDrop(),
		Removing:   c.board.IsRemoving(in.ID),
	}
	c.board.decorate(&v)
	return v
}

func (c *InteractiveCard) DragStart() bool { return c.board.DragStart(c.initiative) }
func (c *InteractiveCard) DragEnd()        { c.board.DragEnd() }

func (c *InteractiveCard) DragOver(x, y float64, rect Rect) (DropTarget, bool) {
	t := Resolve(x, y, rect, c.slot)
	return t, c.board.DragOver(t)
}

func (c *InteractiveCard) DragLeave() { c.board.DragLeave() }

func (c *InteractiveCard) Drop(ctx context.Context, x, y float64, rect Rect) bool {
	t := Resolve(x, y, rect, c.slot)
	in := c.initiative
	return c.board.Drop(ctx, c.slot, &in, t.Mode)
}

func (c *InteractiveCard) Remove(ctx context.Context) error {
	return c.board.Remove(ctx, c.initiative.ID)
}

func (c *InteractiveCard) OpenDetail() { c.board.openDetail(c.initiative) }

// ReadOnlyCard is an occupied slot hidden by the active filters. It renders
// dimmed and takes part in no drag gesture.
type ReadOnlyCard struct {
	board      *Board
	slot       int
	initiative domain.Initiative
}

func (c *ReadOnlyCard) Slot() int { return c.slot }
func (c *ReadOnlyCard) Initiative() (domain.Initiative, bool) {
	return c.initiative, true
}
func (c *ReadOnlyCard) Draggable() bool   { return false }
func (c *ReadOnlyCard) AcceptsDrop() bool { return false }

func (c *ReadOnlyCard) View() CardView {
	in := c.initiative
	return CardView{Slot: c.slot, Initiative: &in, Dimmed: true}
}

func (c *ReadOnlyCard) OpenDetail() { c.board.openDetail(c.initiative) }
