package board

import (
	"context"
	"fmt"
	"sync"

	"slotboard/domain"
)

// State is the phase of the current drag gesture.
type State int

const (
	StateIdle State = iota
	StateDragging
	StateCommitting
)

func (s State) String() string {
	switch s {
	case StateDragging:
		return "dragging"
	case StateCommitting:
		return "committing"
	default:
		return "idle"
	}
}

// Session is a snapshot of the drag gesture in progress.
type Session struct {
	State        State
	Dragged      *domain.Initiative
	DragOverSlot *int
	Target       DropTarget
}

type session struct {
	state    State
	gen      uint64
	dragged  *domain.Initiative
	overSlot *int
	target   DropTarget
}

// Board owns the slot projection, the active filters and the drag session,
// and commits reassignment intents to the SlotStore.
type Board struct {
	store    SlotStore
	notifier Notifier

	mu          sync.Mutex
	totalSlots  int
	initiatives []domain.Initiative
	slots       map[int]domain.Initiative
	filters     domain.Filters
	sess        session
	removing    map[string]struct{}
	revalidator Revalidator
	onDetail    func(domain.Initiative)
}

// New creates a board with totalSlots cells.
func New(store SlotStore, notifier Notifier, totalSlots int) *Board {
	if store == nil {
		panic("board.New: store is nil")
	}
	if totalSlots <= 0 {
		totalSlots = domain.DefaultTotalSlots
	}
	if notifier == nil {
		notifier = NotifierFunc(func(Notice) {})
	}
	return &Board{
		store:      store,
		notifier:   notifier,
		totalSlots: totalSlots,
		slots:      map[int]domain.Initiative{},
		removing:   map[string]struct{}{},
	}
}

// SetRevalidator registers the hook run after each committed mutation.
func (b *Board) SetRevalidator(r Revalidator) {
	b.mu.Lock()
	b.revalidator = r
	b.mu.Unlock()
}

// SetDetailHandler registers the callback that opens an initiative's detail view.
func (b *Board) SetDetailHandler(fn func(domain.Initiative)) {
	b.mu.Lock()
	b.onDetail = fn
	b.mu.Unlock()
}

// TotalSlots returns the number of cells on the board.
func (b *Board) TotalSlots() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalSlots
}

// SetTotalSlots resizes the board.
func (b *Board) SetTotalSlots(n int) {
	if n <= 0 {
		return
	}
	b.mu.Lock()
	b.totalSlots = n
	b.slots = domain.SlotMap(b.initiatives, n)
	b.mu.Unlock()
}

// SetInitiatives replaces the initiative collection, typically after a refetch.
func (b *Board) SetInitiatives(initiatives []domain.Initiative) {
	cp := make([]domain.Initiative, len(initiatives))
	copy(cp, initiatives)
	b.mu.Lock()
	b.initiatives = cp
	b.slots = domain.SlotMap(cp, b.totalSlots)
	b.mu.Unlock()
}

// Initiatives returns a copy of the current collection.
func (b *Board) Initiatives() []domain.Initiative {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Initiative, len(b.initiatives))
	copy(out, b.initiatives)
	return out
}

// Occupant returns the initiative in slot n.
func (b *Board) Occupant(n int) (domain.Initiative, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	in, ok := b.slots[n]
	return in, ok
}

// Pool returns the unslotted initiatives.
func (b *Board) Pool() []domain.Initiative {
	b.mu.Lock()
	defer b.mu.Unlock()
	return domain.Unslotted(b.initiatives)
}

// SetFilters replaces the active filters.
func (b *Board) SetFilters(f domain.Filters) {
	b.mu.Lock()
	b.filters = f
	b.mu.Unlock()
}

// Filters returns the active filters.
func (b *Board) Filters() domain.Filters {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.filters
}

// HasActiveFilters reports whether drag interaction is disabled.
func (b *Board) HasActiveFilters() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.filters.Active()
}

// IsFilteredOut reports whether in is hidden by the active filters.
func (b *Board) IsFilteredOut(in domain.Initiative) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.filteredOutLocked(in)
}

func (b *Board) filteredOutLocked(in domain.Initiative) bool {
	return b.filters.Active() && !b.filters.Matches(in)
}

// Session returns a snapshot of the drag session.
func (b *Board) Session() Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Session{State: b.sess.state, Target: b.sess.target}
	if b.sess.dragged != nil {
		d := *b.sess.dragged
		s.Dragged = &d
	}
	if b.sess.overSlot != nil {
		n := *b.sess.overSlot
		s.DragOverSlot = &n
	}
	return s
}

// DragStart begins a gesture for in. It is ignored while filters are active.
func (b *Board) DragStart(in domain.Initiative) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.filters.Active() || b.filteredOutLocked(in) {
		return false
	}
	d := in
	b.sess.gen++
	b.sess.state = StateDragging
	b.sess.dragged = &d
	b.sess.overSlot = nil
	b.sess.target = DropTarget{}
	return true
}

// DragOver records the resolved position over a target slot. Hovering the
// dragged initiative's own slot is ignored.
func (b *Board) DragOver(target DropTarget) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.filters.Active() {
		return false
	}
	if b.sess.state != StateDragging || b.sess.dragged == nil {
		return false
	}
	if b.sess.dragged.Slot != nil && *b.sess.dragged.Slot == target.SlotNumber {
		return false
	}
	n := target.SlotNumber
	b.sess.overSlot = &n
	b.sess.target = target
	return true
}

// DragLeave clears the hovered slot but keeps the gesture alive.
func (b *Board) DragLeave() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.filters.Active() || b.sess.state != StateDragging {
		return
	}
	b.sess.overSlot = nil
	b.sess.target = DropTarget{}
}

// DragEnd abandons the gesture without touching the store.
func (b *Board) DragEnd() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sess.state != StateDragging {
		return
	}
	b.clearSessionLocked()
}

func (b *Board) clearSessionLocked() {
	b.sess.state = StateIdle
	b.sess.dragged = nil
	b.sess.overSlot = nil
	b.sess.target = DropTarget{}
}

// Drop commits the gesture onto slot. target is the initiative currently
// shown in that slot, if any. It blocks until the store responds and reports
// whether a remote call was made.
func (b *Board) Drop(ctx context.Context, slot int, target *domain.Initiative, mode DragMode) bool {
	b.mu.Lock()
	if b.filters.Active() || b.sess.state != StateDragging || b.sess.dragged == nil {
		b.mu.Unlock()
		return false
	}
	dragged := *b.sess.dragged
	if dragged.Slot != nil && *dragged.Slot == slot {
		b.clearSessionLocked()
		b.mu.Unlock()
		return false
	}
	if target != nil && target.ID == dragged.ID {
		b.clearSessionLocked()
		b.mu.Unlock()
		return false
	}
	b.sess.state = StateCommitting
	gen := b.sess.gen
	b.mu.Unlock()

	targetID := ""
	if target != nil {
		targetID = target.ID
	}
	err := b.store.Swap(ctx, dragged.ID, slot, targetID)

	b.mu.Lock()
	if b.sess.gen == gen {
		b.clearSessionLocked()
	}
	b.mu.Unlock()

	if err != nil {
		b.notifier.Notify(errorNotice(fallbackMoveError, err, fallbackMoveError))
		return true
	}
	if target != nil {
		b.notifier.Notify(Notice{
			Kind:    NoticeSuccess,
			Title:   "Initiatives swapped",
			Message: fmt.Sprintf("Swapped %q with %q", displayTitle(dragged), displayTitle(*target)),
		})
	} else {
		b.notifier.Notify(Notice{
			Kind:    NoticeSuccess,
			Title:   "Initiative moved",
			Message: fmt.Sprintf("Moved %q to slot %d", displayTitle(dragged), slot),
		})
	}
	b.revalidate(ctx)
	return true
}

// Assign places an unslotted initiative into slot.
func (b *Board) Assign(ctx context.Context, initiativeID string, slot int) error {
	b.mu.Lock()
	in, ok := domain.FindInitiative(b.initiatives, initiativeID)
	b.mu.Unlock()
	if !ok {
		in = domain.Initiative{ID: initiativeID}
	}

	if err := b.store.Assign(ctx, initiativeID, slot); err != nil {
		b.notifier.Notify(errorNotice(fallbackAssignError, err, fallbackAssignError))
		return err
	}
	b.notifier.Notify(Notice{
		Kind:    NoticeSuccess,
		Title:   "Initiative assigned",
		Message: fmt.Sprintf("Assigned %q to slot %d", displayTitle(in), slot),
	})
	b.revalidate(ctx)
	return nil
}

// Remove returns a slotted initiative to the pool. A second call for the same
// initiative while the first is in flight is rejected without a remote call.
func (b *Board) Remove(ctx context.Context, initiativeID string) error {
	b.mu.Lock()
	if _, busy := b.removing[initiativeID]; busy {
		b.mu.Unlock()
		return ErrRemoveInFlight
	}
	b.removing[initiativeID] = struct{}{}
	in, ok := domain.FindInitiative(b.initiatives, initiativeID)
	b.mu.Unlock()
	if !ok {
		in = domain.Initiative{ID: initiativeID}
	}

	err := b.store.RemoveFromSlot(ctx, initiativeID)

	b.mu.Lock()
	delete(b.removing, initiativeID)
	b.mu.Unlock()

	if err != nil {
		b.notifier.Notify(errorNotice(fallbackRemoveError, err, fallbackRemoveError))
		return err
	}
	msg := fmt.Sprintf("Removed %q from the board", displayTitle(in))
	if in.Slot != nil {
		msg = fmt.Sprintf("Removed %q from slot %d", displayTitle(in), *in.Slot)
	}
	b.notifier.Notify(Notice{Kind: NoticeSuccess, Title: "Initiative removed", Message: msg})
	b.revalidate(ctx)
	return nil
}

// IsRemoving reports whether a remove call for the initiative is in flight.
func (b *Board) IsRemoving(initiativeID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.removing[initiativeID]
	return ok
}

func (b *Board) revalidate(ctx context.Context) {
	b.mu.Lock()
	r := b.revalidator
	b.mu.Unlock()
	if r != nil {
		r.Revalidate(ctx)
	}
}

func (b *Board) openDetail(in domain.Initiative) {
	b.mu.Lock()
	fn := b.onDetail
	b.mu.Unlock()
	if fn != nil {
		fn(in)
	}
}

// Cards builds one card per slot, in slot order.
func (b *Board) Cards() []Card {
	b.mu.Lock()
	defer b.mu.Unlock()
	cards := make([]Card, 0, b.totalSlots)
	for n := 1; n <= b.totalSlots; n++ {
		in, ok := b.slots[n]
		if !ok {
			cards = append(cards, &EmptyCard{board: b, slot: n})
			continue
		}
		cards = append(cards, newCard(b, n, in, b.filteredOutLocked(in)))
	}
	return cards
}

// Card returns the card for slot n.
func (b *Board) Card(n int) (Card, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n < 1 || n > b.totalSlots {
		return nil, false
	}
	in, ok := b.slots[n]
	if !ok {
		return &EmptyCard{board: b, slot: n}, true
	}
	return newCard(b, n, in, b.filteredOutLocked(in)), true
}
