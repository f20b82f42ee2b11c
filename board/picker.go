package board

import (
	"context"
	"sync"

	"slotboard/domain"
)

// DismissScope fans an "interaction outside" signal out to the overlays
// currently open. Subscriptions live until their cancel func is called.
type DismissScope struct {
	mu   sync.Mutex
	next int
	subs map[int]func()
}

// NewDismissScope returns an empty scope.
func NewDismissScope() *DismissScope {
	return &DismissScope{subs: map[int]func(){}}
}

// Subscribe registers fn and returns the func that removes it.
func (s *DismissScope) Subscribe(fn func()) (cancel func()) {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = fn
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Dismiss notifies every subscriber.
func (s *DismissScope) Dismiss() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Len returns the number of live subscriptions.
func (s *DismissScope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Picker is the assign dialog for one empty slot.
type Picker struct {
	board *Board
	slot  int

	mu     sync.Mutex
	open   bool
	cancel func()
}

// OpenPicker opens an assign dialog for slot. A nil scope disables outside
// dismissal.
func (b *Board) OpenPicker(slot int, scope *DismissScope) *Picker {
	p := &Picker{board: b, slot: slot, open: true}
	if scope != nil {
		p.cancel = scope.Subscribe(p.Close)
	}
	return p
}

// Slot returns the slot the picker assigns to.
func (p *Picker) Slot() int { return p.slot }

// IsOpen reports whether the picker is still showing.
func (p *Picker) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// Options lists the initiatives that may be assigned.
func (p *Picker) Options() []domain.Initiative {
	return p.board.Pool()
}

// Select assigns the chosen initiative and closes the picker whatever the
// outcome.
func (p *Picker) Select(ctx context.Context, initiativeID string) error {
	if !p.IsOpen() {
		return nil
	}
	defer p.Close()
	return p.board.Assign(ctx, initiativeID, p.slot)
}

// Close hides the picker and drops its dismissal subscription.
func (p *Picker) Close() {
	p.mu.Lock()
	cancel := p.cancel
	p.open = false
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
