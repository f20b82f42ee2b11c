package main

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"slotboard/board"
	"slotboard/domain"
)

type noticeMsg board.Notice

type initiativesMsg []domain.Initiative

type opDoneMsg struct{}

type fetchFunc func(ctx context.Context) ([]domain.Initiative, error)

// model is the bubbletea program state. Slot state lives in the board; the
// model only tracks pointer and keyboard focus.
type model struct {
	ctx    context.Context
	board  *board.Board
	scope  *board.DismissScope
	layout layout
	styles styles

	notices <-chan board.Notice
	updates <-chan []domain.Initiative
	fetch   fetchFunc

	cursor    int
	dragging  bool
	overSlot  int
	picker    *board.Picker
	pickerIdx int
	status    *board.Notice
	detail    *domain.Initiative
	pending   int
	width     int
}

func newModel(ctx context.Context, b *board.Board, l layout, notices <-chan board.Notice, updates <-chan []domain.Initiative, fetch fetchFunc) *model {
	m := &model{
		ctx:     ctx,
		board:   b,
		scope:   board.NewDismissScope(),
		layout:  l,
		styles:  defaultStyles(),
		notices: notices,
		updates: updates,
		fetch:   fetch,
		cursor:  1,
	}
	b.SetDetailHandler(func(in domain.Initiative) { m.detail = &in })
	return m
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(listen(m.notices, func(n board.Notice) tea.Msg { return noticeMsg(n) }),
		listen(m.updates, func(in []domain.Initiative) tea.Msg { return initiativesMsg(in) }))
}

// listen waits for the next value on ch. A nil channel yields no command.
func listen[T any](ch <-chan T, wrap func(T) tea.Msg) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		v, ok := <-ch
		if !ok {
			return nil
		}
		return wrap(v)
	}
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.layout = m.layout.fit(msg.Width)
		return m, nil
	case noticeMsg:
		n := board.Notice(msg)
		m.status = &n
		return m, listen(m.notices, func(n board.Notice) tea.Msg { return noticeMsg(n) })
	case initiativesMsg:
		m.board.SetInitiatives(msg)
		return m, listen(m.updates, func(in []domain.Initiative) tea.Msg { return initiativesMsg(in) })
	case opDoneMsg:
		if m.pending > 0 {
			m.pending--
		}
		return m, nil
	case tea.KeyMsg:
		return m, m.handleKey(msg)
	case tea.MouseMsg:
		return m, m.handleMouse(msg)
	}
	return m, nil
}

// run executes a blocking board call off the update loop.
func (m *model) run(fn func(ctx context.Context)) tea.Cmd {
	m.pending++
	ctx := m.ctx
	return func() tea.Msg {
		fn(ctx)
		return opDoneMsg{}
	}
}

func (m *model) handleKey(msg tea.KeyMsg) tea.Cmd {
	if m.picker != nil && m.picker.IsOpen() {
		return m.handlePickerKey(msg)
	}
	m.picker = nil

	total := m.board.TotalSlots()
	switch msg.String() {
	case "ctrl+c", "q":
		m.scope.Dismiss()
		return tea.Quit
	case "esc":
		if m.dragging {
			m.board.DragEnd()
			m.dragging = false
			m.overSlot = 0
		}
		m.detail = nil
	case "left", "h":
		if m.cursor > 1 {
			m.cursor--
		}
	case "right", "l":
		if m.cursor < total {
			m.cursor++
		}
	case "up", "k":
		if m.cursor-m.layout.cols >= 1 {
			m.cursor -= m.layout.cols
		}
	case "down", "j":
		if m.cursor+m.layout.cols <= total {
			m.cursor += m.layout.cols
		}
	case "enter":
		card, ok := m.board.Card(m.cursor)
		if !ok {
			return nil
		}
		if opener, ok := card.(board.DetailOpener); ok {
			opener.OpenDetail()
			return nil
		}
		if empty, ok := card.(*board.EmptyCard); ok && empty.AcceptsDrop() {
			m.openPicker(empty)
		}
	case "x", "delete":
		card, ok := m.board.Card(m.cursor)
		if !ok {
			return nil
		}
		if r, ok := card.(board.Removable); ok {
			return m.run(func(ctx context.Context) { _ = r.Remove(ctx) })
		}
	case "c":
		m.board.SetFilters(domain.Filters{})
	case "r":
		if m.fetch == nil {
			return nil
		}
		fetch := m.fetch
		ctx := m.ctx
		return func() tea.Msg {
			initiatives, err := fetch(ctx)
			if err != nil {
				return noticeMsg(board.Notice{Kind: board.NoticeError, Title: "Refresh failed", Message: err.Error()})
			}
			return initiativesMsg(initiatives)
		}
	}
	return nil
}

func (m *model) openPicker(card *board.EmptyCard) {
	m.picker = card.OpenAssign(m.scope)
	m.pickerIdx = 0
}

func (m *model) handlePickerKey(msg tea.KeyMsg) tea.Cmd {
	options := m.picker.Options()
	switch msg.String() {
	case "esc":
		m.picker.Close()
		m.picker = nil
	case "up", "k":
		if m.pickerIdx > 0 {
			m.pickerIdx--
		}
	case "down", "j":
		if m.pickerIdx < len(options)-1 {
			m.pickerIdx++
		}
	case "enter":
		if len(options) == 0 {
			m.picker.Close()
			m.picker = nil
			return nil
		}
		p := m.picker
		id := options[m.pickerIdx].ID
		m.picker = nil
		return m.run(func(ctx context.Context) { _ = p.Select(ctx, id) })
	case "ctrl+c":
		m.scope.Dismiss()
		return tea.Quit
	}
	return nil
}

func (m *model) handleMouse(msg tea.MouseMsg) tea.Cmd {
	total := m.board.TotalSlots()
	if msg.Action == tea.MouseActionPress && m.picker != nil {
		// the picker has no mouse surface, so any press is outside it
		m.scope.Dismiss()
		m.picker = nil
		return nil
	}
	if msg.Button != tea.MouseButtonLeft && msg.Action != tea.MouseActionMotion && msg.Action != tea.MouseActionRelease {
		return nil
	}

	slot, rect, onCard := m.layout.slotAt(msg.X, msg.Y, total)
	x, y := cellCenter(msg.X, msg.Y)

	switch msg.Action {
	case tea.MouseActionPress:
		if !onCard {
			return nil
		}
		m.cursor = slot
		card, _ := m.board.Card(slot)
		if src, ok := card.(board.DragSource); ok && src.Draggable() {
			m.dragging = src.DragStart()
			m.overSlot = 0
			return nil
		}
		if empty, ok := card.(*board.EmptyCard); ok && empty.AcceptsDrop() {
			m.openPicker(empty)
		}
	case tea.MouseActionMotion:
		if !m.dragging {
			return nil
		}
		if !onCard {
			if m.overSlot != 0 {
				m.board.DragLeave()
				m.overSlot = 0
			}
			return nil
		}
		card, _ := m.board.Card(slot)
		zone, ok := card.(board.DropZone)
		if !ok || !zone.AcceptsDrop() {
			if m.overSlot != 0 {
				m.board.DragLeave()
				m.overSlot = 0
			}
			return nil
		}
		if _, ok := zone.DragOver(x, y, rect); ok {
			m.overSlot = slot
		}
	case tea.MouseActionRelease:
		if !m.dragging {
			return nil
		}
		m.dragging = false
		m.overSlot = 0
		if !onCard {
			m.board.DragEnd()
			return nil
		}
		card, _ := m.board.Card(slot)
		zone, ok := card.(board.DropZone)
		if !ok || !zone.AcceptsDrop() {
			m.board.DragEnd()
			return nil
		}
		m.cursor = slot
		b := m.board
		return m.run(func(ctx context.Context) {
			if !zone.Drop(ctx, x, y, rect) {
				b.DragEnd()
			}
		})
	}
	return nil
}
