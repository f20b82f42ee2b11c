package domain

// DefaultTotalSlots is the board size when none is configured.
const DefaultTotalSlots = 12

// SlotView is one cell of the server rendered board.
type SlotView struct {
	Slot        int         `json:"slot"`
	Initiative  *Initiative `json:"initiative,omitempty"`
	FilteredOut bool        `json:"filteredOut,omitempty"`
}

// BoardView is the read model returned to clients.
type BoardView struct {
	TotalSlots    int          `json:"totalSlots"`
	Slots         []SlotView   `json:"slots"`
	Pool          []Initiative `json:"pool"`
	FiltersActive bool         `json:"filtersActive"`
}

// BuildBoardView projects initiatives onto a board of totalSlots cells.
func BuildBoardView(initiatives []Initiative, totalSlots int, filters Filters) BoardView {
	m := SlotMap(initiatives, totalSlots)
	view := BoardView{
		TotalSlots:    totalSlots,
		Slots:         make([]SlotView, 0, totalSlots),
		Pool:          Unslotted(initiatives),
		FiltersActive: filters.Active(),
	}
	for n := 1; n <= totalSlots; n++ {
		sv := SlotView{Slot: n}
		if in, ok := m[n]; ok {
			in := in
			sv.Initiative = &in
			sv.FilteredOut = !filters.Matches(in)
		}
		view.Slots = append(view.Slots, sv)
	}
	return view
}
