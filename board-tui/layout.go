package main

import "slotboard/board"

// layout places slot cards on a grid of terminal cells. Slot n occupies
// column (n-1)%cols and row (n-1)/cols below the header.
type layout struct {
	cols  int
	cellW int
	cellH int
	top   int
}

func defaultLayout(cols int) layout {
	if cols <= 0 {
		cols = 4
	}
	return layout{cols: cols, cellW: 26, cellH: 6, top: 2}
}

// fit adjusts the column count to the terminal width.
func (l layout) fit(width int) layout {
	if width <= 0 || l.cellW <= 0 {
		return l
	}
	if n := width / l.cellW; n >= 1 && n < l.cols {
		l.cols = n
	}
	return l
}

func (l layout) rect(slot int) board.Rect {
	i := slot - 1
	return board.Rect{
		Left:   float64((i % l.cols) * l.cellW),
		Top:    float64(l.top + (i/l.cols)*l.cellH),
		Width:  float64(l.cellW),
		Height: float64(l.cellH),
	}
}

// slotAt returns the slot under terminal cell (x, y).
func (l layout) slotAt(x, y, totalSlots int) (int, board.Rect, bool) {
	if x < 0 || y < l.top || l.cellW <= 0 || l.cellH <= 0 {
		return 0, board.Rect{}, false
	}
	col := x / l.cellW
	row := (y - l.top) / l.cellH
	if col >= l.cols {
		return 0, board.Rect{}, false
	}
	slot := row*l.cols + col + 1
	if slot < 1 || slot > totalSlots {
		return 0, board.Rect{}, false
	}
	return slot, l.rect(slot), true
}

func (l layout) rows(totalSlots int) int {
	return (totalSlots + l.cols - 1) / l.cols
}

// cellCenter converts a terminal cell to the pointer position at its centre.
func cellCenter(x, y int) (float64, float64) {
	return float64(x) + 0.5, float64(y) + 0.5
}
