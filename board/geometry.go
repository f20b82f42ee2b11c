package board

import "math"

// EdgeThreshold is the fraction of a card's width or height, measured from
// each edge, that counts as an insert zone.
const EdgeThreshold = 0.25

// DragMode is the intent a pointer position expresses over a target card.
type DragMode string

const (
	ModeSwap   DragMode = "swap"
	ModeInsert DragMode = "insert"
)

// Direction is the edge an insert targets.
type Direction string

const (
	DirectionNone   Direction = ""
	DirectionLeft   Direction = "left"
	DirectionRight  Direction = "right"
	DirectionTop    Direction = "top"
	DirectionBottom Direction = "bottom"
)

// Rect is a card's bounding box in client coordinates.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Contains reports whether the point lies inside the rectangle.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.Left && x < r.Left+r.Width && y >= r.Top && y < r.Top+r.Height
}

// DropTarget is the resolved drag intent for one slot.
type DropTarget struct {
	SlotNumber int       `json:"slotNumber"`
	Mode       DragMode  `json:"mode"`
	Direction  Direction `json:"insertDirection,omitempty"`
}

// Resolve maps a pointer position over a card to a drop target.
func Resolve(x, y float64, rect Rect, slot int) DropTarget {
	relX := relative(x, rect.Left, rect.Width)
	relY := relative(y, rect.Top, rect.Height)
	mode, dir := ResolveRelative(relX, relY)
	return DropTarget{SlotNumber: slot, Mode: mode, Direction: dir}
}

// ResolveRelative classifies a position given as fractions of the card size.
// Ties between edges break in the order left, right, top, bottom.
func ResolveRelative(relX, relY float64) (DragMode, Direction) {
	relX = clamp01(relX)
	relY = clamp01(relY)

	inLeft := relX < EdgeThreshold
	inRight := relX > 1-EdgeThreshold
	inTop := relY < EdgeThreshold
	inBottom := relY > 1-EdgeThreshold
	if !inLeft && !inRight && !inTop && !inBottom {
		return ModeSwap, DirectionNone
	}

	distLeft := relX
	distRight := 1 - relX
	distTop := relY
	distBottom := 1 - relY
	minDist := math.Min(math.Min(distLeft, distRight), math.Min(distTop, distBottom))

	switch {
	case inLeft && distLeft == minDist:
		return ModeInsert, DirectionLeft
	case inRight && distRight == minDist:
		return ModeInsert, DirectionRight
	case inTop && distTop == minDist:
		return ModeInsert, DirectionTop
	case inBottom && distBottom == minDist:
		return ModeInsert, DirectionBottom
	}
	return ModeSwap, DirectionNone
}

func relative(v, origin, size float64) float64 {
	if size <= 0 || math.IsNaN(v) || math.IsNaN(size) || math.IsInf(size, 0) {
		return 0.5
	}
	return (v - origin) / size
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0.5
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
