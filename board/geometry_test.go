package board

import (
	"math"
	"testing"
)

func TestResolveRelativeZones(t *testing.T) {
	testCases := map[string]struct {
		relX, relY float64
		mode       DragMode
		dir        Direction
	}{
		"left":          {0.1, 0.5, ModeInsert, DirectionLeft},
		"right":         {0.9, 0.5, ModeInsert, DirectionRight},
		"top":           {0.5, 0.1, ModeInsert, DirectionTop},
		"bottom":        {0.5, 0.9, ModeInsert, DirectionBottom},
		"center":        {0.5, 0.5, ModeSwap, DirectionNone},
		"corner tie":    {0.1, 0.1, ModeInsert, DirectionLeft},
		"top right":     {0.9, 0.1, ModeInsert, DirectionRight},
		"bottom left":   {0.2, 0.95, ModeInsert, DirectionBottom},
		"threshold x":   {0.25, 0.5, ModeSwap, DirectionNone},
		"threshold y":   {0.5, 0.75, ModeSwap, DirectionNone},
		"outside left":  {-3, 0.5, ModeInsert, DirectionLeft},
		"outside below": {0.5, 7, ModeInsert, DirectionBottom},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			mode, dir := ResolveRelative(tc.relX, tc.relY)
			if mode != tc.mode || dir != tc.dir {
				t.Fatalf("ResolveRelative(%v, %v) = (%s, %q), want (%s, %q)", tc.relX, tc.relY, mode, dir, tc.mode, tc.dir)
			}
		})
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	for i := 0; i <= 20; i++ {
		for j := 0; j <= 20; j++ {
			x, y := float64(i)/20, float64(j)/20
			m1, d1 := ResolveRelative(x, y)
			m2, d2 := ResolveRelative(x, y)
			if m1 != m2 || d1 != d2 {
				t.Fatalf("non deterministic result at (%v, %v)", x, y)
			}
			if m1 == ModeSwap && d1 != DirectionNone {
				t.Fatalf("swap with direction %q at (%v, %v)", d1, x, y)
			}
			if m1 == ModeInsert && d1 == DirectionNone {
				t.Fatalf("insert without direction at (%v, %v)", x, y)
			}
		}
	}
}

func TestResolveUsesCardRect(t *testing.T) {
	rect := Rect{Left: 100, Top: 40, Width: 200, Height: 80}

	got := Resolve(110, 80, rect, 7)
	if got.SlotNumber != 7 || got.Mode != ModeInsert || got.Direction != DirectionLeft {
		t.Fatalf("unexpected target: %+v", got)
	}

	got = Resolve(200, 80, rect, 7)
	if got.Mode != ModeSwap || got.Direction != DirectionNone {
		t.Fatalf("expected swap at center, got %+v", got)
	}

	got = Resolve(200, 115, rect, 7)
	if got.Direction != DirectionBottom {
		t.Fatalf("expected bottom insert, got %+v", got)
	}
}

func TestResolveDegenerateInputs(t *testing.T) {
	got := Resolve(10, 10, Rect{Width: 0, Height: 0}, 1)
	if got.Mode != ModeSwap {
		t.Fatalf("zero sized rect should resolve to swap, got %+v", got)
	}
	got = Resolve(math.NaN(), 5, Rect{Width: 10, Height: 10}, 1)
	if got.Mode != ModeSwap {
		t.Fatalf("NaN x over the center row should resolve to swap, got %+v", got)
	}
}

func BenchmarkResolve(b *testing.B) {
	rect := Rect{Left: 10, Top: 10, Width: 240, Height: 120}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = Resolve(float64(10+i%240), float64(10+i%120), rect, 3)
	}
}
