package domain

import (
	"sort"
	"strings"
)

// Status is the lifecycle state of an initiative.
type Status string

const (
	StatusPlanned    Status = "planned"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusDone       Status = "done"
	StatusCancelled  Status = "cancelled"
)

// RAG is the red/amber/green health indicator.
type RAG string

const (
	RAGRed   RAG = "red"
	RAGAmber RAG = "amber"
	RAGGreen RAG = "green"
)

// TeamRef identifies the team that owns an initiative.
type TeamRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PersonRef identifies a person in the directory.
type PersonRef struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Owner links a person to an initiative.
type Owner struct {
	Person PersonRef `json:"person"`
}

// Initiative is a single board item. A nil Slot means the initiative sits in
// the unassigned pool.
type Initiative struct {
	ID     string   `json:"id"`
	Title  string   `json:"title"`
	Status Status   `json:"status,omitempty"`
	RAG    RAG      `json:"rag,omitempty"`
	Slot   *int     `json:"slot"`
	Team   *TeamRef `json:"team,omitempty"`
	Owners []Owner  `json:"owners,omitempty"`
}

// Slotted reports whether the initiative occupies a slot.
func (i Initiative) Slotted() bool { return i.Slot != nil }

// SlotNumber returns the occupied slot or zero.
func (i Initiative) SlotNumber() int {
	if i.Slot == nil {
		return 0
	}
	return *i.Slot
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int { return &n }

// SlotMap projects initiatives onto slot numbers 1..totalSlots. Unslotted and
// out of range initiatives are skipped; on a duplicate the first one wins.
func SlotMap(initiatives []Initiative, totalSlots int) map[int]Initiative {
	m := make(map[int]Initiative, totalSlots)
	for _, in := range initiatives {
		if in.Slot == nil {
			continue
		}
		n := *in.Slot
		if n < 1 || n > totalSlots {
			continue
		}
		if _, taken := m[n]; taken {
			continue
		}
		m[n] = in
	}
	return m
}

// Unslotted returns the pool of initiatives without a slot, ordered by title.
func Unslotted(initiatives []Initiative) []Initiative {
	pool := make([]Initiative, 0, len(initiatives))
	for _, in := range initiatives {
		if in.Slot == nil {
			pool = append(pool, in)
		}
	}
	sort.SliceStable(pool, func(i, j int) bool {
		return strings.ToLower(pool[i].Title) < strings.ToLower(pool[j].Title)
	})
	return pool
}

// FindInitiative looks up an initiative by id.
func FindInitiative(initiatives []Initiative, id string) (Initiative, bool) {
	for _, in := range initiatives {
		if in.ID == id {
			return in, true
		}
	}
	return Initiative{}, false
}

// ValidateSlot checks that slot lies within the board.
func ValidateSlot(slot, totalSlots int) error {
	if slot < 1 || slot > totalSlots {
		return &SlotRangeError{Slot: slot, TotalSlots: totalSlots}
	}
	return nil
}
