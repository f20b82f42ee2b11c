package storage

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotboard/domain"
)

func setupTestSQLite(t *testing.T, initiatives ...domain.Initiative) *SQLite {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "board.db"), 6)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	for _, in := range initiatives {
		require.NoError(t, store.UpsertInitiative(ctx, "org", in))
	}
	return store
}

func slotsByID(t *testing.T, store *SQLite, tenant string) map[string]int {
	t.Helper()
	all, err := store.FetchInitiatives(context.Background(), tenant)
	require.NoError(t, err)
	out := map[string]int{}
	for _, in := range all {
		out[in.ID] = in.SlotNumber()
	}
	return out
}

func TestMigratorIsIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer db.Close()

	m := NewMigrator(db)
	require.NoError(t, m.Migrate())
	require.NoError(t, m.Migrate())

	v, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, v)
}

func TestSQLiteFetchRoundTrip(t *testing.T) {
	store := setupTestSQLite(t,
		domain.Initiative{
			ID: "a", Title: "Alpha", Status: domain.StatusInProgress, RAG: domain.RAGGreen,
			Slot:   domain.IntPtr(2),
			Team:   &domain.TeamRef{ID: "t1", Name: "Core"},
			Owners: []domain.Owner{{Person: domain.PersonRef{ID: "p1", Name: "Pat"}}},
		},
		domain.Initiative{ID: "b", Title: "Beta"},
	)

	all, err := store.FetchInitiatives(context.Background(), "org")
	require.NoError(t, err)
	require.Len(t, all, 2)

	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, 2, all[0].SlotNumber())
	require.NotNil(t, all[0].Team)
	assert.Equal(t, "Core", all[0].Team.Name)
	require.Len(t, all[0].Owners, 1)
	assert.Equal(t, "Pat", all[0].Owners[0].Person.Name)
	assert.Nil(t, all[1].Slot)
	assert.Empty(t, all[1].Owners)

	other, err := store.FetchInitiatives(context.Background(), "other-org")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSQLiteAssign(t *testing.T) {
	store := setupTestSQLite(t,
		domain.Initiative{ID: "a", Title: "A"},
		domain.Initiative{ID: "b", Title: "B", Slot: domain.IntPtr(2)},
	)
	ctx := context.Background()

	assert.ErrorIs(t, store.Assign(ctx, "org", "a", 2), domain.ErrSlotOccupied)
	assert.ErrorIs(t, store.Assign(ctx, "org", "a", 7), domain.ErrSlotOutOfRange)
	assert.ErrorIs(t, store.Assign(ctx, "org", "zzz", 3), domain.ErrInitiativeNotFound)
	assert.ErrorIs(t, store.Assign(ctx, "org", "b", 3), domain.ErrAlreadySlotted)

	require.NoError(t, store.Assign(ctx, "org", "a", 3))
	assert.Equal(t, map[string]int{"a": 3, "b": 2}, slotsByID(t, store, "org"))
}

func TestSQLiteRemove(t *testing.T) {
	store := setupTestSQLite(t, domain.Initiative{ID: "a", Title: "A", Slot: domain.IntPtr(1)})
	ctx := context.Background()

	require.NoError(t, store.RemoveFromSlot(ctx, "org", "a"))
	assert.Equal(t, map[string]int{"a": 0}, slotsByID(t, store, "org"))
	assert.ErrorIs(t, store.RemoveFromSlot(ctx, "org", "a"), domain.ErrNotSlotted)
}

func TestSQLiteSwap(t *testing.T) {
	tests := []struct {
		name     string
		dragged  string
		slot     int
		target   string
		want     map[string]int
		swapped  bool
		previous int
		wantErr  error
	}{
		{name: "exchange", dragged: "a", slot: 3, target: "b", want: map[string]int{"a": 3, "b": 1, "c": 0}, swapped: true, previous: 1},
		{name: "move to empty", dragged: "a", slot: 5, want: map[string]int{"a": 5, "b": 3, "c": 0}, previous: 1},
		{name: "pool to occupied", dragged: "c", slot: 3, target: "b", want: map[string]int{"a": 1, "b": 0, "c": 3}, swapped: true},
		{name: "pool to empty", dragged: "c", slot: 6, want: map[string]int{"a": 1, "b": 3, "c": 6}},
		{name: "stale target", dragged: "a", slot: 4, target: "b", wantErr: domain.ErrTargetMismatch},
		{name: "occupied without target", dragged: "a", slot: 3, wantErr: domain.ErrSlotOccupied},
		{name: "same initiative", dragged: "a", slot: 1, target: "a", wantErr: domain.ErrSameInitiative},
		{name: "out of range", dragged: "a", slot: 0, wantErr: domain.ErrSlotOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := setupTestSQLite(t,
				domain.Initiative{ID: "a", Title: "A", Slot: domain.IntPtr(1)},
				domain.Initiative{ID: "b", Title: "B", Slot: domain.IntPtr(3)},
				domain.Initiative{ID: "c", Title: "C"},
			)
			res, err := store.Swap(context.Background(), "org", tt.dragged, tt.slot, tt.target)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, map[string]int{"a": 1, "b": 3, "c": 0}, slotsByID(t, store, "org"))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, slotsByID(t, store, "org"))
			assert.Equal(t, tt.swapped, res.Swapped())
			assert.Equal(t, tt.previous, res.PreviousSlot)
			assert.Equal(t, tt.slot, res.Dragged.SlotNumber())
		})
	}
}

func TestSQLiteConcurrentAssignKeepsSlotsUnique(t *testing.T) {
	var seed []domain.Initiative
	for i := 0; i < 8; i++ {
		seed = append(seed, domain.Initiative{ID: fmt.Sprintf("i%d", i), Title: fmt.Sprintf("I%d", i)})
	}
	store := setupTestSQLite(t, seed...)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for _, in := range seed {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := store.Assign(context.Background(), "org", id, 4); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(in.ID)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	occupied := 0
	for _, slot := range slotsByID(t, store, "org") {
		if slot == 4 {
			occupied++
		}
	}
	assert.Equal(t, 1, occupied)
}
