package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"slotboard/domain"
)

type fakeRow struct {
	etag  azcore.ETag
	props map[string]any
}

// fakeTable applies entity group transactions all-or-nothing, the way the
// table service does.
type fakeTable struct {
	mu      sync.Mutex
	rows    map[string]fakeRow
	version int
	batches int
	// beforeSubmit runs once before the next transaction is applied.
	beforeSubmit func()
}

func newFakeTable() *fakeTable {
	return &fakeTable{rows: map[string]fakeRow{}}
}

func rowID(pk, rk string) string { return pk + "|" + rk }

func (f *fakeTable) put(t *testing.T, payload []byte) {
	t.Helper()
	var props map[string]any
	if err := json.Unmarshal(payload, &props); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.version++
	f.rows[rowID(props["PartitionKey"].(string), props["RowKey"].(string))] = fakeRow{
		etag:  azcore.ETag(strconv.Itoa(f.version)),
		props: props,
	}
}

func (f *fakeTable) GetEntity(ctx context.Context, pk, rk string, _ *aztables.GetEntityOptions) (aztables.GetEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[rowID(pk, rk)]
	if !ok {
		return aztables.GetEntityResponse{}, &azcore.ResponseError{StatusCode: http.StatusNotFound, ErrorCode: "ResourceNotFound"}
	}
	data, err := json.Marshal(row.props)
	if err != nil {
		return aztables.GetEntityResponse{}, err
	}
	return aztables.GetEntityResponse{ETag: row.etag, Value: data}, nil
}

func (f *fakeTable) SubmitTransaction(ctx context.Context, actions []aztables.TransactionAction, _ *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error) {
	if f.beforeSubmit != nil {
		fn := f.beforeSubmit
		f.beforeSubmit = nil
		fn()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++

	staged := make(map[string]fakeRow, len(f.rows))
	for k, v := range f.rows {
		staged[k] = v
	}
	version := f.version
	for _, a := range actions {
		var props map[string]any
		if err := json.Unmarshal(a.Entity, &props); err != nil {
			return aztables.TransactionResponse{}, err
		}
		id := rowID(props["PartitionKey"].(string), props["RowKey"].(string))
		cur, exists := staged[id]
		if a.IfMatch != nil && *a.IfMatch != azcore.ETagAny && exists && cur.etag != *a.IfMatch {
			return aztables.TransactionResponse{}, &azcore.ResponseError{StatusCode: http.StatusPreconditionFailed, ErrorCode: "UpdateConditionNotSatisfied"}
		}
		version++
		switch a.ActionType {
		case aztables.TransactionTypeAdd:
			if exists {
				return aztables.TransactionResponse{}, &azcore.ResponseError{StatusCode: http.StatusConflict, ErrorCode: "EntityAlreadyExists"}
			}
			staged[id] = fakeRow{etag: azcore.ETag(strconv.Itoa(version)), props: props}
		case aztables.TransactionTypeDelete:
			if !exists {
				return aztables.TransactionResponse{}, &azcore.ResponseError{StatusCode: http.StatusNotFound, ErrorCode: "ResourceNotFound"}
			}
			delete(staged, id)
		case aztables.TransactionTypeUpdateMerge:
			if !exists {
				return aztables.TransactionResponse{}, &azcore.ResponseError{StatusCode: http.StatusNotFound, ErrorCode: "ResourceNotFound"}
			}
			merged := map[string]any{}
			for k, v := range cur.props {
				merged[k] = v
			}
			for k, v := range props {
				merged[k] = v
			}
			staged[id] = fakeRow{etag: azcore.ETag(strconv.Itoa(version)), props: merged}
		case aztables.TransactionTypeUpdateReplace:
			if !exists {
				return aztables.TransactionResponse{}, &azcore.ResponseError{StatusCode: http.StatusNotFound, ErrorCode: "ResourceNotFound"}
			}
			staged[id] = fakeRow{etag: azcore.ETag(strconv.Itoa(version)), props: props}
		default:
			return aztables.TransactionResponse{}, errors.New("unsupported action")
		}
	}
	f.rows = staged
	f.version = version
	return aztables.TransactionResponse{}, nil
}

func (f *fakeTable) slotOf(t *testing.T, tenant, id string) int {
	t.Helper()
	resp, err := f.GetEntity(context.Background(), tenant, initiativeRowKey(id), nil)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	in, err := decodeInitiativeEntity(resp.Value)
	if err != nil {
		t.Fatalf("decode %s: %v", id, err)
	}
	return in.SlotNumber()
}

func (f *fakeTable) reservation(tenant string, slot int) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[rowID(tenant, slotRowKey(slot))]
	if !ok {
		return "", false
	}
	id, _ := row.props["InitiativeId"].(string)
	return id, true
}

func seedTable(t *testing.T, initiatives ...domain.Initiative) (*Storage, *fakeTable) {
	t.Helper()
	ft := newFakeTable()
	for _, in := range initiatives {
		payload, err := InitiativeEntity("org", in)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		ft.put(t, payload)
		if in.Slotted() {
			res, err := SlotEntity("org", in.SlotNumber(), in.ID)
			if err != nil {
				t.Fatalf("encode slot: %v", err)
			}
			ft.put(t, res)
		}
	}
	return &Storage{table: ft, totalSlots: 6}, ft
}

func TestDecodeInitiativeEntity(t *testing.T) {
	data := []byte(`{"PartitionKey":"org","RowKey":"i_a","Kind":"initiative","Title":"Alpha","Status":"in_progress","Rag":"amber","Slot":3,"TeamId":"t1","TeamName":"Core","Owners":"[{\"person\":{\"id\":\"p1\",\"name\":\"Pat\"}}]"}`)
	in, err := decodeInitiativeEntity(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if in.ID != "a" || in.Title != "Alpha" || in.SlotNumber() != 3 {
		t.Fatalf("unexpected initiative: %+v", in)
	}
	if in.Team == nil || in.Team.Name != "Core" {
		t.Fatalf("unexpected team: %+v", in.Team)
	}
	if len(in.Owners) != 1 || in.Owners[0].Person.ID != "p1" {
		t.Fatalf("unexpected owners: %+v", in.Owners)
	}

	unslotted, err := decodeInitiativeEntity([]byte(`{"RowKey":"i_b","Title":"Beta","Slot":0}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if unslotted.Slot != nil {
		t.Fatalf("slot 0 should decode as unslotted, got %v", *unslotted.Slot)
	}
}

func TestTableAssignReservesSlot(t *testing.T) {
	store, ft := seedTable(t,
		domain.Initiative{ID: "a", Title: "A"},
		domain.Initiative{ID: "b", Title: "B", Slot: domain.IntPtr(2)},
	)
	ctx := context.Background()

	if err := store.Assign(ctx, "org", "a", 4); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got := ft.slotOf(t, "org", "a"); got != 4 {
		t.Fatalf("expected slot 4, got %d", got)
	}
	if id, ok := ft.reservation("org", 4); !ok || id != "a" {
		t.Fatalf("missing reservation for slot 4: %q %v", id, ok)
	}

	if err := store.Assign(ctx, "org", "a", 5); !errors.Is(err, domain.ErrAlreadySlotted) {
		t.Fatalf("expected already slotted, got %v", err)
	}
	if err := store.Assign(ctx, "org", "missing", 5); !errors.Is(err, domain.ErrInitiativeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.Assign(ctx, "org", "a", 9); !errors.Is(err, domain.ErrSlotOutOfRange) {
		t.Fatalf("expected out of range, got %v", err)
	}
}

func TestTableAssignOccupiedSlot(t *testing.T) {
	store, ft := seedTable(t,
		domain.Initiative{ID: "a", Title: "A"},
		domain.Initiative{ID: "b", Title: "B", Slot: domain.IntPtr(2)},
	)
	err := store.Assign(context.Background(), "org", "a", 2)
	if !errors.Is(err, domain.ErrSlotOccupied) {
		t.Fatalf("expected occupied, got %v", err)
	}
	if got := ft.slotOf(t, "org", "a"); got != 0 {
		t.Fatalf("failed assign must not move the initiative, slot=%d", got)
	}
}

func TestTableRemoveReleasesSlot(t *testing.T) {
	store, ft := seedTable(t, domain.Initiative{ID: "a", Title: "A", Slot: domain.IntPtr(1)})
	ctx := context.Background()

	if err := store.RemoveFromSlot(ctx, "org", "a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := ft.slotOf(t, "org", "a"); got != 0 {
		t.Fatalf("expected unslotted, got %d", got)
	}
	if _, ok := ft.reservation("org", 1); ok {
		t.Fatal("reservation should be released")
	}
	if err := store.RemoveFromSlot(ctx, "org", "a"); !errors.Is(err, domain.ErrNotSlotted) {
		t.Fatalf("expected not slotted, got %v", err)
	}
}

func TestTableSwapExchangesSlots(t *testing.T) {
	store, ft := seedTable(t,
		domain.Initiative{ID: "a", Title: "A", Slot: domain.IntPtr(1)},
		domain.Initiative{ID: "b", Title: "B", Slot: domain.IntPtr(3)},
	)
	res, err := store.Swap(context.Background(), "org", "a", 3, "b")
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if !res.Swapped() || res.PreviousSlot != 1 || res.Dragged.SlotNumber() != 3 || res.Target.SlotNumber() != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if ft.slotOf(t, "org", "a") != 3 || ft.slotOf(t, "org", "b") != 1 {
		t.Fatal("slots not exchanged")
	}
	if id, _ := ft.reservation("org", 3); id != "a" {
		t.Fatalf("slot 3 reserved by %q", id)
	}
	if id, _ := ft.reservation("org", 1); id != "b" {
		t.Fatalf("slot 1 reserved by %q", id)
	}
	if ft.batches != 1 {
		t.Fatalf("swap should be one transaction, got %d", ft.batches)
	}
}

func TestTableSwapMovesToEmptySlot(t *testing.T) {
	store, ft := seedTable(t, domain.Initiative{ID: "a", Title: "A", Slot: domain.IntPtr(1)})
	res, err := store.Swap(context.Background(), "org", "a", 5, "")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if res.Swapped() || res.Dragged.SlotNumber() != 5 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, ok := ft.reservation("org", 1); ok {
		t.Fatal("old reservation should be released")
	}
	if id, _ := ft.reservation("org", 5); id != "a" {
		t.Fatalf("slot 5 reserved by %q", id)
	}
}

func TestTableSwapRejectsStaleTarget(t *testing.T) {
	store, _ := seedTable(t,
		domain.Initiative{ID: "a", Title: "A", Slot: domain.IntPtr(1)},
		domain.Initiative{ID: "b", Title: "B", Slot: domain.IntPtr(3)},
	)
	ctx := context.Background()
	if _, err := store.Swap(ctx, "org", "a", 4, "b"); !errors.Is(err, domain.ErrTargetMismatch) {
		t.Fatalf("expected target mismatch, got %v", err)
	}
	if _, err := store.Swap(ctx, "org", "a", 1, "a"); !errors.Is(err, domain.ErrSameInitiative) {
		t.Fatalf("expected same initiative, got %v", err)
	}
}

func TestTableSwapConcurrentWriteConflicts(t *testing.T) {
	store, ft := seedTable(t,
		domain.Initiative{ID: "a", Title: "A", Slot: domain.IntPtr(1)},
		domain.Initiative{ID: "b", Title: "B", Slot: domain.IntPtr(3)},
	)
	ft.beforeSubmit = func() {
		// another writer touches the target between read and commit
		payload, _ := InitiativeEntity("org", domain.Initiative{ID: "b", Title: "B renamed", Slot: domain.IntPtr(3)})
		ft.put(t, payload)
	}
	_, err := store.Swap(context.Background(), "org", "a", 3, "b")
	if !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if ft.slotOf(t, "org", "a") != 1 || ft.slotOf(t, "org", "b") != 3 {
		t.Fatal("failed transaction must leave both initiatives in place")
	}
}

func TestMapTableError(t *testing.T) {
	plain := errors.New("boom")
	if got := mapTableError(plain); got != plain {
		t.Fatalf("non azure errors should pass through, got %v", got)
	}
	if got := mapTableError(&azcore.ResponseError{StatusCode: http.StatusInternalServerError}); errors.Is(got, domain.ErrConcurrencyConflict) || errors.Is(got, domain.ErrSlotOccupied) {
		t.Fatalf("server errors should not map to domain errors: %v", got)
	}
}
