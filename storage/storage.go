package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"slotboard/domain"
)

const (
	kindInitiative = "initiative"
	kindSlot       = "slot"

	initiativeRowPrefix = "i_"
	slotRowPrefix       = "s_"

	edmInt32 = "Edm.Int32"
)

type tableAPI interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	SubmitTransaction(ctx context.Context, actions []aztables.TransactionAction, options *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error)
}

// Storage keeps initiatives and slot reservations in one Azure table, one
// partition per tenant. A slot reservation row exists for every occupied slot
// so that two initiatives can never claim the same slot: every mutation is a
// single entity group transaction.
type Storage struct {
	table      tableAPI
	lister     *aztables.Client
	totalSlots int
}

// New creates a Storage instance from the given connection string.
func New(connStr, initiativesTable string, totalSlots int) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	tc := svc.NewClient(initiativesTable)
	if totalSlots <= 0 {
		totalSlots = domain.DefaultTotalSlots
	}
	return &Storage{table: tc, lister: tc, totalSlots: totalSlots}, nil
}

type entityKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type initiativeEntity struct {
	entityKeys
	Kind         string `json:"Kind"`
	InitiativeID string `json:"InitiativeId"`
	Title        string `json:"Title"`
	Status       string `json:"Status,omitempty"`
	Rag          string `json:"Rag,omitempty"`
	Slot         int    `json:"Slot"`
	SlotType     string `json:"Slot@odata.type,omitempty"`
	TeamID       string `json:"TeamId,omitempty"`
	TeamName     string `json:"TeamName,omitempty"`
	Owners       string `json:"Owners,omitempty"`
}

type initiativeSlotUpdate struct {
	entityKeys
	Slot     int    `json:"Slot"`
	SlotType string `json:"Slot@odata.type"`
}

type slotEntity struct {
	entityKeys
	Kind         string `json:"Kind"`
	Slot         int    `json:"Slot"`
	SlotType     string `json:"Slot@odata.type,omitempty"`
	InitiativeID string `json:"InitiativeId"`
}

func initiativeRowKey(id string) string { return initiativeRowPrefix + id }

func slotRowKey(slot int) string { return fmt.Sprintf("%s%04d", slotRowPrefix, slot) }

func decodeInitiativeEntity(data []byte) (domain.Initiative, error) {
	var ent initiativeEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Initiative{}, err
	}
	return ent.toDomain()
}

func (e initiativeEntity) toDomain() (domain.Initiative, error) {
	id := e.InitiativeID
	if id == "" {
		id = strings.TrimPrefix(e.RowKey, initiativeRowPrefix)
	}
	in := domain.Initiative{
		ID:     id,
		Title:  e.Title,
		Status: domain.Status(e.Status),
		RAG:    domain.RAG(e.Rag),
	}
	if e.Slot > 0 {
		in.Slot = domain.IntPtr(e.Slot)
	}
	if e.TeamID != "" {
		in.Team = &domain.TeamRef{ID: e.TeamID, Name: e.TeamName}
	}
	if e.Owners != "" {
		if err := json.Unmarshal([]byte(e.Owners), &in.Owners); err != nil {
			return domain.Initiative{}, fmt.Errorf("initiative %s owners: %w", id, err)
		}
	}
	return in, nil
}

// InitiativeEntity builds the table row for an initiative. It is used when
// seeding a tenant.
func InitiativeEntity(tenantID string, in domain.Initiative) ([]byte, error) {
	ent := initiativeEntity{
		entityKeys:   entityKeys{PartitionKey: tenantID, RowKey: initiativeRowKey(in.ID)},
		Kind:         kindInitiative,
		InitiativeID: in.ID,
		Title:        in.Title,
		Status:       string(in.Status),
		Rag:          string(in.RAG),
		Slot:         in.SlotNumber(),
		SlotType:     edmInt32,
	}
	if in.Team != nil {
		ent.TeamID = in.Team.ID
		ent.TeamName = in.Team.Name
	}
	if len(in.Owners) > 0 {
		owners, err := json.Marshal(in.Owners)
		if err != nil {
			return nil, err
		}
		ent.Owners = string(owners)
	}
	return json.Marshal(ent)
}

// SlotEntity builds the reservation row for an occupied slot.
func SlotEntity(tenantID string, slot int, initiativeID string) ([]byte, error) {
	return json.Marshal(slotEntity{
		entityKeys:   entityKeys{PartitionKey: tenantID, RowKey: slotRowKey(slot)},
		Kind:         kindSlot,
		Slot:         slot,
		SlotType:     edmInt32,
		InitiativeID: initiativeID,
	})
}

// FetchInitiatives retrieves all initiatives of a tenant.
func (s *Storage) FetchInitiatives(ctx context.Context, tenantID string) ([]domain.Initiative, error) {
	if s.lister == nil {
		return nil, errors.New("storage: table lister not configured")
	}
	filter := "PartitionKey eq '" + escapeODataString(tenantID) + "' and Kind eq '" + kindInitiative + "'"
	pager := s.lister.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	initiatives := []domain.Initiative{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			in, err := decodeInitiativeEntity(e)
			if err != nil {
				return nil, err
			}
			initiatives = append(initiatives, in)
		}
	}
	sort.Slice(initiatives, func(i, j int) bool { return initiatives[i].ID < initiatives[j].ID })
	return initiatives, nil
}

type loadedInitiative struct {
	domain.Initiative
	etag azcore.ETag
}

func (s *Storage) loadInitiative(ctx context.Context, tenantID, id string) (*loadedInitiative, error) {
	resp, err := s.table.GetEntity(ctx, tenantID, initiativeRowKey(id), nil)
	if err != nil {
		if isNotFound(err) {
			return nil, domain.ErrInitiativeNotFound
		}
		return nil, err
	}
	in, err := decodeInitiativeEntity(resp.Value)
	if err != nil {
		return nil, err
	}
	return &loadedInitiative{Initiative: in, etag: resp.ETag}, nil
}

func (s *Storage) loadSlot(ctx context.Context, tenantID string, slot int) (*slotEntity, azcore.ETag, error) {
	resp, err := s.table.GetEntity(ctx, tenantID, slotRowKey(slot), nil)
	if err != nil {
		if isNotFound(err) {
			return nil, "", nil
		}
		return nil, "", err
	}
	var ent slotEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return nil, "", err
	}
	return &ent, resp.ETag, nil
}

func initiativeSlotAction(tenantID, id string, slot int, etag azcore.ETag) (aztables.TransactionAction, error) {
	payload, err := json.Marshal(initiativeSlotUpdate{
		entityKeys: entityKeys{PartitionKey: tenantID, RowKey: initiativeRowKey(id)},
		Slot:       slot,
		SlotType:   edmInt32,
	})
	if err != nil {
		return aztables.TransactionAction{}, err
	}
	et := etag
	return aztables.TransactionAction{ActionType: aztables.TransactionTypeUpdateMerge, Entity: payload, IfMatch: &et}, nil
}

func slotAction(action aztables.TransactionType, tenantID string, slot int, initiativeID string, etag *azcore.ETag) (aztables.TransactionAction, error) {
	payload, err := SlotEntity(tenantID, slot, initiativeID)
	if err != nil {
		return aztables.TransactionAction{}, err
	}
	return aztables.TransactionAction{ActionType: action, Entity: payload, IfMatch: etag}, nil
}

func (s *Storage) submit(ctx context.Context, actions []aztables.TransactionAction) error {
	if _, err := s.table.SubmitTransaction(ctx, actions, nil); err != nil {
		return mapTableError(err)
	}
	return nil
}

// Assign places an unslotted initiative into a free slot.
func (s *Storage) Assign(ctx context.Context, tenantID, initiativeID string, slot int) error {
	if err := domain.ValidateSlot(slot, s.totalSlots); err != nil {
		return err
	}
	in, err := s.loadInitiative(ctx, tenantID, initiativeID)
	if err != nil {
		return err
	}
	if in.Slotted() {
		return domain.ErrAlreadySlotted
	}
	reserve, err := slotAction(aztables.TransactionTypeAdd, tenantID, slot, initiativeID, nil)
	if err != nil {
		return err
	}
	update, err := initiativeSlotAction(tenantID, initiativeID, slot, in.etag)
	if err != nil {
		return err
	}
	return s.submit(ctx, []aztables.TransactionAction{reserve, update})
}

// RemoveFromSlot returns a slotted initiative to the pool.
func (s *Storage) RemoveFromSlot(ctx context.Context, tenantID, initiativeID string) error {
	in, err := s.loadInitiative(ctx, tenantID, initiativeID)
	if err != nil {
		return err
	}
	if !in.Slotted() {
		return domain.ErrNotSlotted
	}
	anyTag := azcore.ETagAny
	release, err := slotAction(aztables.TransactionTypeDelete, tenantID, in.SlotNumber(), "", &anyTag)
	if err != nil {
		return err
	}
	update, err := initiativeSlotAction(tenantID, initiativeID, 0, in.etag)
	if err != nil {
		return err
	}
	return s.submit(ctx, []aztables.TransactionAction{release, update})
}

// Swap moves the dragged initiative into targetSlot. When targetID is set the
// two initiatives exchange slots in one transaction.
func (s *Storage) Swap(ctx context.Context, tenantID, draggedID string, targetSlot int, targetID string) (domain.SwapResult, error) {
	if err := domain.ValidateSlot(targetSlot, s.totalSlots); err != nil {
		return domain.SwapResult{}, err
	}
	if targetID != "" && targetID == draggedID {
		return domain.SwapResult{}, domain.ErrSameInitiative
	}
	dragged, err := s.loadInitiative(ctx, tenantID, draggedID)
	if err != nil {
		return domain.SwapResult{}, err
	}
	prev := dragged.SlotNumber()
	result := domain.SwapResult{PreviousSlot: prev}

	var actions []aztables.TransactionAction
	if targetID == "" {
		if prev == targetSlot {
			result.Dragged = dragged.Initiative
			return result, nil
		}
		reserve, err := slotAction(aztables.TransactionTypeAdd, tenantID, targetSlot, draggedID, nil)
		if err != nil {
			return domain.SwapResult{}, err
		}
		actions = append(actions, reserve)
		if prev > 0 {
			anyTag := azcore.ETagAny
			release, err := slotAction(aztables.TransactionTypeDelete, tenantID, prev, "", &anyTag)
			if err != nil {
				return domain.SwapResult{}, err
			}
			actions = append(actions, release)
		}
		update, err := initiativeSlotAction(tenantID, draggedID, targetSlot, dragged.etag)
		if err != nil {
			return domain.SwapResult{}, err
		}
		actions = append(actions, update)
	} else {
		target, err := s.loadInitiative(ctx, tenantID, targetID)
		if err != nil {
			return domain.SwapResult{}, err
		}
		if target.SlotNumber() != targetSlot {
			return domain.SwapResult{}, domain.ErrTargetMismatch
		}
		targetRow, targetRowTag, err := s.loadSlot(ctx, tenantID, targetSlot)
		if err != nil {
			return domain.SwapResult{}, err
		}
		if targetRow == nil || targetRow.InitiativeID != targetID {
			return domain.SwapResult{}, domain.ErrTargetMismatch
		}
		claim, err := slotAction(aztables.TransactionTypeUpdateReplace, tenantID, targetSlot, draggedID, &targetRowTag)
		if err != nil {
			return domain.SwapResult{}, err
		}
		actions = append(actions, claim)
		if prev > 0 {
			prevRow, prevRowTag, err := s.loadSlot(ctx, tenantID, prev)
			if err != nil {
				return domain.SwapResult{}, err
			}
			if prevRow == nil || prevRow.InitiativeID != draggedID {
				return domain.SwapResult{}, domain.ErrConcurrencyConflict
			}
			handover, err := slotAction(aztables.TransactionTypeUpdateReplace, tenantID, prev, targetID, &prevRowTag)
			if err != nil {
				return domain.SwapResult{}, err
			}
			actions = append(actions, handover)
		}
		moveDragged, err := initiativeSlotAction(tenantID, draggedID, targetSlot, dragged.etag)
		if err != nil {
			return domain.SwapResult{}, err
		}
		moveTarget, err := initiativeSlotAction(tenantID, targetID, prev, target.etag)
		if err != nil {
			return domain.SwapResult{}, err
		}
		actions = append(actions, moveDragged, moveTarget)

		swapped := target.Initiative
		swapped.Slot = nil
		if prev > 0 {
			swapped.Slot = domain.IntPtr(prev)
		}
		result.Target = &swapped
	}

	if err := s.submit(ctx, actions); err != nil {
		return domain.SwapResult{}, err
	}
	result.Dragged = dragged.Initiative
	result.Dragged.Slot = domain.IntPtr(targetSlot)
	return result, nil
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

func mapTableError(err error) error {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return err
	}
	switch {
	case respErr.StatusCode == http.StatusConflict || respErr.ErrorCode == "EntityAlreadyExists":
		return fmt.Errorf("%w: %v", domain.ErrSlotOccupied, err)
	case respErr.StatusCode == http.StatusPreconditionFailed || respErr.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %v", domain.ErrConcurrencyConflict, err)
	}
	return err
}

func escapeODataString(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}
