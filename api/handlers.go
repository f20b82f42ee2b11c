package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"slotboard/domain"
)

// Options carries the dependencies of the HTTP API.
type Options struct {
	Store      SlotStore
	Auth       Authenticator
	Deduper    Deduper
	Dispatcher *Dispatcher
	Broker     *Broker
	Logger     *log.Logger
	TotalSlots int
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, o Options) {
	if o.Logger == nil {
		o.Logger = log.StandardLogger()
	}
	if o.TotalSlots <= 0 {
		o.TotalSlots = domain.DefaultTotalSlots
	}
	if o.Broker == nil {
		o.Broker = NewBroker()
	}
	e.GET("/api/initiatives", getInitiatives(o))
	e.GET("/api/board", getBoard(o))
	e.POST("/api/slots/assign", postAssign(o))
	e.POST("/api/slots/remove", postRemove(o))
	e.POST("/api/slots/swap", postSwap(o))
	e.GET("/api/board/stream", streamBoard(o.Store, o.Auth, o.Broker, o.TotalSlots))
	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

var lastTimestamp int64

// nextTimestamp returns a strictly increasing unix nano timestamp so events
// created in the same nanosecond keep their order.
func nextTimestamp() int64 {
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastTimestamp)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastTimestamp, last, now) {
			return now
		}
	}
}

func newEvent(tenantID, eventType, initiativeID string) domain.SlotEvent {
	return domain.SlotEvent{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		Type:         eventType,
		InitiativeID: initiativeID,
		Timestamp:    nextTimestamp(),
	}
}

// statusForError maps store failures to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrInitiativeNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSlotOccupied),
		errors.Is(err, domain.ErrTargetMismatch),
		errors.Is(err, domain.ErrConcurrencyConflict),
		errors.Is(err, domain.ErrAlreadySlotted),
		errors.Is(err, domain.ErrNotSlotted):
		return http.StatusConflict
	case errors.Is(err, domain.ErrSlotOutOfRange),
		errors.Is(err, domain.ErrSameInitiative):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage is the error text returned to clients. Storage details stay in
// the logs.
func publicMessage(err error) string {
	var rangeErr *domain.SlotRangeError
	if errors.As(err, &rangeErr) {
		return rangeErr.Error()
	}
	for _, known := range []error{
		domain.ErrInitiativeNotFound,
		domain.ErrSlotOccupied,
		domain.ErrAlreadySlotted,
		domain.ErrNotSlotted,
		domain.ErrSlotOutOfRange,
		domain.ErrTargetMismatch,
		domain.ErrSameInitiative,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	if errors.Is(err, domain.ErrConcurrencyConflict) {
		return "the board changed while saving, please retry"
	}
	return "failed to update slots"
}

type requestScope struct {
	metrics   *requestMetrics
	ctx       context.Context
	principal Principal
}

// begin starts metrics for the request and authenticates the caller. When it
// returns ok=false the response has already been written.
func begin(c echo.Context, o Options, route string) (*requestScope, bool, error) {
	metrics, ctx := newRequestMetrics(c.Request().Context(), o.Logger, route)
	c.SetRequest(c.Request().WithContext(ctx))

	authStart := time.Now()
	principal, err := o.Auth.PrincipalFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	metrics.ObserveAuth(time.Since(authStart))
	if err != nil {
		metrics.SetErrorStage("auth")
		werr := c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		metrics.Log(http.StatusUnauthorized, err)
		return nil, false, werr
	}
	metrics.SetTenant(principal.TenantID)
	return &requestScope{metrics: metrics, ctx: ctx, principal: principal}, true, nil
}

func getInitiatives(o Options) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		s, ok, werr := begin(c, o, "/api/initiatives")
		if !ok {
			return werr
		}
		defer func() { s.metrics.Log(c.Response().Status, err) }()

		storeStart := time.Now()
		initiatives, fetchErr := o.Store.FetchInitiatives(s.ctx, s.principal.TenantID)
		s.metrics.ObserveStore(time.Since(storeStart))
		if fetchErr != nil {
			s.metrics.SetErrorStage("store")
			c.Logger().Error(fetchErr)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load initiatives"})
		}
		s.metrics.SetInitiativesReturned(len(initiatives))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, initiativesResponse{Initiatives: initiatives})
		s.metrics.ObserveEncode(time.Since(encodeStart))
		return err
	}
}

func getBoard(o Options) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		s, ok, werr := begin(c, o, "/api/board")
		if !ok {
			return werr
		}
		defer func() { s.metrics.Log(c.Response().Status, err) }()

		filters := domain.ParseFilters(c.QueryParam("teamIds"), c.QueryParam("personIds"))
		s.metrics.SetFiltersActive(filters.Active())

		storeStart := time.Now()
		initiatives, fetchErr := o.Store.FetchInitiatives(s.ctx, s.principal.TenantID)
		s.metrics.ObserveStore(time.Since(storeStart))
		if fetchErr != nil {
			s.metrics.SetErrorStage("store")
			c.Logger().Error(fetchErr)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load board"})
		}
		s.metrics.SetInitiativesReturned(len(initiatives))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, domain.BuildBoardView(initiatives, o.TotalSlots, filters))
		s.metrics.ObserveEncode(time.Since(encodeStart))
		return err
	}
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, MutationMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// mutation is the part of a slot mutation that differs per route. It returns
// the events to publish and an optional swap result for the response.
type mutation func(ctx context.Context, tenantID string) ([]domain.SlotEvent, *domain.SwapResult, error)

// runMutation applies idempotency, error mapping, metrics and event dispatch
// around a store mutation.
func runMutation(c echo.Context, o Options, s *requestScope, apply mutation) error {
	tenant := s.principal.TenantID
	key := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
	recorded := false
	if key != "" && o.Deduper != nil {
		added, err := o.Deduper.Add(s.ctx, tenant, key)
		switch {
		case err != nil:
			o.Logger.WithError(err).WithField("tenant", tenant).Warn("idempotency check unavailable; applying mutation")
		case !added:
			s.metrics.SetDuplicate(true)
			return c.JSON(http.StatusOK, mutationResponse{OK: true, Duplicate: true})
		default:
			recorded = true
		}
	}

	storeStart := time.Now()
	events, swap, err := apply(s.ctx, tenant)
	s.metrics.ObserveStore(time.Since(storeStart))
	if err != nil {
		if recorded {
			if rerr := o.Deduper.Remove(context.WithoutCancel(s.ctx), tenant, key); rerr != nil {
				o.Logger.Errorf("dedupe rollback failed, err: %v, key: %s, tenant: %s", rerr, key, tenant)
			}
		}
		status := statusForError(err)
		if status == http.StatusInternalServerError {
			s.metrics.SetErrorStage("store")
			c.Logger().Error(err)
		} else {
			s.metrics.SetErrorStage("conflict")
		}
		return c.JSON(status, errorResponse{Error: publicMessage(err)})
	}

	o.Dispatcher.Dispatch(events...)

	resp := mutationResponse{OK: true, Swap: swap}
	if len(events) > 0 {
		resp.Event = &events[0]
	}
	return c.JSON(http.StatusOK, resp)
}

func postAssign(o Options) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		s, ok, werr := begin(c, o, "/api/slots/assign")
		if !ok {
			return werr
		}
		defer func() { s.metrics.Log(c.Response().Status, err) }()

		var req assignRequest
		if derr := decodeBody(c, &req); derr != nil {
			s.metrics.SetErrorStage("decode")
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		if req.InitiativeID == "" {
			s.metrics.SetErrorStage("validate")
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "initiativeId is required"})
		}
		return runMutation(c, o, s, func(ctx context.Context, tenant string) ([]domain.SlotEvent, *domain.SwapResult, error) {
			if err := o.Store.Assign(ctx, tenant, req.InitiativeID, req.Slot); err != nil {
				return nil, nil, err
			}
			ev := newEvent(tenant, domain.SlotAssigned, req.InitiativeID)
			ev.Slot = req.Slot
			return []domain.SlotEvent{ev}, nil, nil
		})
	}
}

func postRemove(o Options) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		s, ok, werr := begin(c, o, "/api/slots/remove")
		if !ok {
			return werr
		}
		defer func() { s.metrics.Log(c.Response().Status, err) }()

		var req removeRequest
		if derr := decodeBody(c, &req); derr != nil {
			s.metrics.SetErrorStage("decode")
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		if req.InitiativeID == "" {
			s.metrics.SetErrorStage("validate")
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "initiativeId is required"})
		}
		return runMutation(c, o, s, func(ctx context.Context, tenant string) ([]domain.SlotEvent, *domain.SwapResult, error) {
			if err := o.Store.RemoveFromSlot(ctx, tenant, req.InitiativeID); err != nil {
				return nil, nil, err
			}
			return []domain.SlotEvent{newEvent(tenant, domain.SlotRemoved, req.InitiativeID)}, nil, nil
		})
	}
}

func postSwap(o Options) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		s, ok, werr := begin(c, o, "/api/slots/swap")
		if !ok {
			return werr
		}
		defer func() { s.metrics.Log(c.Response().Status, err) }()

		var req swapRequest
		if derr := decodeBody(c, &req); derr != nil {
			s.metrics.SetErrorStage("decode")
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		if req.DraggedInitiativeID == "" {
			s.metrics.SetErrorStage("validate")
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "draggedInitiativeId is required"})
		}
		return runMutation(c, o, s, func(ctx context.Context, tenant string) ([]domain.SlotEvent, *domain.SwapResult, error) {
			res, err := o.Store.Swap(ctx, tenant, req.DraggedInitiativeID, req.TargetSlot, req.TargetInitiativeID)
			if err != nil {
				return nil, nil, err
			}
			return swapEvents(tenant, req.TargetSlot, res), &res, nil
		})
	}
}

func swapEvents(tenant string, targetSlot int, res domain.SwapResult) []domain.SlotEvent {
	if res.Swapped() {
		ev := newEvent(tenant, domain.SlotSwapped, res.Dragged.ID)
		ev.Slot = targetSlot
		ev.PreviousSlot = res.PreviousSlot
		ev.TargetInitiativeID = res.Target.ID
		return []domain.SlotEvent{ev}
	}
	if res.PreviousSlot == targetSlot {
		return nil
	}
	eventType := domain.SlotMoved
	if res.PreviousSlot == 0 {
		eventType = domain.SlotAssigned
	}
	ev := newEvent(tenant, eventType, res.Dragged.ID)
	ev.Slot = targetSlot
	ev.PreviousSlot = res.PreviousSlot
	return []domain.SlotEvent{ev}
}
