// Package client talks to the slot board API over HTTP.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"slotboard/domain"
)

const maxErrorBody = 4 * 1024

// Client wraps http.Client with helpers for the slot board JSON API. It
// satisfies board.SlotStore.
type Client struct {
	BaseURL string
	Bearer  string
	HTTP    *http.Client
}

// New creates a new Client.
func New(baseURL, bearer string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Bearer:  bearer,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

// APIError is a non-2xx response. Error returns the server's message verbatim.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return http.StatusText(e.Status)
	}
	return e.Message
}

// Unwrap maps the server message back to the domain error it was built from.
func (e *APIError) Unwrap() error {
	if strings.HasPrefix(e.Message, "slot ") && strings.Contains(e.Message, "out of range") {
		return domain.ErrSlotOutOfRange
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
		if e.Message == known.Error() {
			return known
		}
	}
	if e.Status == http.StatusConflict {
		return domain.ErrConcurrencyConflict
	}
	return nil
}

type assignBody struct {
	InitiativeID string `json:"initiativeId"`
	Slot         int    `json:"slot"`
}

type removeBody struct {
	InitiativeID string `json:"initiativeId"`
}

type swapBody struct {
	DraggedInitiativeID string `json:"draggedInitiativeId"`
	TargetSlot          int    `json:"targetSlot"`
	TargetInitiativeID  string `json:"targetInitiativeId,omitempty"`
}

type initiativesBody struct {
	Initiatives []domain.Initiative `json:"initiatives"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Assign places an unslotted initiative into slot.
func (c *Client) Assign(ctx context.Context, initiativeID string, slot int) error {
	return c.postJSON(ctx, "/api/slots/assign", assignBody{InitiativeID: initiativeID, Slot: slot}, nil)
}

// RemoveFromSlot returns an initiative to the pool.
func (c *Client) RemoveFromSlot(ctx context.Context, initiativeID string) error {
	return c.postJSON(ctx, "/api/slots/remove", removeBody{InitiativeID: initiativeID}, nil)
}

// Swap moves draggedID into targetSlot, exchanging with targetID when set.
func (c *Client) Swap(ctx context.Context, draggedID string, targetSlot int, targetID string) error {
	return c.postJSON(ctx, "/api/slots/swap", swapBody{
		DraggedInitiativeID: draggedID,
		TargetSlot:          targetSlot,
		TargetInitiativeID:  targetID,
	}, nil)
}

// FetchInitiatives returns every initiative of the caller's tenant.
func (c *Client) FetchInitiatives(ctx context.Context) ([]domain.Initiative, error) {
	var out initiativesBody
	if err := c.getJSON(ctx, "/api/initiatives", &out); err != nil {
		return nil, err
	}
	return out.Initiatives, nil
}

// FetchBoard returns the server projected board for filters.
func (c *Client) FetchBoard(ctx context.Context, filters domain.Filters) (domain.BoardView, error) {
	var view domain.BoardView
	err := c.getJSON(ctx, "/api/board"+filterQuery(filters), &view)
	return view, err
}

func filterQuery(f domain.Filters) string {
	q := url.Values{}
	if len(f.TeamIDs) > 0 {
		q.Set("teamIds", strings.Join(f.TeamIDs, ","))
	}
	if len(f.PersonIDs) > 0 {
		q.Set("personIds", strings.Join(f.PersonIDs, ","))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// postJSON sends body with a fresh Idempotency-Key so a retried request is
// applied at most once.
func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	data, err := sonic.Marshal(body)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil && !errors.Is(err, io.EOF) {
		return &APIError{Status: resp.StatusCode}
	}
	var body errorBody
	if sonic.Unmarshal(raw, &body) == nil && body.Error != "" {
		return &APIError{Status: resp.StatusCode, Message: body.Error}
	}
	return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
}
