package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"slotboard/domain"
)

var errStreamClosed = errors.New("board stream closed")

const (
	watchBackoffMin = time.Second
	watchBackoffMax = 5 * time.Second
	maxEventLine    = 1 << 20
)

// Watch follows the board stream and calls fn with every board snapshot. It
// reconnects with backoff and returns when ctx is done.
func (c *Client) Watch(ctx context.Context, filters domain.Filters, fn func(domain.BoardView)) error {
	backoff := watchBackoffMin
	for {
		err := c.watchOnce(ctx, filters, func(v domain.BoardView) {
			backoff = watchBackoffMin
			fn(v)
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, watchBackoffMax)
	}
}

func (c *Client) watchOnce(ctx context.Context, filters domain.Filters, fn func(domain.BoardView)) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/board/stream"+filterQuery(filters), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	// the stream outlives the request timeout of c.HTTP
	stream := &http.Client{Transport: c.HTTP.Transport}
	resp, err := stream.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)
	var event string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			event = ""
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:") && event == "board":
			var view domain.BoardView
			if err := sonic.UnmarshalString(strings.TrimSpace(strings.TrimPrefix(line, "data:")), &view); err != nil {
				return fmt.Errorf("decode board event: %w", err)
			}
			fn(view)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return errStreamClosed
}
