package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"slotboard/domain"
)

func TestBrokerNotifyCoalesces(t *testing.T) {
	b := NewBroker()
	ch := b.subscribe("org")
	other := b.subscribe("other")

	b.Notify("org")
	b.Notify("org")

	select {
	case <-ch:
	default:
		t.Fatal("expected a pending signal")
	}
	select {
	case <-ch:
		t.Fatal("signals should be coalesced")
	default:
	}
	select {
	case <-other:
		t.Fatal("other tenant should not be notified")
	default:
	}

	b.unsubscribe("org", ch)
	if n := b.Subscribers("org"); n != 0 {
		t.Fatalf("subscribers = %d, want 0", n)
	}
	if n := b.Subscribers("other"); n != 1 {
		t.Fatalf("subscribers = %d, want 1", n)
	}
}

func TestBrokerPublishEvents(t *testing.T) {
	b := NewBroker()
	ch := b.subscribe("org")
	err := b.PublishEvents(context.Background(), []domain.SlotEvent{
		{ID: "1", TenantID: "org", Type: domain.SlotAssigned},
		{ID: "2", TenantID: "org", Type: domain.SlotRemoved},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case <-ch:
	default:
		t.Fatal("expected notification")
	}
}

func TestRedisPublisherReachesSubscriber(t *testing.T) {
	_, client := newTestRedis(t)
	logger, _ := test.NewNullLogger()
	broker := NewBroker()
	ch := broker.subscribe("org")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		SubscribeUpdates(ctx, logger, client, "slot-events", broker)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	pub := NewRedisPublisher(client, "slot-events")
	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		if err := pub.PublishEvents(ctx, []domain.SlotEvent{{ID: "1", TenantID: "org", Type: domain.SlotAssigned}}); err != nil {
			t.Fatalf("publish: %v", err)
		}
		select {
		case <-ch:
			return
		case <-tick.C:
		case <-deadline:
			t.Fatal("subscriber was not notified")
		}
	}
}

func TestSubscribeUpdatesIgnoresBadPayloads(t *testing.T) {
	_, client := newTestRedis(t)
	logger, hook := test.NewNullLogger()
	broker := NewBroker()
	ch := broker.subscribe("org")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		SubscribeUpdates(ctx, logger, client, "slot-events", broker)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.Now().Add(2 * time.Second)
	for hook.LastEntry() == nil {
		if err := client.Publish(ctx, "slot-events", "{not json").Err(); err != nil {
			t.Fatalf("publish: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatal("bad payload was not logged")
		}
		time.Sleep(20 * time.Millisecond)
	}
	select {
	case <-ch:
		t.Fatal("bad payload should not notify")
	default:
	}
}

func TestStreamBoardSendsSnapshotAndUpdates(t *testing.T) {
	store := &mockStore{initiatives: []domain.Initiative{{ID: "a", Title: "A", Slot: domain.IntPtr(1)}}}
	broker := NewBroker()
	e := echo.New()
	e.GET("/api/board/stream", streamBoard(store, mockAuth{}, broker, 4))
	srv := httptest.NewServer(e)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/board/stream?token=a.b.c", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	readBoard := func() domain.BoardView {
		t.Helper()
		var event string
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: ") && event == "board":
				var view domain.BoardView
				if err := sonic.UnmarshalString(strings.TrimPrefix(line, "data: "), &view); err != nil {
					t.Fatalf("decode: %v", err)
				}
				return view
			}
		}
	}

	first := readBoard()
	if first.TotalSlots != 4 || first.Slots[0].Initiative == nil || first.Slots[0].Initiative.ID != "a" {
		t.Fatalf("unexpected snapshot: %+v", first)
	}

	for broker.Subscribers("org") == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	store.mu.Lock()
	store.initiatives = []domain.Initiative{{ID: "a", Title: "A", Slot: domain.IntPtr(3)}}
	store.mu.Unlock()
	broker.Notify("org")

	second := readBoard()
	if second.Slots[0].Initiative != nil || second.Slots[2].Initiative == nil {
		t.Fatalf("update not reflected: %+v", second)
	}
}

func TestStreamBoardRequiresAuth(t *testing.T) {
	e := echo.New()
	e.GET("/api/board/stream", streamBoard(&mockStore{}, mockAuth{err: errMissingAuthorization}, NewBroker(), 4))
	req := httptest.NewRequest(http.MethodGet, "/api/board/stream", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}
