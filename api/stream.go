package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"slotboard/domain"
)

const streamKeepAlive = 25 * time.Second

// Broker fans board change signals out to the SSE subscribers of a tenant.
// Signals are coalesced: a subscriber that has not consumed the previous one
// sees a single pending refresh.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan struct{}]struct{})}
}

func (b *Broker) subscribe(tenantID string) chan struct{} {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	if b.subs[tenantID] == nil {
		b.subs[tenantID] = make(map[chan struct{}]struct{})
	}
	b.subs[tenantID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) unsubscribe(tenantID string, ch chan struct{}) {
	b.mu.Lock()
	delete(b.subs[tenantID], ch)
	if len(b.subs[tenantID]) == 0 {
		delete(b.subs, tenantID)
	}
	b.mu.Unlock()
}

// Subscribers returns the number of open streams for a tenant.
func (b *Broker) Subscribers(tenantID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[tenantID])
}

// Notify signals every stream of the tenant to refresh.
func (b *Broker) Notify(tenantID string) {
	b.mu.Lock()
	for ch := range b.subs[tenantID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()
}

// PublishEvents lets the broker act as a local event sink when no Redis
// channel is configured.
func (b *Broker) PublishEvents(_ context.Context, events []domain.SlotEvent) error {
	seen := make(map[string]struct{}, 1)
	for _, ev := range events {
		if _, ok := seen[ev.TenantID]; ok {
			continue
		}
		seen[ev.TenantID] = struct{}{}
		b.Notify(ev.TenantID)
	}
	return nil
}

// RedisPublisher publishes slot events on a Redis channel so every API
// instance can refresh its streams.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher creates a publisher for the given channel.
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) PublishEvents(ctx context.Context, events []domain.SlotEvent) error {
	_, err := p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, ev := range events {
			data, err := sonic.Marshal(ev)
			if err != nil {
				return err
			}
			pipe.Publish(ctx, p.channel, data)
		}
		return nil
	})
	return err
}

// SubscribeUpdates listens for slot events on the Redis channel and notifies
// the broker. It resubscribes when the channel closes and returns when ctx is
// done.
func SubscribeUpdates(ctx context.Context, logger *log.Logger, rc *redis.Client, channel string, broker *Broker) {
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				var ev domain.SlotEvent
				if err := sonic.UnmarshalString(msg.Payload, &ev); err != nil {
					logger.Errorf("unable to parse slot event: %v", err)
					continue
				}
				if ev.TenantID == "" {
					logger.Warnf("slot event %s without tenant in %s channel - ignoring it", ev.ID, channel)
					continue
				}
				broker.Notify(ev.TenantID)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func streamBoard(store SlotStore, auth Authenticator, broker *Broker, totalSlots int) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if token := c.QueryParam("token"); authHeader == "" && token != "" {
			authHeader = "Bearer " + token
		}
		principal, err := auth.PrincipalFromAuthHeader(authHeader)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		}
		filters := domain.ParseFilters(c.QueryParam("teamIds"), c.QueryParam("personIds"))

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "stream unsupported"})
		}
		c.Response().WriteHeader(http.StatusOK)

		ctx := c.Request().Context()
		ch := broker.subscribe(principal.TenantID)
		defer broker.unsubscribe(principal.TenantID, ch)

		keepAlive := time.NewTicker(streamKeepAlive)
		defer keepAlive.Stop()

		for {
			initiatives, err := store.FetchInitiatives(ctx, principal.TenantID)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.Logger().Error(err)
				return err
			}
			data, err := sonic.Marshal(domain.BuildBoardView(initiatives, totalSlots, filters))
			if err != nil {
				c.Logger().Error(err)
				return err
			}
			if err := writeEvent(c.Response(), "board", data); err != nil {
				return nil
			}
			flusher.Flush()

		wait:
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ch:
					break wait
				case <-keepAlive.C:
					if _, err := c.Response().Write([]byte(": ping\n\n")); err != nil {
						return nil
					}
					flusher.Flush()
				}
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, data []byte) error {
	if _, err := w.Write([]byte("event: " + name + "\ndata: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n\n"))
	return err
}
