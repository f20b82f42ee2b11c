package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"slotboard/api"
	"slotboard/domain"
	"slotboard/storage"
)

func envDuration(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Fatalf("invalid %s: %v", name, err)
	}
	return d
}

// redisOptions accepts a redis:// URL or an Azure style
// "host:port,password=...,ssl=True" connection string.
func redisOptions(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}

func newAuth() *api.Auth {
	if os.Getenv("LOCAL_AUTH_MODE") != "" || os.Getenv("AUTH0_TEST_MODE") == "1" {
		return api.NewAuth(nil, "", "")
	}
	jwtAudience := os.Getenv("AUTH0_AUDIENCE")
	domainName := os.Getenv("AUTH0_DOMAIN")
	if jwtAudience == "" || domainName == "" {
		log.Fatal("missing Auth0 config")
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domainName)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
	if err != nil {
		log.Fatalf("jwks: %v", err)
	}
	return api.NewAuth(jwks, jwtAudience, "https://"+domainName+"/")
}

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	totalSlots := domain.DefaultTotalSlots
	if v := os.Getenv("BOARD_TOTAL_SLOTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			log.Fatalf("invalid BOARD_TOTAL_SLOTS: %q", v)
		}
		totalSlots = n
	}

	var backend storage.Backend
	var sinks []api.EventSink
	sinkConcurrency := 1
	switch b := os.Getenv("STORAGE_BACKEND"); b {
	case "", "azure":
		connStr := os.Getenv("STORAGE_CONNECTION_STRING")
		table := os.Getenv("INITIATIVES_TABLE")
		if connStr == "" || table == "" {
			log.Fatal("missing storage config")
		}
		store, err := storage.New(connStr, table, totalSlots)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		backend = store
		if queueName := os.Getenv("SLOT_EVENTS_QUEUE"); queueName != "" {
			q, err := storage.NewEventQueue(connStr, queueName)
			if err != nil {
				log.Fatalf("event queue: %v", err)
			}
			sinks = append(sinks, q)
			sinkConcurrency = q.Concurrency()
		}
	case "sqlite":
		path := os.Getenv("SQLITE_PATH")
		if path == "" {
			path = "slotboard.db"
		}
		store, err := storage.OpenSQLite(path, totalSlots)
		if err != nil {
			log.Fatalf("sqlite: %v", err)
		}
		defer store.Close()
		backend = store
	default:
		log.Fatalf("unknown STORAGE_BACKEND %q", b)
	}

	logger := log.New()
	logger.SetLevel(log.GetLevel())
	broker := api.NewBroker()
	var store api.SlotStore = backend
	var deduper api.Deduper

	if redisConn := os.Getenv("REDIS_CONNECTION_STRING"); redisConn != "" {
		rc := redis.NewClient(redisOptions(redisConn))
		defer rc.Close()
		store = storage.NewCache(backend, rc, envDuration("CACHE_TTL", 5*time.Minute))
		deduper = api.NewRedisDeduper(rc, envDuration("DEDUPER_TTL", 24*time.Hour))

		channel := os.Getenv("SLOT_EVENTS_CHANNEL")
		if channel == "" {
			channel = "slot-events"
		}
		sinks = append(sinks, api.NewRedisPublisher(rc, channel))
		go api.SubscribeUpdates(ctx, logger, rc, channel, broker)
	} else {
		log.Warn("REDIS_CONNECTION_STRING not set; running without cache, idempotency or cross-instance streams")
		sinks = append(sinks, broker)
	}

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Errorf("tracer shutdown: %v", err)
		}
	}()

	dispatcher := api.NewDispatcher(api.DispatcherConfigFromEnv(sinkConcurrency), logger, sinks...)
	defer dispatcher.Close()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(echoprometheus.NewMiddleware("slotboard"))
	e.Use(api.GzipRequestMiddleware(api.MutationMaxSize))
	e.GET("/metrics", echoprometheus.NewHandler())

	api.Register(e, api.Options{
		Store:      store,
		Auth:       newAuth(),
		Deduper:    deduper,
		Dispatcher: dispatcher,
		Broker:     broker,
		Logger:     logger,
		TotalSlots: totalSlots,
	})

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			log.Errorf("shutdown: %v", err)
		}
	}()
	if err := e.Start(listenAddr); err != nil && ctx.Err() == nil {
		log.Fatal(err)
	}
}
