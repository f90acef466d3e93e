package main

import (
	"context"
	"errors"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"myqueue/checkin-service/internal/checkin"
	"myqueue/checkin-service/internal/config"
	"myqueue/checkin-service/internal/httpapi"
	"myqueue/checkin-service/internal/hub"
	"myqueue/checkin-service/internal/models"
	"myqueue/checkin-service/internal/notifier"
	"myqueue/checkin-service/internal/store"
	"myqueue/checkin-service/internal/store/memory"
	"myqueue/checkin-service/internal/store/postgres"
	redisstore "myqueue/checkin-service/internal/store/redis"
	"myqueue/checkin-service/internal/telemetry"
	"myqueue/checkin-service/internal/tracker"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/v3/sockjs"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup("checkin-service", cfg.OTLPEndpoint, cfg.OTLPInsecure)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	st, closeStore := buildStore(cfg)
	defer closeStore()

	service := checkin.NewService(st)
	h := hub.New()
	turnNotifier := notifier.New(fanoutSink{notifier.LogSink{}, hub.NewAlertSink(h)})
	trackerOpts := tracker.Options{
		AvgServiceMinutes:    cfg.AvgServiceMinutes,
		UpcomingCount:        cfg.UpcomingCount,
		CompletionGrace:      cfg.CompletionGrace,
		AlmostAheadThreshold: cfg.AlmostThreshold,
	}

	handler := httpapi.NewHandler(service, st, httpapi.Options{
		AvgServiceMinutes: cfg.AvgServiceMinutes,
		UpcomingCount:     cfg.UpcomingCount,
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:      cfg.RateLimitPerMinute,
		IPBurst:          cfg.RateLimitBurst,
		PatientPerMinute: cfg.PatientRateLimitPerMinute,
		PatientBurst:     cfg.PatientRateLimitBurst,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/realtime/", sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		serveRealtime(session, h, st, turnNotifier, trackerOpts)
	}))
	mux.Handle("/", handler.Routes())

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(mux)), "checkin-service")
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("checkin-service listening on %s store=%s", server.Addr, cfg.StoreBackend)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func buildStore(cfg config.Config) (store.Store, func()) {
	switch cfg.StoreBackend {
	case "memory":
		return memory.New(), func() {}
	case "redis":
		st, err := redisstore.New(redisstore.Config{
			URL:          cfg.RedisURL,
			PoolSize:     cfg.RedisPoolSize,
			MinIdleConns: cfg.RedisMinIdleConns,
			DialTimeout:  cfg.RedisDialTimeout,
			ReadTimeout:  cfg.RedisReadTimeout,
			MaxRetries:   cfg.RedisMaxRetries,
		})
		if err != nil {
			log.Fatalf("redis connect: %v", err)
		}
		return st, func() { _ = st.Close() }
	case "postgres":
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db connect: %v", err)
		}
		st := postgres.NewStore(pool)
		if err := st.EnsureSchema(context.Background()); err != nil {
			log.Fatalf("db schema: %v", err)
		}
		return st, func() {
			st.Close()
			pool.Close()
		}
	default:
		log.Fatalf("unknown STORE_BACKEND %q", cfg.StoreBackend)
		return nil, nil
	}
}

// serveRealtime handles one sockjs connection: board displays subscribe to a
// whole queue, patients additionally name a ticket key and get a personal
// tracker pushing derived-state updates and turn alerts.
func serveRealtime(session sockjs.Session, h *hub.Hub, st store.Store, turnNotifier *notifier.TurnNotifier, opts tracker.Options) {
	client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
	h.Register(client)
	defer h.Unregister(client)

	go func() {
		for msg := range client.Send {
			_ = session.Send(string(msg))
		}
	}()

	var cancelTracker context.CancelFunc
	defer func() {
		if cancelTracker != nil {
			cancelTracker()
		}
	}()

	for {
		msg, err := session.Recv()
		if err != nil {
			return
		}
		parsed, ok := hub.ParseSubscribe([]byte(msg))
		if !ok {
			continue
		}
		if cancelTracker != nil {
			cancelTracker()
			cancelTracker = nil
		}
		if parsed.Action == "unsubscribe" {
			h.UpdateSubscription(client, hub.Subscription{})
			continue
		}

		serviceType, ok := parseSubscribeService(parsed)
		if !ok {
			_ = session.Close(4000, "invalid service type")
			return
		}
		h.UpdateSubscription(client, hub.Subscription{Date: parsed.Date, ServiceType: string(serviceType)})

		if parsed.TicketKey > 0 {
			trackSession := tracker.Session{
				Date:        parsed.Date,
				ServiceType: serviceType,
				TicketKey:   parsed.TicketKey,
				DisplayText: parsed.DisplayText,
			}
			if trackSession.DisplayText == "" {
				trackSession.DisplayText = models.FormatTicketNumber(serviceType, parsed.TicketKey)
			}
			var ctx context.Context
			ctx, cancelTracker = context.WithCancel(context.Background())
			go runTracker(ctx, h, st, client.ID, trackSession, turnNotifier, opts)
		}
	}
}

func parseSubscribeService(msg hub.SubscribeMessage) (models.ServiceType, bool) {
	if msg.ServiceType == "" && msg.TicketKey <= 0 {
		// board display following every queue
		return "", true
	}
	serviceType, ok := models.ParseServiceType(msg.ServiceType)
	if !ok {
		return "", false
	}
	return serviceType, true
}

// runTracker forwards one session's derived states to its client until the
// session completes or the client goes away.
func runTracker(ctx context.Context, h *hub.Hub, st store.Store, clientID string, session tracker.Session, turnNotifier *notifier.TurnNotifier, opts tracker.Options) {
	t := tracker.New(st, session, turnNotifier, opts)
	done := make(chan error, 1)
	go func() { done <- t.Run(ctx) }()

	updates := t.Updates()
	for {
		select {
		case state, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			frame, err := hub.MarshalEnvelope("queue.update", state)
			if err != nil {
				log.Printf("tracker update marshal error: %v", err)
				continue
			}
			h.Send(clientID, frame)
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("tracker session=%s stopped: %v", session.ID(), err)
			}
			turnNotifier.Forget(session)
			return
		}
	}
}

// fanoutSink delivers each alert to every configured sink.
type fanoutSink []notifier.AlertSink

func (f fanoutSink) FireTurnAlert(displayText string, serviceType models.ServiceType) {
	for _, sink := range f {
		sink.FireTurnAlert(displayText, serviceType)
	}
}

func (f fanoutSink) FireAlmostTurnAlert(displayText string, serviceType models.ServiceType, ahead int) {
	for _, sink := range f {
		sink.FireAlmostTurnAlert(displayText, serviceType, ahead)
	}
}

func (f fanoutSink) FireCompletionAlert(displayText string, serviceType models.ServiceType) {
	for _, sink := range f {
		sink.FireCompletionAlert(displayText, serviceType)
	}
}
