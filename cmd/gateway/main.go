// Command gateway runs the real-time messaging gateway: WebSocket handshake
// and dispatch (C9/C10), presence-aware delivery routing (C8), call
// signaling (C7), cross-pod relay (C3), profile enrichment (C4), offline
// storage and notification (C5/C6), and the REST surface of spec.md §6.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/odin/gateway/internal/auth"
	"github.com/odin/gateway/internal/config"
	"github.com/odin/gateway/internal/delivery"
	httpapi "github.com/odin/gateway/internal/http"
	"github.com/odin/gateway/internal/http/handlers"
	"github.com/odin/gateway/internal/notify"
	"github.com/odin/gateway/internal/observability"
	"github.com/odin/gateway/internal/presence"
	"github.com/odin/gateway/internal/profile"
	"github.com/odin/gateway/internal/relay"
	"github.com/odin/gateway/internal/session"
	"github.com/odin/gateway/internal/signaling"
	"github.com/odin/gateway/internal/sysutil"
	"github.com/odin/gateway/internal/undelivered"
	"github.com/odin/gateway/internal/ws"
)

// version is stamped into OTel's service.version resource attribute. The
// teacher's neighbors in the pack don't ldflags-inject a build version, so
// this stays a constant rather than growing a release-tooling dependency.
const version = "dev"

func main() {
	_ = godotenv.Load() // best-effort; absent .env is normal outside local dev

	cfg := config.MustLoad()
	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("gateway: otel setup failed")
	}
	defer func() {
		if err := shutdownOTel(context.Background()); err != nil {
			log.Error().Err(err).Msg("gateway: otel shutdown failed")
		}
	}()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("gateway: redis close failed")
		}
	}()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("gateway: redis unreachable")
	}

	verifier := auth.NewVerifier(cfg.Gateway.TokenSecret)
	presenceDir := presence.New(rdb)
	relayBus := relay.New(rdb, cfg.Kafka.RelayChannel)
	profileLoader := profile.NewHTTPLoader(cfg.Gateway.ProfileServiceURL, cfg.Gateway.ProfileServiceTimeout)
	profileCache := profile.New(profileLoader)
	undeliveredStore := undelivered.New(rdb, time.Duration(cfg.Gateway.OfflineMessageTTLDays)*24*time.Hour)

	notifier := notify.New(cfg.Kafka.Brokers, cfg.Kafka.SampleTopic, cfg.Kafka.OfflineTopic)
	defer func() {
		if err := notifier.Close(); err != nil {
			log.Error().Err(err).Msg("gateway: kafka publisher close failed")
		}
	}()

	sessions := session.NewTable()
	hub := ws.NewHub(sessions, presenceDir, verifier, cfg.Gateway.PodName,
		cfg.Gateway.MaxFrameBytes, cfg.Gateway.PingInterval, cfg.Gateway.WriteWait, cfg.Gateway.SendQueueSize)

	router := delivery.New(hub, presenceDir, relayBus, profileCache, undeliveredStore, notifier, delivery.Flags{
		OfflineMessagingEnabled: cfg.Gateway.OfflineMessagingEnabled,
		StorageEnabled:          cfg.Gateway.OfflineMessageStorageEnabled,
		KafkaNotifyEnabled:      cfg.Gateway.OfflineKafkaNotifyEnabled,
		NotificationChannel:     notify.Channel(cfg.Gateway.NotificationChannel),
	})
	hub.SetRouter(router)
	hub.SetEngine(signaling.New(router, profileCache))

	// C3's other half: deliver relayed frames arriving from other pods
	// straight into this pod's local sessions. Presence already routed the
	// publish here, so no further routing decision is needed on receipt.
	go relayBus.Subscribe(ctx, func(fromUserID, targetUserID, message string) {
		if !hub.SendLocal(targetUserID, []byte(message)) {
			log.Warn().Str("targetUserId", targetUserID).Msg("gateway: relayed frame had no local session")
		}
	}, func(err error) {
		log.Warn().Err(err).Msg("gateway: relay payload decode failed")
	})

	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	gw := handlers.NewGateway(presenceDir, router, undeliveredStore)
	httpapi.RegisterRoutes(engine, hub, gw, verifier, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("pod", cfg.Gateway.PodName).Msg("gateway: listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("gateway: server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("gateway: shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("gateway: graceful shutdown failed")
	}
}
