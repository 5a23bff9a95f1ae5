package application

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/psds-microservice/helpdesk-service/internal/config"
	"github.com/psds-microservice/helpdesk-service/internal/database"
	"github.com/psds-microservice/helpdesk-service/internal/handler"
	"github.com/psds-microservice/helpdesk-service/internal/kafka"
	"github.com/psds-microservice/helpdesk-service/internal/notify"
	"github.com/psds-microservice/helpdesk-service/internal/realtime"
	"github.com/psds-microservice/helpdesk-service/internal/router"
	"github.com/psds-microservice/helpdesk-service/internal/service"
	"github.com/psds-microservice/helpdesk-service/internal/store"
)

const statsCacheSize = 256

// API приложение: HTTP + WebSocket сервер (режим api).
type API struct {
	cfg      *config.Config
	log      *slog.Logger
	db       *gorm.DB
	httpSrv  *http.Server
	hub      *realtime.Hub
	queue    *notify.Queue
	producer *kafka.Producer
	redis    *redis.Client
}

// NewAPI проверяет конфиг, применяет миграции и собирает зависимости.
func NewAPI(cfg *config.Config, log *slog.Logger) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	a := &API{cfg: cfg, log: log, db: db}
	tickets, chats, users := store.NewTicketStore(db), store.NewChatStore(db), store.NewUserStore(db)

	a.hub = realtime.NewHub(log)
	a.queue = notify.NewQueue(cfg.NotifyWorkers, cfg.NotifyQueueSize, log)
	a.producer = kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicTicket, log)
	var events kafka.TicketEventProducer
	if a.producer.Enabled() {
		events = a.producer
	}
	telegram, err := newTelegram(cfg)
	if err != nil {
		return nil, err
	}
	dispatcher := notify.NewDispatcher(a.queue, telegram, users, events, log)

	auth := service.NewAuthService(users, cfg.JWTSecret, cfg.JWTTTL, log)
	ticketSvc := service.NewTicketService(tickets, chats, users, a.hub, dispatcher, log)
	chatSvc := service.NewChatService(tickets, chats, users, a.hub, log)
	statsSvc := service.NewStatsService(tickets, a.statsCache(), log)

	errWriter := handler.NewErrors(cfg.IsProduction(), log)
	mux := router.New(router.Deps{
		Health:   handler.NewHealthHandler(func(ctx context.Context) error { return database.Ping(ctx, db) }),
		Auth:     handler.NewAuthHandler(auth, errWriter),
		Tickets:  handler.NewTicketHandler(ticketSvc, statsSvc, errWriter),
		Chat:     handler.NewChatHandler(chatSvc, errWriter),
		Errors:   errWriter,
		Tokens:   auth,
		Realtime: realtime.NewServer(a.hub, auth, ticketSvc, cfg.WSAllowedOrigins, log),
		Log:      log,
	})

	a.httpSrv = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return a, nil
}

// statsCache: Redis при заданном REDIS_URL и доступном сервере, иначе in-process LRU.
func (a *API) statsCache() service.StatsCache {
	if a.cfg.RedisURL == "" {
		return service.NewMemoryStatsCache(statsCacheSize, a.cfg.StatsCacheTTL)
	}
	opts, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		a.log.Warn("invalid REDIS_URL, using in-process stats cache", "error", err)
		return service.NewMemoryStatsCache(statsCacheSize, a.cfg.StatsCacheTTL)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		a.log.Warn("redis unavailable, using in-process stats cache", "error", err)
		_ = client.Close()
		return service.NewMemoryStatsCache(statsCacheSize, a.cfg.StatsCacheTTL)
	}
	a.redis = client
	return service.NewRedisStatsCache(client, a.cfg.StatsCacheTTL, a.log)
}

func newTelegram(cfg *config.Config) (*notify.Telegram, error) {
	if cfg.TelegramBotToken == "" {
		return notify.NewTelegram(nil, cfg.FrontendURL), nil
	}
	api, err := notify.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return notify.NewTelegram(api, cfg.FrontendURL), nil
}

// Run запускает hub, воркеры уведомлений и HTTP сервер; блокируется до отмены ctx.
func (a *API) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go a.hub.Run(hubCtx)
	a.queue.Start(context.Background())

	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	a.log.Info("HTTP server listening",
		"addr", a.httpSrv.Addr,
		"swagger", base+"/swagger",
		"api", base+"/api/v1/",
		"ws", "ws://"+host+":"+a.cfg.HTTPPort+"/ws",
		"kafka", a.producer.Enabled(),
		"redis", a.redis != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		runErr = fmt.Errorf("http: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("http shutdown: %w", err)
	}
	stopHub()
	<-a.hub.Done()
	a.queue.Stop()
	a.close()
	a.log.Info("HTTP server stopped")
	return runErr
}

func (a *API) close() {
	if err := a.producer.Close(); err != nil {
		a.log.Warn("kafka close", "error", err)
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
