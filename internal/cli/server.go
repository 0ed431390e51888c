package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"echoes-history-service/internal/app"
	"echoes-history-service/internal/config"
	"echoes-history-service/internal/infra/memory"
	"echoes-history-service/internal/infra/postgres"
	infraredis "echoes-history-service/internal/infra/redis"
	"echoes-history-service/internal/logger"
	"echoes-history-service/internal/storage"
	transport "echoes-history-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the history service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return err
	}
	defer log.Sync()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	source, closeSource, err := contentSource(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeSource()

	cacheTTL := config.TTLDuration(cfg.Cache.TTL, 10*time.Minute)
	if redisClient != nil {
		source = infraredis.NewContentCache(redisClient, source, cacheTTL)
	}

	// The backend is chosen once: an unreachable Redis leaves the adapter on the in-memory fallback.
	var primary storage.KV
	if redisClient != nil {
		primary = infraredis.NewKVStore(redisClient, cfg.Redis.Prefix)
	}
	store := storage.NewAdapter(ctx, primary, memory.NewKVStore(), log)

	var sessions app.SessionRepository = memory.NewSessionStore()
	if redisClient != nil {
		sessions = infraredis.NewSessionStore(redisClient, config.TTLDuration(cfg.Redis.SessionTTL, 10*time.Minute))
	}

	service := app.NewHistoryService(
		app.NewHistoryFacade(source, app.FacadeOptions{TTL: cacheTTL, Log: log}),
		app.NewProgressTracker(store, log),
		sessions,
		app.ServiceOptions{
			Questions:    cfg.Quiz.Questions,
			QuestionTime: config.TTLDuration(cfg.Quiz.QuestionTime, app.DefaultQuestionTime),
			AdvanceDelay: config.TTLDuration(cfg.Quiz.AdvanceDelay, app.DefaultAdvanceDelay),
			TickInterval: config.TTLDuration(cfg.Quiz.Tick, app.DefaultTickInterval),
			Log:          log,
		},
	)

	mux := http.NewServeMux()
	transport.NewAPI(service, log).Register(mux)
	mux.HandleFunc("/ws/quiz", transport.NewWSHandler(service, log).ServeWS)

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("starting history service", "port", finalPort, "persistent_storage", store.Persistent())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("failed to start server", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// contentSource picks the remote (Postgres) or local (YAML fixture) backend.
func contentSource(ctx context.Context, cfg config.Config, log *logger.Logger) (app.ContentSource, func(), error) {
	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return nil, nil, err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		log.Info("using postgres content source")
		return postgres.NewContentStore(pool), pool.Close, nil
	}

	if cfg.Content.File == "" {
		log.Warn("no content configured, serving an empty catalogue")
		return memory.NewStaticContentSource(nil, nil, nil), func() {}, nil
	}
	file, err := memory.LoadContentFile(cfg.Content.File)
	if err != nil {
		return nil, nil, err
	}
	log.Info("using local content source", "file", cfg.Content.File,
		"eras", len(file.Eras), "events", len(file.Events), "questions", len(file.Quizzes))
	return memory.NewContentSourceFromFile(file), func() {}, nil
}
