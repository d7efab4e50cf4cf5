package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"facemark/internal/api"
	"facemark/internal/api/ws"
	"facemark/internal/attendance"
	"facemark/internal/config"
	"facemark/internal/faceclient"
	"facemark/internal/faceindex"
	"facemark/internal/imagestore"
	"facemark/internal/logging"
	"facemark/internal/queue"
	"facemark/internal/recognition"
	"facemark/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.App, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	db, err := store.NewDB(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	health := map[string]api.HealthCheck{"db": db.Healthy}
	q, closeQueue, err := openQueue(cfg, health)
	if err != nil {
		return err
	}
	defer closeQueue()

	images, err := imagestore.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("image store: %w", err)
	}

	faces := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip, cfg.FaceTimeout)
	faces.Dim = cfg.EncodingDim
	health["face_service"] = func(ctx context.Context) bool { return faces.Health(ctx) == nil }
	if cfg.FaceSkip {
		logger.Warn("face service disabled, using deterministic fake encodings")
	}

	repo := attendance.NewRepository(db.Client)
	index := faceindex.New(repo, logger)
	if err := index.Init(ctx); err != nil {
		// recognition still runs against the empty snapshot
		logger.Error("initial face index build failed", "error", err)
	}

	hub := ws.NewHub(cfg.CORSOrigins, logger)
	go hub.Run(ctx)

	msgs, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("consume roster changes: %w", err)
	}
	toIndex, toHub := tee(ctx, msgs)
	go index.Watch(ctx, toIndex)
	go hub.Relay(ctx, toHub)

	ledger := attendance.NewLedger(repo, loc, logger)
	router := api.NewRouter(api.Deps{
		Config: cfg,
		Recognizer: recognition.NewRecognizer(faces, index, ledger, recognition.Options{
			Tolerance: cfg.Tolerance,
			Publisher: hub,
			Logger:    logger,
		}),
		Roster: attendance.NewRoster(attendance.RosterDeps{
			Repo:        repo,
			Encoder:     faces,
			Images:      images,
			Index:       announcingIndex{Cache: index, hub: hub},
			EncodingDim: cfg.EncodingDim,
			Logger:      logger,
		}),
		Reports: attendance.NewReports(repo, loc),
		Index:   index,
		Devices: repo,
		Hub:     hub,
		Health:  health,
		Logger:  logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", srv.Addr, "env", cfg.Env, "db", cfg.DatabaseDriver,
			"queue", cfg.QueueBackend, "images", cfg.ImageBackend, "faces", index.Current().Len())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced shutdown", "error", err)
	}
	logger.Info("server exited")
	return nil
}

// openQueue connects the roster-change queue and registers its health check.
func openQueue(cfg config.App, health map[string]api.HealthCheck) (queue.Queue, func(), error) {
	switch cfg.QueueBackend {
	case "redis":
		rdb, err := store.NewRedis(cfg.RedisAddr)
		if err != nil {
			return nil, nil, err
		}
		health["redis"] = rdb.Healthy
		return queue.NewRedisQueue(rdb.Client, cfg.QueueKey), func() { _ = rdb.Close() }, nil
	case "nats":
		nq, err := queue.NewNATSQueue(cfg.NATSURL, "")
		if err != nil {
			return nil, nil, fmt.Errorf("connect nats: %w", err)
		}
		health["nats"] = nq.Healthy
		return nq, func() { _ = nq.Close() }, nil
	default:
		return queue.NewInMemory(64), func() {}, nil
	}
}

// announcingIndex tells dashboards about roster changes made through this API.
type announcingIndex struct {
	*faceindex.Cache
	hub *ws.Hub
}

func (a announcingIndex) Rebuild(ctx context.Context) error {
	if err := a.Cache.Rebuild(ctx); err != nil {
		return err
	}
	snap := a.Current()
	a.hub.Broadcast(ws.Event{Type: queue.TypeRosterChanged, Data: map[string]any{"generation": snap.Generation, "size": snap.Len()}})
	return nil
}

// tee copies every message to two consumers.
func tee(ctx context.Context, in <-chan queue.Message) (<-chan queue.Message, <-chan queue.Message) {
	a := make(chan queue.Message, 16)
	b := make(chan queue.Message, 16)
	go func() {
		defer close(a)
		defer close(b)
		for m := range in {
			for _, out := range []chan queue.Message{a, b} {
				select {
				case out <- m:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return a, b
}
