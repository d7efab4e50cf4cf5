package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"facemark/internal/attendance"
	"facemark/internal/config"
	"facemark/internal/faceclient"
	"facemark/internal/faceindex"
	"facemark/internal/imagestore"
	"facemark/internal/logging"
	"facemark/internal/queue"
	"facemark/internal/store"
)

// app is the set of dependencies a command works with.
type app struct {
	cfg    config.App
	db     *store.DB
	repo   *attendance.Repository
	logger *slog.Logger
	warn   io.Writer
	closes []func()
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := store.NewDB(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a := &app{cfg: cfg, db: db, repo: attendance.NewRepository(db.Client), logger: logger, warn: os.Stderr}
	a.closes = append(a.closes, func() { _ = db.Close() })
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closes) - 1; i >= 0; i-- {
		a.closes[i]()
	}
}

// roster builds a Roster whose rebuilds are announced to running servers.
func (a *app) roster(ctx context.Context) (*attendance.Roster, error) {
	images, err := imagestore.Open(ctx, a.cfg)
	if err != nil {
		return nil, fmt.Errorf("image store: %w", err)
	}
	notifier, err := a.notifier()
	if err != nil {
		return nil, err
	}
	faces := faceclient.New(a.cfg.FaceServiceURL, a.cfg.FaceSkip, a.cfg.FaceTimeout)
	faces.Dim = a.cfg.EncodingDim
	return attendance.NewRoster(attendance.RosterDeps{
		Repo:        a.repo,
		Encoder:     faces,
		Images:      images,
		Index:       notifier,
		EncodingDim: a.cfg.EncodingDim,
		Logger:      a.logger,
	}), nil
}

// notifier returns the Rebuilder for this process. With an in-memory queue
// there is nobody to tell, so the index is rebuilt locally to check it still
// loads and a warning about running servers is printed.
func (a *app) notifier() (attendance.Rebuilder, error) {
	var q queue.Queue
	switch a.cfg.QueueBackend {
	case "redis":
		rdb, err := store.NewRedis(a.cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		a.closes = append(a.closes, func() { _ = rdb.Close() })
		q = queue.NewRedisQueue(rdb.Client, a.cfg.QueueKey)
	case "nats":
		nq, err := queue.NewNATSQueue(a.cfg.NATSURL, "")
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		a.closes = append(a.closes, func() { _ = nq.Close() })
		q = nq
	default:
		return localRebuilder{index: faceindex.New(a.repo, a.logger), warn: a.warn}, nil
	}
	return rosterNotifier{q: q}, nil
}

const staleServerWarning = "warning: queue backend is memory, running servers keep their current face index; " +
	"restart them or POST /api/cache/rebuild"

// localRebuilder checks the index loads when no queue reaches the servers.
type localRebuilder struct {
	index *faceindex.Cache
	warn  io.Writer
}

func (l localRebuilder) Rebuild(ctx context.Context) error {
	if err := l.index.Rebuild(ctx); err != nil {
		return err
	}
	fmt.Fprintln(l.warn, staleServerWarning)
	return nil
}

// notifySource is the message body; it names the sender, not an enrollee.
const notifySource = "facemarkctl"

// rosterNotifier asks running servers to rebuild their index.
type rosterNotifier struct {
	q queue.Queue
}

func (n rosterNotifier) Rebuild(ctx context.Context) error {
	return n.q.Publish(ctx, queue.Message{Type: queue.TypeRosterChanged, Body: []byte(notifySource)})
}
