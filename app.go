package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"TopicToVideo-server/config"
	"TopicToVideo-server/logger"
	"TopicToVideo-server/models"
	"TopicToVideo-server/routers"
	"TopicToVideo-server/routers/api"
	"TopicToVideo-server/service"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// app owns every long-lived client. Commands build only the parts they use.
type app struct {
	cfg *config.Config
	log *logger.Logger

	db      *gorm.DB
	store   *models.ProjectStore
	queue   *service.Queue
	storage *service.MinIOStorage
}

func newApp(configFlag string) (*app, error) {
	cfg, err := config.Load(config.ResolvePath(configFlag))
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return &app{cfg: cfg, log: log}, nil
}

func (a *app) projectStore() (*models.ProjectStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	db, err := models.OpenMySQL(a.cfg.MySQL.DSN)
	if err != nil {
		return nil, err
	}
	if err := models.Migrate(db); err != nil {
		return nil, err
	}
	a.db = db
	a.store = models.NewProjectStore(db)
	a.log.Info("database initialized")
	return a.store, nil
}

func (a *app) jobQueue() *service.Queue {
	if a.queue == nil {
		a.queue = service.NewQueue(service.RedisOpt(a.cfg), service.QueueOptionsFrom(a.cfg), a.log)
	}
	return a.queue
}

func (a *app) objectStorage(ctx context.Context) (*service.MinIOStorage, error) {
	if a.storage != nil {
		return a.storage, nil
	}
	s, err := service.NewMinIOStorage(ctx, a.cfg, a.log)
	if err != nil {
		return nil, err
	}
	a.storage = s
	a.log.Info("object storage initialized", "bucket", a.cfg.MinIO.Bucket)
	return s, nil
}

func (a *app) projectService(ctx context.Context) (*service.ProjectService, error) {
	store, err := a.projectStore()
	if err != nil {
		return nil, err
	}
	storage, err := a.objectStorage(ctx)
	if err != nil {
		return nil, err
	}
	return service.NewProjectService(store, a.jobQueue(), storage, a.log), nil
}

func (a *app) pipeline(ctx context.Context) (*service.Pipeline, error) {
	store, err := a.projectStore()
	if err != nil {
		return nil, err
	}
	storage, err := a.objectStorage(ctx)
	if err != nil {
		return nil, err
	}
	ai := service.NewAIClient(a.cfg.AI.WorkerAddr, a.cfg.AI.PollInterval, a.cfg.AI.JobTimeout, a.log)
	collab := service.Collaborators{
		Script: &service.WorkerScriptGenerator{AI: ai},
		Speech: &service.WorkerSpeechGenerator{AI: ai, Storage: storage},
		Images: &service.WorkerImageGenerator{AI: ai, Storage: storage},
		Probe:  &service.FFprobe{Binary: a.cfg.Probe.FFprobeBinary},
		Render: &service.WorkerRenderer{
			AI:      ai,
			Storage: storage,
			Settings: service.RenderSettings{
				Composition:     a.cfg.Render.Composition,
				DispatchTimeout: a.cfg.Render.DispatchTimeout,
				CRF:             a.cfg.Render.CRF,
			},
			Log: a.log,
		},
	}
	return service.NewPipeline(store, collab, a.cfg.Render.FPS, a.log), nil
}

// runWorker consumes jobs and sweeps expired failures until ctx is done.
func (a *app) runWorker(ctx context.Context) error {
	p, err := a.pipeline(ctx)
	if err != nil {
		return err
	}
	processor := service.NewProcessor(service.RedisOpt(a.cfg), service.WorkerOptions{
		Concurrency: a.cfg.Worker.Concurrency,
		Queue:       a.cfg.Worker.Queue,
	}, p, a.log)
	if err := processor.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	janitor := service.NewJanitor(a.jobQueue(), a.cfg.Worker.FailureRetention, a.cfg.Worker.JanitorInterval, a.log)
	go janitor.Run(ctx)

	<-ctx.Done()
	a.log.Info("worker shutting down")
	processor.Shutdown()
	return nil
}

// runAPI serves HTTP until ctx is done.
func (a *app) runAPI(ctx context.Context) error {
	svc, err := a.projectService(ctx)
	if err != nil {
		return err
	}
	if strings.HasPrefix(strings.ToLower(a.cfg.Log.Mode), "prod") {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              a.cfg.Server.Port,
		Handler:           routers.InitRouter(api.NewHandler(svc, a.log)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.log.Info("server shutting down")
	return srv.Shutdown(shutdownCtx)
}

func (a *app) Close() {
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			a.log.Warn("close queue", "error", err)
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	a.log.Sync()
}
