package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"explorer/internal/blocker"
	"explorer/internal/browser"
	"explorer/internal/cli"
	"explorer/internal/config"
	"explorer/internal/database"
	"explorer/internal/engine"
	"explorer/internal/events"
	"explorer/internal/evidence"
	"explorer/internal/logger"
	"explorer/internal/metrics"
	"explorer/internal/migrations"
	"explorer/internal/perception"
	"explorer/internal/sanitizer"
	"explorer/internal/server"
	"explorer/internal/tracing"
	"explorer/internal/vision"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Logger.Env, cfg.Logger.Level)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if cfg.Logger.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(ctx, cfg.Telemetry, log)
	if err != nil {
		log.Fatal("Ошибка инициализации трассировки", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warn("Ошибка остановки трассировки", zap.Error(err))
		}
	}()

	// База необязательна: без неё запуски живут только в памяти процесса.
	var repo *database.RunRepository
	recorder := engine.Recorder(engine.NopRecorder{})
	if cfg.Database.Enabled {
		if err := migrations.Run(cfg, log); err != nil {
			log.Fatal("Ошибка миграций", zap.Error(err))
		}
		db, err := database.New(cfg, log)
		if err != nil {
			log.Fatal("Ошибка подключения к БД", zap.Error(err))
		}
		defer db.Close(log)
		repo = database.NewRunRepository(db.DB)
		recorder = engine.NewRepoRecorder(repo, log)
	} else {
		log.Info("БД отключена, история запусков не сохраняется")
	}

	launcher := browser.New(browser.Config{
		Engine:          cfg.Browser.Engine,
		Headless:        cfg.Browser.Headless,
		BrowsersPath:    cfg.Browser.BrowsersPath,
		Display:         cfg.Browser.Display,
		Timeout:         cfg.Browser.Timeout,
		NavigateTimeout: cfg.Browser.NavigateTimeout,
		ActionTimeout:   cfg.Browser.ActionTimeout,
	}, log)
	if err := launcher.Start(ctx); err != nil {
		log.Fatal("Ошибка запуска браузера", zap.Error(err))
	}
	defer func() {
		if err := launcher.Close(); err != nil {
			log.Warn("Ошибка закрытия браузера", zap.Error(err))
		}
	}()

	model, err := vision.NewModel(cfg.Vision)
	if err != nil {
		log.Warn("Визуальная проверка отключена", zap.Error(err))
	}
	validator := vision.NewValidator(model, cfg.Vision.RequestsPerMinute, cfg.Vision.Timeout, log)

	var sinks []events.Sink
	if cfg.Redis.Addr != "" {
		sink, err := events.NewRedisSink(ctx, cfg.Redis)
		if err != nil {
			log.Warn("События не будут публиковаться в Redis", zap.Error(err))
		} else {
			defer sink.Close()
			sinks = append(sinks, sink)
		}
	}
	bus := events.NewBus(sinks...)
	bus.OnDrop(func(e events.Event) {
		log.Debug("Событие не доставлено медленному подписчику",
			zap.String("run_id", e.RunID), zap.Int("step", e.StepNumber))
	})

	mc := metrics.New()
	scrubber := sanitizer.New()

	var store evidence.Store
	if repo != nil {
		store = repo
	}
	orch := engine.NewOrchestrator(engine.Deps{
		Browser:     launcher,
		Perceiver:   perception.New(log),
		Vision:      validator,
		VisionModel: cfg.Vision.Model,
		Blockers:    blocker.New(blocker.NewLexicon(cfg.Lexicon)),
		Recorder:    recorder,
		Evidence: func(runID string) (*evidence.Collector, error) {
			return evidence.New(runID, cfg.Evidence.Dir, store, scrubber, log)
		},
		Scrubber: scrubber,
		Bus:      bus,
		Metrics:  mc,
		Log:      log,
		Config:   cfg.Exploration,
	})
	manager := engine.NewManager(ctx, orch, log)

	g, gctx := errgroup.WithContext(ctx)

	srv := server.New(cfg, log, manager, mc)
	g.Go(func() error {
		return srv.Run(gctx)
	})

	if cfg.App.Console {
		console := cli.New(manager, repo, validator, log)
		g.Go(func() error {
			err := console.Run(gctx)
			// выход из консоли останавливает приложение
			stop()
			return err
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return manager.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("Остановка с ошибкой", zap.Error(err))
	}
	log.Info("Explorer остановлен")
}
