package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"explorer/internal/config"
	"explorer/internal/engine"
	"explorer/internal/hitl"
	"explorer/internal/logger"
	"explorer/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	cfg     *config.Cfg
	log     *logger.Zap
	runs    *engine.Manager
	metrics *metrics.Collector
	router  *gin.Engine
}

func New(cfg *config.Cfg, log *logger.Zap, runs *engine.Manager, m *metrics.Collector) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	s := &Server{
		cfg:     cfg,
		log:     log.Named("http"),
		runs:    runs,
		metrics: m,
	}
	s.router = s.routes()
	return s
}

// Handler возвращает роутер; используется в тестах и при встраивании.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// Лог и метрики запросов
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		s.metrics.HTTPRequest(c.Request.Method, path, strconv.Itoa(status))
		s.log.Info("HTTP",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
		)
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := r.Group("/api/runs")
	api.POST("", s.startRun)
	api.GET("", s.listRuns)
	api.GET("/:id", s.getRun)
	api.GET("/:id/report", s.getReport)
	api.GET("/:id/events", s.streamEvents)
	api.POST("/:id/pause", s.control(s.runs.Pause))
	api.POST("/:id/resume", s.resumeRun)
	api.POST("/:id/take-control", s.control(s.runs.TakeControl))
	api.POST("/:id/release-control", s.control(s.runs.ReleaseControl))
	api.POST("/:id/cancel", s.control(s.runs.Cancel))
	api.POST("/:id/otp", s.supplyOTP)
	api.POST("/:id/operate", s.operate)

	return r
}

// Run обслуживает HTTP до отмены ctx, затем закрывает сервер.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%s", s.cfg.App.Host, s.cfg.App.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Сервер запущен", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http сервер: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("остановка http сервера: %w", err)
	}
	s.log.Info("Сервер остановлен")
	return nil
}

// fail переводит ошибки менеджера в HTTP-статусы.
func (s *Server) fail(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrRunNotFound):
		code = http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidRequest):
		code = http.StatusBadRequest
	case errors.Is(err, engine.ErrRunFinished),
		errors.Is(err, engine.ErrNotOperator),
		errors.Is(err, hitl.ErrInvalidTransition),
		errors.Is(err, hitl.ErrCancelled):
		code = http.StatusConflict
	}
	if code == http.StatusInternalServerError {
		s.log.Error("Ошибка запроса", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	c.JSON(code, gin.H{"error": err.Error()})
}
