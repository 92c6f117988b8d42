package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"explorer/internal/logger"

	"github.com/playwright-community/playwright-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("explorer/browser")

// Launcher владеет драйвером playwright и одним процессом браузера.
// Каждый запуск получает собственный изолированный BrowserContext.
type Launcher struct {
	cfg     Config
	log     *logger.Zap
	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

func New(cfg Config, log *logger.Zap) *Launcher {
	// Установка дефолтных таймаутов
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.NavigateTimeout == 0 {
		cfg.NavigateTimeout = 60 * time.Second // Navigate обычно дольше
	}
	if cfg.ActionTimeout == 0 {
		cfg.ActionTimeout = 10 * time.Second // Click/Type обычно быстрые
	}
	if cfg.LaunchAttempts == 0 {
		cfg.LaunchAttempts = 2
	}
	if cfg.Engine == "" {
		cfg.Engine = "chromium"
	}

	return &Launcher{
		cfg: cfg,
		log: log.Named("browser"),
	}
}

func (l *Launcher) getBrowserArgs() []string {
	if l.cfg.Engine != "chromium" {
		return nil
	}
	return []string{
		"--no-sandbox",
		"--disable-dev-shm-usage",
	}
}

func (l *Launcher) getEnvMap() map[string]string {
	if l.cfg.Display != "" {
		return map[string]string{
			"DISPLAY": l.cfg.Display,
		}
	}
	return nil
}

func (l *Launcher) browserType(pw *playwright.Playwright) playwright.BrowserType {
	switch l.cfg.Engine {
	case "firefox":
		return pw.Firefox
	case "webkit":
		return pw.WebKit
	default:
		return pw.Chromium
	}
}

// Start запускает драйвер и браузер. Запуск повторяется не более
// LaunchAttempts раз с нарастающей паузой; исчерпание попыток фатально.
func (l *Launcher) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.browser != nil {
		return nil
	}

	var lastErr error
	delay := time.Second
	for attempt := 1; attempt <= l.cfg.LaunchAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		if err := l.launch(); err != nil {
			lastErr = err
			l.log.Warn("Не удалось запустить браузер", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		l.log.Info("Браузер запущен", zap.String("engine", l.cfg.Engine), zap.Bool("headless", l.cfg.Headless))
		return nil
	}
	return fmt.Errorf("запуск браузера после %d попыток: %w", l.cfg.LaunchAttempts, lastErr)
}

func (l *Launcher) launch() error {
	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("ошибка запуска playwright: %w", err)
	}

	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(l.cfg.Headless),
		Args:     l.getBrowserArgs(),
	}
	if env := l.getEnvMap(); env != nil {
		opts.Env = env
	}

	br, err := l.browserType(pw).Launch(opts)
	if err != nil {
		_ = pw.Stop()
		return err
	}

	l.pw = pw
	l.browser = br
	return nil
}

// Open создаёт изолированную сессию: новый контекст без сохранённого
// состояния и одну страницу с подключёнными слушателями.
func (l *Launcher) Open(ctx context.Context, profile DeviceProfile) (Session, error) {
	_, span := tracer.Start(ctx, "browser.open")
	span.SetAttributes(attribute.String("device", profile.Name))
	defer span.End()

	l.mu.Lock()
	br := l.browser
	l.mu.Unlock()
	if br == nil {
		return nil, fmt.Errorf("браузер не запущен")
	}

	opts := playwright.BrowserNewContextOptions{
		Viewport:          &playwright.Size{Width: profile.Width, Height: profile.Height},
		IsMobile:          playwright.Bool(profile.Mobile),
		HasTouch:          playwright.Bool(profile.Touch),
		DeviceScaleFactor: playwright.Float(profile.ScaleFactor),
		IgnoreHttpsErrors: playwright.Bool(true),
	}
	if profile.UserAgent != "" {
		opts.UserAgent = playwright.String(profile.UserAgent)
	}

	bctx, err := br.NewContext(opts)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("ошибка создания контекста: %w", err)
	}

	s, err := newSession(bctx, l.cfg)
	if err != nil {
		_ = bctx.Close()
		span.RecordError(err)
		return nil, err
	}
	return s, nil
}

func (l *Launcher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.browser != nil {
		if err := l.browser.Close(); err != nil {
			return err
		}
		l.browser = nil
	}
	if l.pw != nil {
		err := l.pw.Stop()
		l.pw = nil
		return err
	}
	return nil
}
