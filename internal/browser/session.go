package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrTargetNotFound цель действия не найдена ни одной стратегией.
var ErrTargetNotFound = errors.New("element not found")

// ErrTooManyRedirects браузер прервал бесконечную цепочку редиректов.
var ErrTooManyRedirects = errors.New("слишком много редиректов")

// clsObserver накапливает CLS страницы в window.__explorerCLS.
const clsObserver = `(() => {
	window.__explorerCLS = 0;
	try {
		new PerformanceObserver((list) => {
			for (const e of list.getEntries()) {
				if (!e.hadRecentInput) window.__explorerCLS += e.value;
			}
		}).observe({ type: 'layout-shift', buffered: true });
	} catch (e) {}
})();`

type playwrightSession struct {
	cfg     Config
	mu      sync.RWMutex
	context playwright.BrowserContext
	page    playwright.Page
	signals *recorder
	closed  bool
}

func newSession(bctx playwright.BrowserContext, cfg Config) (*playwrightSession, error) {
	if err := bctx.AddInitScript(playwright.Script{Content: playwright.String(clsObserver)}); err != nil {
		return nil, fmt.Errorf("ошибка установки init-скрипта: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("ошибка создания страницы: %w", err)
	}
	page.SetDefaultTimeout(float64(cfg.Timeout.Milliseconds()))

	s := &playwrightSession{
		cfg:     cfg,
		context: bctx,
		page:    page,
		signals: newRecorder(),
	}
	s.listen(page)
	return s, nil
}

// listen подключает постоянных слушателей консоли, сети и навигации.
func (s *playwrightSession) listen(page playwright.Page) {
	rec := s.signals

	page.OnConsole(func(m playwright.ConsoleMessage) {
		level := m.Type()
		if level == "error" || level == "warning" {
			rec.addConsole(level, m.Text(), page.URL())
		}
	})
	page.OnPageError(func(err error) {
		rec.addConsole("pageerror", err.Error(), page.URL())
	})
	page.OnResponse(func(r playwright.Response) {
		req := r.Request()
		if req.IsNavigationRequest() && req.Frame() == page.MainFrame() {
			rec.addHop(r.URL(), r.Status())
		}
		rec.addResponse(r.URL(), req.Method(), r.Status())
	})
	page.OnRequestFailed(func(r playwright.Request) {
		failure := "request failed"
		if f := r.Failure(); f != nil {
			failure = f.Error()
		}
		rec.addFailure(r.URL(), r.Method(), failure)
	})
	page.OnFrameNavigated(func(f playwright.Frame) {
		if f == page.MainFrame() {
			rec.addNavigation(f.URL())
		}
	})
	page.OnCrash(func(playwright.Page) {
		rec.markCrashed()
	})
}

// getPage безопасно возвращает текущую страницу с read lock
func (s *playwrightSession) getPage() (playwright.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.page == nil {
		return nil, ErrSessionClosed
	}
	return s.page, nil
}

func (s *playwrightSession) Navigate(ctx context.Context, url string) (*Navigation, error) {
	ctx, span := tracer.Start(ctx, "browser.navigate")
	span.SetAttributes(attribute.String("url", url))
	defer span.End()

	page, err := s.getPage()
	if err != nil {
		return nil, err
	}

	s.signals.takeHops()

	var resp playwright.Response
	err = withTimeout(ctx, s.cfg.NavigateTimeout, "navigate", func() error {
		r, e := page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateNetworkidle,
			Timeout:   playwright.Float(float64(s.cfg.NavigateTimeout.Milliseconds())),
		})
		resp = r
		return e
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		// цепочка до ошибки нужна для поиска петли редиректов
		nav := &Navigation{URL: page.URL(), Hops: s.signals.takeHops()}
		if isRedirectLimit(err) {
			return nav, fmt.Errorf("ошибка перехода на %s: %w: %v", url, ErrTooManyRedirects, err)
		}
		return nav, fmt.Errorf("ошибка перехода на %s: %w", url, err)
	}

	nav := &Navigation{URL: page.URL(), Hops: s.signals.takeHops()}
	if resp != nil {
		nav.Status = resp.Status()
	}
	span.SetAttributes(attribute.Int("status", nav.Status), attribute.Int("hops", len(nav.Hops)))
	return nav, nil
}

func isRedirectLimit(err error) bool {
	return strings.Contains(err.Error(), "ERR_TOO_MANY_REDIRECTS") ||
		strings.Contains(err.Error(), "redirect limit")
}

// locate находит первую подходящую стратегию поиска цели.
func (s *playwrightSession) locate(page playwright.Page, target Target) (playwright.Locator, locatorCandidate, error) {
	for _, c := range target.candidates() {
		if c.strategy == strategyPoint {
			return nil, c, nil
		}
		loc := page.Locator(c.selector).First()
		n, err := loc.Count()
		if err != nil || n == 0 {
			continue
		}
		return loc, c, nil
	}
	return nil, locatorCandidate{}, fmt.Errorf("%s: %w", target.Describe(), ErrTargetNotFound)
}

func (s *playwrightSession) Click(ctx context.Context, target Target) error {
	ctx, span := tracer.Start(ctx, "browser.click")
	span.SetAttributes(attribute.String("target", target.Describe()))
	defer span.End()

	page, err := s.getPage()
	if err != nil {
		return err
	}

	loc, c, err := s.locate(page, target)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if c.strategy == strategyPoint {
		err = s.ClickAt(ctx, target.X, target.Y)
	} else {
		if err := s.scrollIntoView(ctx, loc); err != nil {
			return fmt.Errorf("ошибка прокрутки к элементу: %w", err)
		}
		err = withTimeout(ctx, s.cfg.ActionTimeout, "click", func() error {
			return loc.Click(playwright.LocatorClickOptions{
				Timeout: playwright.Float(float64(s.cfg.ActionTimeout.Milliseconds())),
			})
		})
	}
	if err != nil {
		span.RecordError(err)
		return err
	}

	s.settle(ctx)
	return nil
}

func (s *playwrightSession) Type(ctx context.Context, target Target, text string) error {
	page, err := s.getPage()
	if err != nil {
		return err
	}

	loc, c, err := s.locate(page, target)
	if err != nil {
		return err
	}

	if c.strategy == strategyPoint {
		if err := s.ClickAt(ctx, target.X, target.Y); err != nil {
			return err
		}
		return s.TypeText(ctx, text)
	}

	if err := s.scrollIntoView(ctx, loc); err != nil {
		return fmt.Errorf("ошибка прокрутки к элементу: %w", err)
	}
	return withTimeout(ctx, s.cfg.ActionTimeout, "type", func() error {
		return loc.Fill(text, playwright.LocatorFillOptions{
			Timeout: playwright.Float(float64(s.cfg.ActionTimeout.Milliseconds())),
		})
	})
}

func (s *playwrightSession) Press(ctx context.Context, key string) error {
	page, err := s.getPage()
	if err != nil {
		return err
	}
	err = withTimeout(ctx, s.cfg.ActionTimeout, "press", func() error {
		return page.Keyboard().Press(key)
	})
	if err != nil {
		return err
	}
	s.settle(ctx)
	return nil
}

func (s *playwrightSession) ClickAt(ctx context.Context, x, y float64) error {
	page, err := s.getPage()
	if err != nil {
		return err
	}
	return withTimeout(ctx, s.cfg.ActionTimeout, "mouse click", func() error {
		return page.Mouse().Click(x, y)
	})
}

func (s *playwrightSession) TypeText(ctx context.Context, text string) error {
	page, err := s.getPage()
	if err != nil {
		return err
	}
	return withTimeout(ctx, s.cfg.ActionTimeout, "keyboard type", func() error {
		return page.Keyboard().Type(text)
	})
}

func (s *playwrightSession) Evaluate(ctx context.Context, script string, arg any) (any, error) {
	page, err := s.getPage()
	if err != nil {
		return nil, err
	}

	var result any
	err = withTimeout(ctx, s.cfg.Timeout, "evaluate", func() error {
		var e error
		if arg == nil {
			result, e = page.Evaluate(script)
		} else {
			result, e = page.Evaluate(script, arg)
		}
		return e
	})
	return result, err
}

func (s *playwrightSession) Content(ctx context.Context) (string, error) {
	page, err := s.getPage()
	if err != nil {
		return "", err
	}

	var html string
	err = withTimeout(ctx, s.cfg.Timeout, "content", func() error {
		var e error
		html, e = page.Content()
		return e
	})
	return html, err
}

func (s *playwrightSession) Screenshot(ctx context.Context) ([]byte, error) {
	page, err := s.getPage()
	if err != nil {
		return nil, err
	}

	var data []byte
	err = withTimeout(ctx, s.cfg.Timeout, "screenshot", func() error {
		var e error
		data, e = page.Screenshot(playwright.PageScreenshotOptions{
			Type:     playwright.ScreenshotTypePng,
			FullPage: playwright.Bool(false),
		})
		return e
	})
	return data, err
}

func (s *playwrightSession) URL() string {
	page, err := s.getPage()
	if err != nil {
		return ""
	}
	return page.URL()
}

func (s *playwrightSession) Drain() Signals {
	return s.signals.drain()
}

// Close закрывает контекст вместе со страницей. Повторный вызов ничего не делает.
func (s *playwrightSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	done := make(chan error, 1)
	go func() { done <- s.context.Close() }()
	select {
	case err := <-done:
		return err
	case <-time.After(s.cfg.Timeout):
		return fmt.Errorf("close timeout after %v", s.cfg.Timeout)
	}
}
