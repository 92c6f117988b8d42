// Package enginetest содержит заглушки браузера для тестов пакетов,
// которые работают поверх engine.Manager.
package enginetest

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"explorer/internal/browser"
	"explorer/internal/config"
	"explorer/internal/engine"
	"explorer/internal/logger"
	"explorer/internal/perception"
)

// PNG содержимое скриншота заглушки.
var PNG = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// Session пустая вкладка: все действия успешны.
type Session struct {
	mu     sync.Mutex
	url    string
	clicks int
}

func (s *Session) Navigate(ctx context.Context, url string) (*browser.Navigation, error) {
	s.mu.Lock()
	s.url = url
	s.mu.Unlock()
	return &browser.Navigation{URL: url, Status: http.StatusOK}, ctx.Err()
}

func (s *Session) Click(ctx context.Context, _ browser.Target) error          { return ctx.Err() }
func (s *Session) Type(ctx context.Context, _ browser.Target, _ string) error { return ctx.Err() }
func (s *Session) Press(ctx context.Context, _ string) error                  { return ctx.Err() }
func (s *Session) Scroll(ctx context.Context, _ int) error                    { return ctx.Err() }
func (s *Session) Wait(ctx context.Context, _ time.Duration) error            { return ctx.Err() }

func (s *Session) Evaluate(ctx context.Context, _ string, _ any) (any, error) {
	return nil, ctx.Err()
}

func (s *Session) Content(ctx context.Context) (string, error) {
	return "<html><body></body></html>", ctx.Err()
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	return append([]byte(nil), PNG...), ctx.Err()
}

func (s *Session) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

func (s *Session) Drain() browser.Signals { return browser.Signals{} }

func (s *Session) ClickAt(ctx context.Context, _, _ float64) error {
	s.mu.Lock()
	s.clicks++
	s.mu.Unlock()
	return ctx.Err()
}

func (s *Session) TypeText(ctx context.Context, _ string) error { return ctx.Err() }
func (s *Session) Close() error                                 { return nil }

// Clicks число кликов оператора по координатам.
func (s *Session) Clicks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clicks
}

// Opener открывает Session и запоминает последнюю.
type Opener struct {
	mu   sync.Mutex
	last *Session
}

func (o *Opener) Open(ctx context.Context, _ browser.DeviceProfile) (browser.Session, error) {
	s := &Session{}
	o.mu.Lock()
	o.last = s
	o.mu.Unlock()
	return s, ctx.Err()
}

func (o *Opener) Last() *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// Perceiver отдаёт пустую страницу. Пока Hold не закрыт, восприятие ждёт.
type Perceiver struct {
	Hold chan struct{}
}

func (p Perceiver) Perceive(ctx context.Context, page perception.Page) (*perception.PageModel, error) {
	if p.Hold != nil {
		select {
		case <-p.Hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	url := page.URL()
	return &perception.PageModel{
		URL:        url,
		Title:      "Stub",
		Signature:  perception.Signature{URL: perception.NormalizeURL(url), Shape: "body"},
		CapturedAt: time.Now(),
	}, nil
}

// NewManager собирает менеджер на заглушках и останавливает его в конце теста.
func NewManager(t testing.TB, hold chan struct{}) (*engine.Manager, *Opener) {
	t.Helper()
	opener := &Opener{}
	orch := engine.NewOrchestrator(engine.Deps{
		Browser:   opener,
		Perceiver: Perceiver{Hold: hold},
		Config:    config.Exploration{MaxSteps: 5, RetryDelay: time.Millisecond, Seed: 1},
	})
	m := engine.NewManager(context.Background(), orch, logger.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m, opener
}
