package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"explorer/internal/browser"
	"explorer/internal/events"
	"explorer/internal/hitl"
	"explorer/internal/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidRequest = errors.New("некорректный запрос запуска")
	ErrRunFinished    = errors.New("запуск уже завершён")
)

type handle struct {
	state  *runState
	ctl    *hitl.Controller
	cancel context.CancelFunc
}

// Manager запускает исследования в отдельных горутинах и даёт к ним
// доступ по id: снимки, отчёты, события и управление человеком.
type Manager struct {
	orch *Orchestrator
	log  *logger.Zap
	base context.Context

	mu    sync.RWMutex
	runs  map[string]*handle
	order []string
	wg    sync.WaitGroup
}

// NewManager создаёт менеджер. Отмена ctx прерывает все запуски.
func NewManager(ctx context.Context, orch *Orchestrator, log *logger.Zap) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{
		orch: orch,
		log:  log.Named("manager"),
		base: ctx,
		runs: make(map[string]*handle),
	}
}

// Start проверяет запрос и запускает исследование. Возвращает id запуска.
func (m *Manager) Start(req Request) (string, error) {
	target, err := validateURL(req.URL)
	if err != nil {
		return "", err
	}

	run := Run{
		ID:               uuid.NewString(),
		TargetURL:        target,
		Instructions:     strings.TrimSpace(req.Instructions),
		DeviceProfile:    browser.Profile(req.DeviceProfile).Name,
		VisualRegression: req.VisualRegression,
		Status:           StatusInitializing,
		CreatedAt:        m.orch.d.Now(),
	}
	h := &handle{state: newRunState(run), ctl: hitl.New()}

	ctx, cancel := context.WithCancel(m.base)
	h.cancel = cancel

	m.mu.Lock()
	m.runs[run.ID] = h
	m.order = append(m.order, run.ID)
	m.mu.Unlock()

	m.log.Info("Запуск создан",
		zap.String("run_id", run.ID),
		zap.String("url", m.orch.d.Scrubber.ScrubURL(target)),
		zap.String("device", run.DeviceProfile))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		m.orch.Execute(ctx, h.state, h.ctl)
	}()
	return run.ID, nil
}

func validateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: url обязателен", ErrInvalidRequest)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: поддерживаются только http и https", ErrInvalidRequest)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: в url нет хоста", ErrInvalidRequest)
	}
	return u.String(), nil
}

func (m *Manager) lookup(id string) (*handle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return h, nil
}

// active возвращает запуск, который ещё можно контролировать.
func (m *Manager) active(id string) (*handle, error) {
	h, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	if h.state.status().Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrRunFinished, id)
	}
	return h, nil
}

func (m *Manager) Get(id string) (Run, error) {
	h, err := m.lookup(id)
	if err != nil {
		return Run{}, err
	}
	return h.state.snapshot(), nil
}

// List возвращает запуски в порядке создания.
func (m *Manager) List() []Run {
	m.mu.RLock()
	handles := make([]*handle, 0, len(m.order))
	for _, id := range m.order {
		handles = append(handles, m.runs[id])
	}
	m.mu.RUnlock()

	out := make([]Run, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.state.snapshot())
	}
	return out
}

func (m *Manager) Report(id string) (Report, error) {
	run, err := m.Get(id)
	if err != nil {
		return Report{}, err
	}
	return run.Report(), nil
}

func (m *Manager) Pause(id string) error {
	h, err := m.active(id)
	if err != nil {
		return err
	}
	return h.ctl.Pause()
}

// Resume продолжает запуск. Непустые инструкции заменяют текущие или, при
// extend, дополняют их.
func (m *Manager) Resume(id, instructions string, extend bool) error {
	h, err := m.active(id)
	if err != nil {
		return err
	}
	return h.ctl.Resume(instructions, extend)
}

func (m *Manager) TakeControl(id string) error {
	h, err := m.active(id)
	if err != nil {
		return err
	}
	return h.ctl.TakeControl()
}

func (m *Manager) ReleaseControl(id string) error {
	h, err := m.active(id)
	if err != nil {
		return err
	}
	return h.ctl.ReleaseControl()
}

// Cancel останавливает запуск: контроллер снимает ожидание, контекст
// прерывает текущее действие.
func (m *Manager) Cancel(id string) error {
	h, err := m.active(id)
	if err != nil {
		return err
	}
	h.ctl.Cancel()
	h.cancel()
	m.log.Info("Запуск отменён", zap.String("run_id", id))
	return nil
}

// SupplyOTP передаёт одноразовый код для запроса подтверждения.
func (m *Manager) SupplyOTP(id, code string) error {
	h, err := m.active(id)
	if err != nil {
		return err
	}
	return h.ctl.SupplyOTP(code)
}

// Subscribe подписывает на события запуска.
func (m *Manager) Subscribe(id string, buffer int) (<-chan events.Event, func(), error) {
	if _, err := m.lookup(id); err != nil {
		return nil, nil, err
	}
	ch, cancel := m.orch.Bus().Subscribe(id, buffer)
	return ch, cancel, nil
}

// Wait ждёт завершения запуска.
func (m *Manager) Wait(ctx context.Context, id string) (Run, error) {
	h, err := m.lookup(id)
	if err != nil {
		return Run{}, err
	}
	select {
	case <-h.state.done:
		return h.state.snapshot(), nil
	case <-ctx.Done():
		return h.state.snapshot(), ctx.Err()
	}
}

// Shutdown отменяет все незавершённые запуски и ждёт их горутины.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	for _, h := range m.runs {
		h.ctl.Cancel()
		h.cancel()
	}
	m.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.log.Info("Все запуски остановлены")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("остановка запусков: %w", ctx.Err())
	}
}

