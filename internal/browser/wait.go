package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

// withTimeout выполняет синхронный вызов playwright в отдельной горутине,
// чтобы отмена контекста и таймаут прерывали ожидание.
func withTimeout(ctx context.Context, timeout time.Duration, op string, fn func() error) error {
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- fn()
	}()

	select {
	case <-opCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s timeout after %v", op, timeout)
	case err := <-errChan:
		return err
	}
}

func loadState(state string) *playwright.LoadState {
	switch strings.ToLower(state) {
	case "domcontentloaded":
		return playwright.LoadStateDomcontentloaded
	case "networkidle":
		return playwright.LoadStateNetworkidle
	default:
		return playwright.LoadStateLoad
	}
}

func (s *playwrightSession) waitForLoadState(ctx context.Context, state string, timeout time.Duration) error {
	page, err := s.getPage()
	if err != nil {
		return err
	}
	return withTimeout(ctx, timeout, "load state", func() error {
		return page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
			State:   loadState(state),
			Timeout: playwright.Float(float64(timeout.Milliseconds())),
		})
	})
}

// settle даёт странице успокоиться после действия. Ошибка ожидания сети
// не считается ошибкой действия: многие сайты держат долгие соединения.
func (s *playwrightSession) settle(ctx context.Context) {
	_ = s.waitForLoadState(ctx, "networkidle", 2*time.Second)
}

func (s *playwrightSession) Wait(ctx context.Context, d time.Duration) error {
	if _, err := s.getPage(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
	}
	s.settle(ctx)
	return nil
}
