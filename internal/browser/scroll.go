package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Scroll прокручивает окно на dy пикселей (отрицательное значение вверх).
func (s *playwrightSession) Scroll(ctx context.Context, dy int) error {
	page, err := s.getPage()
	if err != nil {
		return err
	}

	err = withTimeout(ctx, s.cfg.ActionTimeout, "scroll", func() error {
		_, e := page.Evaluate(`(dy) => {
			window.scrollBy({ top: dy, left: 0, behavior: 'auto' });
		}`, dy)
		return e
	})
	if err != nil {
		return fmt.Errorf("ошибка прокрутки: %w", err)
	}

	// Даем время на подгрузку ленивого контента
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(300 * time.Millisecond):
	}
	return nil
}

// scrollIntoView прокручивает к элементу, если он вне вьюпорта.
func (s *playwrightSession) scrollIntoView(ctx context.Context, loc playwright.Locator) error {
	return withTimeout(ctx, s.cfg.ActionTimeout, "scroll into view", func() error {
		err := loc.ScrollIntoViewIfNeeded(playwright.LocatorScrollIntoViewIfNeededOptions{
			Timeout: playwright.Float(5000),
		})
		if err == nil {
			return nil
		}
		// Если ScrollIntoViewIfNeeded не работает, используем простой scrollIntoView
		_, err = loc.Evaluate(`el => el.scrollIntoView({ behavior: 'auto', block: 'center', inline: 'center' })`, nil)
		return err
	})
}
