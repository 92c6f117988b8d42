package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"explorer/internal/hitl"

	"go.uber.org/zap"
)

var ErrNotOperator = errors.New("запуск не под управлением оператора")

// Command действие оператора в сессии запуска.
type Command struct {
	Action string  `json:"action" binding:"required"`
	X      float64 `json:"x,omitempty"`
	Y      float64 `json:"y,omitempty"`
	Text   string  `json:"text,omitempty"`
	URL    string  `json:"url,omitempty"`
	Key    string  `json:"key,omitempty"`
}

// Operate выполняет команду оператора. Доступно только после того, как
// запуск остановился в WAITING_FOR_HUMAN; скриншот возвращается в ответе.
func (m *Manager) Operate(ctx context.Context, id string, cmd Command) ([]byte, error) {
	h, err := m.active(id)
	if err != nil {
		return nil, err
	}
	h.state.operator.Lock()
	defer h.state.operator.Unlock()
	if h.ctl.Mode() != hitl.Operator || h.state.status() != StatusWaitingForHuman {
		return nil, fmt.Errorf("%w: %s", ErrNotOperator, id)
	}
	sess := h.state.liveSession()
	if sess == nil {
		return nil, fmt.Errorf("%w: сессия не открыта", ErrNotOperator)
	}

	action := strings.ToLower(strings.TrimSpace(cmd.Action))
	m.log.Info("Команда оператора", zap.String("run_id", id), zap.String("action", action))

	switch action {
	case "click":
		err = sess.ClickAt(ctx, cmd.X, cmd.Y)
	case "type":
		err = sess.TypeText(ctx, cmd.Text)
	case "press":
		err = sess.Press(ctx, cmd.Key)
	case "scroll":
		err = sess.Scroll(ctx, int(cmd.Y))
	case "navigate":
		if _, verr := validateURL(cmd.URL); verr != nil {
			return nil, verr
		}
		_, err = sess.Navigate(ctx, cmd.URL)
	case "screenshot":
		return sess.Screenshot(ctx)
	default:
		return nil, fmt.Errorf("неизвестная команда оператора %q", cmd.Action)
	}
	if err != nil {
		return nil, fmt.Errorf("команда %s: %w", action, err)
	}
	return nil, nil
}
