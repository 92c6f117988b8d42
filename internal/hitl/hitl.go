// Package hitl позволяет человеку вмешиваться в запуск: приостановить,
// взять управление вкладкой, передать новые инструкции, одноразовый код
// или отменить запуск.
package hitl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrCancelled         = errors.New("запуск отменён")
	ErrInvalidTransition = errors.New("недопустимый переход")
)

type Mode string

const (
	Running   Mode = "running"
	Paused    Mode = "paused"
	Operator  Mode = "operator"
	Cancelled Mode = "cancelled"
)

// Directive новые инструкции, переданные при возобновлении.
type Directive struct {
	Instructions string
	Append       bool
}

// Controller состояние вмешательства одного запуска. Методы безопасны для
// вызова из любых горутин; Gate вызывает только горутина запуска.
type Controller struct {
	mu      sync.Mutex
	mode    Mode
	pending *Directive
	otp     string
	changed chan struct{}
}

func New() *Controller {
	return &Controller{mode: Running, changed: make(chan struct{})}
}

func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Pause останавливает запуск перед следующим действием.
func (c *Controller) Pause() error {
	return c.transition(func() error {
		switch c.mode {
		case Running:
			c.mode = Paused
		case Paused:
		default:
			return c.invalid("pause")
		}
		return nil
	})
}

// TakeControl передаёт вкладку оператору. Запуск ждёт ReleaseControl или Resume.
func (c *Controller) TakeControl() error {
	return c.transition(func() error {
		switch c.mode {
		case Running, Paused:
			c.mode = Operator
		case Operator:
		default:
			return c.invalid("take-control")
		}
		return nil
	})
}

// ReleaseControl возвращает управление агенту, запуск продолжается.
func (c *Controller) ReleaseControl() error {
	return c.transition(func() error {
		if c.mode != Operator {
			return c.invalid("release-control")
		}
		c.mode = Running
		return nil
	})
}

// Resume продолжает запуск. Непустые instructions заменяют текущие
// инструкции или, при extend, дополняют их.
func (c *Controller) Resume(instructions string, extend bool) error {
	return c.transition(func() error {
		if c.mode == Cancelled {
			return c.invalid("resume")
		}
		c.mode = Running
		if strings.TrimSpace(instructions) != "" {
			c.pending = &Directive{Instructions: instructions, Append: extend}
		}
		return nil
	})
}

// Cancel отменяет запуск. Повторный вызов ничего не меняет.
func (c *Controller) Cancel() {
	_ = c.transition(func() error {
		c.mode = Cancelled
		return nil
	})
}

// SupplyOTP сохраняет одноразовый код для ближайшего запроса MFA.
func (c *Controller) SupplyOTP(code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return errors.New("пустой код")
	}
	return c.transition(func() error {
		if c.mode == Cancelled {
			return c.invalid("otp")
		}
		c.otp = code
		return nil
	})
}

// TakeOTP возвращает переданный код и забывает его.
func (c *Controller) TakeOTP() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	code := c.otp
	c.otp = ""
	return code, code != ""
}

// Gate блокирует, пока запуск приостановлен или управляет оператор.
// onBlock вызывается при каждой смене режима ожидания. Возвращает
// инструкции, переданные при возобновлении, или nil.
func (c *Controller) Gate(ctx context.Context, onBlock func(Mode)) (*Directive, error) {
	var notified Mode
	for {
		c.mu.Lock()
		mode := c.mode
		switch mode {
		case Running:
			d := c.pending
			c.pending = nil
			c.mu.Unlock()
			return d, nil
		case Cancelled:
			c.mu.Unlock()
			return nil, ErrCancelled
		}
		ch := c.changed
		c.mu.Unlock()

		if onBlock != nil && mode != notified {
			onBlock(mode)
			notified = mode
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ch:
		}
	}
}

// Done закрывается при следующей смене режима.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

func (c *Controller) transition(apply func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	before := c.mode
	if err := apply(); err != nil {
		return err
	}
	if c.mode != before || c.pending != nil || c.otp != "" {
		close(c.changed)
		c.changed = make(chan struct{})
	}
	return nil
}

func (c *Controller) invalid(op string) error {
	return fmt.Errorf("%w: %s в режиме %s", ErrInvalidTransition, op, c.mode)
}
