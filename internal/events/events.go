// Package events рассылает пошаговые события запусков подписчикам:
// websocket-клиентам, консоли и внешним потребителям через Redis.
package events

import (
	"context"
	"sync"
	"time"
)

// Kind тип события.
type Kind string

const (
	KindStep   Kind = "step"
	KindStatus Kind = "status"
	KindIssue  Kind = "issue"
)

// Event событие запуска.
type Event struct {
	Kind          Kind      `json:"kind"`
	RunID         string    `json:"runId"`
	StepNumber    int       `json:"stepNumber"`
	Action        string    `json:"action,omitempty"`
	TargetSummary string    `json:"targetSummary,omitempty"`
	ScreenshotRef string    `json:"screenshotRef,omitempty"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Sink внешний получатель событий.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

type subscriber struct {
	runID string
	ch    chan Event
}

// Bus раздаёт события подписчикам. Publish не блокируется: медленный
// подписчик теряет события, а не тормозит запуск.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	sinks  []Sink
	onDrop func(Event)
}

func NewBus(sinks ...Sink) *Bus {
	return &Bus{subs: make(map[int]*subscriber), sinks: sinks}
}

// OnDrop задаёт обработчик потерянных событий.
func (b *Bus) OnDrop(fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDrop = fn
}

// Subscribe подписывает на события запуска runID; пустой runID означает все
// запуски. Возвращённая функция отписывает и закрывает канал.
func (b *Bus) Subscribe(runID string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscriber{runID: runID, ch: make(chan Event, buffer)}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Publish отправляет событие подписчикам и внешним получателям. Ошибки
// получателей возвращаются, но не мешают доставке остальным.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	for _, s := range b.subs {
		if s.runID != "" && s.runID != e.RunID {
			continue
		}
		select {
		case s.ch <- e:
		default:
			if b.onDrop != nil {
				b.onDrop(e)
			}
		}
	}
	sinks := b.sinks
	b.mu.RUnlock()

	var firstErr error
	for _, sink := range sinks {
		if err := sink.Publish(ctx, e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
