package browser

import (
	"context"
	"errors"
	"time"
)

var ErrSessionClosed = errors.New("сессия браузера закрыта")

// Session изолированная вкладка браузера одного запуска.
// Все методы, кроме Drain и URL, могут блокироваться на сети.
// Navigate при ошибке может вернуть и Navigation с уже пройденными переходами.
type Session interface {
	Navigate(ctx context.Context, url string) (*Navigation, error)
	Click(ctx context.Context, target Target) error
	Type(ctx context.Context, target Target, text string) error
	Press(ctx context.Context, key string) error
	Scroll(ctx context.Context, dy int) error
	Wait(ctx context.Context, d time.Duration) error
	Evaluate(ctx context.Context, script string, arg any) (any, error)
	Content(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	URL() string
	Drain() Signals
	ClickAt(ctx context.Context, x, y float64) error
	TypeText(ctx context.Context, text string) error
	Close() error
}

// Target указывает на элемент: сначала по временной метке perception,
// затем по CSS-селектору, в крайнем случае по координатам центра.
type Target struct {
	Ref      string
	Selector string
	X        float64
	Y        float64
}

// Hop один переход в цепочке редиректов.
type Hop struct {
	URL    string
	Status int
}

// Navigation результат перехода по URL.
type Navigation struct {
	URL    string
	Status int
	Hops   []Hop
}

type ConsoleEntry struct {
	Level string    `json:"level"`
	Text  string    `json:"text"`
	URL   string    `json:"url,omitempty"`
	At    time.Time `json:"at"`
}

type NetworkEntry struct {
	URL     string    `json:"url"`
	Method  string    `json:"method"`
	Status  int       `json:"status,omitempty"`
	Failure string    `json:"failure,omitempty"`
	At      time.Time `json:"at"`
}

// Signals события страницы, накопленные с момента последнего Drain.
type Signals struct {
	Console     []ConsoleEntry
	Network     []NetworkEntry
	Navigations []string
	Crashed     bool
}

// HasErrors сообщает, есть ли среди сигналов ошибки консоли или сети.
func (s Signals) HasErrors() bool {
	for _, c := range s.Console {
		if c.Level == "error" || c.Level == "pageerror" {
			return true
		}
	}
	return len(s.Network) > 0
}

type Config struct {
	Engine          string
	Headless        bool
	BrowsersPath    string
	Display         string
	Timeout         time.Duration
	NavigateTimeout time.Duration
	ActionTimeout   time.Duration
	LaunchAttempts  int
}
