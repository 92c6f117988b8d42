package browser

import (
	"strings"
	"sync"
	"time"
)

const maxBufferedSignals = 500

// recorder накапливает события страницы между вызовами Drain.
// Колбэки playwright вызываются из горутины драйвера, поэтому доступ под мьютексом.
type recorder struct {
	mu          sync.Mutex
	console     []ConsoleEntry
	network     []NetworkEntry
	navigations []string
	hops        []Hop
	crashed     bool
	now         func() time.Time
}

func newRecorder() *recorder {
	return &recorder{now: time.Now}
}

func (r *recorder) addConsole(level, text, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.console) >= maxBufferedSignals {
		return
	}
	r.console = append(r.console, ConsoleEntry{Level: level, Text: text, URL: url, At: r.now()})
}

func (r *recorder) addResponse(url, method string, status int) {
	if status < 400 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.network) >= maxBufferedSignals {
		return
	}
	r.network = append(r.network, NetworkEntry{URL: url, Method: method, Status: status, At: r.now()})
}

func (r *recorder) addFailure(url, method, failure string) {
	// Отменённые запросы при уходе со страницы не являются ошибкой сайта
	if strings.Contains(failure, "ERR_ABORTED") || strings.Contains(failure, "NS_BINDING_ABORTED") {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.network) >= maxBufferedSignals {
		return
	}
	r.network = append(r.network, NetworkEntry{URL: url, Method: method, Failure: failure, At: r.now()})
}

func (r *recorder) addNavigation(url string) {
	if url == "" || url == "about:blank" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.navigations = append(r.navigations, url)
}

// addHop фиксирует ответ на навигационный запрос главного фрейма.
func (r *recorder) addHop(url string, status int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hops = append(r.hops, Hop{URL: url, Status: status})
}

func (r *recorder) markCrashed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.crashed = true
}

// takeHops возвращает цепочку навигационных ответов и очищает её.
func (r *recorder) takeHops() []Hop {
	r.mu.Lock()
	defer r.mu.Unlock()
	hops := r.hops
	r.hops = nil
	return hops
}

func (r *recorder) drain() Signals {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Signals{
		Console:     r.console,
		Network:     r.network,
		Navigations: r.navigations,
		Crashed:     r.crashed,
	}
	r.console = nil
	r.network = nil
	r.navigations = nil
	return s
}
