package planner

import (
	"explorer/internal/perception"
)

// History то, что планировщик знает о прогоне. Изменяется только
// оркестратором после выполнения действия.
type History struct {
	Origin string

	tries      map[string]int
	visited    map[string]bool
	frontier   []string
	inFrontier map[string]bool
	resolved   map[string]bool
	suppressed map[string]bool
	filled     map[string]bool
}

func NewHistory(origin string) *History {
	return &History{
		Origin:     origin,
		tries:      make(map[string]int),
		visited:    make(map[string]bool),
		inFrontier: make(map[string]bool),
		resolved:   make(map[string]bool),
		suppressed: make(map[string]bool),
		filled:     make(map[string]bool),
	}
}

// Record отмечает выполненное действие.
func (h *History) Record(a Action) {
	h.tries[a.Key]++
	if a.Type == Type || a.Type == Check {
		h.filled[a.Key] = true
	}
	if a.Type == Navigate && a.URL != "" {
		h.Visit(a.URL)
	}
}

func (h *History) Tries(key string) int {
	return h.tries[key]
}

// Visit отмечает URL посещённым.
func (h *History) Visit(rawURL string) {
	h.visited[perception.NormalizeURL(rawURL)] = true
}

func (h *History) Visited(rawURL string) bool {
	return h.visited[perception.NormalizeURL(rawURL)]
}

// Discover добавляет во фронтир непосещённые ссылки страницы в пределах сайта.
func (h *History) Discover(m *perception.PageModel) {
	if m == nil {
		return
	}
	h.Visit(m.URL)
	for _, a := range m.Affordances {
		if !a.Navigational() || !InScope(a.Href, h.Origin) {
			continue
		}
		if bad, _ := Destructive(a); bad {
			continue
		}
		u := perception.NormalizeURL(a.Href)
		if h.visited[u] || h.inFrontier[u] {
			continue
		}
		h.inFrontier[u] = true
		h.frontier = append(h.frontier, u)
	}
}

// NextFrontier первый непосещённый URL фронтира.
func (h *History) NextFrontier() (string, bool) {
	for _, u := range h.frontier {
		if !h.visited[u] && h.tries[navigateKey(u)] == 0 {
			return u, true
		}
	}
	return "", false
}

func (h *History) ResolveIntent(id string) {
	h.resolved[id] = true
}

func (h *History) Resolved(id string) bool {
	return h.resolved[id]
}

// Suppress исключает действие из дальнейшего выбора.
func (h *History) Suppress(key string) {
	h.suppressed[key] = true
}

func (h *History) Suppressed(key string) bool {
	return h.suppressed[key]
}

func (h *History) filledKey(key string) bool {
	return h.filled[key]
}
