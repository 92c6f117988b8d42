package perception

import (
	"fmt"
	"math"
	"strings"
)

// DefaultResolveThreshold минимальная уверенность, при которой дескриптор
// считается найденным.
const DefaultResolveThreshold = 0.55

// Descriptor составное описание элемента: роль, текст, геометрия и
// структурный путь. Не зависит от CSS-классов и id.
type Descriptor struct {
	Role string
	Tag  string
	Text string
	Href string
	Path string
	Rect Rect
}

// ElementReference найденный в текущей модели элемент.
type ElementReference struct {
	Ref string
	X   float64
	Y   float64
}

func DescriptorOf(a Affordance) Descriptor {
	return Descriptor{
		Role: a.Role,
		Tag:  a.Tag,
		Text: a.Name(),
		Href: a.Href,
		Path: a.Path,
		Rect: a.Rect,
	}
}

// Summary короткое описание для шагов и событий.
func (d Descriptor) Summary() string {
	role := d.Role
	if role == "" {
		role = d.Tag
	}
	text := d.Text
	if len([]rune(text)) > 60 {
		text = string([]rune(text)[:60]) + "…"
	}
	if text == "" && d.Href != "" {
		text = d.Href
	}
	return fmt.Sprintf("%s %q", role, text)
}

// Resolve находит элемент модели, лучше всего соответствующий дескриптору.
// Возвращает уверенность в диапазоне [0,1]; ok=false при уверенности ниже порога.
func Resolve(d Descriptor, m *PageModel, threshold float64) (ElementReference, float64, bool) {
	if m == nil {
		return ElementReference{}, 0, false
	}
	if threshold <= 0 {
		threshold = DefaultResolveThreshold
	}

	best := -1
	bestScore := 0.0
	for i, a := range m.Affordances {
		s := matchScore(d, a)
		if s > bestScore {
			best, bestScore = i, s
		}
	}
	if best < 0 || bestScore < threshold {
		return ElementReference{}, bestScore, false
	}

	a := m.Affordances[best]
	x, y := a.Rect.Center()
	return ElementReference{Ref: a.Ref, X: x, Y: y}, bestScore, true
}

// matchScore: роль 0.15, текст 0.4, путь 0.25, геометрия 0.1, ссылка 0.1.
func matchScore(d Descriptor, a Affordance) float64 {
	score := 0.0

	if d.Role != "" && d.Role == a.Role {
		score += 0.15
	} else if d.Role == "" && d.Tag == a.Tag {
		score += 0.15
	}

	ts := textSimilarity(d.Text, a.Name())
	score += 0.4 * ts

	switch {
	case d.Path != "" && d.Path == a.Path:
		score += 0.25
	case d.Path != "" && sameParent(d.Path, a.Path):
		score += 0.1
	}

	if d.Rect.Area() > 0 && a.Rect.Area() > 0 {
		dx, dy := d.Rect.Center()
		ax, ay := a.Rect.Center()
		dist := math.Hypot(dx-ax, dy-ay)
		score += 0.1 * math.Max(0, 1-dist/300)
	}

	if d.Href != "" && d.Href == a.Href {
		score += 0.1
	} else if d.Href == "" && a.Href == "" {
		score += 0.05
	}

	// Тот же путь с другим текстом обычно означает другой элемент
	if ts == 0 && d.Text != "" && a.Name() != "" {
		score *= 0.8
	}
	return score
}

func sameParent(p1, p2 string) bool {
	i1 := strings.LastIndex(p1, ">")
	i2 := strings.LastIndex(p2, ">")
	return i1 > 0 && i2 > 0 && p1[:i1] == p2[:i2]
}

// textSimilarity 1 при совпадении без учёта регистра, иначе коэффициент
// Жаккара по словам с бонусом за вхождение.
func textSimilarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" && b == "" {
		return 0.5
	}
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	ta := strings.Fields(a)
	tb := strings.Fields(b)
	set := make(map[string]bool, len(ta))
	for _, t := range ta {
		set[t] = true
	}
	inter := 0
	union := len(set)
	seen := make(map[string]bool, len(tb))
	for _, t := range tb {
		if seen[t] {
			continue
		}
		seen[t] = true
		if set[t] {
			inter++
		} else {
			union++
		}
	}
	j := float64(inter) / float64(union)
	if strings.Contains(a, b) || strings.Contains(b, a) {
		j = math.Max(j, 0.7)
	}
	return j
}
