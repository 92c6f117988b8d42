// Package perception строит структурную модель страницы: ранжированные
// элементы для взаимодействия, сводку раскладки, сигнатуру состояния и
// результаты структурных проверок.
package perception

import (
	"context"
	"math"
	"strings"
	"time"
)

// Page минимальный доступ к странице, нужный для восприятия.
type Page interface {
	Evaluate(ctx context.Context, script string, arg any) (any, error)
	Content(ctx context.Context) (string, error)
	URL() string
}

type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

func (r Rect) Center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

func (r Rect) Area() float64 {
	return r.Width * r.Height
}

// Overlap возвращает площадь пересечения прямоугольников.
func (r Rect) Overlap(o Rect) float64 {
	w := math.Min(r.X+r.Width, o.X+o.Width) - math.Max(r.X, o.X)
	h := math.Min(r.Y+r.Height, o.Y+o.Height) - math.Max(r.Y, o.Y)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Semantic смысловой класс элемента для приоритизации.
type Semantic string

const (
	Primary    Semantic = "primary"
	Secondary  Semantic = "secondary"
	Decorative Semantic = "decorative"
)

// Affordance элемент страницы, с которым можно взаимодействовать.
type Affordance struct {
	Ref          string
	Tag          string
	Role         string
	Text         string
	Label        string
	Href         string
	InputType    string
	Autocomplete string
	FieldName    string
	Placeholder  string
	ClassName    string
	Path         string
	FormID       string
	Rect         Rect
	Visible      bool
	InViewport   bool
	Disabled     bool
	Salience     float64
	Class        Semantic
}

// Name видимое имя элемента: текст, затем подпись, затем placeholder.
func (a Affordance) Name() string {
	switch {
	case a.Text != "":
		return a.Text
	case a.Label != "":
		return a.Label
	default:
		return a.Placeholder
	}
}

// Navigational сообщает, ведёт ли элемент на другую страницу.
func (a Affordance) Navigational() bool {
	if a.Tag != "a" && a.Role != "link" {
		return false
	}
	h := strings.ToLower(a.Href)
	return h != "" && !strings.HasPrefix(h, "javascript:") && !strings.HasSuffix(strings.TrimSuffix(h, "/"), "#")
}

// FormField сообщает, принимает ли элемент ввод текста.
func (a Affordance) FormField() bool {
	switch a.Tag {
	case "textarea":
		return true
	case "input":
		switch a.InputType {
		case "submit", "button", "reset", "image", "checkbox", "radio", "file", "hidden", "range", "color":
			return false
		}
		return true
	}
	return a.Role == "textbox" || a.Role == "searchbox"
}

// Submit сообщает, отправляет ли элемент форму.
func (a Affordance) Submit() bool {
	if a.Tag == "input" && (a.InputType == "submit" || a.InputType == "image") {
		return true
	}
	return a.Tag == "button" && a.FormID != "" && (a.InputType == "" || a.InputType == "submit")
}

// Key устойчивый ключ элемента между повторными восприятиями одной страницы.
func (a Affordance) Key() string {
	return a.Path + "|" + strings.ToLower(a.Name()) + "|" + a.Href
}

type Layout struct {
	ViewportWidth  float64
	ViewportHeight float64
	ScrollHeight   float64
	ScrollY        float64
	Links          int
	Buttons        int
	Inputs         int
	Forms          int
}

type Image struct {
	Src    string
	Alt    string
	HasAlt bool
	Broken bool
	Rect   Rect
}

// TextSample вычисленные стили текстового элемента для проверки контраста.
type TextSample struct {
	Path       string
	Text       string
	Color      string
	Background string
	FontSize   float64
	FontWeight int
}

// Overlay плавающая панель или диалог поверх страницы.
type Overlay struct {
	Path string
	Text string
}

// Contains сообщает, лежит ли элемент с путём p внутри панели.
func (o Overlay) Contains(p string) bool {
	return o.Path != "" && strings.HasPrefix(p, o.Path+">")
}

type Timing struct {
	DOMContentLoadedMs float64
	LoadMs             float64
	CLS                float64
}

// PageModel результат восприятия страницы. Неудавшиеся подзадачи перечислены в Degraded.
type PageModel struct {
	URL            string
	Title          string
	Text           string
	Affordances    []Affordance
	Layout         Layout
	Images         []Image
	TextSamples    []TextSample
	Frames         []string
	Overlays       []Overlay
	Timing         Timing
	PasswordFields int
	InsecureForms  []string
	MixedContent   []string
	Signature      Signature
	Degraded       []string
	CapturedAt     time.Time
}

// Find ищет элемент по метке.
func (m *PageModel) Find(ref string) (Affordance, bool) {
	for _, a := range m.Affordances {
		if a.Ref == ref {
			return a, true
		}
	}
	return Affordance{}, false
}

// BelowFold сообщает, есть ли непросмотренный контент ниже текущей прокрутки.
func (m *PageModel) BelowFold() bool {
	l := m.Layout
	return l.ScrollHeight > l.ScrollY+l.ViewportHeight+16
}

// Keys возвращает множество ключей элементов модели.
func (m *PageModel) Keys() map[string]struct{} {
	keys := make(map[string]struct{}, len(m.Affordances))
	for _, a := range m.Affordances {
		keys[a.Key()] = struct{}{}
	}
	return keys
}
