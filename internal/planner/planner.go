// Package planner выбирает следующее действие исследования. Выбор
// детерминирован при фиксированном seed и не имеет побочных эффектов:
// историю обновляет оркестратор.
package planner

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"time"

	"explorer/internal/perception"
)

// Kind тип действия шага.
type Kind string

const (
	Navigate   Kind = "navigate"
	Click      Kind = "click"
	Type       Kind = "type"
	Scroll     Kind = "scroll"
	Wait       Kind = "wait"
	Screenshot Kind = "screenshot"
	Check      Kind = "check"
)

// Классы приоритета решения.
const (
	ClassIntent     = "intent"
	ClassPrimary    = "primary"
	ClassNavigation = "navigation"
	ClassForm       = "form"
	ClassScroll     = "scroll"
	ClassFrontier   = "frontier"
	ClassWait       = "wait"
)

const (
	// Попыток на одно действие по инструкции до признания его неисполнимым
	maxIntentTries = 2
	settleWait     = 2 * time.Second
)

type Action struct {
	Type     Kind
	Target   perception.Descriptor
	Ref      string
	Value    string
	URL      string
	Delta    int
	Duration time.Duration
	// Submit нажать Enter после ввода
	Submit bool
	// Key устойчивый ключ действия для истории и Safety Guard
	Key string
}

// Summary короткое описание цели действия.
func (a Action) Summary() string {
	switch a.Type {
	case Navigate:
		return a.URL
	case Scroll:
		return fmt.Sprintf("dy=%d", a.Delta)
	case Wait:
		return a.Duration.String()
	case Screenshot:
		return ""
	}
	return a.Target.Summary()
}

type Decision struct {
	Action   Action
	Reason   string
	Class    string
	IntentID string
	Done     bool
	// Unresolved намерения, для которых на странице нет подходящего элемента
	Unresolved []string
}

// Next выбирает действие по приоритетам: инструкции, основные призывы к
// действию, неисследованная навигация, заполнение форм. Когда страница
// исчерпана: прокрутка, затем следующий URL фронтира, затем завершение.
func Next(m *perception.PageModel, h *History, intents []Intent, rng *rand.Rand) Decision {
	if m == nil {
		return Decision{Done: true, Reason: "нет модели страницы"}
	}

	d, unresolved, ok := nextIntent(m, h, intents, rng)
	if ok {
		return d
	}

	d, ok = explore(m, h, rng)
	d.Unresolved = unresolved
	if ok {
		return d
	}

	d = exhausted(m, h)
	d.Unresolved = unresolved
	return d
}

func nextIntent(m *perception.PageModel, h *History, intents []Intent, rng *rand.Rand) (Decision, []string, bool) {
	for _, in := range intents {
		if h.Resolved(in.ID) {
			continue
		}

		if in.Verb == VerbOpen && in.URL != "" {
			a := navigateAction(in.URL)
			if h.Tries(a.Key) >= maxIntentTries {
				continue
			}
			return Decision{Action: a, Class: ClassIntent, IntentID: in.ID, Reason: "инструкция: " + in.Source}, nil, true
		}

		var best []perception.Affordance
		bestScore := 0.0
		for _, a := range m.Affordances {
			if a.Disabled || h.Suppressed(intentAction(in, a).Key) {
				continue
			}
			s := in.Matches(a)
			if s < 0.5 {
				continue
			}
			switch {
			case s > bestScore+1e-9:
				best, bestScore = []perception.Affordance{a}, s
			case math.Abs(s-bestScore) <= 1e-9:
				best = append(best, a)
			}
		}
		if len(best) == 0 {
			// Намерения выполняются по порядку: следующее ждёт текущего
			return Decision{}, []string{in.ID}, false
		}

		target := choose(best, h, rng, func(a perception.Affordance) string { return intentAction(in, a).Key })
		a := intentAction(in, target)
		if h.Tries(a.Key) >= maxIntentTries {
			continue
		}
		return Decision{
			Action:   a,
			Class:    ClassIntent,
			IntentID: in.ID,
			Reason:   fmt.Sprintf("инструкция %q: %s", in.Source, a.Target.Summary()),
		}, nil, true
	}
	return Decision{}, nil, false
}

func intentAction(in Intent, a perception.Affordance) Action {
	switch in.Verb {
	case VerbType:
		return typeAction(a, in.Value)
	case VerbSearch:
		act := typeAction(a, in.Value)
		act.Submit = true
		return act
	case VerbCheck:
		return checkAction(a)
	default:
		return clickAction(a)
	}
}

func explore(m *perception.PageModel, h *History, rng *rand.Rand) (Decision, bool) {
	var primary, nav []perception.Affordance
	for _, a := range eligible(m, h) {
		switch {
		case a.FormField() || a.Submit():
			// формы заполняются отдельно
		case a.Class == perception.Primary && h.Tries(clickAction(a).Key) == 0:
			if a.Navigational() && h.Visited(a.Href) {
				continue
			}
			primary = append(primary, a)
		case a.Navigational() && h.Tries(clickAction(a).Key) == 0 && !h.Visited(a.Href):
			nav = append(nav, a)
		}
	}

	if len(primary) > 0 {
		a := choose(primary, h, rng, func(a perception.Affordance) string { return clickAction(a).Key })
		return Decision{Action: clickAction(a), Class: ClassPrimary, Reason: "основной призыв к действию: " + perception.DescriptorOf(a).Summary()}, true
	}
	if len(nav) > 0 {
		a := choose(nav, h, rng, func(a perception.Affordance) string { return clickAction(a).Key })
		return Decision{Action: clickAction(a), Class: ClassNavigation, Reason: "неисследованный раздел: " + a.Href}, true
	}
	return nextFormStep(m, h)
}

// eligible элементы, доступные для автоматического выбора.
func eligible(m *perception.PageModel, h *History) []perception.Affordance {
	out := make([]perception.Affordance, 0, len(m.Affordances))
	for _, a := range m.Affordances {
		if a.Class == perception.Decorative || a.Disabled {
			continue
		}
		if bad, _ := Destructive(a); bad {
			continue
		}
		if a.Navigational() && !InScope(a.Href, h.Origin) {
			continue
		}
		if h.Suppressed(clickAction(a).Key) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// nextFormStep заполняет поля формы по порядку на странице, затем отправляет её.
func nextFormStep(m *perception.PageModel, h *History) (Decision, bool) {
	forms := map[string][]perception.Affordance{}
	var order []string
	for _, a := range eligible(m, h) {
		if !a.FormField() && !a.Submit() && !toggle(a) {
			continue
		}
		if h.Suppressed(typeAction(a, "").Key) || h.Suppressed(checkAction(a).Key) {
			continue
		}
		if _, ok := forms[a.FormID]; !ok {
			order = append(order, a.FormID)
		}
		forms[a.FormID] = append(forms[a.FormID], a)
	}
	sort.Strings(order)

	for _, id := range order {
		items := forms[id]
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].Rect.Y != items[j].Rect.Y {
				return items[i].Rect.Y < items[j].Rect.Y
			}
			return items[i].Rect.X < items[j].Rect.X
		})

		var submit *perception.Affordance
		var pending []perception.Affordance
		for i, a := range items {
			switch {
			case a.Submit():
				if submit == nil && h.Tries(clickAction(a).Key) == 0 {
					submit = &items[i]
				}
			case toggle(a):
				if !h.filledKey(checkAction(a).Key) {
					pending = append(pending, a)
				}
			default:
				if !h.filledKey(typeAction(a, "").Key) {
					pending = append(pending, a)
				}
			}
		}

		if len(pending) > 0 {
			a := pending[0]
			if toggle(a) {
				return Decision{Action: checkAction(a), Class: ClassForm, Reason: "заполнение формы: отметка " + perception.DescriptorOf(a).Summary()}, true
			}
			act := typeAction(a, SyntheticValue(a))
			// Без кнопки отправки последнее поле отправляется клавишей Enter
			act.Submit = len(pending) == 1 && submit == nil && !formSubmitted(items, h)
			return Decision{Action: act, Class: ClassForm, Reason: "заполнение формы: поле " + perception.DescriptorOf(a).Summary()}, true
		}
		if submit != nil {
			return Decision{Action: clickAction(*submit), Class: ClassForm, Reason: "отправка заполненной формы"}, true
		}
	}
	return Decision{}, false
}

func formSubmitted(items []perception.Affordance, h *History) bool {
	for _, a := range items {
		if a.Submit() && h.Tries(clickAction(a).Key) > 0 {
			return true
		}
	}
	return false
}

func toggle(a perception.Affordance) bool {
	return a.Tag == "input" && (a.InputType == "checkbox" || a.InputType == "radio")
}

func exhausted(m *perception.PageModel, h *History) Decision {
	if len(m.Affordances) == 0 {
		a := Action{Type: Wait, Duration: settleWait, Key: "wait|" + perception.NormalizeURL(m.URL)}
		if h.Tries(a.Key) == 0 {
			return Decision{Action: a, Class: ClassWait, Reason: "на странице нет элементов, ожидание загрузки"}
		}
	}

	if m.BelowFold() {
		a := scrollAction(m)
		if h.Tries(a.Key) == 0 {
			return Decision{Action: a, Class: ClassScroll, Reason: "ниже видимой области есть непросмотренный контент"}
		}
	}

	if u, ok := h.NextFrontier(); ok {
		return Decision{Action: navigateAction(u), Class: ClassFrontier, Reason: "переход к следующему непосещённому адресу: " + u}
	}
	return Decision{Done: true, Reason: "все доступные элементы и адреса исследованы"}
}

// choose выбирает среди кандидатов: заметность и класс, затем меньшее
// число попыток, затем псевдослучайно при равенстве.
func choose(items []perception.Affordance, h *History, rng *rand.Rand, key func(perception.Affordance) string) perception.Affordance {
	sorted := make([]perception.Affordance, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := rank(sorted[i]), rank(sorted[j])
		if ri != rj {
			return ri > rj
		}
		return h.Tries(key(sorted[i])) < h.Tries(key(sorted[j]))
	})

	top := 1
	for top < len(sorted) &&
		rank(sorted[top]) == rank(sorted[0]) &&
		h.Tries(key(sorted[top])) == h.Tries(key(sorted[0])) {
		top++
	}
	if rng == nil || top == 1 {
		return sorted[0]
	}
	return sorted[rng.Intn(top)]
}

func rank(a perception.Affordance) float64 {
	class := 0.0
	switch a.Class {
	case perception.Primary:
		class = 2
	case perception.Secondary:
		class = 1
	}
	return class*10 + a.Salience
}

func clickAction(a perception.Affordance) Action {
	return Action{Type: Click, Target: perception.DescriptorOf(a), Ref: a.Ref, Key: "click|" + a.Key()}
}

func typeAction(a perception.Affordance, value string) Action {
	return Action{Type: Type, Target: perception.DescriptorOf(a), Ref: a.Ref, Value: value, Key: "type|" + fieldKey(a)}
}

func checkAction(a perception.Affordance) Action {
	return Action{Type: Check, Target: perception.DescriptorOf(a), Ref: a.Ref, Key: "check|" + fieldKey(a)}
}

func fieldKey(a perception.Affordance) string {
	return a.FormID + "|" + a.Path + "|" + a.FieldName
}

func navigateAction(u string) Action {
	return Action{Type: Navigate, URL: u, Key: navigateKey(u)}
}

func navigateKey(u string) string {
	return "navigate|" + perception.NormalizeURL(u)
}

func scrollAction(m *perception.PageModel) Action {
	dy := int(m.Layout.ViewportHeight * 0.8)
	if dy <= 0 {
		dy = 600
	}
	return Action{
		Type:  Scroll,
		Delta: dy,
		Key:   "scroll|" + perception.NormalizeURL(m.URL) + "|" + strconv.Itoa(int(m.Layout.ScrollY)),
	}
}

// NavigateTo действие перехода по адресу, например к стартовой странице.
func NavigateTo(u string) Action {
	return navigateAction(u)
}
