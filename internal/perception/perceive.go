package perception

import (
	"context"
	"sort"
	"strings"
	"time"

	"explorer/internal/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("explorer/perception")

// ctaWords тексты, типичные для основных призывов к действию.
var ctaWords = []string{
	"get started", "sign up", "signup", "register", "start", "try", "buy", "add to cart",
	"book", "subscribe", "join", "create", "download", "contact", "request", "order", "search",
	"начать", "регистрац", "купить", "заказать", "в корзину", "попробовать", "подписаться", "найти",
}

type Perceiver struct {
	log *logger.Zap
	now func() time.Time
}

func New(log *logger.Zap) *Perceiver {
	return &Perceiver{log: log.Named("perception"), now: time.Now}
}

// Perceive строит модель текущей страницы. Ошибки отдельных подзадач не
// прерывают восприятие, а попадают в PageModel.Degraded; ошибка
// возвращается только при отмене контекста.
func (p *Perceiver) Perceive(ctx context.Context, page Page) (*PageModel, error) {
	ctx, span := tracer.Start(ctx, "perception.perceive")
	defer span.End()

	model := &PageModel{URL: page.URL(), CapturedAt: p.now()}

	affordances, err := extractAffordances(ctx, page)
	if err != nil {
		model.Degraded = append(model.Degraded, "affordances: "+err.Error())
	}

	facts, err := page.Evaluate(ctx, factsScript, nil)
	if err != nil {
		model.Degraded = append(model.Degraded, "facts: "+err.Error())
	} else if m, ok := facts.(map[string]any); ok {
		applyFacts(model, m)
	} else {
		model.Degraded = append(model.Degraded, "facts: неверный формат")
	}

	html, err := page.Content(ctx)
	if err != nil {
		model.Degraded = append(model.Degraded, "dom: "+err.Error())
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	model.Affordances = Rank(affordances, model.Layout)
	model.Signature = ComputeSignature(model.URL, html)
	if html == "" {
		model.Signature.Shape = shapeFromAffordances(model.Affordances)
		model.Signature.Text = digest(model.Text)
	}

	span.SetAttributes(
		attribute.Int("affordances", len(model.Affordances)),
		attribute.Int("degraded", len(model.Degraded)),
	)
	if len(model.Degraded) > 0 {
		p.log.Warn("Восприятие страницы неполное",
			zap.String("url", model.URL),
			zap.Strings("degraded", model.Degraded),
		)
	}
	return model, nil
}

// Rank вычисляет заметность и смысловой класс элементов и сортирует их
// по убыванию заметности. Порядок равных элементов сохраняется.
func Rank(items []Affordance, layout Layout) []Affordance {
	out := make([]Affordance, len(items))
	copy(out, items)
	for i := range out {
		out[i].Class = classify(out[i], layout)
		out[i].Salience = salience(out[i], layout)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Salience > out[j].Salience
	})
	return out
}

func classify(a Affordance, layout Layout) Semantic {
	name := strings.ToLower(a.Name())
	if a.Disabled || (name == "" && a.Href == "" && !a.FormField()) || a.Rect.Width < 8 || a.Rect.Height < 8 {
		return Decorative
	}

	cls := strings.ToLower(a.ClassName)
	if strings.Contains(cls, "primary") || strings.Contains(cls, "cta") || strings.Contains(cls, "hero") {
		return Primary
	}

	buttonLike := a.Tag == "button" || a.Role == "button" || a.Submit()
	if buttonLike || (a.Tag == "a" && strings.Contains(cls, "btn")) {
		for _, w := range ctaWords {
			if strings.Contains(name, w) {
				return Primary
			}
		}
		// Крупная кнопка в первом экране
		if layout.ViewportWidth > 0 && a.Rect.Y < layout.ViewportHeight && a.Rect.Area() > 120*36 {
			return Primary
		}
	}
	return Secondary
}

func salience(a Affordance, layout Layout) float64 {
	score := 0.0
	switch a.Class {
	case Primary:
		score += 3
	case Secondary:
		score += 1
	}
	if a.InViewport {
		score += 1.5
	}
	if layout.ViewportHeight > 0 && a.Rect.Y < layout.ViewportHeight {
		score += 0.5
	}

	// Площадь с насыщением: крупные элементы заметнее, но не бесконечно
	area := a.Rect.Area()
	if area > 0 {
		score += min(area/20000, 1.5)
	}

	switch {
	case a.Tag == "button" || a.Role == "button":
		score += 0.7
	case a.FormField():
		score += 0.5
	case a.Navigational():
		score += 0.4
	}
	if a.Label != "" || a.Text != "" {
		score += 0.3
	}
	return score
}
