package browser

import (
	"fmt"
	"sort"
	"strings"
)

// RefAttribute временная метка, которую perception ставит на элементы страницы.
const RefAttribute = "data-explorer-ref"

type locatorStrategy int

const (
	strategyRef locatorStrategy = iota
	strategySelector
	strategyPoint
)

type locatorCandidate struct {
	selector string
	strategy locatorStrategy
	score    int
}

// RefSelector возвращает CSS-селектор по метке perception.
func RefSelector(ref string) string {
	return fmt.Sprintf("[%s=%q]", RefAttribute, ref)
}

// candidates упорядочивает способы найти цель: метка, селектор, координаты.
func (t Target) candidates() []locatorCandidate {
	var out []locatorCandidate
	if t.Ref != "" {
		out = append(out, locatorCandidate{selector: RefSelector(t.Ref), strategy: strategyRef, score: 100})
	}
	if t.Selector != "" && ValidateSelector(t.Selector) == nil {
		out = append(out, locatorCandidate{selector: t.Selector, strategy: strategySelector, score: 70})
	}
	if t.X > 0 || t.Y > 0 {
		out = append(out, locatorCandidate{strategy: strategyPoint, score: 30})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out
}

// Describe короткое описание цели для логов и ошибок.
func (t Target) Describe() string {
	switch {
	case t.Ref != "":
		return "ref=" + t.Ref
	case t.Selector != "":
		return t.Selector
	default:
		return fmt.Sprintf("(%.0f,%.0f)", t.X, t.Y)
	}
}

// ValidateSelector проверяет, что селектор является валидным CSS селектором, а не URL.
func ValidateSelector(selector string) error {
	trimmed := strings.TrimSpace(selector)
	if trimmed == "" {
		return fmt.Errorf("селектор не может быть пустым")
	}
	if strings.Contains(trimmed, "://") {
		return fmt.Errorf("селектор не может содержать протокол (://). Получен: %s", selector)
	}
	return nil
}
