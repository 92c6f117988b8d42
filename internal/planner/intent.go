package planner

import (
	"fmt"
	"regexp"
	"strings"

	"explorer/internal/perception"
)

// Verb вид действия, запрошенного в инструкции.
type Verb string

const (
	VerbClick  Verb = "click"
	VerbOpen   Verb = "open"
	VerbType   Verb = "type"
	VerbSearch Verb = "search"
	VerbCheck  Verb = "check"
)

var verbs = map[string]Verb{
	"click": VerbClick, "press": VerbClick, "tap": VerbClick, "нажми": VerbClick, "нажать": VerbClick, "кликни": VerbClick,
	"open": VerbOpen, "go": VerbOpen, "visit": VerbOpen, "navigate": VerbOpen, "открой": VerbOpen, "перейди": VerbOpen,
	"type": VerbType, "enter": VerbType, "fill": VerbType, "input": VerbType, "введи": VerbType, "заполни": VerbType,
	"search": VerbSearch, "find": VerbSearch, "look": VerbSearch, "найди": VerbSearch, "поищи": VerbSearch,
	"check": VerbCheck, "tick": VerbCheck, "select": VerbCheck, "отметь": VerbCheck, "выбери": VerbCheck,
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "to": true, "for": true, "on": true, "in": true, "into": true,
	"with": true, "at": true, "of": true, "button": true, "link": true, "page": true, "field": true,
	"box": true, "up": true, "out": true, "then": true, "and": true, "it": true, "please": true,
	"на": true, "в": true, "во": true, "для": true, "по": true, "кнопку": true, "ссылку": true,
	"страницу": true, "поле": true, "и": true, "с": true,
}

var (
	quotedRe = regexp.MustCompile(`"([^"]*)"|'([^']*)'|«([^»]*)»`)
	urlRe    = regexp.MustCompile(`https?://\S+`)
	clauseRe = regexp.MustCompile(`(?i)[.;,\n]+|\s+(?:then|and|затем|потом|и)\s+`)
	wordRe   = regexp.MustCompile(`[\p{L}\p{N}\-]+`)
)

// Intent цель, извлечённая из инструкций пользователя.
type Intent struct {
	ID       string
	Verb     Verb
	Keywords []string
	Value    string
	URL      string
	Source   string
}

// ParseInstructions разбирает инструкции на намерения по глаголам. Значения
// в кавычках становятся вводимым текстом или текстом цели.
func ParseInstructions(text string) []Intent {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	// Кавычки убираем заранее, чтобы разделители внутри них не резали фразу
	var quoted []string
	masked := quotedRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := quotedRe.FindStringSubmatch(m)
		val := sub[1] + sub[2] + sub[3]
		quoted = append(quoted, val)
		return fmt.Sprintf(" QUOTED%d ", len(quoted)-1)
	})
	var urls []string
	masked = urlRe.ReplaceAllStringFunc(masked, func(m string) string {
		// Точка в конце предложения не часть адреса
		trimmed := strings.TrimRight(m, ".,;!?)")
		urls = append(urls, trimmed)
		return " URLREF " + m[len(trimmed):]
	})

	var intents []Intent
	urlIdx := 0
	for _, clause := range clauseRe.Split(masked, -1) {
		words := wordRe.FindAllString(clause, -1)
		if len(words) == 0 {
			continue
		}
		verb, ok := Verb(""), false
		var rest []string
		for _, w := range words {
			lw := strings.ToLower(w)
			if !ok {
				if v, found := verbs[lw]; found {
					verb, ok = v, true
					continue
				}
			}
			rest = append(rest, w)
		}
		if !ok {
			continue
		}

		in := Intent{ID: fmt.Sprintf("i%d", len(intents)+1), Verb: verb, Source: strings.TrimSpace(restore(clause, quoted, urls))}
		for _, w := range rest {
			switch {
			case strings.HasPrefix(w, "QUOTED"):
				var idx int
				if _, err := fmt.Sscanf(w, "QUOTED%d", &idx); err == nil && idx < len(quoted) {
					in.Value = quoted[idx]
				}
			case w == "URLREF":
				if urlIdx < len(urls) {
					in.URL = urls[urlIdx]
					urlIdx++
				}
			default:
				lw := strings.ToLower(w)
				if !stopWords[lw] {
					in.Keywords = append(in.Keywords, lw)
				}
			}
		}
		// Для клика текст в кавычках и есть цель
		if (in.Verb == VerbClick || in.Verb == VerbOpen || in.Verb == VerbCheck) && in.Value != "" {
			in.Keywords = append(in.Keywords, strings.Fields(strings.ToLower(in.Value))...)
		}
		if in.Verb == VerbSearch && in.Value == "" && len(in.Keywords) > 0 {
			in.Value = strings.Join(in.Keywords, " ")
			in.Keywords = nil
		}
		intents = append(intents, in)
	}
	return intents
}

func restore(clause string, quoted, urls []string) string {
	out := clause
	for i, q := range quoted {
		out = strings.ReplaceAll(out, fmt.Sprintf("QUOTED%d", i), `"`+q+`"`)
	}
	return strings.ReplaceAll(out, "URLREF", "<url>")
}

// Matches оценивает, насколько элемент подходит намерению: доля ключевых
// слов, найденных в тексте, подписи, placeholder, имени поля и ссылке.
func (in Intent) Matches(a perception.Affordance) float64 {
	switch in.Verb {
	case VerbType:
		if !a.FormField() {
			return 0
		}
	case VerbSearch:
		if !a.FormField() {
			return 0
		}
		if len(in.Keywords) == 0 {
			if searchField(a) {
				return 1
			}
			return 0
		}
	case VerbCheck:
		if a.InputType != "checkbox" && a.InputType != "radio" && a.Role != "checkbox" && a.Role != "radio" && a.Role != "tab" {
			return 0
		}
	default:
		if a.FormField() {
			return 0
		}
	}
	if len(in.Keywords) == 0 {
		return 0
	}

	hay := strings.ToLower(strings.Join([]string{a.Name(), a.Label, a.Placeholder, a.FieldName, a.Href, a.Autocomplete}, " "))
	hit := 0
	for _, kw := range in.Keywords {
		if strings.Contains(hay, kw) {
			hit++
		}
	}
	return float64(hit) / float64(len(in.Keywords))
}

func searchField(a perception.Affordance) bool {
	if a.InputType == "search" || a.Role == "searchbox" {
		return true
	}
	name := strings.ToLower(a.FieldName + " " + a.Placeholder + " " + a.Label)
	return a.FieldName == "q" || strings.Contains(name, "search") || strings.Contains(name, "поиск")
}
