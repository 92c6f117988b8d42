// Package guard отслеживает циклы и бюджеты исследования: повтор
// состояний, зацикленные действия, стагнацию навигации и петли редиректов.
package guard

import (
	"fmt"
	"time"

	"explorer/internal/config"
)

// Kind вид обнаруженного паттерна.
type Kind string

const (
	StateLoop    Kind = "state-loop"
	ActionLoop   Kind = "action-loop"
	Stagnation   Kind = "stagnation"
	RedirectLoop Kind = "redirect-loop"
)

// Pattern обнаруженный паттерн. Сохраняется как доказательство блокировки.
type Pattern struct {
	Kind       Kind     `json:"kind"`
	Detail     string   `json:"detail"`
	Signatures []string `json:"signatures"`
	Count      int      `json:"count"`
}

type Thresholds struct {
	Window       int
	StateRepeat  int
	ActionRepeat int
	Stagnation   int
	MaxRedirects int
}

func DefaultThresholds() Thresholds {
	return Thresholds{Window: 20, StateRepeat: 5, ActionRepeat: 5, Stagnation: 10, MaxRedirects: 10}
}

// ThresholdsFrom берёт пороги из конфигурации, подставляя значения по
// умолчанию для незаданных.
func ThresholdsFrom(cfg config.Exploration) Thresholds {
	t := DefaultThresholds()
	if cfg.GuardWindow > 0 {
		t.Window = cfg.GuardWindow
	}
	if cfg.StateRepeat > 0 {
		t.StateRepeat = cfg.StateRepeat
	}
	if cfg.ActionRepeat > 0 {
		t.ActionRepeat = cfg.ActionRepeat
	}
	if cfg.Stagnation > 0 {
		t.Stagnation = cfg.Stagnation
	}
	if cfg.MaxRedirects > 0 {
		t.MaxRedirects = cfg.MaxRedirects
	}
	return t
}

type entry struct {
	sig    string
	action string
}

// Guard не потокобезопасен: принадлежит горутине одного прогона.
type Guard struct {
	th Thresholds

	window     []entry
	redirects  []string
	suppressed map[string]bool

	lastAction  string
	repeatCount int
	staleSteps  int
}

func New(th Thresholds) *Guard {
	if th.Window <= 0 {
		th = DefaultThresholds()
	}
	return &Guard{th: th, suppressed: make(map[string]bool)}
}

// Admit проверяет действие перед выполнением. Возвращает паттерн, если
// действие нужно пропустить; ключ после этого подавляется до конца прогона.
func (g *Guard) Admit(actionKey string) *Pattern {
	if g.suppressed[actionKey] {
		return &Pattern{Kind: ActionLoop, Detail: "действие подавлено после зацикливания: " + actionKey, Count: g.th.ActionRepeat}
	}
	if actionKey == g.lastAction && g.repeatCount >= g.th.ActionRepeat {
		g.suppressed[actionKey] = true
		return &Pattern{
			Kind:       ActionLoop,
			Detail:     fmt.Sprintf("действие %s повторено %d раз подряд без нового состояния", actionKey, g.repeatCount),
			Signatures: g.recentSignatures(),
			Count:      g.repeatCount,
		}
	}
	return nil
}

// Suppressed сообщает, подавлено ли действие.
func (g *Guard) Suppressed(actionKey string) bool {
	return g.suppressed[actionKey]
}

// Observe регистрирует результат шага. newState сообщает, что состояние
// страницы ранее не встречалось в прогоне; newAffordance что появились
// новые элементы. Возвращает паттерн, требующий блокировки прогона.
func (g *Guard) Observe(actionKey, sig string, newState, newAffordance bool) *Pattern {
	consecutive := actionKey == g.lastAction
	if newState {
		g.repeatCount = 0
	} else if consecutive {
		g.repeatCount++
	} else {
		g.repeatCount = 1
	}
	g.lastAction = actionKey

	if newAffordance {
		g.staleSteps = 0
	} else {
		g.staleSteps++
	}

	actionSeen := false
	sigCount := 1
	for _, e := range g.window {
		if e.action == actionKey {
			actionSeen = true
		}
		if e.sig == sig {
			sigCount++
		}
	}
	g.push(entry{sig: sig, action: actionKey})

	// Повтор состояния считается циклом только вместе с повтором действия:
	// пагинация возвращает похожие состояния, но разными действиями.
	// Одно и то же действие подряд обрабатывает Admit.
	if !newState && !consecutive && actionSeen && sigCount >= g.th.StateRepeat {
		return &Pattern{
			Kind:       StateLoop,
			Detail:     fmt.Sprintf("состояние повторилось %d раз за последние %d шагов", sigCount, len(g.window)),
			Signatures: g.recentSignatures(),
			Count:      sigCount,
		}
	}

	if g.staleSteps >= g.th.Stagnation {
		return &Pattern{
			Kind:       Stagnation,
			Detail:     fmt.Sprintf("%d шагов подряд без новых элементов", g.staleSteps),
			Signatures: g.recentSignatures(),
			Count:      g.staleSteps,
		}
	}
	return nil
}

// ObserveNavigations проверяет навигации главного фрейма за шаг. Длинная
// цепочка сразу считается петлёй. Переходы внутри цепочки копятся в окне
// рёбер: цикл A→B→A повторяет одно и то же ребро, а разные страницы,
// уводящие на один /login, дают разные рёбра.
func (g *Guard) ObserveNavigations(urls []string) *Pattern {
	if len(urls) > g.th.MaxRedirects {
		return &Pattern{
			Kind:       RedirectLoop,
			Detail:     fmt.Sprintf("цепочка редиректов длиной %d", len(urls)),
			Signatures: tail(urls, g.th.Window),
			Count:      len(urls),
		}
	}

	for i := 1; i < len(urls); i++ {
		if urls[i] == urls[i-1] {
			continue
		}
		edge := urls[i-1] + " → " + urls[i]
		g.redirects = append(g.redirects, edge)
		if len(g.redirects) > g.th.Window*2 {
			g.redirects = g.redirects[1:]
		}
		count := 0
		for _, e := range g.redirects {
			if e == edge {
				count++
			}
		}
		if count >= g.th.StateRepeat {
			return &Pattern{
				Kind:       RedirectLoop,
				Detail:     fmt.Sprintf("переход %s повторился в редиректах %d раз", edge, count),
				Signatures: tail(g.redirects, g.th.Window),
				Count:      count,
			}
		}
	}
	return nil
}

// RedirectAborted строит паттерн для цепочки, которую прервал сам браузер
// (ERR_TOO_MANY_REDIRECTS). Такая цепочка всегда петля.
func (g *Guard) RedirectAborted(urls []string) *Pattern {
	return &Pattern{
		Kind:       RedirectLoop,
		Detail:     fmt.Sprintf("браузер прервал цепочку редиректов после %d переходов", len(urls)),
		Signatures: tail(urls, g.th.Window),
		Count:      len(urls),
	}
}

func (g *Guard) push(e entry) {
	g.window = append(g.window, e)
	if len(g.window) > g.th.Window {
		g.window = g.window[1:]
	}
}

func (g *Guard) recentSignatures() []string {
	out := make([]string, 0, len(g.window))
	for _, e := range g.window {
		out = append(out, e.sig)
	}
	return out
}

func tail(items []string, n int) []string {
	if len(items) <= n {
		return append([]string(nil), items...)
	}
	return append([]string(nil), items[len(items)-n:]...)
}

// Verdict результат проверки бюджета.
type Verdict int

const (
	WithinBudget Verdict = iota
	SoftExceeded
	HardExceeded
)

type Budget struct {
	MaxSteps int
	Soft     time.Duration
	Hard     time.Duration
}

// Check: превышение числа шагов или мягкого лимита времени завершает прогон
// штатно, жёсткий лимит означает сбой.
func (b Budget) Check(steps int, elapsed time.Duration) (Verdict, string) {
	switch {
	case b.Hard > 0 && elapsed >= b.Hard:
		return HardExceeded, fmt.Sprintf("превышен жёсткий лимит времени %s", b.Hard)
	case b.MaxSteps > 0 && steps >= b.MaxSteps:
		return SoftExceeded, fmt.Sprintf("исчерпан бюджет шагов (%d)", b.MaxSteps)
	case b.Soft > 0 && elapsed >= b.Soft:
		return SoftExceeded, fmt.Sprintf("исчерпан мягкий лимит времени %s", b.Soft)
	}
	return WithinBudget, ""
}
