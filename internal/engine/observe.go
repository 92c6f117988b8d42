package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"explorer/internal/blocker"
	"explorer/internal/browser"
	"explorer/internal/events"
	"explorer/internal/guard"
	"explorer/internal/perception"
	"explorer/internal/planner"
	"explorer/internal/vision"

	"go.uber.org/zap"
)

type observation struct {
	url           string
	screenshotRef string
	evidence      []string
	out           *outcome
}

// observe строит модель страницы после действия, собирает сигналы и
// улики, проверяет блокеры, паттерны и при необходимости вызывает
// визуальную проверку.
func (r *runner) observe(ctx context.Context, seq int, a planner.Action, res actResult) observation {
	var obs observation

	model, err := r.o.d.Perceiver.Perceive(ctx, r.session)
	if err != nil {
		if out := r.interrupted(ctx); out != nil {
			obs.out = out
			return obs
		}
		r.log.Warn("Не удалось построить модель страницы", r.contextFields(seq, zap.Error(err))...)
		obs.out = &outcome{status: StatusFailed, reason: "не удалось построить модель страницы: " + err.Error()}
		return obs
	}
	r.model = model
	obs.url = r.o.d.Scrubber.ScrubURL(model.URL)
	if len(model.Degraded) > 0 {
		r.log.Debug("Модель страницы построена не полностью", r.contextFields(seq,
			zap.String("url", obs.url),
			zap.Strings("degraded", model.Degraded))...)
	}

	signals := r.session.Drain()
	if signals.Crashed {
		obs.out = &outcome{status: StatusFailed, reason: "вкладка браузера аварийно завершилась"}
		return obs
	}
	r.history.Discover(model)

	shot, shotRef := r.capture(ctx, seq)
	obs.screenshotRef = shotRef

	errorsDetected := res.err != nil || r.errorPending || signals.HasErrors()
	obs.evidence = append(obs.evidence, r.recordSignals(ctx, seq, signals)...)
	r.recordFindings(ctx, seq, model, shotRef)

	if len(r.forced) == 0 {
		if out, refs := r.handleBlocker(ctx, seq, model); out != nil {
			obs.evidence = append(obs.evidence, refs...)
			obs.out = out
			return obs
		}
	}

	sig := model.Signature.Key()
	newState := !r.seenStates[sig]
	r.seenStates[sig] = true
	newAffordance := false
	for k := range model.Keys() {
		if !r.seenAffordances[k] {
			r.seenAffordances[k] = true
			newAffordance = true
		}
	}

	// хопы ответа и навигации фрейма описывают один и тот же переход
	navs := signals.Navigations
	if len(res.redirects) > len(navs) {
		navs = res.redirects
	}
	var p *guard.Pattern
	if res.redirectLoop {
		p = r.guard.RedirectAborted(navs)
	} else {
		p = r.guard.ObserveNavigations(navs)
	}
	if p == nil {
		p = r.guard.Observe(a.Key, sig, newState, newAffordance)
	}
	if p != nil {
		r.o.d.Metrics.Pattern(string(p.Kind))
		r.o.d.Metrics.Blocker(string(blocker.Loop), false)
		obs.evidence = append(obs.evidence, r.patternEvidence(ctx, seq, p)...)
		obs.out = &outcome{status: StatusBlocked, reason: "обнаружен цикл: " + p.Detail, blocker: string(blocker.Loop)}
		r.log.Warn("Исследование зациклилось", r.contextFields(seq, zap.String("kind", string(p.Kind)), zap.String("detail", p.Detail))...)
		return obs
	}

	r.runVision(ctx, seq, model, shot, shotRef, errorsDetected)
	r.errorPending = false
	r.irlPending = false
	return obs
}

func (r *runner) capture(ctx context.Context, seq int) ([]byte, string) {
	png, err := r.session.Screenshot(ctx)
	if err != nil || len(png) == 0 {
		r.log.Warn("Не удалось сделать скриншот", r.contextFields(seq, zap.Error(err))...)
		return nil, ""
	}
	id, err := r.evidence.Screenshot(ctx, seq, png)
	if err != nil {
		r.log.Warn("Не удалось сохранить скриншот", r.contextFields(seq, zap.Error(err))...)
		return png, ""
	}
	r.state.addEvidence(id)
	return png, id
}

// recordSignals превращает ошибки консоли и сети в проблемы и сохраняет
// их как улики.
func (r *runner) recordSignals(ctx context.Context, seq int, s browser.Signals) []string {
	var refs []string

	var consoleErrors []browser.ConsoleEntry
	for _, c := range s.Console {
		if c.Level == "error" || c.Level == "pageerror" {
			c.Text = r.o.d.Scrubber.Scrub(c.Text)
			c.URL = r.o.d.Scrubber.ScrubURL(c.URL)
			consoleErrors = append(consoleErrors, c)
		}
	}
	if len(consoleErrors) > 0 {
		ref := r.keep(r.evidence.Console(ctx, seq, consoleErrors))
		if ref != "" {
			refs = append(refs, ref)
		}
		for _, c := range consoleErrors {
			severity := "medium"
			if c.Level == "pageerror" {
				severity = "high"
			}
			r.addIssue(ctx, Issue{
				Step:        seq,
				Category:    "console",
				Severity:    severity,
				Source:      "console",
				Description: "ошибка JavaScript: " + c.Text,
				EvidenceRef: ref,
			})
		}
	}

	if len(s.Network) > 0 {
		entries := make([]browser.NetworkEntry, 0, len(s.Network))
		for _, n := range s.Network {
			n.URL = r.o.d.Scrubber.ScrubURL(n.URL)
			entries = append(entries, n)
		}
		ref := r.keep(r.evidence.Network(ctx, seq, entries))
		if ref != "" {
			refs = append(refs, ref)
		}
		for _, n := range entries {
			severity, desc := "medium", fmt.Sprintf("%s %s вернул статус %d", n.Method, n.URL, n.Status)
			switch {
			case n.Failure != "":
				severity, desc = "high", fmt.Sprintf("%s %s не выполнен: %s", n.Method, n.URL, n.Failure)
			case n.Status >= 500:
				severity = "high"
			}
			r.addIssue(ctx, Issue{
				Step:        seq,
				Category:    "network",
				Severity:    severity,
				Source:      "network",
				Description: desc,
				EvidenceRef: ref,
			})
		}
	}
	return refs
}

func (r *runner) recordFindings(ctx context.Context, seq int, m *perception.PageModel, shotRef string) {
	for _, f := range perception.Check(m, perception.CheckOptions{Mobile: r.profile.Mobile}) {
		r.addIssue(ctx, Issue{
			Step:        seq,
			Category:    f.Category,
			Severity:    f.Severity,
			Source:      "structural",
			Description: r.o.d.Scrubber.Scrub(f.Description),
			Suggestion:  f.Suggestion,
			EvidenceRef: shotRef,
		})
	}
}

// handleBlocker решает, что делать с найденным блокером. Баннер cookie
// закрывается одним отдельным шагом, запрос кода проходит только с кодом
// от оператора, остальное останавливает запуск.
func (r *runner) handleBlocker(ctx context.Context, seq int, m *perception.PageModel) (*outcome, []string) {
	det := r.o.d.Blockers.Classify(m)
	if det == nil {
		r.dismissing = false
		r.otpSubmitted = false
		return nil, nil
	}

	switch {
	case det.Dismissible() && !r.dismissing:
		r.dismissing = true
		r.forced = append(r.forced, planner.Decision{
			Action: clickOn(*det.Dismiss),
			Class:  "blocker",
			Reason: "закрытие баннера cookie: " + det.Dismiss.Name(),
		})
		r.o.d.Metrics.Blocker(string(det.Kind), true)
		r.log.Info("Баннер cookie будет закрыт", r.contextFields(seq, zap.String("button", det.Dismiss.Name()))...)
		return nil, nil

	case det.Kind == blocker.MFA && det.OTPField != nil && !r.otpSubmitted:
		if code, ok := r.ctl.TakeOTP(); ok {
			r.otpSubmitted = true
			r.forced = append(r.forced, otpDecisions(det, code)...)
			r.log.Info("Вводится код подтверждения от оператора", r.contextFields(seq)...)
			return nil, nil
		}
	}

	reason := blockerReason(det, r.dismissing, r.otpSubmitted)
	var refs []string
	if html, err := r.session.Content(ctx); err == nil {
		if ref := r.keep(r.evidence.DOM(ctx, seq, html)); ref != "" {
			refs = append(refs, ref)
		}
	}
	r.o.d.Metrics.Blocker(string(det.Kind), false)
	r.log.Warn("Исследование заблокировано", r.contextFields(seq, zap.String("blocker", string(det.Kind)), zap.String("evidence", det.Evidence))...)
	return &outcome{status: StatusBlocked, reason: reason, blocker: string(det.Kind)}, refs
}

func blockerReason(det *blocker.Detection, dismissing, otpSubmitted bool) string {
	switch {
	case det.Kind == blocker.CookieConsent && dismissing:
		return "баннер cookie не закрылся после нажатия кнопки согласия"
	case det.Kind == blocker.CookieConsent:
		return "баннер cookie без кнопки согласия: " + det.Evidence
	case det.Kind == blocker.MFA && otpSubmitted:
		return "код подтверждения не принят"
	case det.Kind == blocker.MFA:
		return "требуется код подтверждения: " + det.Evidence
	}
	return fmt.Sprintf("обнаружен блокер %s: %s", det.Kind, det.Evidence)
}

func clickOn(a perception.Affordance) planner.Action {
	return planner.Action{Type: planner.Click, Target: perception.DescriptorOf(a), Ref: a.Ref, Key: "click|" + a.Key()}
}

func otpDecisions(det *blocker.Detection, code string) []planner.Decision {
	field := *det.OTPField
	typing := planner.Decision{
		Action: planner.Action{
			Type:   planner.Type,
			Target: perception.DescriptorOf(field),
			Ref:    field.Ref,
			Value:  code,
			Submit: det.Submit == nil,
			Key:    "otp|" + field.Key(),
		},
		Class:  "blocker",
		Reason: "ввод кода подтверждения",
	}
	out := []planner.Decision{typing}
	if det.Submit != nil {
		out = append(out, planner.Decision{
			Action: clickOn(*det.Submit),
			Class:  "blocker",
			Reason: "отправка кода подтверждения",
		})
	}
	return out
}

func (r *runner) runVision(ctx context.Context, seq int, m *perception.PageModel, shot []byte, shotRef string, errorsDetected bool) {
	if !r.o.d.Vision.Enabled() {
		return
	}
	ok, trigger := r.policy.ShouldInvoke(seq, errorsDetected, r.irlPending)
	if !ok {
		return
	}

	res := r.o.d.Vision.Validate(ctx, vision.Request{
		Screenshot: shot,
		URL:        m.URL,
		Goal:       r.goal,
		Step:       seq,
		Trigger:    trigger,
	})
	_ = r.o.d.Recorder.SaveVision(ctx, r.runID, seq, trigger, r.o.d.VisionModel, res)
	r.o.d.Metrics.Vision(string(trigger), string(res.Outcome), res.Latency)

	if res.Outcome != vision.OK {
		r.log.Warn("Визуальная проверка не удалась", r.contextFields(seq,
			zap.String("trigger", string(trigger)),
			zap.String("outcome", string(res.Outcome)),
			zap.Error(res.Err))...)
		return
	}
	for _, is := range res.Issues {
		r.addIssue(ctx, Issue{
			Step:        seq,
			Category:    "visual",
			Severity:    vision.NormalizeSeverity(is.Severity),
			Source:      "vision",
			Description: r.o.d.Scrubber.Scrub(is.Description),
			Suggestion:  r.o.d.Scrubber.Scrub(is.Suggestion),
			EvidenceRef: shotRef,
		})
	}
}

func (r *runner) patternEvidence(ctx context.Context, seq int, p *guard.Pattern) []string {
	summary := fmt.Sprintf("%s: %s", p.Kind, p.Detail)
	if ref := r.keep(r.evidence.Pattern(ctx, seq, summary, p)); ref != "" {
		return []string{ref}
	}
	return nil
}

// keep регистрирует улику в запуске; ошибка сохранения только логируется.
func (r *runner) keep(id string, err error) string {
	if err != nil {
		r.log.Warn("Не удалось сохранить улику", r.contextFields(r.seq, zap.Error(err))...)
		return ""
	}
	r.state.addEvidence(id)
	return id
}

// addIssue сохраняет проблему; повтор той же проблемы на той же странице
// не дублируется.
func (r *runner) addIssue(ctx context.Context, is Issue) {
	page := ""
	if r.model != nil {
		page = perception.NormalizeURL(r.model.URL)
	}
	key := strings.Join([]string{is.Source, is.Category, is.Description, page}, "|")
	if r.seenIssues[key] {
		return
	}
	r.seenIssues[key] = true

	r.state.appendIssue(is)
	_ = r.o.d.Recorder.SaveIssue(ctx, r.runID, is)
	r.o.d.Metrics.Issue(is.Category, is.Severity, is.Source)
	_ = r.o.d.Bus.Publish(ctx, events.Event{
		Kind:          events.KindIssue,
		RunID:         r.runID,
		StepNumber:    is.Step,
		TargetSummary: is.Description,
		Reason:        is.Severity,
		Timestamp:     r.o.d.Now(),
	})
}

// commit добавляет шаг в журнал запуска и публикует событие шага.
func (r *runner) commit(ctx context.Context, step Step, started time.Time) {
	r.state.appendStep(step)
	_ = r.o.d.Recorder.SaveStep(ctx, r.runID, step)
	r.o.d.Metrics.Step(step.Action, string(step.Status), r.o.d.Now().Sub(started))

	err := r.o.d.Bus.Publish(ctx, events.Event{
		Kind:          events.KindStep,
		RunID:         r.runID,
		StepNumber:    step.Seq,
		Action:        step.Action,
		TargetSummary: step.Target,
		ScreenshotRef: step.ScreenshotRef,
		Status:        string(step.Status),
		Reason:        step.Reason,
		Timestamp:     step.At,
	})
	if err != nil {
		r.log.Debug("Событие шага не доставлено внешнему получателю", r.contextFields(step.Seq, zap.Error(err))...)
	}

	r.log.Info("Шаг выполнен", r.contextFields(step.Seq,
		zap.String("action", step.Action),
		zap.String("target", step.Target),
		zap.String("status", string(step.Status)))...)
}
