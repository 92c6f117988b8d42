package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"explorer/internal/browser"
	"explorer/internal/perception"
	"explorer/internal/planner"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type actResult struct {
	err      error
	critical bool
	// irl элемент не удалось найти даже после повторного восприятия
	irl       bool
	redirects []string
	// redirectLoop браузер сам прервал цепочку редиректов
	redirectLoop bool
}

// executeStep выполняет одно решение и фиксирует шаг. Возвращает исход
// запуска, если шаг его завершил.
func (r *runner) executeStep(ctx context.Context, d planner.Decision) *outcome {
	r.seq++
	seq := r.seq
	a := d.Action

	ctx, span := tracer.Start(ctx, "engine.step")
	span.SetAttributes(attribute.Int("step", seq), attribute.String("action", string(a.Type)), attribute.String("class", d.Class))
	defer span.End()

	started := r.o.d.Now()
	step := Step{
		Seq:    seq,
		Action: string(a.Type),
		Target: r.describe(a),
		Reason: d.Reason,
		At:     started,
	}

	if p := r.guard.Admit(a.Key); p != nil {
		r.history.Suppress(a.Key)
		r.o.d.Metrics.Pattern(string(p.Kind))
		step.Status = StepSkipped
		step.Reason = "действие пропущено: " + p.Detail
		step.URL = r.currentURL()
		step.EvidenceRefs = r.patternEvidence(ctx, seq, p)
		r.commit(ctx, step, started)
		return nil
	}

	res := r.act(ctx, seq, a)
	r.history.Record(a)
	step.URL = r.currentURL()

	if res.err != nil {
		span.RecordError(res.err)
		step.Status = StepFailed
		step.Reason = fmt.Sprintf("%s: %s", d.Reason, r.o.d.Scrubber.Scrub(res.err.Error()))
		if out := r.interrupted(ctx); out != nil {
			r.commit(ctx, step, started)
			return out
		}
		if res.critical && !res.redirectLoop {
			r.commit(ctx, step, started)
			return &outcome{status: StatusFailed, reason: "сессия браузера недоступна: " + res.err.Error()}
		}
		r.errorPending = true
		if res.irl {
			r.irlPending = true
		}
		r.log.Warn("Действие не выполнено", r.contextFields(seq,
			zap.String("action", string(a.Type)),
			zap.String("target", step.Target),
			zap.Error(res.err))...)
	} else {
		step.Status = StepExecuted
		if d.IntentID != "" {
			r.history.ResolveIntent(d.IntentID)
		}
	}

	obs := r.observe(ctx, seq, a, res)
	step.ScreenshotRef = obs.screenshotRef
	step.EvidenceRefs = append(step.EvidenceRefs, obs.evidence...)
	if obs.url != "" {
		step.URL = obs.url
	}

	if obs.out != nil {
		switch obs.out.status {
		case StatusBlocked:
			step.Status = StepBlocked
			step.Reason = obs.out.reason
			if obs.screenshotRef != "" {
				step.EvidenceRefs = append([]string{obs.screenshotRef}, step.EvidenceRefs...)
			}
		case StatusFailed:
			step.Status = StepFailed
			step.Reason = obs.out.reason
		}
		r.commit(ctx, step, started)
		return obs.out
	}

	r.commit(ctx, step, started)
	return nil
}

// act выполняет действие в браузере. Все повторы укладываются в
// ActionAttempts; при пропаже элемента он ищется заново по дескриптору.
func (r *runner) act(ctx context.Context, seq int, a planner.Action) actResult {
	var res actResult

	switch a.Type {
	case planner.Navigate:
		var nav *browser.Navigation
		res.err = retryAction(ctx, r.cfg.ActionAttempts, r.cfg.RetryDelay, func() error {
			var err error
			nav, err = r.session.Navigate(ctx, a.URL)
			return err
		})
		if nav != nil {
			for _, hop := range nav.Hops {
				res.redirects = append(res.redirects, hop.URL)
			}
		}
		res.redirectLoop = errors.Is(res.err, browser.ErrTooManyRedirects)
		if res.err == nil && nav != nil {
			if nav.Status >= 400 {
				r.addIssue(ctx, Issue{
					Step:        seq,
					Category:    "network",
					Severity:    "high",
					Source:      "network",
					Description: fmt.Sprintf("страница %s вернула статус %d", r.o.d.Scrubber.ScrubURL(nav.URL), nav.Status),
				})
			}
		}
	case planner.Click, planner.Check:
		res.irl, res.err = r.onTarget(ctx, a, func(t browser.Target) error {
			return r.session.Click(ctx, t)
		})
	case planner.Type:
		res.irl, res.err = r.onTarget(ctx, a, func(t browser.Target) error {
			if err := r.session.Type(ctx, t, a.Value); err != nil {
				return err
			}
			if a.Submit {
				return r.session.Press(ctx, "Enter")
			}
			return nil
		})
	case planner.Scroll:
		res.err = retryAction(ctx, r.cfg.ActionAttempts, r.cfg.RetryDelay, func() error {
			return r.session.Scroll(ctx, a.Delta)
		})
	case planner.Wait:
		res.err = r.session.Wait(ctx, a.Duration)
	case planner.Screenshot:
		// снимок делает наблюдение
	default:
		res.err = fmt.Errorf("неизвестное действие %q", a.Type)
	}

	if res.err != nil {
		res.critical = isCriticalError(res.err)
	}
	return res
}

// onTarget действует на элемент по метке. Если элемент пропал, модель
// строится заново и элемент ищется по дескриптору; это и есть вторая попытка.
func (r *runner) onTarget(ctx context.Context, a planner.Action, fn func(browser.Target) error) (bool, error) {
	target := browser.Target{Ref: a.Ref}
	err := fn(target)
	if err == nil || isCriticalError(err) || r.cfg.ActionAttempts < 2 {
		return false, err
	}
	if !errors.Is(err, browser.ErrTargetNotFound) {
		if werr := sleepCtx(ctx, r.cfg.RetryDelay); werr != nil {
			return false, werr
		}
		if err := fn(target); err != nil {
			return false, fmt.Errorf("после %d попыток: %w", 2, err)
		}
		return false, nil
	}

	model, perr := r.o.d.Perceiver.Perceive(ctx, r.session)
	if perr != nil {
		return true, err
	}
	r.model = model

	ref, conf, ok := perception.Resolve(a.Target, model, r.cfg.ResolveConfidence)
	if !ok {
		return true, fmt.Errorf("элемент %q не найден (уверенность %.2f): %w", a.Target.Summary(), conf, browser.ErrTargetNotFound)
	}
	r.log.Info("Элемент найден повторно", r.contextFields(r.seq,
		zap.String("old_ref", a.Ref),
		zap.String("ref", ref.Ref),
		zap.Float64("confidence", conf))...)

	return false, fn(browser.Target{Ref: ref.Ref, X: ref.X, Y: ref.Y})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *runner) describe(a planner.Action) string {
	if a.Type == planner.Navigate {
		return r.o.d.Scrubber.ScrubURL(a.URL)
	}
	return r.o.d.Scrubber.Scrub(a.Summary())
}

func (r *runner) currentURL() string {
	if r.session == nil {
		return ""
	}
	return r.o.d.Scrubber.ScrubURL(r.session.URL())
}
