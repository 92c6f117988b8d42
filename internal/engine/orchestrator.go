// Package engine ведёт запуск исследования: открывает сессию, выполняет
// цикл DIAGNOSE → PLAN → ACT → OBSERVE и фиксирует шаги, проблемы, улики и
// итоговый статус.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"explorer/internal/blocker"
	"explorer/internal/browser"
	"explorer/internal/config"
	"explorer/internal/events"
	"explorer/internal/evidence"
	"explorer/internal/guard"
	"explorer/internal/hitl"
	"explorer/internal/logger"
	"explorer/internal/metrics"
	"explorer/internal/perception"
	"explorer/internal/planner"
	"explorer/internal/sanitizer"
	"explorer/internal/vision"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("explorer/engine")

// SessionOpener открывает изолированную сессию браузера. *browser.Launcher
// удовлетворяет интерфейсу.
type SessionOpener interface {
	Open(ctx context.Context, profile browser.DeviceProfile) (browser.Session, error)
}

// Perceiver строит модель страницы. *perception.Perceiver удовлетворяет интерфейсу.
type Perceiver interface {
	Perceive(ctx context.Context, page perception.Page) (*perception.PageModel, error)
}

// EvidenceFactory создаёт хранилище улик запуска.
type EvidenceFactory func(runID string) (*evidence.Collector, error)

type Deps struct {
	Browser     SessionOpener
	Perceiver   Perceiver
	Vision      *vision.Validator
	VisionModel string
	Blockers    *blocker.Classifier
	Recorder    Recorder
	Evidence    EvidenceFactory
	Scrubber    *sanitizer.Scrubber
	Bus         *events.Bus
	Metrics     *metrics.Collector
	Log         *logger.Zap
	Config      config.Exploration
	Now         func() time.Time
}

type Orchestrator struct {
	d Deps
}

func NewOrchestrator(d Deps) *Orchestrator {
	if d.Log == nil {
		d.Log = logger.NewNop()
	}
	if d.Recorder == nil {
		d.Recorder = NopRecorder{}
	}
	if d.Bus == nil {
		d.Bus = events.NewBus()
	}
	if d.Blockers == nil {
		d.Blockers = blocker.New(blocker.DefaultLexicon())
	}
	if d.Scrubber == nil {
		d.Scrubber = sanitizer.New()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Evidence == nil {
		log, scrub := d.Log, d.Scrubber
		d.Evidence = func(runID string) (*evidence.Collector, error) {
			return evidence.New(runID, "", nil, scrub, log)
		}
	}
	if d.Config.ActionAttempts <= 0 || d.Config.ActionAttempts > 2 {
		d.Config.ActionAttempts = 2
	}
	if d.Config.ResolveConfidence <= 0 {
		d.Config.ResolveConfidence = perception.DefaultResolveThreshold
	}
	return &Orchestrator{d: d}
}

// Bus шина событий запусков.
func (o *Orchestrator) Bus() *events.Bus {
	return o.d.Bus
}

type outcome struct {
	status  Status
	reason  string
	blocker string
}

// runner состояние одного запуска. Принадлежит его горутине.
type runner struct {
	o       *Orchestrator
	state   *runState
	ctl     *hitl.Controller
	log     *logger.Zap
	cfg     config.Exploration
	runID   string
	target  string
	profile browser.DeviceProfile

	session  browser.Session
	evidence *evidence.Collector
	history  *planner.History
	guard    *guard.Guard
	budget   guard.Budget
	policy   vision.Policy
	rng      *rand.Rand

	intents    []planner.Intent
	goal       string
	generation int

	model   *perception.PageModel
	seq     int
	started time.Time
	paused  time.Duration

	seenStates      map[string]bool
	seenAffordances map[string]bool
	seenIssues      map[string]bool
	unresolved      map[string]bool

	forced       []planner.Decision
	dismissing   bool
	otpSubmitted bool
	errorPending bool
	irlPending   bool
}

func (o *Orchestrator) newRunner(st *runState, ctl *hitl.Controller) *runner {
	run := st.snapshot()
	cfg := o.d.Config

	seed := cfg.Seed
	if seed == 0 {
		seed = o.d.Now().UnixNano()
	}
	interval := cfg.VisionInterval
	if interval == 0 {
		interval = vision.DefaultInterval
	}

	return &runner{
		o:       o,
		state:   st,
		ctl:     ctl,
		log:     o.d.Log.Named("engine"),
		cfg:     cfg,
		runID:   run.ID,
		target:  run.TargetURL,
		profile: browser.Profile(run.DeviceProfile),
		history: planner.NewHistory(run.TargetURL),
		guard:   guard.New(guard.ThresholdsFrom(cfg)),
		budget:  guard.Budget{MaxSteps: cfg.MaxSteps, Soft: cfg.SoftTimeout, Hard: cfg.HardTimeout},
		policy: vision.Policy{
			Interval:     interval,
			OnError:      cfg.VisionOnError,
			OnIRLFailure: cfg.VisionOnIRL,
			Regression:   run.VisualRegression,
		},
		rng:             rand.New(rand.NewSource(seed)),
		intents:         planner.ParseInstructions(run.Instructions),
		goal:            run.Instructions,
		seenStates:      make(map[string]bool),
		seenAffordances: make(map[string]bool),
		seenIssues:      make(map[string]bool),
		unresolved:      make(map[string]bool),
	}
}

// Execute выполняет запуск до терминального статуса и возвращает итоговый снимок.
func (o *Orchestrator) Execute(ctx context.Context, st *runState, ctl *hitl.Controller) Run {
	defer close(st.done)

	r := o.newRunner(st, ctl)
	ctx, span := tracer.Start(ctx, "engine.run", trace.WithAttributes(
		attribute.String("run_id", r.runID),
		attribute.String("device", r.profile.Name),
	))
	defer span.End()

	out := r.run(ctx)
	r.finish(ctx, out)

	final := st.snapshot()
	span.SetAttributes(attribute.String("status", string(final.Status)), attribute.Int("steps", len(final.Steps)))
	return final
}

func (r *runner) run(ctx context.Context) outcome {
	r.started = r.o.d.Now()
	r.o.d.Metrics.RunStarted()
	_ = r.o.d.Recorder.CreateRun(ctx, r.state.snapshot())
	r.publishStatus(ctx, StatusInitializing, "")

	col, err := r.o.d.Evidence(r.runID)
	if err != nil {
		return outcome{status: StatusFailed, reason: "не удалось подготовить хранилище улик: " + err.Error()}
	}
	r.evidence = col

	sess, err := r.o.d.Browser.Open(ctx, r.profile)
	if err != nil {
		if out := r.interrupted(ctx); out != nil {
			return *out
		}
		return outcome{status: StatusFailed, reason: "не удалось открыть сессию браузера: " + err.Error()}
	}
	r.session = sess
	r.state.setSession(sess)
	defer func() {
		r.state.setSession(nil)
		if err := sess.Close(); err != nil {
			r.log.Warn("Ошибка закрытия сессии", r.contextFields(0, zap.Error(err))...)
		}
	}()

	r.setStatus(ctx, StatusDiagnosing)
	if out := r.diagnose(ctx); out != nil {
		return *out
	}
	r.setStatus(ctx, StatusRunning)

	for {
		if out := r.interrupted(ctx); out != nil {
			return *out
		}
		if v, reason := r.budget.Check(r.seq, r.elapsed()); v != guard.WithinBudget {
			if v == guard.HardExceeded {
				return outcome{status: StatusFailed, reason: reason}
			}
			return outcome{status: StatusCompleted, reason: reason}
		}
		if out := r.gate(ctx); out != nil {
			return *out
		}

		d := r.decide()
		if d.Done {
			return outcome{status: StatusCompleted, reason: r.completionReason(d.Reason)}
		}
		if out := r.executeStep(ctx, d); out != nil {
			return *out
		}
	}
}

// diagnose открывает стартовую страницу первым шагом.
func (r *runner) diagnose(ctx context.Context) *outcome {
	d := planner.Decision{Action: planner.NavigateTo(r.target), Class: "diagnose", Reason: "открытие стартовой страницы"}
	if out := r.executeStep(ctx, d); out != nil {
		return out
	}
	steps := r.state.snapshot().Steps
	if len(steps) > 0 && steps[0].Status == StepFailed {
		return &outcome{status: StatusFailed, reason: "стартовая страница недоступна: " + steps[0].Reason}
	}
	return nil
}

// interrupted проверяет отмену оператором или контекстом.
func (r *runner) interrupted(ctx context.Context) *outcome {
	if r.ctl.Mode() == hitl.Cancelled {
		return &outcome{status: StatusCancelled, reason: "запуск отменён оператором"}
	}
	if ctx.Err() != nil {
		return &outcome{status: StatusCancelled, reason: "запуск прерван: " + ctx.Err().Error()}
	}
	return nil
}

// gate ждёт, пока запуск на паузе или под управлением оператора.
func (r *runner) gate(ctx context.Context) *outcome {
	var blockedAt time.Time
	dir, err := r.ctl.Gate(ctx, func(m hitl.Mode) {
		if blockedAt.IsZero() {
			blockedAt = r.o.d.Now()
		}
		status := StatusPaused
		if m == hitl.Operator {
			status = StatusWaitingForHuman
		}
		r.setStatus(ctx, status)
		r.log.Info("Запуск ожидает человека", r.contextFields(r.seq, zap.String("mode", string(m)))...)
	})
	if err != nil {
		if errors.Is(err, hitl.ErrCancelled) {
			return &outcome{status: StatusCancelled, reason: "запуск отменён оператором"}
		}
		return r.interrupted(ctx)
	}

	if !blockedAt.IsZero() {
		// дождаться команды оператора, начатой до возврата управления
		r.state.operator.Lock()
		r.state.operator.Unlock()
		r.paused += r.o.d.Now().Sub(blockedAt)
		r.setStatus(ctx, StatusRunning)
		// Оператор мог изменить страницу
		r.refresh(ctx)
	}
	if dir != nil {
		r.applyDirective(dir)
	}
	return nil
}

func (r *runner) refresh(ctx context.Context) {
	model, err := r.o.d.Perceiver.Perceive(ctx, r.session)
	if err != nil {
		return
	}
	r.session.Drain()
	r.model = model
	r.history.Discover(model)
}

func (r *runner) applyDirective(dir *hitl.Directive) {
	r.generation++
	parsed := planner.ParseInstructions(dir.Instructions)
	for i := range parsed {
		parsed[i].ID = fmt.Sprintf("g%d.%s", r.generation, parsed[i].ID)
	}
	if dir.Append {
		r.intents = append(r.intents, parsed...)
		r.goal = strings.TrimSpace(r.goal + "\n" + dir.Instructions)
	} else {
		r.intents = parsed
		r.goal = dir.Instructions
	}
	r.state.setInstructions(r.goal)
	r.log.Info("Инструкции обновлены", r.contextFields(r.seq, zap.Int("intents", len(r.intents)), zap.Bool("append", dir.Append))...)
}

func (r *runner) decide() planner.Decision {
	if len(r.forced) > 0 {
		d := r.forced[0]
		r.forced = r.forced[1:]
		return d
	}

	d := planner.Next(r.model, r.history, r.intents, r.rng)
	for _, id := range d.Unresolved {
		key := id + "@" + r.model.Signature.Key()
		if r.unresolved[key] {
			continue
		}
		r.unresolved[key] = true
		r.irlPending = true
		r.log.Warn("Для инструкции нет подходящего элемента", r.contextFields(r.seq, zap.String("intent", id), zap.String("url", r.model.URL))...)
	}
	return d
}

func (r *runner) completionReason(base string) string {
	var pending []string
	for _, in := range r.intents {
		if !r.history.Resolved(in.ID) {
			pending = append(pending, in.Source)
		}
	}
	if len(pending) == 0 {
		return base
	}
	return base + "; не выполнены инструкции: " + strings.Join(pending, "; ")
}

func (r *runner) elapsed() time.Duration {
	return r.o.d.Now().Sub(r.started) - r.paused
}

func (r *runner) setStatus(ctx context.Context, st Status) {
	if !r.state.setStatus(st) {
		return
	}
	_ = r.o.d.Recorder.UpdateStatus(ctx, r.runID, st, "")
	r.publishStatus(ctx, st, "")
}

func (r *runner) publishStatus(ctx context.Context, st Status, reason string) {
	err := r.o.d.Bus.Publish(ctx, events.Event{
		Kind:       events.KindStatus,
		RunID:      r.runID,
		StepNumber: r.seq,
		Status:     string(st),
		Reason:     reason,
		Timestamp:  r.o.d.Now(),
	})
	if err != nil {
		r.log.Debug("Событие не доставлено внешнему получателю", r.contextFields(r.seq, zap.Error(err))...)
	}
}

func (r *runner) finish(ctx context.Context, out outcome) {
	ctx = context.WithoutCancel(ctx)
	if !r.state.finish(out.status, out.reason, out.blocker, r.o.d.Now()) {
		return
	}
	final := r.state.snapshot()
	_ = r.o.d.Recorder.Finish(ctx, final)
	r.o.d.Metrics.RunFinished(string(out.status))
	r.publishStatus(ctx, out.status, out.reason)

	fields := r.contextFields(r.seq,
		zap.String("status", string(out.status)),
		zap.String("reason", out.reason),
		zap.Int("issues", len(final.Issues)),
		zap.Duration("duration", final.Duration),
	)
	if out.blocker != "" {
		fields = append(fields, zap.String("blocker", out.blocker))
	}
	r.log.Info("Запуск завершён", fields...)
}

// contextFields создаёт набор контекстных полей для логирования
func (r *runner) contextFields(step int, fields ...zap.Field) []zap.Field {
	result := make([]zap.Field, 0, len(fields)+2)
	result = append(result, zap.String("run_id", r.runID))
	if step > 0 {
		result = append(result, zap.Int("step", step))
	}
	return append(result, fields...)
}
