// Package vision выборочно отправляет скриншоты модели компьютерного
// зрения и возвращает замечания по визуальному качеству страницы.
package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"explorer/internal/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const DefaultTimeout = 30 * time.Second

const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// SystemPrompt ограничивает модель субъективными замечаниями: контраст,
// перекрытия и сдвиги макета проверяются структурно.
const SystemPrompt = `You are a senior product designer reviewing a screenshot of a web page.
Report only subjective visual and design-quality problems: visual hierarchy, alignment, spacing,
clipped or truncated text, broken-looking components, inconsistent styling, confusing calls to action,
placeholder or lorem ipsum content, error states rendered to the user.
Do NOT report color contrast, overlapping elements or layout shift: they are measured separately.
Respond with JSON only: {"issues":[{"severity":"high|medium|low","description":"...","suggestion":"..."}]}.
Return {"issues":[]} when the page looks fine.`

var tracer = otel.Tracer("explorer/vision")

type Issue struct {
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion,omitempty"`
}

// Outcome вид результата визуальной проверки.
type Outcome string

const (
	OK          Outcome = "ok"
	TimedOut    Outcome = "timed_out"
	ParseError  Outcome = "parse_error"
	Unavailable Outcome = "unavailable"
)

// Result размеченный результат вызова. Issues заполнен только для OK.
type Result struct {
	Outcome Outcome
	Issues  []Issue
	Raw     string
	Err     error
	Latency time.Duration
}

type Request struct {
	Screenshot []byte
	URL        string
	Goal       string
	Step       int
	Trigger    Trigger
}

// Call то, что уходит транспорту модели.
type Call struct {
	SystemPrompt string `json:"systemPrompt"`
	Screenshot   string `json:"screenshot"`
	URL          string `json:"-"`
	Goal         string `json:"-"`
}

// Model транспорт до модели зрения. Возвращает сырой текст ответа.
type Model interface {
	Analyze(ctx context.Context, call Call) (string, error)
}

type Validator struct {
	model   Model
	limiter *rate.Limiter
	timeout time.Duration
	log     *logger.Zap
}

// NewValidator создаёт валидатор. model == nil означает, что визуальная
// проверка отключена и каждый вызов возвращает Unavailable.
func NewValidator(model Model, requestsPerMinute int, timeout time.Duration, log *logger.Zap) *Validator {
	if timeout <= 0 || timeout > DefaultTimeout {
		timeout = DefaultTimeout
	}
	limit := rate.Inf
	if requestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(requestsPerMinute))
	}
	return &Validator{
		model:   model,
		limiter: rate.NewLimiter(limit, 1),
		timeout: timeout,
		log:     log.Named("vision"),
	}
}

func (v *Validator) Enabled() bool {
	return v != nil && v.model != nil
}

// Validate никогда не возвращает ошибку: любой сбой становится Result с
// соответствующим Outcome, и исследование продолжается.
func (v *Validator) Validate(ctx context.Context, req Request) Result {
	if !v.Enabled() {
		return Result{Outcome: Unavailable, Err: errors.New("модель зрения не настроена")}
	}
	if len(req.Screenshot) == 0 {
		return Result{Outcome: Unavailable, Err: errors.New("нет скриншота")}
	}

	ctx, span := tracer.Start(ctx, "vision.validate")
	defer span.End()
	span.SetAttributes(attribute.Int("step", req.Step), attribute.String("trigger", string(req.Trigger)))

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	started := time.Now()
	if err := v.limiter.Wait(ctx); err != nil {
		return v.failed(req, err, started)
	}

	raw, err := v.model.Analyze(ctx, Call{
		SystemPrompt: SystemPrompt,
		Screenshot:   base64.StdEncoding.EncodeToString(req.Screenshot),
		URL:          req.URL,
		Goal:         req.Goal,
	})
	if err != nil {
		return v.failed(req, err, started)
	}

	res := Result{Raw: raw, Latency: time.Since(started)}
	issues, err := ParseIssues(raw)
	if err != nil {
		res.Outcome = ParseError
		res.Err = err
		res.Issues = []Issue{}
		v.log.Warn("Не удалось разобрать ответ модели зрения",
			zap.Int("step", req.Step),
			zap.Error(err),
		)
		return res
	}

	res.Outcome = OK
	res.Issues = issues
	v.log.Debug("Визуальная проверка выполнена",
		zap.Int("step", req.Step),
		zap.String("trigger", string(req.Trigger)),
		zap.Int("issues", len(issues)),
		zap.Duration("latency", res.Latency),
	)
	return res
}

func (v *Validator) failed(req Request, err error, started time.Time) Result {
	res := Result{Err: err, Latency: time.Since(started), Outcome: Unavailable}
	if errors.Is(err, context.DeadlineExceeded) {
		res.Outcome = TimedOut
	}
	v.log.Warn("Визуальная проверка недоступна",
		zap.Int("step", req.Step),
		zap.String("outcome", string(res.Outcome)),
		zap.Error(err),
	)
	return res
}
