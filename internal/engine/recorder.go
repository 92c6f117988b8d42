package engine

import (
	"context"
	"strings"
	"time"

	"explorer/internal/database"
	"explorer/internal/logger"
	"explorer/internal/vision"

	"go.uber.org/zap"
)

// Recorder сохраняет ход запуска. Ошибки сохранения не останавливают
// исследование.
type Recorder interface {
	CreateRun(ctx context.Context, r Run) error
	UpdateStatus(ctx context.Context, id string, status Status, reason string) error
	SaveStep(ctx context.Context, runID string, s Step) error
	SaveIssue(ctx context.Context, runID string, i Issue) error
	SaveVision(ctx context.Context, runID string, step int, trigger vision.Trigger, model string, res vision.Result) error
	Finish(ctx context.Context, r Run) error
}

// NopRecorder ничего не сохраняет; используется без базы данных.
type NopRecorder struct{}

func (NopRecorder) CreateRun(context.Context, Run) error { return nil }
func (NopRecorder) UpdateStatus(context.Context, string, Status, string) error { return nil }
func (NopRecorder) SaveStep(context.Context, string, Step) error { return nil }
func (NopRecorder) SaveIssue(context.Context, string, Issue) error { return nil }
func (NopRecorder) Finish(context.Context, Run) error { return nil }
func (NopRecorder) SaveVision(context.Context, string, int, vision.Trigger, string, vision.Result) error {
	return nil
}

// RepoRecorder пишет в базу через RunRepository. При серии ошибок
// circuit breaker временно отключает запись, чтобы недоступная база не
// замедляла каждый шаг.
type RepoRecorder struct {
	repo    *database.RunRepository
	breaker *CircuitBreaker
	log     *logger.Zap
}

func NewRepoRecorder(repo *database.RunRepository, log *logger.Zap) *RepoRecorder {
	return &RepoRecorder{
		repo:    repo,
		breaker: NewCircuitBreaker(5, 30*time.Second),
		log:     log.Named("recorder"),
	}
}

func (r *RepoRecorder) call(op string, fn func() error) error {
	err := r.breaker.Call(fn)
	if err != nil && err != ErrCircuitOpen {
		r.log.Warn("Ошибка сохранения в БД", zap.String("op", op), zap.Error(err))
	}
	return err
}

func (r *RepoRecorder) CreateRun(ctx context.Context, run Run) error {
	return r.call("create_run", func() error {
		return r.repo.CreateRun(ctx, &database.Run{
			ID:            run.ID,
			TargetURL:     run.TargetURL,
			Instructions:  run.Instructions,
			DeviceProfile: run.DeviceProfile,
			Status:        string(run.Status),
		})
	})
}

func (r *RepoRecorder) UpdateStatus(ctx context.Context, id string, status Status, reason string) error {
	return r.call("update_status", func() error {
		return r.repo.UpdateRunStatus(ctx, id, string(status), reason)
	})
}

func (r *RepoRecorder) SaveStep(ctx context.Context, runID string, s Step) error {
	return r.call("save_step", func() error {
		return r.repo.CreateStep(ctx, &database.Step{
			RunID:         runID,
			Seq:           s.Seq,
			ActionType:    s.Action,
			Target:        s.Target,
			Status:        string(s.Status),
			Reason:        s.Reason,
			URL:           s.URL,
			ScreenshotRef: s.ScreenshotRef,
			EvidenceRefs:  strings.Join(s.EvidenceRefs, ","),
		})
	})
}

func (r *RepoRecorder) SaveIssue(ctx context.Context, runID string, i Issue) error {
	return r.call("save_issue", func() error {
		return r.repo.CreateIssue(ctx, &database.Issue{
			RunID:       runID,
			StepSeq:     i.Step,
			Category:    i.Category,
			Severity:    i.Severity,
			Source:      i.Source,
			Description: i.Description,
			Suggestion:  i.Suggestion,
			EvidenceRef: i.EvidenceRef,
		})
	})
}

func (r *RepoRecorder) SaveVision(ctx context.Context, runID string, step int, trigger vision.Trigger, model string, res vision.Result) error {
	return r.call("save_vision", func() error {
		return r.repo.CreateVisionLog(ctx, &database.VisionLog{
			RunID:       runID,
			StepSeq:     step,
			Trigger:     string(trigger),
			Outcome:     string(res.Outcome),
			Model:       model,
			Response:    res.Raw,
			IssuesFound: len(res.Issues),
			LatencyMs:   res.Latency.Milliseconds(),
		})
	})
}

func (r *RepoRecorder) Finish(ctx context.Context, run Run) error {
	return r.call("finish_run", func() error {
		return r.repo.FinishRun(ctx, run.ID, string(run.Status), run.Reason, run.Blocker, len(run.Steps), run.Duration)
	})
}
