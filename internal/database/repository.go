package database

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type RunRepository struct {
	db *gorm.DB
}

func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) CreateRun(ctx context.Context, run *Run) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *RunRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	if err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *RunRepository) ListRuns(ctx context.Context, limit, offset int) ([]Run, error) {
	var runs []Run
	if err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Offset(offset).Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

func (r *RunRepository) UpdateRunStatus(ctx context.Context, id, status, reason string) error {
	return r.db.WithContext(ctx).Model(&Run{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": status,
			"reason": reason,
		}).Error
}

// FinishRun фиксирует терминальный статус запуска.
func (r *RunRepository) FinishRun(ctx context.Context, id, status, reason, blocker string, steps int, duration time.Duration) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&Run{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       status,
			"reason":       reason,
			"blocker_kind": blocker,
			"step_count":   steps,
			"duration_ms":  duration.Milliseconds(),
			"finished_at":  &now,
		}).Error
}

func (r *RunRepository) CreateStep(ctx context.Context, s *Step) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *RunRepository) GetSteps(ctx context.Context, runID string) ([]Step, error) {
	var steps []Step
	if err := r.db.WithContext(ctx).Where("run_id = ?", runID).Order("seq ASC").Find(&steps).Error; err != nil {
		return nil, err
	}
	return steps, nil
}

func (r *RunRepository) CreateIssue(ctx context.Context, i *Issue) error {
	return r.db.WithContext(ctx).Create(i).Error
}

func (r *RunRepository) GetIssues(ctx context.Context, runID string) ([]Issue, error) {
	var issues []Issue
	if err := r.db.WithContext(ctx).Where("run_id = ?", runID).Order("id ASC").Find(&issues).Error; err != nil {
		return nil, err
	}
	return issues, nil
}

func (r *RunRepository) SaveEvidence(ctx context.Context, e *Evidence) error {
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *RunRepository) GetEvidence(ctx context.Context, runID string) ([]Evidence, error) {
	var items []Evidence
	if err := r.db.WithContext(ctx).Where("run_id = ?", runID).Order("step_seq ASC, created_at ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *RunRepository) CreateVisionLog(ctx context.Context, l *VisionLog) error {
	return r.db.WithContext(ctx).Create(l).Error
}

func (r *RunRepository) GetVisionLogs(ctx context.Context, runID string) ([]VisionLog, error) {
	var logs []VisionLog
	if err := r.db.WithContext(ctx).Where("run_id = ?", runID).Order("id ASC").Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
