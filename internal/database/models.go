// Package database предоставляет модели данных и репозиторий для работы с PostgreSQL.
// Использует GORM ORM с prepared statements для защиты от SQL injection.
package database

import "time"

// Run представляет один запуск исследования сайта.
// Статусы: INITIALIZING, DIAGNOSING, RUNNING, PAUSED, WAITING_FOR_HUMAN,
// BLOCKED, FAILED, COMPLETED, CANCELLED.
type Run struct {
	ID            string     `gorm:"type:varchar(36);primaryKey"`
	TargetURL     string     `gorm:"type:text;not null"`
	Instructions  string     `gorm:"type:text"`
	DeviceProfile string     `gorm:"type:varchar(32);not null;default:'desktop'"`
	Status        string     `gorm:"type:varchar(32);not null;default:'INITIALIZING'"`
	Reason        string     `gorm:"type:text"`               // Причина терминального статуса
	BlockerKind   string     `gorm:"type:varchar(32)"`        // captcha, mfa, cookie-consent, ...
	StepCount     int        `gorm:"not null;default:0"`
	DurationMs    int64      `gorm:"not null;default:0"`
	FinishedAt    *time.Time
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// Step представляет один шаг цикла PLAN → ACT → OBSERVE.
type Step struct {
	ID            uint      `gorm:"primaryKey"`
	RunID         string    `gorm:"type:varchar(36);index:idx_steps_run_seq,unique;not null"`
	Seq           int       `gorm:"index:idx_steps_run_seq,unique;not null"` // Номер шага, без пропусков
	ActionType    string    `gorm:"type:varchar(32);not null"`               // navigate, click, type, scroll, wait, screenshot, check
	Target        string    `gorm:"type:text"`                               // Описание цели действия
	Status        string    `gorm:"type:varchar(16);not null"`               // EXECUTED, SKIPPED, BLOCKED, FAILED
	Reason        string    `gorm:"type:text"`
	URL           string    `gorm:"type:text"`
	ScreenshotRef string    `gorm:"type:varchar(36)"`
	EvidenceRefs  string    `gorm:"type:text"` // ID улик через запятую
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

// Issue представляет найденную проблему.
type Issue struct {
	ID          uint      `gorm:"primaryKey"`
	RunID       string    `gorm:"type:varchar(36);index;not null"`
	StepSeq     int       `gorm:"not null"`
	Category    string    `gorm:"type:varchar(32);not null"` // visual, console, network, accessibility, performance, security
	Severity    string    `gorm:"type:varchar(16);not null"` // high, medium, low
	Source      string    `gorm:"type:varchar(32);not null"` // structural, console, network, vision, guard
	Description string    `gorm:"type:text;not null"`
	Suggestion  string    `gorm:"type:text"`
	EvidenceRef string    `gorm:"type:varchar(36)"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

// Evidence представляет неизменяемый артефакт (скриншот, консоль, сеть, DOM, паттерн).
type Evidence struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"`
	RunID     string    `gorm:"type:varchar(36);index;not null"`
	StepSeq   int       `gorm:"not null"`
	Kind      string    `gorm:"type:varchar(16);not null"`
	Path      string    `gorm:"type:text"`
	Summary   string    `gorm:"type:text"`
	Size      int       `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// VisionLog представляет лог обращения к vision-модели.
// Сохраняет триггер, исход, ответ модели и задержку.
type VisionLog struct {
	ID          uint      `gorm:"primaryKey"`
	RunID       string    `gorm:"type:varchar(36);index;not null"`
	StepSeq     int       `gorm:"not null"`
	Trigger     string    `gorm:"type:varchar(32);not null"`
	Outcome     string    `gorm:"type:varchar(16);not null"` // ok, timeout, parse_error, unavailable
	Model       string    `gorm:"type:varchar(64)"`
	Response    string    `gorm:"type:text"`
	IssuesFound int       `gorm:"not null;default:0"`
	LatencyMs   int64     `gorm:"not null;default:0"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}
