package engine

import (
	"sync"
	"time"

	"explorer/internal/browser"
)

// Status состояние запуска.
type Status string

const (
	StatusInitializing    Status = "INITIALIZING"
	StatusDiagnosing      Status = "DIAGNOSING"
	StatusRunning         Status = "RUNNING"
	StatusPaused          Status = "PAUSED"
	StatusWaitingForHuman Status = "WAITING_FOR_HUMAN"
	StatusBlocked         Status = "BLOCKED"
	StatusFailed          Status = "FAILED"
	StatusCompleted       Status = "COMPLETED"
	StatusCancelled       Status = "CANCELLED"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusBlocked, StatusFailed, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// StepStatus исход шага.
type StepStatus string

const (
	StepExecuted StepStatus = "EXECUTED"
	StepSkipped  StepStatus = "SKIPPED"
	StepBlocked  StepStatus = "BLOCKED"
	StepFailed   StepStatus = "FAILED"
)

// Request параметры нового запуска.
type Request struct {
	URL              string `json:"url" binding:"required"`
	Instructions     string `json:"instructions"`
	DeviceProfile    string `json:"deviceProfile"`
	VisualRegression bool   `json:"visualRegressionEnabled"`
}

type Step struct {
	Seq           int        `json:"seq"`
	Action        string     `json:"action"`
	Target        string     `json:"target,omitempty"`
	Status        StepStatus `json:"status"`
	Reason        string     `json:"reason,omitempty"`
	URL           string     `json:"url,omitempty"`
	ScreenshotRef string     `json:"screenshotRef,omitempty"`
	EvidenceRefs  []string   `json:"evidenceRefs,omitempty"`
	At            time.Time  `json:"timestamp"`
}

type Issue struct {
	Step        int    `json:"step"`
	Category    string `json:"category"`
	Severity    string `json:"severity"`
	Source      string `json:"source"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion,omitempty"`
	EvidenceRef string `json:"evidenceRef,omitempty"`
}

// Run снимок запуска. Изменяет только горутина оркестратора.
type Run struct {
	ID               string        `json:"id"`
	TargetURL        string        `json:"url"`
	Instructions     string        `json:"instructions,omitempty"`
	DeviceProfile    string        `json:"deviceProfile"`
	VisualRegression bool          `json:"visualRegressionEnabled"`
	Status           Status        `json:"status"`
	Reason           string        `json:"reason,omitempty"`
	Blocker          string        `json:"blocker,omitempty"`
	Steps            []Step        `json:"steps"`
	Issues           []Issue       `json:"issues"`
	EvidenceRefs     []string      `json:"evidenceRefs"`
	CreatedAt        time.Time     `json:"createdAt"`
	FinishedAt       time.Time     `json:"finishedAt,omitempty"`
	Duration         time.Duration `json:"-"`
}

// Report итог запуска для внешних потребителей.
type Report struct {
	RunID        string   `json:"runId"`
	Status       Status   `json:"status"`
	Reason       string   `json:"reason,omitempty"`
	Blocker      string   `json:"blocker,omitempty"`
	Steps        []Step   `json:"steps"`
	Issues       []Issue  `json:"issues"`
	EvidenceRefs []string `json:"evidenceRefs"`
	DurationMs   int64    `json:"durationMs"`
}

// runState хранит запуск под мьютексом: пишет горутина оркестратора,
// читатели получают копии.
type runState struct {
	mu      sync.RWMutex
	run     Run
	session browser.Session
	done    chan struct{}
	// operator занят, пока выполняется команда оператора; раннер берёт его
	// перед тем, как вернуться к сессии
	operator sync.Mutex
}

func newRunState(r Run) *runState {
	return &runState{run: r, done: make(chan struct{})}
}

func (s *runState) snapshot() Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.run
	r.Steps = append([]Step(nil), s.run.Steps...)
	r.Issues = append([]Issue(nil), s.run.Issues...)
	r.EvidenceRefs = append([]string(nil), s.run.EvidenceRefs...)
	if !r.Status.Terminal() {
		r.Duration = time.Since(r.CreatedAt)
	}
	return r
}

func (s *runState) id() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.run.ID
}

func (s *runState) status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.run.Status
}

// setStatus меняет нетерминальный статус; терминальный статус не меняется.
func (s *runState) setStatus(st Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run.Status.Terminal() || s.run.Status == st {
		return false
	}
	s.run.Status = st
	return true
}

// finish выставляет терминальный статус ровно один раз.
func (s *runState) finish(st Status, reason, blocker string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run.Status.Terminal() {
		return false
	}
	s.run.Status = st
	s.run.Reason = reason
	s.run.Blocker = blocker
	s.run.FinishedAt = at
	s.run.Duration = at.Sub(s.run.CreatedAt)
	return true
}

func (s *runState) appendStep(st Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.run.Steps = append(s.run.Steps, st)
}

func (s *runState) appendIssue(i Issue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.run.Issues = append(s.run.Issues, i)
}

func (s *runState) addEvidence(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.run.EvidenceRefs = append(s.run.EvidenceRefs, ids...)
}

func (s *runState) setInstructions(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.run.Instructions = text
}

func (s *runState) setSession(sess browser.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = sess
}

func (s *runState) liveSession() browser.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

func (r Run) Report() Report {
	if r.Steps == nil {
		r.Steps = []Step{}
	}
	if r.Issues == nil {
		r.Issues = []Issue{}
	}
	if r.EvidenceRefs == nil {
		r.EvidenceRefs = []string{}
	}
	return Report{
		RunID:        r.ID,
		Status:       r.Status,
		Reason:       r.Reason,
		Blocker:      r.Blocker,
		Steps:        r.Steps,
		Issues:       r.Issues,
		EvidenceRefs: r.EvidenceRefs,
		DurationMs:   r.Duration.Milliseconds(),
	}
}
