// Package evidence сохраняет неизменяемые артефакты запуска: скриншоты,
// журналы консоли и сети, фрагменты DOM и найденные паттерны зацикливания.
package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"explorer/internal/browser"
	"explorer/internal/database"
	"explorer/internal/logger"
	"explorer/internal/sanitizer"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

type Kind string

const (
	Screenshot Kind = "screenshot"
	Console    Kind = "console"
	Network    Kind = "network"
	DOM        Kind = "dom"
	Pattern    Kind = "pattern"
)

// MaxDOMExcerpt предел размера сохраняемого фрагмента DOM в байтах.
const MaxDOMExcerpt = 64 << 10

var ErrNotFound = errors.New("улика не найдена")

// Store принимает метаданные улик. *database.RunRepository удовлетворяет интерфейсу.
type Store interface {
	SaveEvidence(ctx context.Context, e *database.Evidence) error
}

// Record метаданные одной улики. После создания не меняется.
type Record struct {
	ID         string    `json:"id"`
	RunID      string    `json:"runId"`
	Step       int       `json:"step"`
	Kind       Kind      `json:"kind"`
	Path       string    `json:"path,omitempty"`
	Summary    string    `json:"summary"`
	Size       int       `json:"size"`
	CapturedAt time.Time `json:"capturedAt"`
}

var domPolicy = bluemonday.UGCPolicy()

// Collector хранилище улик одного запуска, только добавление.
// При пустом dir содержимое держится в памяти.
type Collector struct {
	runID string
	dir   string
	store Store
	scrub *sanitizer.Scrubber
	log   *logger.Zap
	now   func() time.Time

	mu       sync.Mutex
	records  []Record
	byID     map[string]int
	payloads map[string][]byte
}

func New(runID, dir string, store Store, scrub *sanitizer.Scrubber, log *logger.Zap) (*Collector, error) {
	if scrub == nil {
		scrub = sanitizer.New()
	}
	c := &Collector{
		runID:    runID,
		store:    store,
		scrub:    scrub,
		log:      log.Named("evidence").With(zap.String("run_id", runID)),
		now:      time.Now,
		byID:     make(map[string]int),
		payloads: make(map[string][]byte),
	}
	if dir != "" {
		c.dir = filepath.Join(dir, runID)
		if err := os.MkdirAll(c.dir, 0o755); err != nil {
			return nil, fmt.Errorf("не удалось создать каталог улик: %w", err)
		}
	}
	return c, nil
}

// Screenshot сохраняет PNG скриншот шага.
func (c *Collector) Screenshot(ctx context.Context, step int, png []byte) (string, error) {
	if len(png) == 0 {
		return "", errors.New("пустой скриншот")
	}
	return c.add(ctx, step, Screenshot, ".png", png, fmt.Sprintf("скриншот %d байт", len(png)))
}

// Console сохраняет записи консоли с вычищенными секретами.
func (c *Collector) Console(ctx context.Context, step int, entries []browser.ConsoleEntry) (string, error) {
	clean := make([]browser.ConsoleEntry, len(entries))
	for i, e := range entries {
		e.Text = c.scrub.Scrub(e.Text)
		e.URL = c.scrub.ScrubURL(e.URL)
		clean[i] = e
	}
	data, err := json.MarshalIndent(clean, "", "  ")
	if err != nil {
		return "", err
	}
	return c.add(ctx, step, Console, ".json", data, fmt.Sprintf("консоль: %d записей", len(clean)))
}

// Network сохраняет неудачные запросы с вычищенными адресами.
func (c *Collector) Network(ctx context.Context, step int, entries []browser.NetworkEntry) (string, error) {
	clean := make([]browser.NetworkEntry, len(entries))
	for i, e := range entries {
		e.URL = c.scrub.ScrubURL(e.URL)
		e.Failure = c.scrub.Scrub(e.Failure)
		clean[i] = e
	}
	data, err := json.MarshalIndent(clean, "", "  ")
	if err != nil {
		return "", err
	}
	return c.add(ctx, step, Network, ".json", data, fmt.Sprintf("сеть: %d запросов", len(clean)))
}

// DOM сохраняет очищенный фрагмент разметки страницы: без скриптов, стилей
// и значений полей, с вычищенными секретами.
func (c *Collector) DOM(ctx context.Context, step int, page string) (string, error) {
	excerpt := c.Excerpt(page)
	return c.add(ctx, step, DOM, ".html", []byte(excerpt), fmt.Sprintf("DOM: %d байт", len(excerpt)))
}

// Pattern сохраняет описание найденного паттерна в JSON.
func (c *Collector) Pattern(ctx context.Context, step int, summary string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return c.add(ctx, step, Pattern, ".json", data, summary)
}

// Excerpt готовит фрагмент DOM к хранению.
func (c *Collector) Excerpt(page string) string {
	body := page
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(page)); err == nil {
		doc.Find("script, style, noscript, template, svg").Remove()
		doc.Find("input").RemoveAttr("value")
		if h, err := doc.Find("body").Html(); err == nil && h != "" {
			body = h
		}
	}
	out := c.scrub.Scrub(domPolicy.Sanitize(body))
	return truncate(out, MaxDOMExcerpt)
}

func (c *Collector) add(ctx context.Context, step int, kind Kind, ext string, data []byte, summary string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rec := Record{
		ID:         uuid.NewString(),
		RunID:      c.runID,
		Step:       step,
		Kind:       kind,
		Summary:    summary,
		Size:       len(data),
		CapturedAt: c.now(),
	}

	if c.dir != "" {
		rec.Path = filepath.Join(c.dir, fmt.Sprintf("%04d-%s-%s%s", step, kind, rec.ID, ext))
		if err := writeOnce(rec.Path, data); err != nil {
			return "", err
		}
	}

	c.mu.Lock()
	c.byID[rec.ID] = len(c.records)
	c.records = append(c.records, rec)
	if c.dir == "" {
		c.payloads[rec.ID] = append([]byte(nil), data...)
	}
	c.mu.Unlock()

	if c.store != nil {
		err := c.store.SaveEvidence(ctx, &database.Evidence{
			ID:      rec.ID,
			RunID:   rec.RunID,
			StepSeq: rec.Step,
			Kind:    string(rec.Kind),
			Path:    rec.Path,
			Summary: rec.Summary,
			Size:    rec.Size,
		})
		if err != nil {
			// Файл уже записан, потеря метаданных не должна останавливать запуск
			c.log.Warn("Не удалось сохранить метаданные улики", zap.String("evidence_id", rec.ID), zap.Error(err))
		}
	}

	c.log.Debug("Улика сохранена",
		zap.String("evidence_id", rec.ID),
		zap.String("kind", string(kind)),
		zap.Int("step", step),
		zap.Int("size", rec.Size),
	)
	return rec.ID, nil
}

// writeOnce создаёт файл, отказываясь перезаписывать существующий, и
// оставляет его только для чтения.
func writeOnce(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("не удалось создать файл улики: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("не удалось записать улику: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Chmod(path, 0o444)
}

// Get возвращает метаданные улики.
func (c *Collector) Get(id string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.byID[id]
	if !ok {
		return Record{}, false
	}
	return c.records[i], true
}

// Read возвращает копию содержимого улики.
func (c *Collector) Read(id string) ([]byte, error) {
	rec, ok := c.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Path != "" {
		return os.ReadFile(rec.Path)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.payloads[id]...), nil
}

// Records снимок всех улик в порядке создания.
func (c *Collector) Records() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}

// Refs идентификаторы всех улик в порядке создания.
func (c *Collector) Refs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	refs := make([]string, len(c.records))
	for i, r := range c.records {
		refs[i] = r.ID
	}
	return refs
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	// не разрезаем многобайтовый символ
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}
