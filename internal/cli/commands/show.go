package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"explorer/internal/cli/ui"
	"explorer/internal/database"
	"explorer/internal/engine"

	"go.uber.org/zap"
)

// ShowHandler обрабатывает команды просмотра деталей
type ShowHandler struct {
	runs *engine.Manager
	repo *database.RunRepository
	log  *zap.Logger
	out  io.Writer
}

// NewShowHandler создаёт обработчик. repo может быть nil: тогда доступны
// только запуски текущего процесса.
func NewShowHandler(runs *engine.Manager, repo *database.RunRepository, log *zap.Logger, out io.Writer) *ShowHandler {
	return &ShowHandler{
		runs: runs,
		repo: repo,
		log:  log,
		out:  out,
	}
}

// Show выводит шаги и находки запуска. Если запуск из прошлых сессий,
// данные берутся из базы.
func (h *ShowHandler) Show(ctx context.Context, id string) {
	id = strings.TrimSpace(id)
	run, err := h.runs.Get(id)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrRunNotFound) && h.repo != nil:
		run, err = h.stored(ctx, id)
		if err != nil {
			ui.Errorf(h.out, "Запуск не найден")
			return
		}
	default:
		ui.Errorf(h.out, "Запуск не найден")
		return
	}

	_, _, statusText := ui.FormatStatus(string(run.Status))
	fmt.Fprintf(h.out, "\n"+ui.ColorBold+"=== Запуск %s ==="+ui.ColorReset+"\n", run.ID)
	fmt.Fprintf(h.out, ui.ColorCyan+ui.IconGlobe+" Адрес:"+ui.ColorReset+" %s\n", run.TargetURL)
	fmt.Fprintf(h.out, ui.ColorCyan+ui.IconChart+" Статус:"+ui.ColorReset+" %s\n", statusText)
	if run.Reason != "" {
		fmt.Fprintf(h.out, ui.ColorCyan+"Причина:"+ui.ColorReset+" %s\n", run.Reason)
	}
	if run.Blocker != "" {
		fmt.Fprintf(h.out, ui.ColorPurple+ui.IconLock+" Блокер:"+ui.ColorReset+" %s\n", run.Blocker)
	}

	if len(run.Steps) > 0 {
		fmt.Fprintf(h.out, "\n"+ui.ColorYellow+ui.IconLoop+" Шаги (%d):"+ui.ColorReset+"\n", len(run.Steps))
		for _, s := range run.Steps {
			icon, color := ui.FormatStepStatus(string(s.Status))
			fmt.Fprintf(h.out, ui.ColorBold+"[%d]"+ui.ColorReset+" %s%s %s"+ui.ColorReset, s.Seq, color, icon, s.Action)
			if s.Target != "" {
				fmt.Fprintf(h.out, " → "+ui.ColorYellow+"%s"+ui.ColorReset, ui.Truncate(s.Target, 80))
			}
			fmt.Fprintln(h.out)
			if s.Reason != "" {
				fmt.Fprintf(h.out, "  "+ui.ColorGray+"%s"+ui.ColorReset+"\n", s.Reason)
			}
		}
	} else {
		fmt.Fprintln(h.out, "\n"+ui.ColorGray+"Шаги не найдены"+ui.ColorReset)
	}

	if len(run.Issues) > 0 {
		fmt.Fprintf(h.out, "\n"+ui.ColorYellow+ui.IconWarning+" Находки (%d):"+ui.ColorReset+"\n", len(run.Issues))
		for _, i := range run.Issues {
			fmt.Fprintf(h.out, "  %s[%s]"+ui.ColorReset+" %s/%s шаг %d: %s\n",
				ui.SeverityColor(i.Severity), i.Severity, i.Category, i.Source, i.Step, i.Description)
			if i.Suggestion != "" {
				fmt.Fprintf(h.out, "    "+ui.ColorGray+"%s"+ui.ColorReset+"\n", i.Suggestion)
			}
		}
	}
	fmt.Fprintln(h.out)
}

func (h *ShowHandler) stored(ctx context.Context, id string) (engine.Run, error) {
	r, err := h.repo.GetRun(ctx, id)
	if err != nil {
		return engine.Run{}, err
	}
	steps, err := h.repo.GetSteps(ctx, id)
	if err != nil {
		h.log.Error("Ошибка получения шагов", zap.Error(err))
		return engine.Run{}, err
	}
	issues, err := h.repo.GetIssues(ctx, id)
	if err != nil {
		h.log.Error("Ошибка получения находок", zap.Error(err))
		return engine.Run{}, err
	}

	run := engine.Run{
		ID:            r.ID,
		TargetURL:     r.TargetURL,
		Instructions:  r.Instructions,
		DeviceProfile: r.DeviceProfile,
		Status:        engine.Status(r.Status),
		Reason:        r.Reason,
		Blocker:       r.BlockerKind,
		CreatedAt:     r.CreatedAt,
	}
	for _, s := range steps {
		var refs []string
		if s.EvidenceRefs != "" {
			refs = strings.Split(s.EvidenceRefs, ",")
		}
		run.Steps = append(run.Steps, engine.Step{
			Seq:           s.Seq,
			Action:        s.ActionType,
			Target:        s.Target,
			Status:        engine.StepStatus(s.Status),
			Reason:        s.Reason,
			URL:           s.URL,
			ScreenshotRef: s.ScreenshotRef,
			EvidenceRefs:  refs,
			At:            s.CreatedAt,
		})
	}
	for _, i := range issues {
		run.Issues = append(run.Issues, engine.Issue{
			Step:        i.StepSeq,
			Category:    i.Category,
			Severity:    i.Severity,
			Source:      i.Source,
			Description: i.Description,
			Suggestion:  i.Suggestion,
			EvidenceRef: i.EvidenceRef,
		})
	}
	return run, nil
}

// Report печатает итоговый отчёт в JSON или сохраняет его в файл.
func (h *ShowHandler) Report(args string) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		ui.Errorf(h.out, "Укажите id запуска")
		return
	}
	rep, err := h.runs.Report(fields[0])
	if err != nil {
		ui.Errorf(h.out, "Запуск не найден")
		return
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		ui.Errorf(h.out, "Ошибка сериализации: %v", err)
		return
	}
	if len(fields) < 2 {
		fmt.Fprintln(h.out, string(data))
		return
	}
	if err := os.WriteFile(fields[1], data, 0o644); err != nil {
		ui.Errorf(h.out, "Ошибка записи: %v", err)
		return
	}
	fmt.Fprintf(h.out, ui.ColorGreen+ui.IconCheckmark+" Отчёт сохранён в %s"+ui.ColorReset+"\n", fields[1])
}
