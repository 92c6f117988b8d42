package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"explorer/internal/cli/ui"
	"explorer/internal/engine"
	"explorer/internal/events"
)

// WatchHandler выводит события запуска по мере их появления
type WatchHandler struct {
	runs *engine.Manager
	out  io.Writer
}

func NewWatchHandler(runs *engine.Manager, out io.Writer) *WatchHandler {
	return &WatchHandler{runs: runs, out: out}
}

// Watch печатает шаги и смены статуса, пока запуск не завершится или
// не будет отменён ctx.
func (h *WatchHandler) Watch(ctx context.Context, id string) {
	id = strings.TrimSpace(id)
	ch, unsubscribe, err := h.runs.Subscribe(id, 256)
	if err != nil {
		ui.Errorf(h.out, "Запуск не найден")
		return
	}
	defer unsubscribe()

	run, err := h.runs.Get(id)
	if err != nil {
		ui.Errorf(h.out, "Запуск не найден")
		return
	}
	fmt.Fprintf(h.out, "\n"+ui.ColorBold+"=== "+ui.IconEye+" Запуск %s ==="+ui.ColorReset+"\n", id)
	h.status(string(run.Status), run.Reason)
	if run.Status.Terminal() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			h.print(e)
			if e.Kind == events.KindStatus && engine.Status(e.Status).Terminal() {
				fmt.Fprintln(h.out)
				return
			}
		}
	}
}

func (h *WatchHandler) print(e events.Event) {
	switch e.Kind {
	case events.KindStep:
		icon, color := ui.FormatStepStatus(e.Status)
		fmt.Fprintf(h.out, ui.ColorGray+"[%s]"+ui.ColorReset+" "+ui.ColorBold+"#%d"+ui.ColorReset+" %s%s %s"+ui.ColorReset,
			e.Timestamp.Format("15:04:05"), e.StepNumber, color, icon, e.Action)
		if e.TargetSummary != "" {
			fmt.Fprintf(h.out, " → "+ui.ColorYellow+"%s"+ui.ColorReset, ui.Truncate(e.TargetSummary, 80))
		}
		fmt.Fprintln(h.out)
		if e.Reason != "" && e.Status != string(engine.StepExecuted) {
			fmt.Fprintf(h.out, "  "+ui.ColorGray+"%s"+ui.ColorReset+"\n", e.Reason)
		}
	case events.KindIssue:
		fmt.Fprintf(h.out, "  %s"+ui.IconWarning+" [%s] %s"+ui.ColorReset+"\n", ui.SeverityColor(e.Reason), e.Reason, e.TargetSummary)
	case events.KindStatus:
		h.status(e.Status, e.Reason)
	}
}

func (h *WatchHandler) status(status, reason string) {
	icon, color, text := ui.FormatStatus(status)
	fmt.Fprintf(h.out, "%s%s %s"+ui.ColorReset, color, icon, text)
	if reason != "" {
		fmt.Fprintf(h.out, " "+ui.ColorGray+"(%s)"+ui.ColorReset, reason)
	}
	fmt.Fprintln(h.out)
}
