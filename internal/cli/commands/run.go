package commands

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"explorer/internal/cli/ui"
	"explorer/internal/engine"

	"go.uber.org/zap"
)

var errUsage = errors.New("неверные аргументы")

// RunHandler обрабатывает запуск и просмотр исследований
type RunHandler struct {
	runs *engine.Manager
	log  *zap.Logger
	out  io.Writer
}

func NewRunHandler(runs *engine.Manager, log *zap.Logger, out io.Writer) *RunHandler {
	return &RunHandler{
		runs: runs,
		log:  log,
		out:  out,
	}
}

// ParseExplore разбирает "explore <url> [--device name] [--visual] [инструкции]".
func ParseExplore(args string) (engine.Request, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return engine.Request{}, fmt.Errorf("%w: нужен url", errUsage)
	}
	req := engine.Request{URL: fields[0]}
	var rest []string
	for i := 1; i < len(fields); i++ {
		switch fields[i] {
		case "--device":
			if i+1 >= len(fields) {
				return engine.Request{}, fmt.Errorf("%w: --device без значения", errUsage)
			}
			req.DeviceProfile = fields[i+1]
			i++
		case "--visual":
			req.VisualRegression = true
		default:
			rest = append(rest, fields[i])
		}
	}
	req.Instructions = strings.Join(rest, " ")
	return req, nil
}

// Explore запускает новое исследование
func (h *RunHandler) Explore(args string) (string, bool) {
	req, err := ParseExplore(args)
	if err != nil {
		ui.Errorf(h.out, "%v", err)
		return "", false
	}
	id, err := h.runs.Start(req)
	if err != nil {
		h.log.Warn("Запуск отклонён", zap.Error(err))
		ui.Errorf(h.out, "Ошибка: %v", err)
		return "", false
	}
	fmt.Fprintf(h.out, ui.ColorGreen+ui.IconCheckmark+" Запущено исследование %s"+ui.ColorReset+"\n", id)
	fmt.Fprintf(h.out, "  "+ui.ColorGray+"└─"+ui.ColorReset+" %s\n", req.URL)
	return id, true
}

// List выводит список запусков
func (h *RunHandler) List() {
	runs := h.runs.List()
	if len(runs) == 0 {
		fmt.Fprintln(h.out, ui.ColorGray+"Запусков пока нет"+ui.ColorReset)
		return
	}
	fmt.Fprintln(h.out, "\n"+ui.ColorBold+ui.IconList+" Запуски:"+ui.ColorReset)
	fmt.Fprintln(h.out)
	for _, r := range runs {
		icon, color, text := ui.FormatStatus(string(r.Status))
		fmt.Fprintf(h.out, "  "+ui.ColorBold+"%s"+ui.ColorReset+" %s%s %s"+ui.ColorReset+" "+ui.ColorGray+"(%d шагов)"+ui.ColorReset+"\n",
			r.ID, color, icon, text, len(r.Steps))
		fmt.Fprintf(h.out, "  "+ui.ColorGray+"└─"+ui.ColorReset+" %s\n", r.TargetURL)
		fmt.Fprintln(h.out)
	}
}

// Status показывает статус запуска
func (h *RunHandler) Status(id string) {
	run, err := h.runs.Get(strings.TrimSpace(id))
	if err != nil {
		ui.Errorf(h.out, "Запуск не найден")
		return
	}
	icon, color, text := ui.FormatStatus(string(run.Status))
	fmt.Fprintln(h.out)
	fmt.Fprintf(h.out, ui.ColorBold+"Запуск %s"+ui.ColorReset+" %s%s %s"+ui.ColorReset+"\n", run.ID, color, icon, text)
	fmt.Fprintf(h.out, "  "+ui.ColorCyan+ui.IconGlobe+ui.ColorReset+" %s "+ui.ColorGray+"(%s)"+ui.ColorReset+"\n", run.TargetURL, run.DeviceProfile)
	if run.Instructions != "" {
		fmt.Fprintf(h.out, "  "+ui.ColorCyan+ui.IconBulb+ui.ColorReset+" %s\n", run.Instructions)
	}
	fmt.Fprintf(h.out, "  "+ui.ColorGray+ui.IconChart+ui.ColorReset+" шагов: %d, находок: %d\n", len(run.Steps), len(run.Issues))
	if run.Reason != "" {
		fmt.Fprintf(h.out, "  "+ui.ColorGray+"Причина:"+ui.ColorReset+" %s\n", run.Reason)
	}
	fmt.Fprintf(h.out, "  "+ui.ColorGray+ui.IconTime+ui.ColorReset+" %s\n", run.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintln(h.out)
}
