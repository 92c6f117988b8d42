package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"explorer/internal/cli/ui"
	"explorer/internal/engine"

	"go.uber.org/zap"
)

// Asker спрашивает пользователя в консоли.
type Asker interface {
	AskUser(ctx context.Context, question string) (string, error)
	Confirm(ctx context.Context, question string) bool
}

// ControlHandler управляет идущими запусками: пауза, оператор, отмена
type ControlHandler struct {
	runs *engine.Manager
	ask  Asker
	log  *zap.Logger
	out  io.Writer
}

func NewControlHandler(runs *engine.Manager, ask Asker, log *zap.Logger, out io.Writer) *ControlHandler {
	return &ControlHandler{
		runs: runs,
		ask:  ask,
		log:  log,
		out:  out,
	}
}

func (h *ControlHandler) Pause(id string) {
	h.apply(id, h.runs.Pause, ui.IconPause+" Запуск будет приостановлен перед следующим шагом")
}

// Resume разбирает "resume <id> [--append] [инструкции]".
func (h *ControlHandler) Resume(args string) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		ui.Errorf(h.out, "Укажите id запуска")
		return
	}
	id := fields[0]
	extend := false
	var rest []string
	for _, f := range fields[1:] {
		if f == "--append" {
			extend = true
			continue
		}
		rest = append(rest, f)
	}
	if err := h.runs.Resume(id, strings.Join(rest, " "), extend); err != nil {
		ui.Errorf(h.out, "Ошибка: %v", err)
		return
	}
	fmt.Fprintln(h.out, ui.ColorGreen+ui.IconPlay+" Запуск продолжен"+ui.ColorReset)
}

func (h *ControlHandler) Take(id string) {
	h.apply(id, h.runs.TakeControl, ui.IconHand+" Вкладка перейдёт к вам после текущего шага; команды: op <id> ...")
}

func (h *ControlHandler) Release(id string) {
	h.apply(id, h.runs.ReleaseControl, ui.IconPlay+" Управление возвращено агенту")
}

// Cancel отменяет запуск после подтверждения.
func (h *ControlHandler) Cancel(ctx context.Context, id string) {
	id = strings.TrimSpace(id)
	if h.ask != nil && !h.ask.Confirm(ctx, fmt.Sprintf("Отменить запуск %s?", id)) {
		fmt.Fprintln(h.out, ui.ColorGray+"Отмена не выполнена"+ui.ColorReset)
		return
	}
	h.apply(id, h.runs.Cancel, ui.IconStop+" Запуск отменён")
}

// OTP передаёт одноразовый код. Без кода в аргументах спрашивает его.
func (h *ControlHandler) OTP(ctx context.Context, args string) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		ui.Errorf(h.out, "Укажите id запуска")
		return
	}
	code := ""
	if len(fields) > 1 {
		code = fields[1]
	} else if h.ask != nil {
		answer, err := h.ask.AskUser(ctx, "Введите одноразовый код")
		if err != nil {
			return
		}
		code = answer
	}
	if err := h.runs.SupplyOTP(fields[0], code); err != nil {
		ui.Errorf(h.out, "Ошибка: %v", err)
		return
	}
	// сам код в консоль и логи не попадает
	fmt.Fprintln(h.out, ui.ColorGreen+ui.IconLock+" Код передан"+ui.ColorReset)
}

// ParseCommand разбирает команду оператора: "click x y", "type текст",
// "press клавиша", "scroll dy", "navigate url", "screenshot [файл]".
// Для screenshot второй результат содержит путь к файлу.
func ParseCommand(fields []string) (engine.Command, string, error) {
	if len(fields) == 0 {
		return engine.Command{}, "", fmt.Errorf("%w: нужна команда", errUsage)
	}
	cmd := engine.Command{Action: strings.ToLower(fields[0])}
	args := fields[1:]
	switch cmd.Action {
	case "click":
		if len(args) != 2 {
			return cmd, "", fmt.Errorf("%w: click x y", errUsage)
		}
		x, errX := strconv.ParseFloat(args[0], 64)
		y, errY := strconv.ParseFloat(args[1], 64)
		if errX != nil || errY != nil {
			return cmd, "", fmt.Errorf("%w: координаты должны быть числами", errUsage)
		}
		cmd.X, cmd.Y = x, y
	case "type":
		if len(args) == 0 {
			return cmd, "", fmt.Errorf("%w: type текст", errUsage)
		}
		cmd.Text = strings.Join(args, " ")
	case "press":
		if len(args) != 1 {
			return cmd, "", fmt.Errorf("%w: press клавиша", errUsage)
		}
		cmd.Key = args[0]
	case "scroll":
		if len(args) != 1 {
			return cmd, "", fmt.Errorf("%w: scroll dy", errUsage)
		}
		dy, err := strconv.Atoi(args[0])
		if err != nil {
			return cmd, "", fmt.Errorf("%w: dy должно быть целым", errUsage)
		}
		cmd.Y = float64(dy)
	case "navigate":
		if len(args) != 1 {
			return cmd, "", fmt.Errorf("%w: navigate url", errUsage)
		}
		cmd.URL = args[0]
	case "screenshot":
		path := "screenshot.png"
		if len(args) > 0 {
			path = args[0]
		}
		return cmd, path, nil
	default:
		return cmd, "", fmt.Errorf("%w: неизвестная команда %q", errUsage, cmd.Action)
	}
	return cmd, "", nil
}

// Operate выполняет "op <id> <команда> ...".
func (h *ControlHandler) Operate(ctx context.Context, args string) {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		ui.Errorf(h.out, "Использование: op <id> <команда>")
		return
	}
	cmd, path, err := ParseCommand(fields[1:])
	if err != nil {
		ui.Errorf(h.out, "%v", err)
		return
	}
	png, err := h.runs.Operate(ctx, fields[0], cmd)
	if err != nil {
		ui.Errorf(h.out, "Ошибка: %v", err)
		return
	}
	if path != "" {
		if err := os.WriteFile(path, png, 0o644); err != nil {
			ui.Errorf(h.out, "Ошибка записи: %v", err)
			return
		}
		fmt.Fprintf(h.out, ui.ColorGreen+ui.IconCamera+" Скриншот сохранён в %s"+ui.ColorReset+"\n", path)
		return
	}
	fmt.Fprintln(h.out, ui.ColorGreen+ui.IconCheckmark+" Выполнено"+ui.ColorReset)
}

func (h *ControlHandler) apply(id string, op func(string) error, done string) {
	id = strings.TrimSpace(id)
	if id == "" {
		ui.Errorf(h.out, "Укажите id запуска")
		return
	}
	if err := op(id); err != nil {
		h.log.Debug("Команда управления отклонена", zap.String("run_id", id), zap.Error(err))
		ui.Errorf(h.out, "Ошибка: %v", err)
		return
	}
	fmt.Fprintln(h.out, ui.ColorGreen+done+ui.ColorReset)
}
