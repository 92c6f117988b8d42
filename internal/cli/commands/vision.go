package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"explorer/internal/cli/ui"
	"explorer/internal/vision"
)

// VisionHandler проверяет сохранённый скриншот моделью зрения
type VisionHandler struct {
	validator *vision.Validator
	out       io.Writer
}

func NewVisionHandler(validator *vision.Validator, out io.Writer) *VisionHandler {
	return &VisionHandler{validator: validator, out: out}
}

// Check разбирает "vision <файл.png> [url]".
func (h *VisionHandler) Check(ctx context.Context, args string) {
	if !h.validator.Enabled() {
		ui.Errorf(h.out, "Модель зрения не настроена")
		return
	}
	fields := strings.Fields(args)
	if len(fields) == 0 {
		ui.Errorf(h.out, "Укажите путь к скриншоту")
		return
	}
	shot, err := os.ReadFile(fields[0])
	if err != nil {
		ui.Errorf(h.out, "Ошибка чтения: %v", err)
		return
	}
	req := vision.Request{Screenshot: shot, Trigger: vision.TriggerManual}
	if len(fields) > 1 {
		req.URL = fields[1]
	}

	fmt.Fprintln(h.out, ui.ColorCyan+ui.IconEye+" Запрос к модели зрения..."+ui.ColorReset)
	res := h.validator.Validate(ctx, req)
	if res.Outcome != vision.OK {
		ui.Errorf(h.out, "Проверка не удалась (%s): %v", res.Outcome, res.Err)
		return
	}
	if len(res.Issues) == 0 {
		fmt.Fprintf(h.out, ui.ColorGreen+ui.IconCheckmark+" Замечаний нет"+ui.ColorReset+" "+ui.ColorGray+"(%s)"+ui.ColorReset+"\n", res.Latency.Round(time.Millisecond))
		return
	}
	fmt.Fprintf(h.out, ui.ColorYellow+ui.IconWarning+" Замечания (%d):"+ui.ColorReset+"\n", len(res.Issues))
	for _, i := range res.Issues {
		fmt.Fprintf(h.out, "  %s[%s]"+ui.ColorReset+" %s\n", ui.SeverityColor(i.Severity), i.Severity, i.Description)
		if i.Suggestion != "" {
			fmt.Fprintf(h.out, "    "+ui.ColorGray+"%s"+ui.ColorReset+"\n", i.Suggestion)
		}
	}
}
