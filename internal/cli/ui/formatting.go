package ui

import (
	"fmt"
	"io"
	"unicode/utf8"
)

// FormatStatus возвращает иконку, цвет и текст для статуса запуска
func FormatStatus(status string) (icon, color, text string) {
	switch status {
	case "COMPLETED":
		return IconCheckmark, ColorGreen, "завершён"
	case "FAILED":
		return IconCross, ColorRed, "ошибка"
	case "BLOCKED":
		return IconLock, ColorPurple, "заблокирован"
	case "CANCELLED":
		return IconStop, ColorGray, "отменён"
	case "RUNNING":
		return IconPlay, ColorCyan, "выполняется"
	case "DIAGNOSING":
		return IconCompass, ColorCyan, "диагностика"
	case "PAUSED":
		return IconPause, ColorYellow, "на паузе"
	case "WAITING_FOR_HUMAN":
		return IconHand, ColorYellow, "у оператора"
	case "INITIALIZING":
		return IconClock, ColorYellow, "запускается"
	default:
		return IconClock, ColorYellow, status
	}
}

// FormatStepStatus иконка и цвет для исхода шага
func FormatStepStatus(status string) (icon, color string) {
	switch status {
	case "EXECUTED":
		return IconCheckmark, ColorGreen
	case "SKIPPED":
		return IconSkip, ColorGray
	case "BLOCKED":
		return IconLock, ColorPurple
	case "FAILED":
		return IconCross, ColorRed
	default:
		return IconClock, ColorYellow
	}
}

func SeverityColor(severity string) string {
	switch severity {
	case "high":
		return ColorRed
	case "medium":
		return ColorYellow
	default:
		return ColorGray
	}
}

// Truncate обрезает строку до n символов.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}

// Errorf печатает ошибку в едином формате.
func Errorf(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, ColorRed+IconCross+" "+format+ColorReset+"\n", args...)
}

// ClearScreen очищает терминал
func ClearScreen(w io.Writer) {
	fmt.Fprint(w, "\033[H\033[2J")
}
