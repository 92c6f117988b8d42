package ui

import (
	"fmt"
	"io"
	"os"
)

// PrintWelcome выводит приветствие и лого
func PrintWelcome(w io.Writer) {
	logoBytes, err := os.ReadFile("logo.txt")
	if err == nil {
		fmt.Fprintln(w, ColorCyan+string(logoBytes)+ColorReset)
	}
	fmt.Fprintln(w, ColorBold+IconCompass+" Explorer v0.1.0"+ColorReset)
	fmt.Fprintln(w, ColorGray+"Автономное исследование сайтов: шаги, находки и улики"+ColorReset)
	fmt.Fprintln(w)
	PrintHelp(w)
	fmt.Fprintln(w, ColorCyan+IconBulb+" Совет:"+ColorReset+" "+ColorYellow+"watch <id>"+ColorReset+" показывает шаги в реальном времени, "+ColorYellow+"take <id>"+ColorReset+" передаёт вкладку вам")
	fmt.Fprintln(w)
	fmt.Fprintln(w, ColorGray+"⬆️ ⬇️"+ColorReset+" Используйте стрелки для навигации по истории команд")
	fmt.Fprintln(w)
}

// PrintHelp выводит список доступных команд
func PrintHelp(w io.Writer) {
	fmt.Fprintln(w, ColorYellow+IconList+" Доступные команды:"+ColorReset)
	fmt.Fprintln(w, "  "+ColorGreen+"explore"+ColorReset+" <url> [--device mobile|tablet|desktop] [--visual] [инструкции]")
	fmt.Fprintln(w, "                       - Запустить исследование")
	fmt.Fprintln(w, "  "+ColorGreen+"runs"+ColorReset+"                - Список запусков")
	fmt.Fprintln(w, "  "+ColorGreen+"status"+ColorReset+" <id>         - Статус запуска")
	fmt.Fprintln(w, "  "+ColorGreen+"show"+ColorReset+" <id>           - Шаги и находки запуска")
	fmt.Fprintln(w, "  "+ColorGreen+"watch"+ColorReset+" <id>          - Следить за шагами")
	fmt.Fprintln(w, "  "+ColorGreen+"report"+ColorReset+" <id> [файл]  - Итоговый отчёт в JSON")
	fmt.Fprintln(w, "  "+ColorGreen+"pause"+ColorReset+" <id>          - Пауза")
	fmt.Fprintln(w, "  "+ColorGreen+"resume"+ColorReset+" <id> [--append] [инструкции] - Продолжить")
	fmt.Fprintln(w, "  "+ColorGreen+"take"+ColorReset+" <id>           - Взять управление вкладкой")
	fmt.Fprintln(w, "  "+ColorGreen+"op"+ColorReset+" <id> <команда>   - click x y | type текст | press клавиша | scroll dy | navigate url | screenshot файл")
	fmt.Fprintln(w, "  "+ColorGreen+"release"+ColorReset+" <id>        - Вернуть управление агенту")
	fmt.Fprintln(w, "  "+ColorGreen+"otp"+ColorReset+" <id> [код]      - Передать одноразовый код")
	fmt.Fprintln(w, "  "+ColorGreen+"cancel"+ColorReset+" <id>         - Отменить запуск")
	fmt.Fprintln(w, "  "+ColorGreen+"vision"+ColorReset+" <png> [url]  - Проверить скриншот моделью зрения")
	fmt.Fprintln(w, "  "+ColorGreen+"clear"+ColorReset+"               - Очистить экран")
	fmt.Fprintln(w, "  "+ColorGreen+"exit"+ColorReset+"                - Выход")
	fmt.Fprintln(w)
}
