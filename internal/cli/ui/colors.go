package ui

// ANSI цветовые коды
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorPurple = "\033[35m"
	ColorCyan   = "\033[36m"
	ColorGray   = "\033[90m"
	ColorBold   = "\033[1m"
)

// Статусы запусков и шагов
const (
	IconCheckmark = "✓"
	IconCross     = "✗"
	IconClock     = "⏳"
	IconSkip      = "↷"
	IconLoop      = "🔄"
	IconWarning   = "⚠"
)

// Управление запуском
const (
	IconPlay    = "▶"
	IconPause   = "⏸"
	IconStop    = "⏹"
	IconHand    = "✋"
	IconLock    = "🔒"
	IconCompass = "🧭"
)

// Консоль
const (
	IconEye    = "👁"
	IconCamera = "📷"
	IconGlobe  = "🌐"
	IconWave   = "👋"
	IconBulb   = "💡"
	IconList   = "📋"
	IconChart  = "📊"
	IconTime   = "🕐"
)
