package blocker

import (
	"explorer/internal/config"
)

// Lexicon фразы, по которым распознаются блокеры. Сравнение без учёта
// регистра, по границам слов; "основа*" совпадает с началом слова.
type Lexicon struct {
	Accept  []string
	Cookie  []string
	Captcha []string
	MFA     []string
	AgeGate []string
	Paywall []string
}

// DefaultLexicon встроенные фразы, включая локализованные варианты.
func DefaultLexicon() Lexicon {
	return Lexicon{
		Accept: []string{
			"accept", "accept all", "accept cookies", "accept all cookies", "agree", "i agree", "allow",
			"allow all", "allow cookies", "принять", "принять все", "согласен", "согласна", "разрешить",
			"akzeptieren", "alle akzeptieren", "accepter", "tout accepter", "aceptar",
		},
		Cookie: []string{
			"we use cookies", "this site uses cookies", "this website uses cookies", "use of cookies",
			"accept cookies", "cookie consent", "cookie preferences", "cookie settings", "manage cookies",
			"cookie notice", "cookies on this site", "мы используем cookie", "мы используем файлы cookie", "использует cookie",
			"использует файлы cookie", "согласие на cookie",
		},
		Captcha: []string{
			"i'm not a robot", "i am not a robot", "verify you are human", "verify that you are human",
			"are you a robot", "checking your browser", "complete the captcha", "solve the captcha",
			"enter the characters you see", "performing security verification",
			"я не робот", "подтвердите, что вы не робот", "введите символы с картинки",
		},
		MFA: []string{
			"verification code", "one-time code", "one time code", "one-time password", "two-factor",
			"2-step verification", "2fa", "authentication code", "enter the code",
			"код подтверждения", "одноразовый код", "код из смс", "двухфакторн*",
		},
		AgeGate: []string{
			"are you 18", "are you over 18", "are you 21", "are you over 21", "confirm your age",
			"verify your age", "age verification", "enter your date of birth", "you must be 18", "you must be 21",
			"вам есть 18", "подтвердите возраст", "вам исполнилось 18",
		},
		Paywall: []string{
			"subscribe to continue", "subscribe to read", "for subscribers only", "subscribers only",
			"start your free trial", "upgrade to continue", "payment required", "premium content",
			"unlock this article", "оформите подписку", "только для подписчиков", "доступно по подписке",
		},
	}
}

// NewLexicon дополняет встроенные фразы фразами из конфигурации.
func NewLexicon(cfg config.Lexicon) Lexicon {
	l := DefaultLexicon()
	l.Accept = append(l.Accept, cfg.Accept...)
	l.Cookie = append(l.Cookie, cfg.Cookie...)
	l.Captcha = append(l.Captcha, cfg.Captcha...)
	l.MFA = append(l.MFA, cfg.MFA...)
	l.AgeGate = append(l.AgeGate, cfg.AgeGate...)
	l.Paywall = append(l.Paywall, cfg.Paywall...)
	return l
}
