// Package blocker распознаёт препятствия исследования: баннеры согласия на
// cookie, CAPTCHA, запрос одноразового кода, возрастной барьер и paywall.
package blocker

import (
	"fmt"
	"strings"
	"unicode"

	"explorer/internal/perception"
)

// Kind вид блокера.
type Kind string

const (
	CookieConsent Kind = "cookie-consent"
	Captcha       Kind = "captcha"
	MFA           Kind = "mfa"
	AgeGate       Kind = "age-gate"
	Paywall       Kind = "paywall"
	Loop          Kind = "loop"
)

// Detection найденный блокер. Dismiss заполнен для баннера cookie с
// распознанной кнопкой согласия; OTPField и Submit для запроса кода.
type Detection struct {
	Kind     Kind
	Evidence string
	Dismiss  *perception.Affordance
	OTPField *perception.Affordance
	Submit   *perception.Affordance
}

// Dismissible сообщает, можно ли снять блокер без человека.
func (d *Detection) Dismissible() bool {
	return d != nil && d.Kind == CookieConsent && d.Dismiss != nil
}

var captchaFrames = []string{"recaptcha", "hcaptcha", "turnstile", "challenges.cloudflare.com", "arkoselabs", "funcaptcha"}

// Кнопки баннера согласия, которые не принимают его.
var consentControls = []string{
	"reject", "reject all", "decline", "deny", "preferences", "manage preferences", "customize", "customise",
	"отклонить", "отказаться",
}

// Нейтральные подтверждения. Считаются согласием только внутри
// плавающей панели с текстом про cookie: на обычной странице "Continue"
// продолжает оформление заказа, а не закрывает баннер.
var acknowledge = []string{"continue", "ok", "okay", "got it", "understood", "продолжить", "понятно", "хорошо"}

var otpNames = []string{"otp", "totp", "mfa", "2fa", "one-time", "onetime", "verification", "verify_code", "code", "pin"}

var submitWords = []string{"verify", "submit", "continue", "confirm", "sign in", "log in", "next", "подтвердить", "продолжить", "войти", "далее"}

type Classifier struct {
	lex Lexicon
}

func New(lex Lexicon) *Classifier {
	return &Classifier{lex: lex}
}

// Classify проверяет модель страницы в порядке: CAPTCHA, код подтверждения,
// cookie, возраст, paywall. Возвращает nil, если блокеров нет.
func (c *Classifier) Classify(m *perception.PageModel) *Detection {
	if m == nil {
		return nil
	}
	text := normalize(m.Title + " " + m.Text)

	if d := c.captcha(m, text); d != nil {
		return d
	}
	if d := c.mfa(m, text); d != nil {
		return d
	}
	if d := c.cookie(m, text); d != nil {
		return d
	}
	if phrase, ok := containsAny(text, c.lex.AgeGate); ok {
		return &Detection{Kind: AgeGate, Evidence: fmt.Sprintf("найдена фраза %q", phrase)}
	}
	return c.paywall(m, text)
}

// captcha: фреймы приходят уже отфильтрованными по видимости; невидимый
// reCAPTCHA v3 рисует значок, но не требует действий.
func (c *Classifier) captcha(m *perception.PageModel, text string) *Detection {
	for _, f := range m.Frames {
		lf := strings.ToLower(f)
		if strings.Contains(lf, "size=invisible") {
			continue
		}
		for _, marker := range captchaFrames {
			if strings.Contains(lf, marker) {
				return &Detection{Kind: Captcha, Evidence: "фрейм CAPTCHA: " + f}
			}
		}
	}
	if phrase, ok := containsAny(text, c.lex.Captcha); ok {
		return &Detection{Kind: Captcha, Evidence: fmt.Sprintf("найдена фраза %q", phrase)}
	}
	return nil
}

func (c *Classifier) mfa(m *perception.PageModel, text string) *Detection {
	phrase, hasPhrase := containsAny(text, c.lex.MFA)

	var field *perception.Affordance
	for i, a := range m.Affordances {
		if !a.FormField() || a.InputType == "password" || a.InputType == "email" {
			continue
		}
		if strings.EqualFold(a.Autocomplete, "one-time-code") {
			field = &m.Affordances[i]
			break
		}
		if hasPhrase && field == nil && nameHints(a, otpNames) {
			field = &m.Affordances[i]
		}
	}
	if !hasPhrase && field == nil {
		return nil
	}

	d := &Detection{Kind: MFA, OTPField: field}
	if hasPhrase {
		d.Evidence = fmt.Sprintf("найдена фраза %q", phrase)
	} else {
		d.Evidence = "поле одноразового кода: " + field.Path
	}
	if field != nil {
		d.Submit = submitFor(m, *field)
	}
	return d
}

// cookie ищет баннер сначала в плавающих панелях, затем по тексту всей
// страницы. Без панели кнопкой согласия считается только явная фраза.
func (c *Classifier) cookie(m *perception.PageModel, text string) *Detection {
	for _, o := range m.Overlays {
		phrase, ok := containsAny(normalize(o.Text), c.lex.Cookie)
		if !ok {
			continue
		}
		if accept, controls := c.bannerButtons(m, o.Contains, true); controls > 0 {
			return &Detection{Kind: CookieConsent, Evidence: fmt.Sprintf("баннер согласия (%q) в %s", phrase, o.Path), Dismiss: accept}
		}
	}

	phrase, ok := containsAny(text, c.lex.Cookie)
	if !ok {
		return nil
	}
	accept, controls := c.bannerButtons(m, nil, false)
	// Упоминание cookie без кнопок баннера: обычная страница, например политика
	if controls == 0 {
		return nil
	}
	return &Detection{Kind: CookieConsent, Evidence: fmt.Sprintf("баннер согласия (%q)", phrase), Dismiss: accept}
}

// bannerButtons считает кнопки баннера и выбирает кнопку согласия. within
// ограничивает поиск панелью; inBanner разрешает нейтральные подтверждения.
func (c *Classifier) bannerButtons(m *perception.PageModel, within func(string) bool, inBanner bool) (*perception.Affordance, int) {
	var accept *perception.Affordance
	controls := 0
	for i, a := range m.Affordances {
		if !buttonLike(a) || a.Disabled {
			continue
		}
		if within != nil && !within(a.Path) {
			continue
		}
		name := normalize(a.Name())
		if _, ctl := containsAny(name, consentControls); ctl {
			controls++
			continue
		}
		if _, cookieBtn := containsAny(name, c.lex.Cookie); cookieBtn {
			controls++
		}
		if accept == nil && (acceptLabel(name, c.lex.Accept) || (inBanner && acceptLabel(name, acknowledge))) {
			accept = &m.Affordances[i]
			controls++
		}
	}
	return accept, controls
}

func (c *Classifier) paywall(m *perception.PageModel, text string) *Detection {
	if phrase, ok := containsAny(text, c.lex.Paywall); ok {
		return &Detection{Kind: Paywall, Evidence: fmt.Sprintf("найдена фраза %q", phrase)}
	}
	for _, a := range m.Affordances {
		ac := strings.ToLower(a.Autocomplete)
		name := strings.ToLower(a.FieldName)
		if strings.HasPrefix(ac, "cc-number") || strings.Contains(name, "cardnumber") || strings.Contains(name, "card-number") || strings.Contains(name, "card_number") {
			return &Detection{Kind: Paywall, Evidence: "форма оплаты: поле " + a.Path}
		}
	}
	return nil
}

// acceptLabel: надпись кнопки целиком является фразой согласия, возможно с
// уточнением ("Accept all cookies").
func acceptLabel(name string, accept []string) bool {
	if name == "" {
		return false
	}
	for _, p := range accept {
		p = normalize(p)
		if name == p || strings.HasPrefix(name, p+" ") {
			return true
		}
	}
	return false
}

func buttonLike(a perception.Affordance) bool {
	return a.Tag == "button" || a.Role == "button" || a.Submit() ||
		(a.Tag == "input" && (a.InputType == "button" || a.InputType == "submit")) ||
		(a.Tag == "a" && !a.Navigational())
}

func nameHints(a perception.Affordance, hints []string) bool {
	name := strings.ToLower(a.FieldName + " " + a.Label + " " + a.Placeholder)
	for _, h := range hints {
		if strings.Contains(name, h) {
			return true
		}
	}
	return false
}

func submitFor(m *perception.PageModel, field perception.Affordance) *perception.Affordance {
	for i, a := range m.Affordances {
		if a.Submit() && a.FormID == field.FormID {
			return &m.Affordances[i]
		}
	}
	for i, a := range m.Affordances {
		if !buttonLike(a) || a.Disabled {
			continue
		}
		if _, ok := containsAny(normalize(a.Name()), submitWords); ok {
			return &m.Affordances[i]
		}
	}
	return nil
}

// normalize приводит текст к нижнему регистру и заменяет пробелы и
// пунктуацию, кроме апострофа и дефиса, одним пробелом.
func normalize(s string) string {
	var b strings.Builder
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == '-' {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// containsAny ищет фразу по границам слов. Фраза со звёздочкой на конце
// сопоставляется как основа слова.
func containsAny(text string, phrases []string) (string, bool) {
	padded := " " + text + " "
	for _, p := range phrases {
		stem := strings.HasSuffix(p, "*")
		np := normalize(strings.TrimSuffix(p, "*"))
		if np == "" {
			continue
		}
		if stem && strings.Contains(padded, " "+np) {
			return p, true
		}
		if strings.Contains(padded, " "+np+" ") {
			return p, true
		}
	}
	return "", false
}
