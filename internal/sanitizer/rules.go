package sanitizer

import (
	"regexp"
	"strings"
)

const (
	filtered        = "[FILTERED]"
	filteredEmail   = "[FILTERED_EMAIL]"
	filteredPhone   = "[FILTERED_PHONE]"
	filteredCard    = "[FILTERED_CARD]"
	filteredAddress = "[FILTERED_ADDRESS]"
)

// rule одно правило замены. Шаблоны компилируются один раз при загрузке пакета.
type rule struct {
	name    string
	pattern *regexp.Regexp
	replace string
	// check дополнительная проверка совпадения, например контрольная сумма карты
	check func(match string) bool
}

func (r rule) apply(text string) string {
	if r.check == nil {
		return r.pattern.ReplaceAllString(text, r.replace)
	}
	return r.pattern.ReplaceAllStringFunc(text, func(m string) string {
		if !r.check(m) {
			return m
		}
		return r.pattern.ReplaceAllString(m, r.replace)
	})
}

// Порядок важен: ключ=значение раньше общих шаблонов, чтобы сохранить имя ключа.
var defaultRules = []rule{
	{name: "password", pattern: regexp.MustCompile(`(?i)(password|passwd|pwd|пароль)(["']?\s*[:=]\s*["']?)[^"'\s&,;]{3,}`), replace: "${1}${2}" + filtered},
	{name: "password-input", pattern: regexp.MustCompile(`(?i)(<input[^>]*type=["']password["'][^>]*value=["'])[^"']*`), replace: "${1}" + filtered},
	{name: "bearer", pattern: regexp.MustCompile(`(?i)(bearer\s+)[a-z0-9._~+/=-]{16,}`), replace: "${1}" + filtered},
	{name: "secret-kv", pattern: regexp.MustCompile(`(?i)(api[_-]?key|api[_-]?secret|api[_-]?token|secret[_-]?key|secret[_-]?token|access[_-]?token|access[_-]?key|refresh[_-]?token|client[_-]?secret|auth[_-]?token|token|токен)(["']?\s*[:=]\s*["']?)[a-z0-9._~+/-]{16,}`), replace: "${1}${2}" + filtered},
	{name: "session", pattern: regexp.MustCompile(`(?i)(session[_-]?id|session[_-]?token|sid|phpsessid|jsessionid)(["']?\s*[:=]\s*["']?)[a-z0-9_-]{10,}`), replace: "${1}${2}" + filtered},
	{name: "cookie-header", pattern: regexp.MustCompile(`(?i)((?:set-)?cookie\s*:\s*)[^\n]+`), replace: "${1}" + filtered},
	{name: "provider-key", pattern: regexp.MustCompile(`\b(?:sk|pk|rk)[-_](?:live_|test_)?[A-Za-z0-9]{24,}\b`), replace: filtered},
	{name: "jwt", pattern: regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\b`), replace: filtered},
	{name: "card", pattern: regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`), replace: filteredCard, check: luhn},
	{name: "cvv", pattern: regexp.MustCompile(`(?i)(cvv2?|cvc2?)(["']?\s*[:=]\s*["']?)\d{3,4}`), replace: "${1}${2}" + filtered},
	{name: "email", pattern: regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`), replace: filteredEmail},
	{name: "phone-ru", pattern: regexp.MustCompile(`(?:\+7|\b8)\s?\(?\d{3}\)?\s?\d{3}[-.\s]?\d{2}[-.\s]?\d{2}\b`), replace: filteredPhone},
	{name: "phone", pattern: regexp.MustCompile(`\+\d{1,3}[-.\s]?\(?\d{1,4}\)?[-.\s]?\d{2,4}[-.\s]?\d{2,4}(?:[-.\s]?\d{2,4})?\b`), replace: filteredPhone},
	{name: "phone-kv", pattern: regexp.MustCompile(`(?i)(phone|телефон|тел\.?)(["']?\s*[:=]\s*["']?)[+\d\s()-]{7,}`), replace: "${1}${2}" + filteredPhone},
	{name: "address-kv", pattern: regexp.MustCompile(`(?i)(address|адрес)(["']?\s*[:=]\s*["']?)[^"'\n]{6,}`), replace: "${1}${2}" + filteredAddress},
	{name: "street-ru", pattern: regexp.MustCompile(`(?i)(?:улица|ул\.|проспект|пр-т|переулок|пер\.|бульвар|шоссе)\s+[А-Яа-яЁё\w-]+(?:,?\s*(?:д\.|дом)\s*\d+[а-я]?)?(?:,?\s*(?:кв\.|квартира)\s*\d+)?`), replace: filteredAddress},
}

// luhn проверяет контрольную сумму номера карты, чтобы не трогать
// произвольные длинные числа.
func luhn(s string) bool {
	digits := make([]int, 0, 19)
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// sensitiveHints признаки поля с секретным значением.
var sensitiveHints = []string{
	"password", "passwd", "пароль", "token", "secret", "apikey", "api_key", "api-key", "card", "cvv", "cvc",
	"otp", "pincode", "pin_code", "one-time-code", "cc-", "ssn", "passport", "паспорт",
}

func sensitiveField(hint string) bool {
	lower := strings.ToLower(hint)
	for _, h := range sensitiveHints {
		if strings.Contains(lower, h) {
			return true
		}
	}
	return false
}
