// Package sanitizer вычищает секреты и персональные данные из текстов,
// которые сохраняются как доказательства: консоль, сеть, фрагменты DOM,
// значения шагов.
package sanitizer

import (
	"net/url"
	"strings"
)

// Scrubber применяет правила замены по порядку. Безопасен для
// конкурентного использования.
type Scrubber struct {
	rules []rule
}

func New() *Scrubber {
	return &Scrubber{rules: defaultRules}
}

// Scrub заменяет найденные секреты маркерами [FILTERED*].
func (s *Scrubber) Scrub(text string) string {
	if text == "" {
		return text
	}
	for _, r := range s.rules {
		text = r.apply(text)
	}
	return text
}

// ScrubValue скрывает значение, введённое в поле. hint содержит тип,
// имя или autocomplete поля.
func (s *Scrubber) ScrubValue(hint, value string) string {
	if value == "" {
		return value
	}
	if sensitiveField(hint) {
		return filtered
	}
	return s.Scrub(value)
}

// ScrubURL скрывает значения чувствительных параметров запроса и
// учётные данные в адресе.
func (s *Scrubber) ScrubURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return s.Scrub(raw)
	}
	if u.User != nil {
		u.User = url.User(filtered)
	}
	q := u.Query()
	changed := false
	for key := range q {
		if sensitiveField(key) || isSessionKey(key) || strings.Contains(strings.ToLower(key), "email") {
			q.Set(key, filtered)
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return s.Scrub(u.String())
}

func isSessionKey(key string) bool {
	switch strings.ToLower(key) {
	case "sid", "session", "sessionid", "session_id", "phpsessid", "jsessionid", "code", "state", "key", "auth", "access_token", "id_token":
		return true
	}
	return false
}
