package vision

import (
	"encoding/json"
	"errors"
	"strings"
)

var errNoJSON = errors.New("ответ не содержит JSON")

type rawResponse struct {
	Issues []struct {
		Severity    string `json:"severity"`
		Description string `json:"description"`
		Suggestion  string `json:"suggestion"`
	} `json:"issues"`
}

// ParseIssues разбирает ответ модели. Markdown-обёртка допускается, записи
// без описания отбрасываются.
func ParseIssues(raw string) ([]Issue, error) {
	body := stripFences(raw)
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end <= start {
		return []Issue{}, errNoJSON
	}

	var resp rawResponse
	if err := json.Unmarshal([]byte(body[start:end+1]), &resp); err != nil {
		return []Issue{}, err
	}

	issues := make([]Issue, 0, len(resp.Issues))
	for _, it := range resp.Issues {
		desc := strings.TrimSpace(it.Description)
		if desc == "" {
			continue
		}
		issues = append(issues, Issue{
			Severity:    NormalizeSeverity(it.Severity),
			Description: desc,
			Suggestion:  strings.TrimSpace(it.Suggestion),
		})
	}
	return issues, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// язык после открывающей обёртки: ```json
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

// NormalizeSeverity приводит важность к high/medium/low без учёта регистра.
func NormalizeSeverity(s string) string {
	l := strings.ToLower(s)
	switch {
	case strings.Contains(l, "high"), strings.Contains(l, "blocker"):
		return SeverityHigh
	case strings.Contains(l, "low"):
		return SeverityLow
	default:
		return SeverityMedium
	}
}
