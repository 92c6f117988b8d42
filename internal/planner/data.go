package planner

import (
	"strings"

	"explorer/internal/perception"
)

// SyntheticValue подбирает правдоподобное тестовое значение для поля по
// типу, autocomplete и имени.
func SyntheticValue(a perception.Affordance) string {
	hint := strings.ToLower(a.Autocomplete + " " + a.FieldName + " " + a.Placeholder + " " + a.Label)

	switch a.InputType {
	case "email":
		return "explorer.test@example.com"
	case "tel":
		return "+15555550123"
	case "password":
		return "Expl0rer!Test"
	case "number":
		return "3"
	case "url":
		return "https://example.com"
	case "date":
		return "2024-01-15"
	case "search":
		return "test"
	}

	switch {
	case strings.Contains(hint, "email") || strings.Contains(hint, "e-mail") || strings.Contains(hint, "почт"):
		return "explorer.test@example.com"
	case strings.Contains(hint, "phone") || strings.Contains(hint, "tel") || strings.Contains(hint, "телефон"):
		return "+15555550123"
	case strings.Contains(hint, "given-name") || strings.Contains(hint, "first"):
		return "Alex"
	case strings.Contains(hint, "family-name") || strings.Contains(hint, "last") || strings.Contains(hint, "surname"):
		return "Tester"
	case strings.Contains(hint, "name") || strings.Contains(hint, "имя"):
		return "Alex Tester"
	case strings.Contains(hint, "postal") || strings.Contains(hint, "zip"):
		return "10001"
	case strings.Contains(hint, "city") || strings.Contains(hint, "город"):
		return "Springfield"
	case strings.Contains(hint, "address") || strings.Contains(hint, "street") || strings.Contains(hint, "адрес"):
		return "1 Test Street"
	case strings.Contains(hint, "company") || strings.Contains(hint, "organization"):
		return "Example Inc"
	case strings.Contains(hint, "search") || strings.Contains(hint, "поиск") || a.FieldName == "q":
		return "test"
	}

	if a.Tag == "textarea" {
		return "Exploratory test message"
	}
	return "test"
}
