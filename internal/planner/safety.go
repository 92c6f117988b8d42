package planner

import (
	"net/url"
	"path"
	"strings"

	"explorer/internal/perception"
)

// destructivePattern группа ключевых слов необратимых действий.
type destructivePattern struct {
	Keywords    []string
	Description string
}

// Такие элементы никогда не выбираются автоматически.
var destructivePatterns = []destructivePattern{
	{
		Keywords:    []string{"pay", "payment", "checkout", "purchase", "place order", "buy now", "confirm order", "оплат", "оформить заказ", "купить сейчас"},
		Description: "финансовая операция",
	},
	{
		Keywords:    []string{"delete", "remove account", "erase", "destroy", "deactivate", "close account", "удал", "очист"},
		Description: "удаление данных",
	},
	{
		Keywords:    []string{"logout", "log out", "sign out", "signout", "выйти", "выход"},
		Description: "выход из аккаунта",
	},
	{
		Keywords:    []string{"unsubscribe", "cancel subscription", "отписаться", "отменить подписку"},
		Description: "отмена подписки",
	},
	{
		Keywords:    []string{"change password", "reset password", "сменить пароль", "transfer", "перевести"},
		Description: "изменение критичных настроек",
	},
}

// Destructive сообщает, похож ли элемент на необратимое действие, и
// возвращает описание опасности.
func Destructive(a perception.Affordance) (bool, string) {
	combined := strings.ToLower(a.Name() + " " + a.Label + " " + a.Href + " " + a.FieldName)
	for _, p := range destructivePatterns {
		for _, kw := range p.Keywords {
			if strings.Contains(combined, kw) {
				return true, p.Description + " (" + kw + ")"
			}
		}
	}
	return false, ""
}

var blockedSchemes = map[string]bool{
	"mailto": true, "tel": true, "sms": true, "javascript": true,
	"data": true, "blob": true, "file": true, "ftp": true,
}

var downloadExt = map[string]bool{
	".pdf": true, ".zip": true, ".rar": true, ".7z": true, ".gz": true, ".exe": true, ".dmg": true,
	".apk": true, ".msi": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true, ".csv": true,
	".mp4": true, ".mp3": true, ".iso": true,
}

// Служебные страницы вне области исследования.
var blockedPaths = []string{"/wp-admin", "/phpmyadmin", "/cpanel", "/administrator", "/logout", "/signout"}

// InScope сообщает, можно ли переходить по ссылке в рамках прогона:
// тот же сайт, http(s), не файл для скачивания и не служебная страница.
func InScope(href, origin string) bool {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	if blockedSchemes[scheme] || (scheme != "http" && scheme != "https") {
		return false
	}
	if !perception.SameSite(href, origin) {
		return false
	}
	p := strings.ToLower(u.Path)
	if downloadExt[path.Ext(p)] {
		return false
	}
	for _, b := range blockedPaths {
		if strings.HasPrefix(p, b) {
			return false
		}
	}
	return true
}
