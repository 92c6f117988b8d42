package browser

import "strings"

// DeviceProfile параметры эмуляции устройства для контекста браузера.
type DeviceProfile struct {
	Name        string
	Width       int
	Height      int
	Mobile      bool
	Touch       bool
	ScaleFactor float64
	UserAgent   string
}

const mobileUA = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"

var profiles = map[string]DeviceProfile{
	"desktop": {Name: "desktop", Width: 1366, Height: 768, ScaleFactor: 1},
	"tablet":  {Name: "tablet", Width: 768, Height: 1024, Touch: true, ScaleFactor: 2},
	"mobile":  {Name: "mobile", Width: 390, Height: 844, Mobile: true, Touch: true, ScaleFactor: 3, UserAgent: mobileUA},
}

// Profile возвращает профиль по имени; неизвестное имя даёт desktop.
func Profile(name string) DeviceProfile {
	if p, ok := profiles[strings.ToLower(strings.TrimSpace(name))]; ok {
		return p
	}
	return profiles["desktop"]
}
