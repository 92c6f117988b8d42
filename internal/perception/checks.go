package perception

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

const (
	clsThreshold      = 0.25
	slowLoadMs        = 5000
	verySlowLoadMs    = 10000
	minContrast       = 4.5
	minContrastLarge  = 3.0
	minTapTarget      = 24
	maxOverlapReports = 5
	maxOverlapChecked = 150
)

// Finding результат структурной проверки.
type Finding struct {
	Category    string
	Severity    string
	Description string
	Suggestion  string
	Ref         string
}

type CheckOptions struct {
	Mobile bool
}

// Check запускает структурные детекторы по модели страницы.
func Check(m *PageModel, opts CheckOptions) []Finding {
	if m == nil {
		return nil
	}
	var out []Finding
	out = append(out, checkOverlap(m)...)
	out = append(out, checkImages(m)...)
	out = append(out, checkLabels(m)...)
	if opts.Mobile {
		out = append(out, checkTapTargets(m)...)
	}
	out = append(out, checkContrast(m)...)
	out = append(out, checkPerformance(m)...)
	out = append(out, checkSecurity(m)...)
	return out
}

func checkOverlap(m *PageModel) []Finding {
	var items []Affordance
	for _, a := range m.Affordances {
		if a.Class != Decorative && a.InViewport {
			items = append(items, a)
		}
		if len(items) >= maxOverlapChecked {
			break
		}
	}

	var out []Finding
	for i := 0; i < len(items) && len(out) < maxOverlapReports; i++ {
		for j := i + 1; j < len(items) && len(out) < maxOverlapReports; j++ {
			a, b := items[i], items[j]
			if nested(a.Path, b.Path) {
				continue
			}
			smaller := math.Min(a.Rect.Area(), b.Rect.Area())
			if smaller <= 0 {
				continue
			}
			if a.Rect.Overlap(b.Rect)/smaller > 0.3 {
				out = append(out, Finding{
					Category:    "visual",
					Severity:    "medium",
					Description: fmt.Sprintf("Интерактивные элементы перекрываются: %s и %s", DescriptorOf(a).Summary(), DescriptorOf(b).Summary()),
					Suggestion:  "Проверьте позиционирование и z-index, чтобы элементы не накладывались",
					Ref:         a.Ref,
				})
			}
		}
	}
	return out
}

func nested(p1, p2 string) bool {
	return strings.HasPrefix(p1, p2+">") || strings.HasPrefix(p2, p1+">")
}

func checkImages(m *PageModel) []Finding {
	var out []Finding
	broken := 0
	missingAlt := 0
	var firstBroken string
	for _, img := range m.Images {
		if img.Broken {
			broken++
			if firstBroken == "" {
				firstBroken = img.Src
			}
		}
		if !img.HasAlt && img.Rect.Width > 1 && img.Rect.Height > 1 {
			missingAlt++
		}
	}
	if broken > 0 {
		out = append(out, Finding{
			Category:    "visual",
			Severity:    "medium",
			Description: fmt.Sprintf("Не загрузились изображения: %d (например, %s)", broken, firstBroken),
			Suggestion:  "Проверьте пути к изображениям и ответы сервера",
		})
	}
	if missingAlt > 0 {
		out = append(out, Finding{
			Category:    "accessibility",
			Severity:    "low",
			Description: fmt.Sprintf("Изображения без атрибута alt: %d", missingAlt),
			Suggestion:  "Добавьте alt с описанием или alt=\"\" для декоративных изображений",
		})
	}
	return out
}

func checkLabels(m *PageModel) []Finding {
	unlabeled := 0
	var example Affordance
	for _, a := range m.Affordances {
		if a.Name() != "" || a.Disabled {
			continue
		}
		if a.Tag == "button" || a.Role == "button" || a.FormField() || a.Navigational() {
			if unlabeled == 0 {
				example = a
			}
			unlabeled++
		}
	}
	if unlabeled == 0 {
		return nil
	}
	return []Finding{{
		Category:    "accessibility",
		Severity:    "medium",
		Description: fmt.Sprintf("Элементы управления без доступного имени: %d (например, %s)", unlabeled, example.Path),
		Suggestion:  "Добавьте видимый текст, <label> или aria-label",
		Ref:         example.Ref,
	}}
}

func checkTapTargets(m *PageModel) []Finding {
	small := 0
	for _, a := range m.Affordances {
		if a.Class == Decorative {
			continue
		}
		if a.Rect.Width < minTapTarget || a.Rect.Height < minTapTarget {
			small++
		}
	}
	if small == 0 {
		return nil
	}
	return []Finding{{
		Category:    "accessibility",
		Severity:    "low",
		Description: fmt.Sprintf("Слишком маленькие зоны нажатия на мобильном: %d", small),
		Suggestion:  fmt.Sprintf("Увеличьте размер интерактивных элементов минимум до %dx%d px", minTapTarget, minTapTarget),
	}}
}

func checkContrast(m *PageModel) []Finding {
	low := 0
	worst := math.Inf(1)
	var worstSample TextSample
	for _, s := range m.TextSamples {
		ratio, ok := ContrastRatio(s.Color, s.Background)
		if !ok {
			continue
		}
		limit := minContrast
		if s.FontSize >= 24 || (s.FontSize >= 18.66 && s.FontWeight >= 700) {
			limit = minContrastLarge
		}
		if ratio < limit {
			low++
			if ratio < worst {
				worst, worstSample = ratio, s
			}
		}
	}
	if low == 0 {
		return nil
	}
	return []Finding{{
		Category:    "accessibility",
		Severity:    "medium",
		Description: fmt.Sprintf("Недостаточный контраст текста: %d фрагментов, худший %.2f:1 (%q)", low, worst, worstSample.Text),
		Suggestion:  "Обеспечьте контраст не ниже 4.5:1 для обычного текста и 3:1 для крупного",
	}}
}

func checkPerformance(m *PageModel) []Finding {
	var out []Finding
	if m.Timing.CLS > clsThreshold {
		out = append(out, Finding{
			Category:    "performance",
			Severity:    "medium",
			Description: fmt.Sprintf("Сильный сдвиг макета при загрузке (CLS %.2f)", m.Timing.CLS),
			Suggestion:  "Задайте размеры изображениям и резервируйте место под динамический контент",
		})
	}
	if m.Timing.LoadMs > slowLoadMs {
		sev := "medium"
		if m.Timing.LoadMs > verySlowLoadMs {
			sev = "high"
		}
		out = append(out, Finding{
			Category:    "performance",
			Severity:    sev,
			Description: fmt.Sprintf("Медленная загрузка страницы: %.1f с", m.Timing.LoadMs/1000),
			Suggestion:  "Сократите блокирующие ресурсы и размер загружаемых данных",
		})
	}
	return out
}

func checkSecurity(m *PageModel) []Finding {
	var out []Finding
	if strings.HasPrefix(strings.ToLower(m.URL), "http://") && m.PasswordFields > 0 {
		out = append(out, Finding{
			Category:    "security",
			Severity:    "high",
			Description: "Поле пароля на странице без HTTPS",
			Suggestion:  "Отдавайте страницы с формами входа только по HTTPS",
		})
	}
	if len(m.InsecureForms) > 0 {
		out = append(out, Finding{
			Category:    "security",
			Severity:    "high",
			Description: fmt.Sprintf("Форма отправляется по незащищённому адресу: %s", m.InsecureForms[0]),
			Suggestion:  "Используйте https в атрибуте action",
		})
	}
	if len(m.MixedContent) > 0 {
		out = append(out, Finding{
			Category:    "security",
			Severity:    "medium",
			Description: fmt.Sprintf("Смешанный контент: %d ресурсов по HTTP (например, %s)", len(m.MixedContent), m.MixedContent[0]),
			Suggestion:  "Загружайте все ресурсы по HTTPS",
		})
	}
	return out
}

var colorRe = regexp.MustCompile(`rgba?\(\s*([\d.]+)\s*,\s*([\d.]+)\s*,\s*([\d.]+)\s*(?:,\s*([\d.]+)\s*)?\)`)

// parseColor разбирает rgb()/rgba() из computed style.
func parseColor(s string) (r, g, b, a float64, ok bool) {
	m := colorRe.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, 0, 0, false
	}
	r, _ = strconv.ParseFloat(m[1], 64)
	g, _ = strconv.ParseFloat(m[2], 64)
	b, _ = strconv.ParseFloat(m[3], 64)
	a = 1
	if m[4] != "" {
		a, _ = strconv.ParseFloat(m[4], 64)
	}
	return r, g, b, a, true
}

func channel(c float64) float64 {
	c /= 255
	if c <= 0.03928 {
		return c / 12.92
	}
	return math.Pow((c+0.055)/1.055, 2.4)
}

func luminance(r, g, b float64) float64 {
	return 0.2126*channel(r) + 0.7152*channel(g) + 0.0722*channel(b)
}

// ContrastRatio считает отношение контраста WCAG. Полупрозрачный фон
// не поддерживается: ok=false.
func ContrastRatio(fg, bg string) (float64, bool) {
	fr, fgG, fb, fa, ok1 := parseColor(fg)
	br, bgG, bb, ba, ok2 := parseColor(bg)
	if !ok1 || !ok2 || ba < 1 {
		return 0, false
	}
	// Полупрозрачный текст смешиваем с фоном
	if fa < 1 {
		fr = fr*fa + br*(1-fa)
		fgG = fgG*fa + bgG*(1-fa)
		fb = fb*fa + bb*(1-fa)
	}
	l1 := luminance(fr, fgG, fb)
	l2 := luminance(br, bgG, bb)
	if l1 < l2 {
		l1, l2 = l2, l1
	}
	return (l1 + 0.05) / (l2 + 0.05), true
}
