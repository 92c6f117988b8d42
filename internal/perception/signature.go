package perception

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"html"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

// maxShapeDepth ограничивает глубину скелета DOM: глубокие уровни в основном
// шумят от динамического контента.
const maxShapeDepth = 10

var trackingParams = map[string]bool{
	"gclid": true, "fbclid": true, "yclid": true, "msclkid": true,
	"_ga": true, "_gl": true, "mc_cid": true, "mc_eid": true, "ref": true,
}

var textPolicy = bluemonday.StrictPolicy()

// Signature отпечаток состояния страницы: нормализованный URL, форма DOM и
// дайджест видимого текста.
type Signature struct {
	URL   string
	Shape string
	Text  string
}

// Key строковое представление для сравнения и окна Safety Guard.
func (s Signature) Key() string {
	return s.URL + "#" + s.Shape + ":" + s.Text
}

func (s Signature) IsZero() bool {
	return s.URL == "" && s.Shape == "" && s.Text == ""
}

// ComputeSignature строит сигнатуру по URL и HTML страницы.
func ComputeSignature(rawURL, page string) Signature {
	sig := Signature{URL: NormalizeURL(rawURL)}
	if page == "" {
		return sig
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		sig.Text = digest(page)
		return sig
	}
	doc.Find("script, style, noscript, template, svg").Remove()

	var skeleton strings.Builder
	body := doc.Find("body")
	walkShape(body, 0, &skeleton)
	sig.Shape = digest(skeleton.String())

	bodyHTML, _ := body.Html()
	sig.Text = digest(visibleText(bodyHTML))
	return sig
}

func walkShape(sel *goquery.Selection, depth int, b *strings.Builder) {
	if depth > maxShapeDepth {
		return
	}
	sel.Children().Each(func(_ int, child *goquery.Selection) {
		fmt.Fprintf(b, "%s/%d;", goquery.NodeName(child), depth)
		walkShape(child, depth+1, b)
	})
}

// visibleText возвращает текст без разметки со схлопнутыми пробелами.
func visibleText(fragment string) string {
	plain := html.UnescapeString(textPolicy.Sanitize(fragment))
	return strings.Join(strings.Fields(plain), " ")
}

func shapeFromAffordances(items []Affordance) string {
	paths := make([]string, 0, len(items))
	for _, a := range items {
		paths = append(paths, a.Path)
	}
	sort.Strings(paths)
	return digest(strings.Join(paths, ";"))
}

func digest(s string) string {
	if s == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

// NormalizeURL приводит URL к каноническому виду: схема и хост в нижнем
// регистре, без порта по умолчанию, без фрагмента и трекинговых параметров,
// с отсортированными параметрами запроса. Фрагменты SPA-роутинга (#/, #!)
// сохраняются.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	u.Host = host
	u.User = nil

	if u.Path == "" {
		u.Path = "/"
	} else if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	u.RawPath = ""

	q := u.Query()
	for key := range q {
		lk := strings.ToLower(key)
		if strings.HasPrefix(lk, "utm_") || trackingParams[lk] {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()

	if !strings.HasPrefix(u.Fragment, "/") && !strings.HasPrefix(u.Fragment, "!") {
		u.Fragment = ""
	}
	u.RawFragment = ""
	return u.String()
}

// SameSite сообщает, относятся ли два URL к одному сайту. Префикс www.
// и схема не учитываются.
func SameSite(a, b string) bool {
	ua, err1 := url.Parse(a)
	ub, err2 := url.Parse(b)
	if err1 != nil || err2 != nil || ua.Host == "" || ub.Host == "" {
		return false
	}
	ha := strings.TrimPrefix(strings.ToLower(ua.Hostname()), "www.")
	hb := strings.TrimPrefix(strings.ToLower(ub.Hostname()), "www.")
	return ha == hb
}
