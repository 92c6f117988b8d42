package perception

import (
	"context"
	"fmt"
)

const maxAffordances = 300

// affordanceScript помечает интерактивные элементы атрибутом data-explorer-ref
// и возвращает их описание. Метка сохраняется между вызовами на той же странице.
const affordanceScript = `(limit) => {
	const interactive = [
		'a[href]', 'button', 'input:not([type=hidden])', 'select', 'textarea', 'summary',
		'[role=button]', '[role=link]', '[role=tab]', '[role=menuitem]', '[role=checkbox]',
		'[onclick]', '[contenteditable=true]'
	].join(',');

	window.__explorerSeq = window.__explorerSeq || 0;
	const forms = Array.from(document.forms);
	const out = [];

	function implicitRole(el) {
		const tag = el.tagName.toLowerCase();
		const type = (el.getAttribute('type') || '').toLowerCase();
		if (tag === 'a') return 'link';
		if (tag === 'button' || tag === 'summary') return 'button';
		if (tag === 'select') return 'combobox';
		if (tag === 'textarea') return 'textbox';
		if (tag === 'input') {
			if (['submit', 'button', 'reset', 'image'].includes(type)) return 'button';
			if (type === 'checkbox' || type === 'radio') return type;
			if (type === 'search') return 'searchbox';
			return 'textbox';
		}
		return '';
	}

	function path(el) {
		const parts = [];
		let node = el;
		while (node && node.nodeType === 1 && node !== document.body && parts.length < 12) {
			const tag = node.tagName.toLowerCase();
			let idx = 1;
			let sib = node.previousElementSibling;
			while (sib) {
				if (sib.tagName === node.tagName) idx++;
				sib = sib.previousElementSibling;
			}
			parts.unshift(tag + ':' + idx);
			node = node.parentElement;
		}
		return 'body>' + parts.join('>');
	}

	function labelOf(el) {
		const aria = el.getAttribute('aria-label') || el.getAttribute('title') || el.getAttribute('alt') || '';
		if (aria) return aria.trim();
		if (el.labels && el.labels.length > 0) return (el.labels[0].innerText || '').trim();
		const by = el.getAttribute('aria-labelledby');
		if (by) {
			const ref = document.getElementById(by);
			if (ref) return (ref.innerText || '').trim();
		}
		const img = el.querySelector && el.querySelector('img[alt]');
		return img ? img.getAttribute('alt').trim() : '';
	}

	// Введённое значение не должно менять имя поля
	function textOf(el) {
		const tag = el.tagName.toLowerCase();
		const type = (el.getAttribute('type') || '').toLowerCase();
		if (tag === 'input' && !['submit', 'button', 'reset'].includes(type)) return '';
		if (tag === 'textarea' || tag === 'select') return '';
		return (el.innerText || el.value || '').trim();
	}

	for (const el of document.querySelectorAll(interactive)) {
		if (out.length >= limit) break;
		const rect = el.getBoundingClientRect();
		const style = window.getComputedStyle(el);
		const visible = style.display !== 'none' && style.visibility !== 'hidden' &&
			style.opacity !== '0' && rect.width > 0 && rect.height > 0;
		if (!visible) continue;

		let ref = el.getAttribute('data-explorer-ref');
		if (!ref) {
			ref = 'e' + (++window.__explorerSeq);
			el.setAttribute('data-explorer-ref', ref);
		}

		const form = el.form || el.closest('form');
		out.push({
			ref: ref,
			tag: el.tagName.toLowerCase(),
			role: el.getAttribute('role') || implicitRole(el),
			text: textOf(el).replace(/\s+/g, ' ').substring(0, 120),
			label: labelOf(el).substring(0, 120),
			href: el.href || '',
			type: (el.getAttribute('type') || '').toLowerCase(),
			autocomplete: el.getAttribute('autocomplete') || '',
			name: el.getAttribute('name') || el.id || '',
			placeholder: el.getAttribute('placeholder') || '',
			className: typeof el.className === 'string' ? el.className : '',
			path: path(el),
			form: form ? 'f' + forms.indexOf(form) : '',
			disabled: !!el.disabled || el.getAttribute('aria-disabled') === 'true',
			inViewport: rect.top < window.innerHeight && rect.bottom > 0 && rect.left < window.innerWidth && rect.right > 0,
			x: rect.x + window.scrollX,
			y: rect.y + window.scrollY,
			width: rect.width,
			height: rect.height
		});
	}
	return out;
}`

// factsScript собирает факты страницы для структурных проверок.
const factsScript = `() => {
	const https = location.protocol === 'https:';

	function path(el) {
		const parts = [];
		let node = el;
		while (node && node.nodeType === 1 && node !== document.body && parts.length < 12) {
			const tag = node.tagName.toLowerCase();
			let idx = 1;
			let sib = node.previousElementSibling;
			while (sib) {
				if (sib.tagName === node.tagName) idx++;
				sib = sib.previousElementSibling;
			}
			parts.unshift(tag + ':' + idx);
			node = node.parentElement;
		}
		return 'body>' + parts.join('>');
	}

	function shown(el, min) {
		const r = el.getBoundingClientRect();
		if (r.width < min || r.height < min) return false;
		const style = window.getComputedStyle(el);
		return style.visibility !== 'hidden' && style.display !== 'none' && style.opacity !== '0';
	}

	// Плавающие панели и диалоги: в них живут баннеры cookie и модальные окна.
	const overlays = [];
	for (const el of document.querySelectorAll('body *')) {
		if (overlays.length >= 20) break;
		const style = window.getComputedStyle(el);
		const role = el.getAttribute('role') || '';
		const floating = style.position === 'fixed' || style.position === 'sticky';
		if (!floating && role !== 'dialog' && role !== 'alertdialog' && el.tagName !== 'DIALOG') continue;
		if (!shown(el, 1)) continue;
		const text = (el.innerText || '').trim();
		if (!text) continue;
		overlays.push({ path: path(el), text: text.substring(0, 600) });
	}

	function opaqueBackground(el) {
		let node = el;
		while (node && node.nodeType === 1) {
			const bg = window.getComputedStyle(node).backgroundColor;
			if (bg && bg !== 'transparent' && !/rgba\(.*,\s*0\)$/.test(bg)) return bg;
			node = node.parentElement;
		}
		return 'rgb(255, 255, 255)';
	}

	const images = Array.from(document.images).slice(0, 200).map(img => {
		const r = img.getBoundingClientRect();
		return {
			src: img.currentSrc || img.src || '',
			alt: img.getAttribute('alt') || '',
			hasAlt: img.hasAttribute('alt'),
			broken: img.complete && img.naturalWidth === 0 && !!(img.currentSrc || img.src),
			x: r.x + window.scrollX, y: r.y + window.scrollY, width: r.width, height: r.height
		};
	});

	const samples = [];
	for (const el of document.querySelectorAll('p, span, a, li, label, button, h1, h2, h3, h4, h5, h6, td')) {
		if (samples.length >= 80) break;
		const own = Array.from(el.childNodes).filter(n => n.nodeType === 3).map(n => n.textContent).join('').trim();
		if (own.length < 3) continue;
		const r = el.getBoundingClientRect();
		if (r.width === 0 || r.height === 0) continue;
		const style = window.getComputedStyle(el);
		if (style.visibility === 'hidden' || style.display === 'none') continue;
		samples.push({
			text: own.substring(0, 60),
			path: el.tagName.toLowerCase() + (el.id ? '#' + el.id : ''),
			color: style.color,
			background: opaqueBackground(el),
			fontSize: parseFloat(style.fontSize) || 16,
			fontWeight: parseInt(style.fontWeight, 10) || 400
		});
	}

	const nav = performance.getEntriesByType('navigation')[0];
	const mixed = https
		? performance.getEntriesByType('resource').map(e => e.name).filter(n => n.startsWith('http:')).slice(0, 20)
		: [];
	const insecureForms = Array.from(document.forms)
		.map(f => f.getAttribute('action') || '')
		.filter(a => a.startsWith('http:'));

	return {
		title: document.title || '',
		text: (document.body ? document.body.innerText : '').substring(0, 6000),
		viewportWidth: window.innerWidth,
		viewportHeight: window.innerHeight,
		scrollHeight: document.documentElement.scrollHeight,
		scrollY: window.scrollY,
		links: document.links.length,
		buttons: document.querySelectorAll('button, [role=button], input[type=submit]').length,
		inputs: document.querySelectorAll('input:not([type=hidden]), textarea, select').length,
		forms: document.forms.length,
		images: images,
		samples: samples,
		frames: Array.from(document.querySelectorAll('iframe'))
			.filter(f => shown(f, 30))
			.map(f => f.src || f.getAttribute('title') || '')
			.filter(Boolean),
		overlays: overlays,
		domContentLoaded: nav ? nav.domContentLoadedEventEnd : 0,
		load: nav ? nav.loadEventEnd : 0,
		cls: window.__explorerCLS || 0,
		passwordFields: document.querySelectorAll('input[type=password]').length,
		insecureForms: insecureForms,
		mixedContent: mixed
	};
}`

func extractAffordances(ctx context.Context, page Page) ([]Affordance, error) {
	result, err := page.Evaluate(ctx, affordanceScript, maxAffordances)
	if err != nil {
		return nil, fmt.Errorf("ошибка выполнения JavaScript: %w", err)
	}

	items, ok := result.([]any)
	if !ok {
		return nil, fmt.Errorf("неверный формат списка элементов: %T", result)
	}

	out := make([]Affordance, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if a := parseAffordance(m); a != nil {
			out = append(out, *a)
		}
	}
	return out, nil
}

func parseAffordance(m map[string]any) *Affordance {
	a := &Affordance{
		Ref:          str(m, "ref"),
		Tag:          str(m, "tag"),
		Role:         str(m, "role"),
		Text:         str(m, "text"),
		Label:        str(m, "label"),
		Href:         str(m, "href"),
		InputType:    str(m, "type"),
		Autocomplete: str(m, "autocomplete"),
		FieldName:    str(m, "name"),
		Placeholder:  str(m, "placeholder"),
		ClassName:    str(m, "className"),
		Path:         str(m, "path"),
		FormID:       str(m, "form"),
		Disabled:     flag(m, "disabled"),
		InViewport:   flag(m, "inViewport"),
		Visible:      true,
		Rect:         rect(m),
	}
	if a.Ref == "" || a.Tag == "" {
		return nil
	}
	return a
}

func applyFacts(model *PageModel, m map[string]any) {
	model.Title = str(m, "title")
	model.Text = str(m, "text")
	model.Layout = Layout{
		ViewportWidth:  num(m, "viewportWidth"),
		ViewportHeight: num(m, "viewportHeight"),
		ScrollHeight:   num(m, "scrollHeight"),
		ScrollY:        num(m, "scrollY"),
		Links:          int(num(m, "links")),
		Buttons:        int(num(m, "buttons")),
		Inputs:         int(num(m, "inputs")),
		Forms:          int(num(m, "forms")),
	}
	model.Timing = Timing{
		DOMContentLoadedMs: num(m, "domContentLoaded"),
		LoadMs:             num(m, "load"),
		CLS:                num(m, "cls"),
	}
	model.PasswordFields = int(num(m, "passwordFields"))
	model.Frames = strs(m, "frames")
	model.InsecureForms = strs(m, "insecureForms")
	model.MixedContent = strs(m, "mixedContent")

	for _, item := range list(m, "overlays") {
		model.Overlays = append(model.Overlays, Overlay{Path: str(item, "path"), Text: str(item, "text")})
	}
	for _, item := range list(m, "images") {
		model.Images = append(model.Images, Image{
			Src:    str(item, "src"),
			Alt:    str(item, "alt"),
			HasAlt: flag(item, "hasAlt"),
			Broken: flag(item, "broken"),
			Rect:   rect(item),
		})
	}
	for _, item := range list(m, "samples") {
		model.TextSamples = append(model.TextSamples, TextSample{
			Path:       str(item, "path"),
			Text:       str(item, "text"),
			Color:      str(item, "color"),
			Background: str(item, "background"),
			FontSize:   num(item, "fontSize"),
			FontWeight: int(num(item, "fontWeight")),
		})
	}
}

func str(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func num(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func flag(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func strs(m map[string]any, key string) []string {
	raw, _ := m[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func list(m map[string]any, key string) []map[string]any {
	raw, _ := m[key].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, v := range raw {
		if item, ok := v.(map[string]any); ok {
			out = append(out, item)
		}
	}
	return out
}

func rect(m map[string]any) Rect {
	return Rect{X: num(m, "x"), Y: num(m, "y"), Width: num(m, "width"), Height: num(m, "height")}
}
