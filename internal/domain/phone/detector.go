// Package phone — распознавание и нормализация телефонных номеров в свободном тексте.
//
// Назначение:
//   Пользователь пишет боту что угодно: «пришли смс на 01712345678», «+1 (234)…»,
//   ссылки, эмодзи. Пакет вытаскивает из такого текста номера, приводит их к
//   международному виду `+<код страны><цифры>` и отдаёт список без дублей.
//
// Модель и инварианты:
//   - текст режется по пробельным символам, каждый токен — кандидат;
//   - из кандидата выбрасываются все символы вне набора [0-9+()\-. ];
//   - кандидат проверяется упорядоченным списком Patterns. Первый совпавший шаблон
//     решает, как нормализовать номер, остальные уже не проверяются (first-match-wins).
//     Порядок Patterns — часть контракта и закреплён тестами;
//   - номер принимается, только если нормализованная строка имеет длину 11..16 символов.
//
// Ошибок пакет не возвращает: «не нашли» — это пустой срез или ok=false.
package phone

import (
	"regexp"
	"strings"
)

// Family — региональное семейство шаблона, которое распознало кандидата.
type Family string

const (
	FamilyUSCA        Family = "us_ca"
	FamilyUSCAIntl    Family = "us_ca_intl"
	FamilyIntlDash    Family = "intl_dash"
	FamilyIntlGeneric Family = "intl_generic"
	FamilyBangladesh  Family = "bangladesh"
	FamilyIndia       Family = "india"
	FamilyUK          Family = "uk"
	FamilyGeneric     Family = "generic"
)

// Границы длины нормализованного номера (вместе с «+»).
const (
	minNormalizedLen = 11
	maxNormalizedLen = 16
)

// Pattern связывает регулярное выражение с нормализатором своего региона.
type Pattern struct {
	Family    Family
	Re        *regexp.Regexp
	Normalize func(raw string) (string, bool)
}

// Patterns — упорядоченный список шаблонов. Порядок важен: токен может подходить
// под несколько регионов, но нормализацию выбирает первый совпавший.
//
// Локальный формат США/Канады требует разделителей или скобок: голые 10 цифр,
// начинающиеся с 6–9, должны доходить до индийского шаблона.
var Patterns = []Pattern{
	{
		Family:    FamilyUSCAIntl,
		Re:        regexp.MustCompile(`^\+1[-.]?\(?[2-9]\d{2}\)?[-.]?\d{3}[-.]?\d{4}$`),
		Normalize: normalizeNANP,
	},
	{
		Family:    FamilyUSCA,
		Re:        regexp.MustCompile(`^(?:1[-.]?)?(?:\([2-9]\d{2}\)[-.]?|[2-9]\d{2}[-.])\d{3}[-.]\d{4}$`),
		Normalize: normalizeNANP,
	},
	{
		Family:    FamilyIntlDash,
		Re:        regexp.MustCompile(`^\+\d{1,4}-\d{6,14}$`),
		Normalize: normalizePlus,
	},
	{
		Family:    FamilyIntlGeneric,
		Re:        regexp.MustCompile(`^\+\d{7,15}$`),
		Normalize: normalizePlus,
	},
	{
		Family:    FamilyBangladesh,
		Re:        regexp.MustCompile(`^(?:\+?880|0)?1[3-9]\d{8}$`),
		Normalize: normalizeBangladesh,
	},
	{
		Family:    FamilyIndia,
		Re:        regexp.MustCompile(`^(?:\+?91)?[6-9]\d{9}$`),
		Normalize: normalizeIndia,
	},
	{
		Family:    FamilyUK,
		Re:        regexp.MustCompile(`^(?:\+?44|0)7\d{9}$`),
		Normalize: normalizeUK,
	},
	{
		Family:    FamilyGeneric,
		Re:        regexp.MustCompile(`^\d{10,15}$`),
		Normalize: Normalize,
	},
}

// Candidate — токен, признанный номером.
type Candidate struct {
	Raw        string
	Family     Family
	Normalized string
}

// allowedChars — символы, которые остаются в токене после очистки.
var allowedChars = regexp.MustCompile(`[^0-9+()\-. ]`)

// Detect возвращает нормализованные номера из текста без дублей в порядке появления.
func Detect(text string) []string {
	candidates := DetectCandidates(text)
	if len(candidates) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.Normalized)
	}
	return out
}

// DetectCandidates работает как Detect, но сохраняет исходный токен и семейство шаблона.
func DetectCandidates(text string) []Candidate {
	var out []Candidate
	seen := make(map[string]struct{})

	for _, token := range strings.Fields(text) {
		c, matched := Classify(token)
		if !matched || c.Normalized == "" {
			continue
		}
		if _, dup := seen[c.Normalized]; !dup {
			seen[c.Normalized] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// Classify проверяет один токен списком Patterns. matched=true, если какой-то шаблон
// совпал; при этом Normalized пуст, когда его нормализатор отверг номер.
// Первый совпавший шаблон решает судьбу токена, даже если нормализация не удалась.
func Classify(token string) (c Candidate, matched bool) {
	cleaned := cleanToken(token)
	if cleaned == "" {
		return Candidate{}, false
	}
	for _, p := range Patterns {
		if !p.Re.MatchString(cleaned) {
			continue
		}
		c = Candidate{Raw: token, Family: p.Family}
		if normalized, ok := p.Normalize(cleaned); ok && validLength(normalized) {
			c.Normalized = normalized
		}
		return c, true
	}
	return Candidate{}, false
}

// Normalize приводит строку к виду +<цифры>, применяя эвристики в фиксированном порядке:
//  1. уже начинается с «+» — возвращается как есть (после очистки);
//  2. 10 цифр, первая 2–9 (США/Канада) — префикс +1;
//  3. 11 цифр, первая 1 — префикс +;
//  4. 11 цифр с 01 (Бангладеш, локальный) — 0 заменяется на +880;
//  5. 13 цифр с 880 — префикс +;
//  6. 10 цифр, первая 6–9 (Индия) — префикс +91;
//  7. 12 цифр с 91 — префикс +;
//  8. длина 10..15 — просто +.
//
// Шаг 6 перекрывается шагом 2 и сохранён ради совместимости порядка.
func Normalize(raw string) (string, bool) {
	s := stripToDigitsPlus(raw)
	if s == "" {
		return "", false
	}
	if strings.HasPrefix(s, "+") {
		return s, true
	}

	n := len(s)
	switch {
	case n == 10 && s[0] >= '2' && s[0] <= '9':
		return "+1" + s, true
	case n == 11 && s[0] == '1':
		return "+" + s, true
	case n == 11 && strings.HasPrefix(s, "01"):
		return "+880" + s[1:], true
	case n == 13 && strings.HasPrefix(s, "880"):
		return "+" + s, true
	case n == 10 && s[0] >= '6' && s[0] <= '9':
		return "+91" + s, true
	case n == 12 && strings.HasPrefix(s, "91"):
		return "+" + s, true
	case n >= 10 && n <= 15:
		return "+" + s, true
	}
	return "", false
}

// IsValid сообщает, что номер нормализуется и имеет допустимую длину.
func IsValid(raw string) bool {
	normalized, ok := Normalize(raw)
	return ok && validLength(normalized)
}

var countryCodeRe = regexp.MustCompile(`^\+(\d{1,4})`)

// CountryCode возвращает 1–4 цифры сразу после ведущего «+» нормализованной формы.
// Регулярка жадная: для +8801712345678 вернётся "8801".
func CountryCode(raw string) (string, bool) {
	normalized, ok := Normalize(raw)
	if !ok {
		return "", false
	}
	m := countryCodeRe.FindStringSubmatch(normalized)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// cleanToken убирает из токена посторонние символы и хвостовую пунктуацию
// вида «номер.» или «номер-».
func cleanToken(token string) string {
	cleaned := allowedChars.ReplaceAllString(token, "")
	cleaned = strings.TrimRight(cleaned, ".-")
	cleaned = strings.TrimLeft(cleaned, ".-")
	return strings.TrimSpace(cleaned)
}

// stripToDigitsPlus оставляет цифры и единственный ведущий «+».
func stripToDigitsPlus(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Digits оставляет только цифры.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func validLength(normalized string) bool {
	return len(normalized) >= minNormalizedLen && len(normalized) <= maxNormalizedLen
}

func normalizePlus(raw string) (string, bool) {
	d := Digits(raw)
	if d == "" {
		return "", false
	}
	return "+" + d, true
}

func normalizeNANP(raw string) (string, bool) {
	d := Digits(raw)
	switch {
	case len(d) == 10:
		return "+1" + d, true
	case len(d) == 11 && d[0] == '1':
		return "+" + d, true
	}
	return "", false
}

func normalizeBangladesh(raw string) (string, bool) {
	d := Digits(raw)
	switch {
	case strings.HasPrefix(d, "880"):
		d = d[3:]
	case strings.HasPrefix(d, "0"):
		d = d[1:]
	}
	if len(d) != 10 {
		return "", false
	}
	return "+880" + d, true
}

func normalizeIndia(raw string) (string, bool) {
	d := Digits(raw)
	switch len(d) {
	case 10:
		return "+91" + d, true
	case 12:
		return "+" + d, true
	}
	return "", false
}

func normalizeUK(raw string) (string, bool) {
	d := Digits(raw)
	switch {
	case strings.HasPrefix(d, "44"):
		return "+" + d, true
	case strings.HasPrefix(d, "0"):
		return "+44" + d[1:], true
	}
	return "", false
}
