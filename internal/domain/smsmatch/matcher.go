// Package smsmatch — сопоставление SMS-записей апстрима с запрошенным номером.
//
// Апстрим отдаёт плоский список SMS по стране/диапазону, а номер в записи может
// быть сохранён с кодом страны или без него, с лишними или недостающими ведущими
// цифрами. Поэтому критерий совпадения ослабляется ступенчато:
//
//  1. exact        — цифры номера записи равны цифрам целевого номера;
//  2. country_code — равенство после отрезания 1–3 ведущих цифр с любой стороны;
//  3. suffix       — совпадают последние 10/9/8/7 цифр (первая длина, которую
//     выдерживают обе стороны, решает исход);
//  4. fuzzy        — только в FindOne: посимвольное совпадение с конца строк,
//     доля совпавших позиций от длины большей строки ≥ 0.85.
//
// Пакет чистый: без сети и хранилищ, безопасен для конкурентного вызова.
package smsmatch

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Strategy — ступень сопоставления, которая дала совпадение.
type Strategy string

const (
	StrategyExact       Strategy = "exact"
	StrategyCountryCode Strategy = "country_code"
	StrategySuffix      Strategy = "suffix"
	StrategyFuzzy       Strategy = "fuzzy"
)

// fuzzyThreshold — минимальная доля совпавших с конца символов для fuzzy-ступени.
const fuzzyThreshold = 0.85

// maxCountryCodeStrip — сколько ведущих цифр максимум отрезаем во второй ступени.
const maxCountryCodeStrip = 3

// suffixLengths — длины хвостов для третьей ступени в порядке проверки.
var suffixLengths = []int{10, 9, 8, 7}

// Record — SMS в том виде, в каком его вернул апстрим. Только для чтения.
type Record struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
	Date    string `json:"date"`
	Country string `json:"country"`
	Number  string `json:"number"`
	Valid   bool   `json:"valid"`
}

// Match — запись, признанная принадлежащей номеру, и ступень, которая это решила.
type Match struct {
	Record   Record
	Strategy Strategy
}

// dedupKey — ключ дедупликации (number, date, text).
type dedupKey struct {
	number string
	date   string
	text   string
}

// FindAll возвращает все записи, правдоподобно относящиеся к target, от новых к старым.
//
// Ступени 1 и 2 применяются всегда и накапливают результат. Ступень 3 запускается,
// только если 1 и 2 вместе не нашли ничего. Одинаковые (number, date, text)
// возвращаются один раз.
func FindAll(records []Record, target string) []Match {
	tgt := digits(target)
	if tgt == "" || len(records) == 0 {
		return nil
	}

	sorted := sortByDateDesc(records)
	seen := make(map[dedupKey]struct{})
	var out []Match

	add := func(r Record, s Strategy) {
		k := dedupKey{number: r.Number, date: r.Date, text: r.Message}
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		out = append(out, Match{Record: r, Strategy: s})
	}

	for _, r := range sorted {
		if digits(r.Number) == tgt {
			add(r, StrategyExact)
		}
	}
	for _, r := range sorted {
		if matchCountryCode(digits(r.Number), tgt) {
			add(r, StrategyCountryCode)
		}
	}
	if len(out) == 0 {
		for _, r := range sorted {
			if matchSuffix(digits(r.Number), tgt) {
				add(r, StrategySuffix)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return parseDate(out[i].Record.Date).After(parseDate(out[j].Record.Date))
	})
	return out
}

// FindOne — унаследованный вариант: первая ступень, давшая хоть одно совпадение,
// возвращает самую свежую запись. Если ступени 1–3 пусты, пробуется fuzzy.
// ok=false означает «не нашли», а не ошибку.
func FindOne(records []Record, target string) (Match, bool) {
	tgt := digits(target)
	if tgt == "" || len(records) == 0 {
		return Match{}, false
	}
	sorted := sortByDateDesc(records)

	steps := []struct {
		strategy Strategy
		match    func(rec, tgt string) bool
	}{
		{StrategyExact, func(rec, tgt string) bool { return rec == tgt }},
		{StrategyCountryCode, matchCountryCode},
		{StrategySuffix, matchSuffix},
	}
	for _, step := range steps {
		for _, r := range sorted {
			if step.match(digits(r.Number), tgt) {
				return Match{Record: r, Strategy: step.strategy}, true
			}
		}
	}

	var (
		best      Record
		bestScore float64
		found     bool
	)
	for _, r := range sorted {
		score := Similarity(digits(r.Number), tgt)
		if score >= fuzzyThreshold && score > bestScore {
			best, bestScore, found = r, score, true
		}
	}
	if !found {
		return Match{}, false
	}
	return Match{Record: best, Strategy: StrategyFuzzy}, true
}

// Similarity — доля позиций, совпавших при выравнивании строк по правому краю,
// от длины большей строки. Для пустых строк возвращает 0.
func Similarity(a, b string) float64 {
	longest := max(len(a), len(b))
	if longest == 0 {
		return 0
	}
	matches := 0
	for i := 1; i <= min(len(a), len(b)); i++ {
		if a[len(a)-i] == b[len(b)-i] {
			matches++
		}
	}
	return float64(matches) / float64(longest)
}

// matchCountryCode проверяет равенство после отрезания 1..3 ведущих цифр
// у цели или у записи.
func matchCountryCode(rec, tgt string) bool {
	if rec == "" {
		return false
	}
	for n := 1; n <= maxCountryCodeStrip; n++ {
		if len(tgt) > n && tgt[n:] == rec {
			return true
		}
		if len(rec) > n && rec[n:] == tgt {
			return true
		}
	}
	return false
}

// matchSuffix сравнивает хвосты: первая длина из suffixLengths, которую выдерживают
// обе строки, решает исход.
func matchSuffix(rec, tgt string) bool {
	for _, n := range suffixLengths {
		if len(rec) >= n && len(tgt) >= n {
			return rec[len(rec)-n:] == tgt[len(tgt)-n:]
		}
	}
	return false
}

func digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// sortByDateDesc возвращает копию записей, отсортированную от новых к старым.
// Записи с нераспознанной датой уходят в конец, исходный порядок между равными сохраняется.
func sortByDateDesc(records []Record) []Record {
	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return parseDate(sorted[i].Date).After(parseDate(sorted[j].Date))
	})
	return sorted
}

// dateLayouts — форматы дат, которые встречаются в ответах апстрима.
var dateLayouts = []string{
	time.DateTime,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"02/01/2006 15:04:05",
	"02-01-2006 15:04:05",
	time.DateOnly,
}

// ParseDate разбирает дату записи. Поддерживает перечисленные layout'ы и unix-секунды;
// нераспознанное значение даёт нулевое время.
func ParseDate(s string) time.Time {
	return parseDate(s)
}

func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil && sec > 0 {
		if sec > 1e12 {
			return time.UnixMilli(sec).UTC()
		}
		return time.Unix(sec, 0).UTC()
	}
	return time.Time{}
}
