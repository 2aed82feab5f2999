package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// Format возвращает номер в удобочитаемом виде по шаблону страны:
//   - США/Канада: +1 (xxx) xxx-xxxx;
//   - Бангладеш:  +880 xxxx-xxxxxx;
//   - Индия:      +91 xxxxx-xxxxx.
//
// Для прочих кодов отдаётся нормализованная строка, а если номер не
// нормализуется — исходная строка без изменений.
func Format(raw string) string {
	n, ok := Normalize(raw)
	if !ok {
		return raw
	}
	switch {
	case strings.HasPrefix(n, "+1") && len(n) == 12:
		d := n[2:]
		return "+1 (" + d[:3] + ") " + d[3:6] + "-" + d[6:]
	case strings.HasPrefix(n, "+880") && len(n) == 14:
		d := n[4:]
		return "+880 " + d[:4] + "-" + d[4:]
	case strings.HasPrefix(n, "+91") && len(n) == 13:
		d := n[3:]
		return "+91 " + d[:5] + "-" + d[5:]
	}
	return n
}

// Region возвращает ISO 3166-1 alpha-2 регион номера по данным libphonenumber
// или пустую строку, если регион не определён. Используется только для отображения.
func Region(raw string) string {
	n, ok := Normalize(raw)
	if !ok {
		return ""
	}
	num, err := phonenumbers.Parse(n, "")
	if err != nil {
		return ""
	}
	return phonenumbers.GetRegionCodeForNumber(num)
}
