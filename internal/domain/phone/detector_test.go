package phone_test

import (
	"reflect"
	"testing"

	"telegram-smsbot/internal/domain/phone"
)

func TestDetect(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		text string
		want []string
	}{
		{name: "international with plus", text: "Please send SMS to +1234567890", want: []string{"+1234567890"}},
		{name: "bangladesh local", text: "01712345678", want: []string{"+8801712345678"}},
		{name: "india bare ten digits", text: "Call me at 9876543210", want: []string{"+919876543210"}},
		{name: "us formatted", text: "office (234)567-8900 ok", want: []string{"+12345678900"}},
		{name: "us with explicit +1", text: "+1-234-567-8900", want: []string{"+12345678900"}},
		{name: "international dash", text: "num +44-7911123456", want: []string{"+447911123456"}},
		{name: "uk local", text: "07911123456", want: []string{"+447911123456"}},
		{name: "bangladesh with country code", text: "8801712345678", want: []string{"+8801712345678"}},
		{name: "generic digits", text: "2345678901", want: []string{"+12345678901"}},
		{name: "trailing punctuation", text: "number: +8801712345678.", want: []string{"+8801712345678"}},
		{name: "dedup after normalization", text: "01712345678 +8801712345678", want: []string{"+8801712345678"}},
		{
			name: "several numbers keep order",
			text: "first 9876543210 then 01812345678",
			want: []string{"+919876543210", "+8801812345678"},
		},
		{name: "no numbers", text: "hello world", want: []string{}},
		{name: "empty", text: "", want: []string{}},
		{name: "too short", text: "call 12345 at 10:30", want: []string{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := phone.Detect(tc.text)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Detect(%q) = %#v, want %#v", tc.text, got, tc.want)
			}
		})
	}
}

func TestDetect_NoLongDigitRuns(t *testing.T) {
	t.Parallel()

	texts := []string{
		"meet at 12:45 room 301",
		"price 99.99 or 100-200",
		"codes 123456 654321",
		"ref: (12) 34-56",
		"++ -- .. ()",
	}
	for _, text := range texts {
		if got := phone.Detect(text); len(got) != 0 {
			t.Fatalf("Detect(%q) = %#v, want empty", text, got)
		}
	}
}

func TestPatternsOrder(t *testing.T) {
	t.Parallel()

	want := []phone.Family{
		phone.FamilyUSCAIntl,
		phone.FamilyUSCA,
		phone.FamilyIntlDash,
		phone.FamilyIntlGeneric,
		phone.FamilyBangladesh,
		phone.FamilyIndia,
		phone.FamilyUK,
		phone.FamilyGeneric,
	}
	got := make([]phone.Family, 0, len(phone.Patterns))
	for _, p := range phone.Patterns {
		got = append(got, p.Family)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Patterns order = %v, want %v", got, want)
	}
}

func TestDetectCandidates_Family(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text string
		want phone.Family
	}{
		{"+12345678900", phone.FamilyUSCAIntl},
		{"234-567-8900", phone.FamilyUSCA},
		{"+880-1712345678", phone.FamilyIntlDash},
		{"+8801712345678", phone.FamilyIntlGeneric},
		{"01712345678", phone.FamilyBangladesh},
		{"9876543210", phone.FamilyIndia},
		{"07911123456", phone.FamilyUK},
		{"5012345678901", phone.FamilyGeneric},
	}
	for _, tc := range cases {
		got := phone.DetectCandidates(tc.text)
		if len(got) != 1 {
			t.Fatalf("DetectCandidates(%q) returned %d candidates", tc.text, len(got))
		}
		if got[0].Family != tc.want {
			t.Fatalf("DetectCandidates(%q) family = %s, want %s", tc.text, got[0].Family, tc.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{"+1 (234) 567-8900", "+12345678900", true},
		{"2345678900", "+12345678900", true},
		{"12345678900", "+12345678900", true},
		{"01712345678", "+8801712345678", true},
		{"8801712345678", "+8801712345678", true},
		{"919876543210", "+919876543210", true},
		{"9876543210", "+19876543210", true},
		{"0012345678", "+0012345678", true},
		{"123456789012345", "+123456789012345", true},
		{"12345", "", false},
		{"1234567890123456", "", false},
		{"", "", false},
		{"abc", "", false},
	}
	for _, tc := range cases {
		got, ok := phone.Normalize(tc.raw)
		if ok != tc.wantOK || got != tc.want {
			t.Fatalf("Normalize(%q) = (%q, %v), want (%q, %v)", tc.raw, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"+1 (234) 567-8900", "01712345678", "9876543210", "919876543210",
		"447911123456", "+44 7911 123456", "123456789012", "8801712345678",
	}
	for _, in := range inputs {
		first, ok := phone.Normalize(in)
		if !ok {
			t.Fatalf("Normalize(%q) rejected", in)
		}
		second, ok := phone.Normalize(first)
		if !ok || second != first {
			t.Fatalf("Normalize(Normalize(%q)) = %q, want %q", in, second, first)
		}
	}
}

func TestIsValid(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"+12345678900":      true,
		"01712345678":       true,
		"+1234567":          false,
		"+12345678901234567": false,
		"12345":             false,
		"":                  false,
	}
	for raw, want := range cases {
		if got := phone.IsValid(raw); got != want {
			t.Fatalf("IsValid(%q) = %v, want %v", raw, got, want)
		}
		if want {
			n, ok := phone.Normalize(raw)
			if !ok || len(n) < 11 || len(n) > 16 {
				t.Fatalf("IsValid(%q) but Normalize = (%q, %v)", raw, n, ok)
			}
		}
	}
}

func TestCountryCode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{"+1", "1", true},
		{"+44", "44", true},
		{"+12345678900", "1234", true},
		{"2345678900", "1234", true},
		{"nope", "", false},
	}
	for _, tc := range cases {
		got, ok := phone.CountryCode(tc.raw)
		if got != tc.want || ok != tc.wantOK {
			t.Fatalf("CountryCode(%q) = (%q, %v), want (%q, %v)", tc.raw, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"+12345678900":   "+1 (234) 567-8900",
		"01712345678":    "+880 1712-345678",
		"+919876543210":  "+91 98765-43210",
		"+447911123456":  "+447911123456",
		"not a phone":    "not a phone",
		"+1-234-567-890": "+1234567890",
	}
	for raw, want := range cases {
		if got := phone.Format(raw); got != want {
			t.Fatalf("Format(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestRegion(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"+8801712345678": "BD",
		"+919876543210":  "IN",
		"+447911123456":  "GB",
		"garbage":        "",
	}
	for raw, want := range cases {
		if got := phone.Region(raw); got != want {
			t.Fatalf("Region(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		token      string
		matched    bool
		family     phone.Family
		normalized string
	}{
		{token: "9876543210", matched: true, family: phone.FamilyIndia, normalized: "+919876543210"},
		{token: "(234)567-8900", matched: true, family: phone.FamilyUSCA, normalized: "+12345678900"},
		{token: "+1234567", matched: true, family: phone.FamilyIntlGeneric},
		{token: "(234)"},
		{token: "hello"},
	}
	for _, tc := range cases {
		c, matched := phone.Classify(tc.token)
		if matched != tc.matched || c.Family != tc.family || c.Normalized != tc.normalized {
			t.Fatalf("Classify(%q) = %+v, %v; want family=%s normalized=%q matched=%v",
				tc.token, c, matched, tc.family, tc.normalized, tc.matched)
		}
	}
}
