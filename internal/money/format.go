package money

import (
	"errors"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
)

const (
	nbsp = "\u00a0"
	rlm  = "\u200f"
)

type conventions struct {
	lang        string
	decimal     rune
	group       rune
	symbolAfter bool
	rtl         bool
	compact     [3]string // thousand, million, billion
}

var (
	supported = []language.Tag{language.English, language.Arabic, language.German, language.French}
	matcher   = language.NewMatcher(supported)

	byIndex = []conventions{
		{lang: "en", decimal: '.', group: ',', compact: [3]string{"K", "M", "B"}},
		{lang: "ar", decimal: '\u066b', group: '\u066c', symbolAfter: true, rtl: true,
			compact: [3]string{nbsp + "ألف", nbsp + "مليون", nbsp + "مليار"}},
		{lang: "de", decimal: ',', group: '.', symbolAfter: true, compact: [3]string{nbsp + "Tsd.", nbsp + "Mio.", nbsp + "Mrd."}},
		{lang: "fr", decimal: ',', group: '\u202f', symbolAfter: true, compact: [3]string{nbsp + "k", nbsp + "M", nbsp + "Md"}},
	}

	// Arabic locales in the Maghreb write Latin digits.
	latinDigitRegions = map[string]bool{"MA": true, "DZ": true, "TN": true, "LY": true, "EH": true}

	symbols = map[string]map[string]string{
		"SAR": {"en": "SAR", "ar": "ر.س", "de": "SAR", "fr": "SAR"},
		"AED": {"en": "AED", "ar": "د.إ", "de": "AED", "fr": "AED"},
		"KWD": {"en": "KWD", "ar": "د.ك", "de": "KWD", "fr": "KWD"},
		"USD": {"en": "$", "ar": "US$", "de": "$", "fr": "$US"},
		"EUR": {"en": "€", "ar": "€", "de": "€", "fr": "€"},
		"GBP": {"en": "£", "ar": "UK£", "de": "£", "fr": "£GB"},
	}
)

const arabicZero = '\u0660'

type locale struct {
	conventions
	nativeDigits bool
}

func resolve(tag string) locale {
	t, err := language.Parse(tag)
	if err != nil {
		return locale{conventions: byIndex[0]}
	}
	_, idx, conf := matcher.Match(t)
	if conf == language.No {
		idx = 0
	}
	l := locale{conventions: byIndex[idx]}
	if l.lang == "ar" {
		region, _ := t.Region()
		l.nativeDigits = !latinDigitRegions[region.String()] && t.TypeForKey("nu") != "latn"
	}
	return l
}

// Options controls Format.
type Options struct {
	// Currency is an ISO 4217 code. Empty formats a bare number with two decimals.
	Currency string
	// UseCode shows the ISO code instead of the localized symbol.
	UseCode bool
}

// Formatted is a display rendering of an amount.
type Formatted struct {
	Numeric    string `json:"numeric"`
	SymbolText string `json:"symbolText"`
	Full       string `json:"full"`
}

// Format renders amount for locale. The numeric part uses the locale's
// separators and numbering system; Full places the symbol on the side the
// locale expects and is prefixed with a right-to-left mark for RTL locales.
func Format(amount decimal.Decimal, tag string, opts Options) (Formatted, error) {
	l := resolve(tag)
	scale := int32(2)
	var sym string
	if opts.Currency != "" {
		s, err := Scale(opts.Currency)
		if err != nil {
			return Formatted{}, err
		}
		scale = s
		code := strings.ToUpper(opts.Currency)
		sym = code
		if !opts.UseCode {
			if byLang, ok := symbols[code]; ok && byLang[l.lang] != "" {
				sym = byLang[l.lang]
			}
		}
	}

	numeric := l.number(amount.Round(scale), scale)
	out := Formatted{Numeric: numeric, SymbolText: sym, Full: numeric}
	if sym == "" {
		if l.rtl {
			out.Full = rlm + numeric
		}
		return out, nil
	}
	switch {
	case l.rtl:
		out.Full = rlm + numeric + nbsp + sym
	case l.symbolAfter:
		out.Full = numeric + nbsp + sym
	case isLetters(sym):
		out.Full = sym + nbsp + numeric
	default:
		out.Full = sym + numeric
	}
	return out, nil
}

func (l locale) number(d decimal.Decimal, scale int32) string {
	raw := d.StringFixed(scale)
	neg := strings.HasPrefix(raw, "-")
	raw = strings.TrimPrefix(raw, "-")
	intPart, frac, _ := strings.Cut(raw, ".")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteRune(l.group)
		}
		b.WriteRune(l.digit(r))
	}
	if frac != "" {
		b.WriteRune(l.decimal)
		for _, r := range frac {
			b.WriteRune(l.digit(r))
		}
	}
	return b.String()
}

func (l locale) digit(r rune) rune {
	if l.nativeDigits && r >= '0' && r <= '9' {
		return arabicZero + (r - '0')
	}
	return r
}

var ErrEmptyAmount = errors.New("no digits in amount")

// Parse reads a string produced by Format (or typed by a customer in the same
// locale) back into a decimal. Symbols, bidi marks and group separators are ignored.
func Parse(s, tag string) (decimal.Decimal, error) {
	l := resolve(tag)
	var b strings.Builder
	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits++
		case r >= '٠' && r <= '٩':
			b.WriteRune('0' + (r - '٠'))
			digits++
		case r >= '۰' && r <= '۹':
			b.WriteRune('0' + (r - '۰'))
			digits++
		case r == l.decimal:
			b.WriteByte('.')
		case r == '-' && b.Len() == 0:
			b.WriteByte('-')
		}
	}
	if digits == 0 {
		return decimal.Zero, ErrEmptyAmount
	}
	return decimal.NewFromString(b.String())
}

// Compact renders a short display form such as 1.2K or 3.5M. It is for
// presentation only and loses precision.
func Compact(amount decimal.Decimal, tag string) string {
	l := resolve(tag)
	abs := amount.Abs()
	units := []decimal.Decimal{decimal.New(1, 3), decimal.New(1, 6), decimal.New(1, 9)}
	idx := -1
	for i, u := range units {
		if abs.GreaterThanOrEqual(u) {
			idx = i
		}
	}
	if idx < 0 {
		scale := int32(0)
		if !amount.Equal(amount.Truncate(0)) {
			scale = 2
		}
		return l.number(amount.Round(scale), scale)
	}
	v := amount.Div(units[idx]).Round(1)
	// 999999 rounds to 1000K; promote to the next unit.
	if v.Abs().GreaterThanOrEqual(units[0]) && idx < len(units)-1 {
		idx++
		v = amount.Div(units[idx]).Round(1)
	}
	scale := int32(1)
	if v.Equal(v.Truncate(0)) {
		scale = 0
	}
	return l.number(v, scale) + l.compact[idx]
}

func isLetters(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return s != ""
}
