// Package normalize provides Unicode normalization for request scanning.
// Every text surface the engine matches attack signatures against (path,
// header values, body) passes through these functions first, so evasion
// via invisible characters or homoglyphs is stripped before any pattern
// runs. This package is the single source of truth for that pipeline.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// InvisibleRanges defines Unicode ranges stripped from scanned text.
// Covers zero-width characters, bidi controls, variation selectors, and
// the Tags block, all of which have been observed splitting attack
// payloads to dodge signature matching.
var InvisibleRanges = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x00AD, Hi: 0x00AD, Stride: 1}, // soft hyphen
		{Lo: 0x200B, Hi: 0x200F, Stride: 1}, // zero-width space through RTL mark
		{Lo: 0x202A, Hi: 0x202E, Stride: 1}, // bidi embedding controls
		{Lo: 0x2060, Hi: 0x2064, Stride: 1}, // word joiner through invisible plus
		{Lo: 0x2066, Hi: 0x2069, Stride: 1}, // bidi isolate controls
		{Lo: 0xFE00, Hi: 0xFE0F, Stride: 1}, // variation selectors 1-16
		{Lo: 0xFEFF, Hi: 0xFEFF, Stride: 1}, // BOM / ZWNBSP
		{Lo: 0xFFF9, Hi: 0xFFFB, Stride: 1}, // interlinear annotation anchors
	},
	R32: []unicode.Range32{
		{Lo: 0xE0000, Hi: 0xE007F, Stride: 1}, // Tags block
		{Lo: 0xE0100, Hi: 0xE01EF, Stride: 1}, // variation selectors supplement
	},
}

// confusableMap maps non-Latin characters that are visually identical to
// Latin letters. NFKC does not touch cross-script confusables: Cyrillic а
// (U+0430) survives as а, not Latin a, so "jаvascript:" slips past a naive
// matcher. Focused on Cyrillic, Greek, and small-capital lookalikes that
// appear in English-language injection payloads; not exhaustive.
var confusableMap = map[rune]rune{
	// Cyrillic uppercase → Latin
	'А': 'A', // А
	'В': 'B', // В
	'С': 'C', // С
	'Е': 'E', // Е
	'Н': 'H', // Н
	'І': 'I', // І (Ukrainian)
	'Ј': 'J', // Ј (Serbian)
	'К': 'K', // К
	'М': 'M', // М
	'О': 'O', // О
	'Р': 'P', // Р
	'Ѕ': 'S', // Ѕ (Macedonian)
	'Т': 'T', // Т
	'Х': 'X', // Х

	// Cyrillic lowercase → Latin
	'а': 'a', // а
	'в': 'v', // в
	'е': 'e', // е
	'н': 'h', // н
	'і': 'i', // і (Ukrainian)
	'к': 'k', // к
	'м': 'm', // м
	'о': 'o', // о
	'р': 'p', // р
	'с': 'c', // с
	'т': 't', // т
	'у': 'y', // у
	'х': 'x', // х
	'ј': 'j', // ј (Serbian)
	'ѕ': 's', // ѕ (Macedonian)

	// Greek uppercase → Latin
	'Α': 'A', // Α
	'Β': 'B', // Β
	'Ε': 'E', // Ε
	'Ζ': 'Z', // Ζ
	'Η': 'H', // Η
	'Ι': 'I', // Ι
	'Κ': 'K', // Κ
	'Μ': 'M', // Μ
	'Ν': 'N', // Ν
	'Ο': 'O', // Ο
	'Ρ': 'P', // Ρ
	'Τ': 'T', // Τ
	'Υ': 'Y', // Υ
	'Χ': 'X', // Χ

	// Greek lowercase → Latin
	'α': 'a', // α
	'ε': 'e', // ε
	'ι': 'i', // ι
	'κ': 'k', // κ
	'ν': 'v', // ν (nu)
	'ο': 'o', // ο

	// Latin Extended / IPA small capitals that survive NFKC
	'ᴀ': 'A', // ᴀ
	'ᴄ': 'C', // ᴄ
	'ᴇ': 'E', // ᴇ
	'ᴏ': 'O', // ᴏ
	'ɪ': 'I', // ɪ
	'ʙ': 'B', // ʙ
}

// NormalizeWhitespace replaces Unicode whitespace characters that Go's RE2
// \s does not match with ASCII space.
func NormalizeWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '᠎', ' ', ' ':
			return ' '
		}
		return r
	}, s)
}

// StripZeroWidth removes ASCII control characters (except \t, \n, \r) and
// Unicode zero-width/invisible characters. Dropping rather than replacing
// re-joins split payloads: "<scr​ipt>" becomes "<script>", matchable
// by tag and keyword signatures. Whitespace control chars are preserved
// because signatures use \s+ to match them.
func StripZeroWidth(s string) string {
	return strings.Map(func(r rune) rune {
		if r <= 0x1F && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		if r == 0x7F {
			return -1
		}
		if r >= 0x80 && r <= 0x9F {
			return -1
		}
		if unicode.Is(InvisibleRanges, r) {
			return -1
		}
		return r
	}, s)
}

// StripControlChars removes ALL C0 (0x00-0x1F), C1 (0x80-0x9F), DEL (0x7F),
// and Unicode zero-width/invisible characters, including \t, \n, and \r.
// This is the sanitize_input transform: request text has no business
// carrying raw control bytes into application logic.
func StripControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r <= 0x1F || r == 0x7F || (r >= 0x80 && r <= 0x9F) {
			return -1
		}
		if unicode.Is(InvisibleRanges, r) {
			return -1
		}
		return r
	}, s)
}

// ConfusableToASCII maps visually identical non-Latin characters to their
// Latin equivalents. Applied after NFKC to catch cross-script homoglyphs
// that NFKC leaves alone.
func ConfusableToASCII(s string) string {
	return strings.Map(func(r rune) rune {
		if mapped, ok := confusableMap[r]; ok {
			return mapped
		}
		return r
	}, s)
}

// StripCombiningMarks removes combining marks (category Mn) that survive
// NFKC. NFD decomposition reverses NFKC composition so the marks can be
// dropped: "s̸c̸r̸i̸p̸t̸" matches "script" afterwards.
func StripCombiningMarks(s string) string {
	s = norm.NFD.String(s)
	return strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Mn, r) {
			return -1
		}
		return r
	}, s)
}

// ForScan applies the signature-matching pipeline: invisible characters
// drop out (split payloads re-join), NFKC folds fullwidth and
// compatibility forms, confusables map to ASCII, combining marks drop,
// exotic whitespace becomes plain space. Matching always runs on the
// normalized copy; the original request text is never rewritten.
func ForScan(s string) string {
	s = StripZeroWidth(s)
	s = norm.NFKC.String(s)
	s = ConfusableToASCII(s)
	s = StripCombiningMarks(s)
	s = NormalizeWhitespace(s)
	return s
}
