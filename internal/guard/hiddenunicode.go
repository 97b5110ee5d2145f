// Package guard implements the pre-forward content checks: a static
// hidden-Unicode code-point scan/strip, and a client for an external
// ML-backed content guard. The hidden-Unicode check has no direct teacher
// precedent (it is a feature the original's distillation dropped); it
// follows the teacher's general validation idiom of a static rule table
// plus a scan function, in the manner of common/image's byte/code-point
// scanning style.
package guard

import "strings"

// Mode selects how a hidden-Unicode hit is handled.
type Mode int

const (
	// ModeStrip removes matching code points and lets the request continue.
	ModeStrip Mode = iota
	// ModeBlock rejects the request outright.
	ModeBlock
)

// hiddenRange is an inclusive Unicode code-point range flagged as hidden or
// invisible: zero-width characters, bidi controls, invisible math operators,
// soft hyphen, the Arabic letter mark, the byte-order mark, and the
// deprecated Unicode tag block.
type hiddenRange struct {
	lo, hi rune
}

var hiddenRanges = []hiddenRange{
	{0x00AD, 0x00AD}, // soft hyphen
	{0x061C, 0x061C}, // Arabic letter mark
	{0x200B, 0x200F}, // zero-width space/joiners, LTR/RTL marks
	{0x202A, 0x202E}, // bidi embedding/override controls
	{0x2060, 0x2064}, // word joiner, invisible operators
	{0x2066, 0x2069}, // bidi isolate controls
	{0xFEFF, 0xFEFF}, // BOM / zero-width no-break space
	{0xE0000, 0xE007F}, // tag characters
}

// IsHidden reports whether r falls within a flagged hidden/invisible range.
func IsHidden(r rune) bool {
	for _, rg := range hiddenRanges {
		if r >= rg.lo && r <= rg.hi {
			return true
		}
	}
	return false
}

// Scan returns every hidden/invisible code point found in text, in order of
// appearance, including duplicates.
func Scan(text string) []rune {
	var hits []rune
	for _, r := range text {
		if IsHidden(r) {
			hits = append(hits, r)
		}
	}
	return hits
}

// Strip removes every hidden/invisible code point from text.
func Strip(text string) string {
	if len(Scan(text)) == 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if !IsHidden(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CheckResult is the outcome of scanning a set of texts under a given Mode.
type CheckResult struct {
	// Hits holds up to 10 offending code points, for a block-mode error body.
	Hits []rune
	// Stripped holds the cleaned texts in ModeStrip; when there are no hits
	// it holds the original texts in either mode.
	Stripped []string
	// Blocked is true only in ModeBlock when at least one hit was found.
	Blocked bool
}

// MaxReportedHits caps how many offending code points a block-mode error
// body lists.
const MaxReportedHits = 10

// Check scans texts for hidden Unicode and applies mode's policy.
func Check(texts []string, mode Mode) CheckResult {
	var allHits []rune
	for _, t := range texts {
		allHits = append(allHits, Scan(t)...)
	}

	if len(allHits) == 0 {
		return CheckResult{Stripped: texts}
	}

	reported := allHits
	if len(reported) > MaxReportedHits {
		reported = reported[:MaxReportedHits]
	}

	if mode == ModeBlock {
		return CheckResult{Hits: reported, Blocked: true}
	}

	stripped := make([]string, len(texts))
	for i, t := range texts {
		stripped[i] = Strip(t)
	}
	return CheckResult{Hits: reported, Stripped: stripped}
}
