package sensor

import (
	"regexp"
	"strings"
)

var (
	upperRunRe   = regexp.MustCompile(`[A-Z]+`)
	upperLowerRe = regexp.MustCompile(`[A-Z][a-z]+`)
	nonAlnumRe   = regexp.MustCompile(`[^a-zA-Z0-9]+`)
)

// SnakeCase converts a model string to snake_case. A word boundary is
// inserted before every run of uppercase letters and before every
// uppercase-then-lowercase run, hyphens count as spaces.
// "WDC WD10EZEX-00WN4A0" becomes "wdc_wd10_ezex_00_wn4_a0".
func SnakeCase(s string) string {
	s = strings.ReplaceAll(s, "-", " ")
	s = upperRunRe.ReplaceAllString(s, " $0")
	s = upperLowerRe.ReplaceAllString(s, " $0")
	return strings.ToLower(strings.Join(strings.Fields(s), "_"))
}

// NormalizeSerial reduces a serial number to a safe topic/id fragment:
// every run of non-alphanumeric characters collapses to a single "_",
// leading/trailing "_" are stripped and the result is lowercased. An
// empty or fully non-alphanumeric serial normalizes to "unknown".
func NormalizeSerial(serial string) string {
	s := nonAlnumRe.ReplaceAllString(serial, "_")
	s = strings.ToLower(strings.Trim(s, "_"))
	if s == "" {
		return "unknown"
	}
	return s
}

// BuildAlias derives the per-disk alias from model and serial. It is a
// pure function of its inputs, so the alias is stable across restarts.
// Disks sharing a model string still get distinct aliases because the
// normalized serial is always part of the result.
func BuildAlias(modelID, serial string) string {
	if modelID == "" {
		modelID = "unknown"
	}
	return SnakeCase(modelID) + "_" + NormalizeSerial(serial)
}
