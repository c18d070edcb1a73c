package crawler

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
)

var (
	invalidFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)
	leadingDigits        = regexp.MustCompile(`^(\d+)`)
)

// SanitizeFilename replaces every character outside [A-Za-z0-9._-] with '_'.
func SanitizeFilename(name string) string {
	return invalidFilenameChars.ReplaceAllString(name, "_")
}

// TitleKey returns the numeric prefix of a title, falling back to the record id.
// Sample directories are keyed by it.
func TitleKey(rec Record) string {
	if m := leadingDigits.FindStringSubmatch(rec.Title); m != nil {
		return m[1]
	}
	return strconv.Itoa(rec.ID)
}

// PageURL renders the problem page URL for id from a printf-style template.
func PageURL(template string, id int) string {
	if strings.Contains(template, "%d") {
		return fmt.Sprintf(template, id)
	}
	return template + strconv.Itoa(id)
}

// UnescapeContent reverses the backslash escaping used by the judge's inline
// scripts and decodes HTML entities.
func UnescapeContent(s string) string {
	s = strings.ReplaceAll(s, `\"`, `"`)
	s = strings.ReplaceAll(s, `\'`, `'`)
	s = strings.ReplaceAll(s, `\\`, `\`)
	return html.UnescapeString(s)
}
