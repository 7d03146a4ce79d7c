package testlist

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	idPattern      = regexp.MustCompile(`^[a-zA-Z0-9]+$`)
	nonAlnum       = regexp.MustCompile(`[^a-zA-Z0-9]+`)
	labelSeparator = regexp.MustCompile(`[._]+`)
)

// acronyms keeps conventional spellings when humanizing pytest names
var acronyms = map[string]string{
	"ac":   "AC",
	"als":  "ALS",
	"ec":   "EC",
	"ek":   "EK",
	"emmc": "eMMC",
	"hwid": "HWID",
	"id":   "ID",
	"led":  "LED",
	"lte":  "LTE",
	"sim":  "SIM",
	"ui":   "UI",
	"usb":  "USB",
}

// DefaultGroupLabel labels a node with no id, label or pytest_name.
const DefaultGroupLabel = "Test Group"

// ValidID reports whether id may be used as a path component.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// PytestNameToLabel humanizes a pytest name, e.g. "led.led_test" becomes
// "LED Test".
func PytestNameToLabel(name string) string {
	seen := make(map[string]bool)
	var words []string
	for _, w := range strings.Fields(labelSeparator.ReplaceAllString(name, " ")) {
		if seen[w] {
			continue
		}
		seen[w] = true
		words = append(words, humanizeWord(w))
	}
	return strings.Join(words, " ")
}

func humanizeWord(w string) string {
	if a, ok := acronyms[strings.ToLower(w)]; ok {
		return a
	}
	if !isAlpha(w) || !strings.ContainsAny(strings.ToLower(w), "aeiouy") {
		return strings.ToUpper(w)
	}
	// Casers keep state and must not be shared between goroutines.
	return cases.Title(language.Und).String(w)
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return s != ""
}

// LabelToID turns a label into an id by dropping everything but letters
// and digits and capitalizing each word, e.g. "Some test" becomes "SomeTest".
func LabelToID(label string) string {
	var b strings.Builder
	for _, w := range strings.Fields(nonAlnum.ReplaceAllString(label, " ")) {
		if unicode.IsLower(rune(w[0])) {
			w = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
		}
		b.WriteString(w)
	}
	return b.String()
}
