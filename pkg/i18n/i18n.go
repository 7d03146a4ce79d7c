// Package i18n provides translatable text for labels and test arguments.
package i18n

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Prefix marks a string as a translation key rather than literal text.
const Prefix = "i18n! "

// DefaultLocale is the locale every Text is guaranteed to have.
const DefaultLocale = "en-US"

// Text maps a locale to its rendering
type Text map[string]string

// String returns the rendering for locale, falling back to the default locale.
func (t Text) String(locale string) string {
	if s, ok := t[locale]; ok {
		return s
	}
	return t[DefaultLocale]
}

// Default returns the default-locale rendering
func (t Text) Default() string {
	return t[DefaultLocale]
}

// Untranslated wraps a literal string
func Untranslated(s string) Text {
	return Text{DefaultLocale: s}
}

// Catalog holds translations keyed by locale then message key
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]map[string]string
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]map[string]string)}
}

// LoadCatalog reads a YAML file of the form {locale: {key: translation}}.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- translation file from the test list tree
	if err != nil {
		return nil, err
	}

	var raw map[string]map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	c := NewCatalog()
	for locale, msgs := range raw {
		canonical, err := CanonicalLocale(locale)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		for k, v := range msgs {
			c.Add(canonical, k, v)
		}
	}
	return c, nil
}

// Add registers one translation
func (c *Catalog) Add(locale, key, translation string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entries[locale] == nil {
		c.entries[locale] = make(map[string]string)
	}
	c.entries[locale][key] = translation
}

// Locales returns the locales with at least one translation, sorted
func (c *Catalog) Locales() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.entries))
	for l := range c.entries {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Translate returns every known rendering of key. The key itself is the
// default-locale rendering unless the catalog overrides it.
func (c *Catalog) Translate(key string) Text {
	t := Untranslated(key)
	if c == nil {
		return t
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for locale, msgs := range c.entries {
		if s, ok := msgs[key]; ok {
			t[locale] = s
		}
	}
	return t
}

// MayTranslate converts s to Text when it carries the translation prefix.
// With force set, plain strings are wrapped as untranslated text too.
func (c *Catalog) MayTranslate(s string, force bool) (Text, bool) {
	if strings.HasPrefix(s, Prefix) {
		return c.Translate(strings.TrimPrefix(s, Prefix)), true
	}
	if force {
		return Untranslated(s), true
	}
	return nil, false
}

// CanonicalLocale validates a BCP-47 tag and returns its canonical form.
func CanonicalLocale(s string) (string, error) {
	tag, err := language.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid locale %q: %w", s, err)
	}
	return tag.String(), nil
}
