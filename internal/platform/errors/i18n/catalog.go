// Package i18n provides internationalization support for error messages.
package i18n

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"text/template"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// BaseLocale is the canonical source locale and the fallback for every lookup.
const BaseLocale = "en-US"

// Code is a machine-readable error code (duplicated from errors package to avoid cycle).
type Code = string

// Catalog maps error codes to message templates for a specific locale.
type Catalog struct {
	locale   string
	messages map[Code]string
}

type localeFile struct {
	Locale   string            `yaml:"locale"`
	Messages map[string]string `yaml:"messages"`
}

//go:embed locales/*.yaml
var embeddedLocales embed.FS

var (
	catalogsMu sync.RWMutex
	// catalogs holds embedded and runtime-registered catalogs by locale.
	catalogs = map[string]*Catalog{}
	matcher  language.Matcher
	// matchable lists locales in matcher order; index 0 is the base locale.
	matchable []string
)

func init() {
	loaded, err := LoadFromFS(embeddedLocales)
	if err != nil {
		panic(fmt.Sprintf("load embedded error catalogs: %v", err))
	}
	for locale, cat := range loaded {
		catalogs[locale] = cat
	}
	matchable, matcher = buildMatcher(loaded)
}

// LoadFromFS loads every locales/*.yaml catalog from fsys. The base locale
// must be present.
func LoadFromFS(fsys fs.FS) (map[string]*Catalog, error) {
	paths, err := fs.Glob(fsys, "locales/*.yaml")
	if err != nil {
		return nil, fmt.Errorf("glob locale catalogs: %w", err)
	}
	sort.Strings(paths)

	loaded := make(map[string]*Catalog, len(paths))
	for _, path := range paths {
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", path, err)
		}
		var file localeFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", path, err)
		}
		locale := strings.TrimSpace(file.Locale)
		if locale == "" {
			return nil, fmt.Errorf("catalog %s: locale is required", path)
		}
		if _, err := language.Parse(locale); err != nil {
			return nil, fmt.Errorf("catalog %s: parse locale %q: %w", path, locale, err)
		}
		if _, exists := loaded[locale]; exists {
			return nil, fmt.Errorf("catalog %s: locale %q already defined", path, locale)
		}
		loaded[locale] = NewCatalog(locale, file.Messages)
	}
	if _, ok := loaded[BaseLocale]; !ok {
		return nil, fmt.Errorf("base locale %s is not defined in catalogs", BaseLocale)
	}
	return loaded, nil
}

func buildMatcher(loaded map[string]*Catalog) ([]string, language.Matcher) {
	locales := make([]string, 0, len(loaded))
	for locale := range loaded {
		if locale != BaseLocale {
			locales = append(locales, locale)
		}
	}
	sort.Strings(locales)
	locales = append([]string{BaseLocale}, locales...)

	tags := make([]language.Tag, len(locales))
	for i, locale := range locales {
		tags[i] = language.MustParse(locale)
	}
	return locales, language.NewMatcher(tags)
}

// GetCatalog returns the catalog that best matches locale, which may be a
// single tag or an Accept-Language list. Falls back to en-US.
func GetCatalog(locale string) *Catalog {
	requested := strings.TrimSpace(locale)
	if requested == "" {
		requested = BaseLocale
	}
	if c, ok := lookupCatalog(requested); ok {
		return c
	}
	if c, ok := lookupCatalog(resolveLocale(requested)); ok {
		return c
	}
	c, _ := lookupCatalog(BaseLocale)
	return c
}

func resolveLocale(requested string) string {
	tags, _, err := language.ParseAcceptLanguage(requested)
	if err != nil || len(tags) == 0 {
		return BaseLocale
	}
	_, index, confidence := matcher.Match(tags...)
	if confidence == language.No || index < 0 || index >= len(matchable) {
		return BaseLocale
	}
	return matchable[index]
}

// Locale returns the locale of this catalog.
func (c *Catalog) Locale() string {
	return c.locale
}

// Format renders the message template with the given metadata.
// Falls back to the error code itself if no template is found, and to the raw
// template when it cannot be parsed or executed.
func (c *Catalog) Format(code Code, metadata map[string]string) string {
	tmpl, ok := c.messages[code]
	if !ok {
		return code
	}
	if metadata == nil {
		metadata = map[string]string{}
	}

	t, err := template.New("msg").Parse(tmpl)
	if err != nil {
		return tmpl
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, metadata); err != nil {
		return tmpl
	}
	return buf.String()
}

// RegisterCatalog registers a catalog under locale, replacing any existing
// one. Registered locales are looked up by exact name only.
func RegisterCatalog(locale string, cat *Catalog) {
	catalogsMu.Lock()
	defer catalogsMu.Unlock()
	catalogs[locale] = cat
}

// NewCatalog creates a new catalog with the given locale and messages.
func NewCatalog(locale string, messages map[Code]string) *Catalog {
	cloned := make(map[Code]string, len(messages))
	for key, value := range messages {
		cloned[strings.TrimSpace(key)] = value
	}
	return &Catalog{
		locale:   locale,
		messages: cloned,
	}
}

func lookupCatalog(locale string) (*Catalog, bool) {
	catalogsMu.RLock()
	defer catalogsMu.RUnlock()
	cat, ok := catalogs[locale]
	return cat, ok
}
