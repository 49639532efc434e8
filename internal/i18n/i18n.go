package i18n

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync/atomic"
)

// DefaultLocale is used when nothing in the environment names a known locale.
const DefaultLocale = "fr"

// catalogs maps a supported locale to its messages. Keys missing from a
// non-default catalog resolve through the French one.
var catalogs = map[string]map[string]string{
	"fr": FrMessages,
	"en": EnMessages,
}

// I18n 是一个已解析 locale 的只读消息表
// I18n is a read-only message table resolved for one locale.
type I18n struct {
	locale   string
	messages map[string]string
}

var global atomic.Pointer[I18n]

// Global returns the process-wide catalog, detecting the locale on first use.
func Global() *I18n {
	if g := global.Load(); g != nil {
		return g
	}
	global.CompareAndSwap(nil, New(""))
	return global.Load()
}

// Init replaces the process-wide catalog.
func Init(locale string) {
	global.Store(New(locale))
}

// T translates key with the global catalog.
func T(key string, args ...any) string {
	return Global().T(key, args...)
}

// New 按 locale 构建消息表，空字符串时从环境变量检测
// New builds the table for locale, detecting it from the environment when
// empty.
func New(locale string) *I18n {
	if strings.TrimSpace(locale) == "" {
		locale = DetectLocale()
	}
	locale = normalizeLocale(locale)

	base := catalogs[DefaultLocale]
	messages := make(map[string]string, len(base))
	for k, v := range base {
		messages[k] = v
	}
	if locale != DefaultLocale {
		for k, v := range catalogs[locale] {
			messages[k] = v
		}
	}
	return &I18n{locale: locale, messages: messages}
}

// T returns the message for key formatted with args, or key itself when no
// catalog defines it.
func (i *I18n) T(key string, args ...any) string {
	tmpl, ok := i.messages[key]
	if !ok {
		return key
	}
	if len(args) == 0 {
		return tmpl
	}
	return fmt.Sprintf(tmpl, args...)
}

func (i *I18n) Locale() string {
	return i.locale
}

// Has reports whether key exists in the catalog.
func (i *I18n) Has(key string) bool {
	_, ok := i.messages[key]
	return ok
}

// Locales lists the supported locales in sorted order.
func Locales() []string {
	out := make([]string, 0, len(catalogs))
	for l := range catalogs {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Missing lists, sorted, the keys of the default catalog that locale does not
// translate. Unknown locales report every key.
func Missing(locale string) []string {
	own := catalogs[locale]
	var out []string
	for k := range catalogs[DefaultLocale] {
		if _, ok := own[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// DetectLocale reads QMPIE_LANG then the POSIX locale variables.
func DetectLocale() string {
	for _, env := range []string{"QMPIE_LANG", "LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return normalizeLocale(v)
		}
	}
	return DefaultLocale
}

// normalizeLocale maps "en_US.UTF-8" style values onto a supported locale.
func normalizeLocale(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexAny(s, ".@"); idx >= 0 {
		s = s[:idx]
	}
	lang, _, _ := strings.Cut(strings.ToLower(strings.ReplaceAll(s, "_", "-")), "-")
	if _, ok := catalogs[lang]; ok {
		return lang
	}
	return DefaultLocale
}
