package template

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Placeholder markers
const (
	PlaceholderOpen  = "%#"
	PlaceholderClose = "#%"
	FormatSeparator  = ":"
)

// MaxPasses bounds recursive expansion of values that contain placeholders.
const MaxPasses = 128

// Formatter is implemented by values that render themselves for a
// %#NAME:FORMAT#% placeholder.
type Formatter interface {
	Format(format string) string
}

// Replace substitutes every registered placeholder in tmpl with its value from
// vars. Expansion is repeated until no registered placeholder is left or
// MaxPasses is reached.
func Replace(tmpl string, vars map[string]any) string {
	if len(vars) == 0 || tmpl == "" {
		return tmpl
	}

	keys := make([]string, 0, len(vars))
	for key := range vars {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := tmpl
	for pass := 0; pass < MaxPasses; pass++ {
		out = replacePass(out, keys, vars)
		if !hasPending(out, keys) {
			break
		}
	}
	return out
}

func replacePass(s string, keys []string, vars map[string]any) string {
	for _, key := range keys {
		value := vars[key]
		s = replaceFormatted(s, key, value)
		s = strings.ReplaceAll(s, PlaceholderOpen+key+PlaceholderClose, Stringify(value))
	}
	return s
}

// replaceFormatted expands every %#KEY:FORMAT#% occurrence that has a closing
// marker. Text produced by a substitution is not rescanned in the same pass.
func replaceFormatted(s, key string, value any) string {
	opener := PlaceholderOpen + key + FormatSeparator

	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, opener)
		if start < 0 {
			break
		}
		formatStart := start + len(opener)
		end := strings.Index(rest[formatStart:], PlaceholderClose)
		if end < 0 {
			break
		}
		format := rest[formatStart : formatStart+end]

		b.WriteString(rest[:start])
		if f, ok := value.(Formatter); ok {
			b.WriteString(f.Format(format))
		} else {
			b.WriteString(Stringify(value))
		}
		rest = rest[formatStart+end+len(PlaceholderClose):]
	}
	b.WriteString(rest)
	return b.String()
}

func hasPending(s string, keys []string) bool {
	for _, key := range keys {
		if strings.Contains(s, PlaceholderOpen+key+PlaceholderClose) {
			return true
		}
		opener := PlaceholderOpen + key + FormatSeparator
		if idx := strings.Index(s, opener); idx >= 0 &&
			strings.Contains(s[idx+len(opener):], PlaceholderClose) {
			return true
		}
	}
	return false
}

// Stringify renders a template value. Errors render as their message;
// maps, structs and slices render as YAML.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case error:
		return val.Error()
	case fmt.Stringer:
		return val.String()
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return ""
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map, reflect.Struct, reflect.Slice, reflect.Array:
		data, err := yaml.Marshal(rv.Interface())
		if err != nil {
			return fmt.Sprint(v)
		}
		return strings.TrimRight(string(data), "\n")
	default:
		return fmt.Sprint(rv.Interface())
	}
}

// Placeholders returns the distinct placeholder names referenced by tmpl in
// order of first appearance.
func Placeholders(tmpl string) []string {
	var names []string
	seen := make(map[string]bool)

	rest := tmpl
	for {
		start := strings.Index(rest, PlaceholderOpen)
		if start < 0 {
			break
		}
		body := rest[start+len(PlaceholderOpen):]
		end := strings.Index(body, PlaceholderClose)
		if end < 0 {
			break
		}
		name := body[:end]
		if strings.Contains(name, PlaceholderOpen) {
			rest = body
			continue
		}
		if idx := strings.Index(name, FormatSeparator); idx >= 0 {
			name = name[:idx]
		}
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
		rest = body[end+len(PlaceholderClose):]
	}
	return names
}
