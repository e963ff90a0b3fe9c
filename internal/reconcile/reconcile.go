// Package reconcile folds the catalog's inconsistent author, year and
// identifier shapes into canonical values.
package reconcile

import (
	"strings"

	"github.com/helixir/book-request-service/internal/normalize"
)

// Authors returns the ordered, non-empty author names carried by raw.
//
// Accepted shapes are a list of objects with a "name" field, a flat list of
// strings, or a single scalar string or object. Absent input yields an empty,
// non-nil slice.
func Authors(raw any) []string {
	names := []string{}

	switch v := raw.(type) {
	case nil:
		return names
	case []any:
		for _, elem := range v {
			if name, ok := authorName(elem); ok {
				names = append(names, name)
			}
		}
	case []string:
		for _, elem := range v {
			if name := strings.TrimSpace(elem); name != "" {
				names = append(names, name)
			}
		}
	default:
		if name, ok := authorName(v); ok {
			names = append(names, name)
		}
	}
	return names
}

func authorName(elem any) (string, bool) {
	switch v := elem.(type) {
	case map[string]any:
		return nonEmpty(v["name"])
	case string:
		return nonEmpty(v)
	default:
		return "", false
	}
}

func nonEmpty(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// Year extracts a publication year from the first present candidate. Callers
// list the structured year field before the free-text date field.
func Year(candidates ...any) *int {
	for _, c := range candidates {
		if c == nil {
			continue
		}
		if s, ok := c.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		year, ok := normalize.ExtractYear(c)
		if !ok {
			return nil
		}
		return &year
	}
	return nil
}

// Identifier returns the normalized first identifier of a list, or the
// normalized scalar itself. Unusable values yield "".
func Identifier(raw any) string {
	var first any
	switch v := raw.(type) {
	case nil:
		return ""
	case []any:
		if len(v) == 0 {
			return ""
		}
		first = v[0]
	case []string:
		if len(v) == 0 {
			return ""
		}
		first = v[0]
	default:
		first = v
	}

	isbn, ok := normalize.ISBN(first)
	if !ok {
		return ""
	}
	return isbn
}
