package compiler

import (
	"strings"

	"github.com/labscreen/screenresults/internal/apperrors"
	"github.com/labscreen/screenresults/internal/schema"
)

// SelectKeys resolves which fields a request displays.
//
// Fields tagged with tag are selected by default. Each include adjusts that set: "*" adds
// every field, "-key" removes key and "key" adds it. Includes are applied in order.
func SelectKeys(fields []schema.FieldSpec, tag string, includes []string) (map[string]struct{}, error) {
	known := make(map[string]struct{}, len(fields))
	selected := make(map[string]struct{}, len(fields))

	for _, f := range fields {
		known[f.Key] = struct{}{}

		if f.HasTag(tag) {
			selected[f.Key] = struct{}{}
		}
	}

	for _, raw := range includes {
		include := strings.TrimSpace(raw)

		switch {
		case include == "":
			continue
		case include == "*":
			for key := range known {
				selected[key] = struct{}{}
			}
		case strings.HasPrefix(include, "-"):
			key := strings.TrimPrefix(include, "-")
			if _, ok := known[key]; !ok {
				return nil, apperrors.InvalidRequest("includes", "unknown field %q", key)
			}

			delete(selected, key)
		default:
			if _, ok := known[include]; !ok {
				return nil, apperrors.InvalidRequest("includes", "unknown field %q", include)
			}

			selected[include] = struct{}{}
		}
	}

	return selected, nil
}
