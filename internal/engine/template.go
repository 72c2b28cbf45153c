package engine

import (
	"regexp"
	"strconv"
	"time"

	"automation/internal/clock"
)

var (
	placeholderRE = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)
	addDaysRE     = regexp.MustCompile(`^addDays\(\s*now\s*,\s*(-?\d+)\s*\)$`)
)

// TemplateProcessor substitutes {{key}} placeholders into strings and
// nested structures using an event payload as context. Two built-ins are
// supported: {{now}} and {{addDays(now, N)}}, both rendering RFC 3339.
type TemplateProcessor struct {
	clock clock.Clock
}

func NewTemplateProcessor(clk clock.Clock) *TemplateProcessor {
	if clk == nil {
		clk = clock.Real{}
	}
	return &TemplateProcessor{clock: clk}
}

// Resolve replaces every placeholder in one string. Unresolved keys become
// empty strings rather than surviving as literal {{key}} text.
func (p *TemplateProcessor) Resolve(template string, context map[string]any) string {
	return placeholderRE.ReplaceAllStringFunc(template, func(match string) string {
		key := placeholderRE.FindStringSubmatch(match)[1]

		if key == "now" {
			return p.clock.Now().Format(time.RFC3339)
		}
		if m := addDaysRE.FindStringSubmatch(key); m != nil {
			days, _ := strconv.Atoi(m[1])
			return p.clock.Now().AddDate(0, 0, days).Format(time.RFC3339)
		}

		value, ok := LookupField(context, key)
		if !ok || value == nil {
			return ""
		}
		return stringify(value)
	})
}

// ResolveValue walks a nested value (action configs are maps of strings,
// maps, and slices) and substitutes every string it finds. The input is
// never mutated; maps and slices come back as fresh copies.
func (p *TemplateProcessor) ResolveValue(value any, context map[string]any) any {
	switch typed := value.(type) {
	case string:
		return p.Resolve(typed, context)
	case map[string]any:
		resolved := make(map[string]any, len(typed))
		for k, v := range typed {
			resolved[k] = p.ResolveValue(v, context)
		}
		return resolved
	case []any:
		resolved := make([]any, len(typed))
		for i, v := range typed {
			resolved[i] = p.ResolveValue(v, context)
		}
		return resolved
	default:
		return value
	}
}
