// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package report

import (
	"fmt"
	"strings"
)

// FormatTemplate substitutes every {name} token in tmpl with the
// named field from e, for use by actions outside this package (the
// log and email actions share the same {name} template syntax as
// dailyReport, per the original's common use of
// string.Formatter()/format_map across all three).
func FormatTemplate(tmpl string, e interface{ Get(string) (any, bool) }) string {
	return render(tmpl, e.Get)
}

// render substitutes every {name} token in tmpl with get(name); a
// name get does not resolve renders as the literal "None", matching
// the original's str.format_map against a dict defaulting missing
// entries to Python's None.
func render(tmpl string, get func(name string) (any, bool)) string {
	var b strings.Builder
	i := 0
	for i < len(tmpl) {
		if tmpl[i] != '{' {
			b.WriteByte(tmpl[i])
			i++
			continue
		}
		end := strings.IndexByte(tmpl[i+1:], '}')
		if end < 0 {
			b.WriteString(tmpl[i:])
			break
		}
		name := tmpl[i+1 : i+1+end]
		if v, ok := get(name); ok {
			b.WriteString(toText(v))
		} else {
			b.WriteString("None")
		}
		i += end + 2
	}
	return b.String()
}

func toText(v any) string {
	if v == nil {
		return "None"
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
