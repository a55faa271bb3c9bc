// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package report

import (
	"fmt"
	"strings"
	"time"
)

const (
	txtDocStart   = "= Pyruse Report\n\n"
	txtHeadWarn   = "== WARNING Messages\n\n"
	txtHeadInfo   = "\n== Information Messages\n\n"
	txtHeadOther  = "\n== Other log events\n\n"
	txtTableDelim = "|===============================================================================\n"
	txtTableHead  = "|Count|Message                                    |Date+time for each occurrence\n"
	txtPreDelim   = "----------\n"

	htmDocStart  = "<html>\n<head><meta charset=\"utf-8\"/></head>\n<body>\n<h1>Pyruse Report</h1>\n"
	htmDocStop   = "</body></html>"
	htmHeadWarn  = "<h2>WARNING Messages</h2>\n"
	htmHeadInfo  = "<h2>Information Messages</h2>\n"
	htmHeadOther = "<h2>Other log events</h2>\n"
	htmTableHead = "<table>\n<tr><th>Count</th><th>Message</th><th>Date+time for each occurrence</th></tr>\n"
	htmTableStop = "</table>\n"
	htmPreStart  = "<pre>"
	htmPreStop   = "</pre>\n"
)

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// timeCell concatenates each detail mode's rendering for one message
// group, per §4.6's flush procedure bullet list.
func timeCell(g messageGroup, sep string, format func(time.Time) string) string {
	var parts []string
	if ts := g.byMode[DetailFirst]; len(ts) > 0 {
		parts = append(parts, "From : "+format(ts[0]))
	}
	if ts := g.byMode[DetailLast]; len(ts) > 0 {
		parts = append(parts, "Until: "+format(ts[len(ts)-1]))
	}
	if ts := g.byMode[DetailFirstLast]; len(ts) > 0 {
		if len(ts) == 1 {
			parts = append(parts, format(ts[0]))
		} else {
			parts = append(parts, "From : "+format(ts[0]), "Until: "+format(ts[len(ts)-1]))
		}
	}
	if ts := g.byMode[DetailAll]; len(ts) > 0 {
		for _, t := range ts {
			parts = append(parts, format(t))
		}
	}
	return strings.Join(parts, sep)
}

func adocTime(t time.Time) string { return t.Format("2006-01-02 15:04:05.000000") }

func toAdoc(g messageGroup) string {
	times := timeCell(g, " +\n       ", adocTime)
	return fmt.Sprintf("\n|%5d|%s\n      |%s\n", g.count(), g.message, times)
}

func toHTML(g messageGroup) string {
	times := timeCell(g, "<br/>", adocTime)
	return fmt.Sprintf("<tr><td>%d</td><td>%s</td><td>%s</td></tr>\n",
		g.count(), escapeHTML(g.message), times)
}

func renderAsciiDoc(warn, info []messageGroup, other []record) string {
	var b strings.Builder
	b.WriteString(txtDocStart)
	b.WriteString(txtHeadWarn)
	b.WriteString(txtTableDelim)
	b.WriteString(txtTableHead)
	for _, g := range warn {
		b.WriteString(toAdoc(g))
	}
	b.WriteString(txtTableDelim)

	b.WriteString(txtHeadInfo)
	b.WriteString(txtTableDelim)
	b.WriteString(txtTableHead)
	for _, g := range info {
		b.WriteString(toAdoc(g))
	}
	b.WriteString(txtTableDelim)

	b.WriteString(txtHeadOther)
	b.WriteString(txtPreDelim)
	for _, r := range other {
		fmt.Fprintf(&b, "%s: %s\n", adocTime(r.T), r.M)
	}
	b.WriteString(txtPreDelim)
	return b.String()
}

func renderHTML(warn, info []messageGroup, other []record) string {
	var b strings.Builder
	b.WriteString(htmDocStart)
	b.WriteString(htmHeadWarn)
	b.WriteString(htmTableHead)
	for _, g := range warn {
		b.WriteString(toHTML(g))
	}
	b.WriteString(htmTableStop)

	b.WriteString(htmHeadInfo)
	b.WriteString(htmTableHead)
	for _, g := range info {
		b.WriteString(toHTML(g))
	}
	b.WriteString(htmTableStop)

	b.WriteString(htmHeadOther)
	b.WriteString(htmPreStart)
	for _, r := range other {
		fmt.Fprintf(&b, "%s: %s\n", adocTime(r.T), escapeHTML(r.M))
	}
	b.WriteString(htmPreStop)
	b.WriteString(htmDocStop)
	return b.String()
}
