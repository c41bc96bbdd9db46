package server

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/randalmurphal/paperflow/pkg/docstore"
)

// reportMarkdown lays a solution report out as a markdown document.
func reportMarkdown(r *docstore.SolutionReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", r.Title)
	if r.ExecutiveSummary != "" {
		fmt.Fprintf(&b, "## Executive Summary\n\n%s\n\n", r.ExecutiveSummary)
	}
	for _, s := range r.Sections {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", s.Title, s.Content)
		if len(s.Citations) > 0 {
			fmt.Fprintf(&b, "_Sources: %s_\n\n", strings.Join(s.Citations, ", "))
		}
	}
	if len(r.Recommendations) > 0 {
		b.WriteString("## Recommendations\n\n")
		b.WriteString("| Recommendation | Priority | Effort |\n|---|---|---|\n")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(&b, "| %s | %s | %s |\n", cell(rec.Title), rec.Priority, rec.Effort)
		}
		b.WriteString("\n")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(&b, "### %s\n\n%s\n\n", rec.Title, rec.Description)
		}
	}
	return b.String()
}

func cell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", `\|`), "\n", " ")
}

// markdown renders GitHub-flavoured markdown. Raw HTML in model output is
// not passed through.
var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// reportHTML renders a report as a standalone HTML page.
func reportHTML(r *docstore.SolutionReport) ([]byte, error) {
	var body bytes.Buffer
	if err := markdown.Convert([]byte(reportMarkdown(r)), &body); err != nil {
		return nil, fmt.Errorf("render report %s: %w", r.ID, err)
	}

	var page bytes.Buffer
	fmt.Fprintf(&page, "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>%s</title></head><body>\n",
		html.EscapeString(r.Title))
	page.Write(body.Bytes())
	page.WriteString("</body></html>\n")
	return page.Bytes(), nil
}
