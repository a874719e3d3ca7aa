package digest

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"

	"polibrief/internal/core"
)

var biasOrder = []core.BiasLabel{core.BiasLeft, core.BiasCenter, core.BiasRight}

// Markdown renders the document as markdown.
func (d *Document) Markdown() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# %s - %s\n\n", d.Title, d.Date))
	sb.WriteString(fmt.Sprintf("*%d items considered, %d political items included.*\n\n", d.ItemsConsidered, d.PoliticalItems))

	if len(d.Sections) == 0 {
		sb.WriteString("No political content in this window.\n")
		return sb.String()
	}

	for _, s := range d.Sections {
		sb.WriteString(fmt.Sprintf("## %d. %s\n\n", s.Rank, escape(s.Label)))
		if s.Summary != "" {
			sb.WriteString(s.Summary + "\n\n")
		}
		if mix := formatBiasMix(s.BiasMix); mix != "" {
			sb.WriteString(fmt.Sprintf("**Bias mix:** %s\n\n", mix))
		}
		for _, ref := range s.References {
			title := escape(ref.Title)
			if title == "" {
				title = ref.ID
			}
			if ref.URL != "" {
				sb.WriteString(fmt.Sprintf("- [%s](%s)", title, ref.URL))
			} else {
				sb.WriteString("- " + title)
			}
			sb.WriteString(fmt.Sprintf(" (%s, quality %d/10)\n", ref.BiasLabel, ref.Quality))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// RenderHTML converts markdown to HTML. If conversion fails the escaped source
// is returned inside a pre block.
func RenderHTML(md string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "<pre>" + html.EscapeString(md) + "</pre>"
	}
	return buf.String()
}

func formatBiasMix(mix map[string]int) string {
	var parts []string
	for _, b := range biasOrder {
		if n := mix[string(b)]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", b, n))
		}
	}
	return strings.Join(parts, ", ")
}

var mdEscaper = strings.NewReplacer(`[`, `\[`, `]`, `\]`, `*`, `\*`, `_`, `\_`)

func escape(s string) string {
	return mdEscaper.Replace(strings.TrimSpace(s))
}
