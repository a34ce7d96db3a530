package render

import (
	"html/template"
	"strconv"
	"strings"

	"github.com/wingheights/wingsite"
)

// Spans renders formatted text leaves as inline HTML. Each span is trimmed,
// escaped, wrapped by its flags in the order bold, italic, strikethrough,
// underline, and finally wrapped in a span element. A list flag only prefixes
// a bullet; it never produces list markup.
func Spans(spans []wingsite.Span) template.HTML {
	var b strings.Builder
	for _, s := range spans {
		writeSpan(&b, s)
	}
	return template.HTML(b.String())
}

func writeSpan(b *strings.Builder, s wingsite.Span) {
	content := template.HTMLEscapeString(strings.TrimSpace(s.Text))
	if s.Bold {
		content = "<strong>" + content + "</strong>"
	}
	if s.Italic {
		content = "<em>" + content + "</em>"
	}
	if s.Strikethrough {
		content = "<s>" + content + "</s>"
	}
	if s.Underline {
		content = `<span style="text-decoration: underline">` + content + "</span>"
	}
	if s.List {
		content = "<span>• " + content + "</span>"
	}
	b.WriteString("<span>")
	b.WriteString(content)
	b.WriteString("</span>")
}

// Nodes renders a structured rich-text column: paragraphs, headings and lists.
// Node types it does not know are skipped.
func Nodes(nodes []wingsite.RichNode) template.HTML {
	var b strings.Builder
	for _, n := range nodes {
		switch n.Type {
		case "paragraph":
			b.WriteString("<div>")
			b.WriteString(string(Spans(n.Spans())))
			b.WriteString("</div>")
		case "heading":
			tag := "h" + strconv.Itoa(headingLevel(n.Level))
			b.WriteString("<" + tag + ">")
			b.WriteString(string(Spans(n.Spans())))
			b.WriteString("</" + tag + ">")
		case "list":
			class := "list-disc"
			if n.Format == "ordered" {
				class = "list-decimal"
			}
			b.WriteString(`<ul class="` + class + `">`)
			for _, item := range n.Children {
				b.WriteString("<li>")
				b.WriteString(string(Spans(item.Spans())))
				b.WriteString("</li>")
			}
			b.WriteString("</ul>")
		}
	}
	return template.HTML(b.String())
}

func headingLevel(level int) int {
	switch {
	case level < 1:
		return 2
	case level > 6:
		return 6
	}
	return level
}
