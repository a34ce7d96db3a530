// Package render turns CMS content blocks into HTML fragments for the page
// layout.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
	"go.uber.org/zap"

	"github.com/wingheights/wingsite"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// View is a rendered page ready for the layout template.
type View struct {
	Title           string
	MetaTitle       string
	MetaDescription string
	Banner          *wingsite.HeadBannerBlock
	Body            template.HTML
}

// HeadTitle returns the document title: the SEO title when present, else the
// page title.
func (v View) HeadTitle() string {
	if v.MetaTitle != "" {
		return v.MetaTitle
	}
	return v.Title
}

// Renderer renders blocks against one CMS base URL.
type Renderer struct {
	base   string
	md     goldmark.Markdown
	tmpl   *template.Template
	logger *zap.Logger
}

// New creates a renderer. Relative media URLs, including images inside
// markdown, are resolved against baseURL.
func New(baseURL string, logger *zap.Logger) (*Renderer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tmpl, err := template.New("blocks").ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse block templates: %w", err)
	}

	base := strings.TrimRight(baseURL, "/")
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
			parser.WithASTTransformers(util.Prioritized(imageResolver{base: base}, 100)),
		),
	)

	return &Renderer{
		base:   base,
		md:     md,
		tmpl:   tmpl,
		logger: logger.Named("render"),
	}, nil
}

// BaseURL returns the base that relative media URLs are resolved against.
func (r *Renderer) BaseURL() string {
	return r.base
}

// Page renders the page body in source order. SEO and head banner blocks are
// hoisted: the first of each fills the View's head fields and banner, and
// none of them appear in the body.
func (r *Renderer) Page(page *wingsite.Page) (View, error) {
	view := View{Title: page.Title}
	if seo, ok := page.SEO(); ok {
		view.MetaTitle = seo.MetaTitle
		view.MetaDescription = seo.MetaDescription
	}
	if banner, ok := page.HeadBanner(); ok {
		view.Banner = &banner
	}

	var body strings.Builder
	for _, b := range page.Blocks {
		if wingsite.IsHoisted(b) {
			continue
		}
		html, err := r.Block(b)
		if err != nil {
			return View{}, fmt.Errorf("block %d (%s): %w", b.BlockID(), b.Component(), err)
		}
		if html == "" {
			continue
		}
		fmt.Fprintf(&body, "<div class=\"block-wrap\" data-component=\"%s\">%s</div>\n",
			template.HTMLEscapeString(b.Component()), html)
	}
	view.Body = template.HTML(body.String())
	return view, nil
}

type mediaView struct {
	URL     string
	Alt     string
	Width   int
	Height  int
	Caption string
}

type twoColumnView struct {
	Form  bool
	Left  template.HTML
	Right template.HTML
}

type formView struct {
	Title          string
	InsuranceTypes []wingsite.InsuranceType
	TimeSlots      []string
}

// Block renders one block. Hoisted and unknown blocks render as empty output.
func (r *Renderer) Block(b wingsite.Block) (template.HTML, error) {
	switch v := b.(type) {
	case wingsite.QuoteBlock:
		if strings.TrimSpace(v.Text) == "" {
			return "", nil
		}
		return r.execute("quote", v)
	case wingsite.MediaBlock:
		alt := v.Media.AlternativeText
		if alt == "" {
			alt = v.Caption
		}
		return r.execute("media", mediaView{
			URL:     ResolveURL(r.base, v.Media.URL),
			Alt:     alt,
			Width:   v.Media.Width,
			Height:  v.Media.Height,
			Caption: v.Caption,
		})
	case wingsite.RichTextBlock:
		if strings.TrimSpace(v.Content) == "" {
			return "", nil
		}
		return r.execute("rich-text", r.Markdown(v.Content))
	case wingsite.TwoColumnBlock:
		if v.Left.IsEmpty() && v.Right.IsEmpty() {
			return "", nil
		}
		left, err := r.column(v.Left)
		if err != nil {
			return "", err
		}
		right, err := r.column(v.Right)
		if err != nil {
			return "", err
		}
		return r.execute("two-column", twoColumnView{Form: v.Form, Left: left, Right: right})
	case wingsite.SliderBlock:
		carousel := NewCarousel(v.Files, r.base)
		if carousel.Len() == 0 {
			return "", nil
		}
		return r.execute("slider", carousel)
	case wingsite.QuoteFormBlock:
		return r.form(v.Title)
	case wingsite.SEOBlock, wingsite.HeadBannerBlock:
		return "", nil
	case wingsite.UnknownBlock:
		r.logger.Debug("skipping unknown block", zap.String("component", v.Component()), zap.Int("id", v.BlockID()))
		return "", nil
	default:
		return "", nil
	}
}

func (r *Renderer) column(c wingsite.Column) (template.HTML, error) {
	switch {
	case c.HasForm:
		return r.form(c.FormTitle)
	case len(c.Nodes) > 0:
		return Nodes(c.Nodes), nil
	case c.Markdown != "":
		return r.Markdown(c.Markdown), nil
	}
	return "", nil
}

func (r *Renderer) form(title string) (template.HTML, error) {
	return r.execute("quote-form", formView{
		Title:          title,
		InsuranceTypes: wingsite.InsuranceTypes,
		TimeSlots:      wingsite.TimeSlots,
	})
}

// Markdown converts a markdown document to HTML. Raw HTML in the source is
// not passed through.
func (r *Renderer) Markdown(src string) template.HTML {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(src), &buf); err != nil {
		r.logger.Warn("markdown conversion failed", zap.Error(err))
		return template.HTML("<p>" + template.HTMLEscapeString(src) + "</p>")
	}
	return template.HTML(buf.String())
}

func (r *Renderer) execute(name string, data any) (template.HTML, error) {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return template.HTML(buf.String()), nil
}

// imageResolver rewrites relative image destinations in markdown to absolute
// CMS URLs.
type imageResolver struct {
	base string
}

func (t imageResolver) Transform(doc *ast.Document, _ text.Reader, _ parser.Context) {
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if img, ok := n.(*ast.Image); ok {
			img.Destination = []byte(ResolveURL(t.base, string(img.Destination)))
		}
		return ast.WalkContinue, nil
	})
}
