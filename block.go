package wingsite

import (
	"bytes"
	"encoding/json"
)

// Component tags used by the CMS dynamic zone.
const (
	CompQuote              = "shared.quote"
	CompMedia              = "shared.media"
	CompRichText           = "shared.rich-text"
	CompTwoColumn          = "shared.two-column-layout"
	CompTwoColumnForm      = "forms.two-column-form-layout"
	CompSlider             = "page-components.slider"
	CompSharedSlider       = "shared.slider"
	CompSEO                = "seo.seo"
	CompSharedSEO          = "shared.seo"
	CompHeadBanner         = "page-components.head-banner"
	CompInsuranceQuoteForm = "forms.insurance-quote-form"
)

// Block is one entry of a page's content list. The set of implementations is
// closed: callers switch over the concrete types and treat UnknownBlock as
// "render nothing".
type Block interface {
	Component() string
	BlockID() int
	isBlock()
}

type blockBase struct {
	ID  int    `json:"id"`
	Tag string `json:"__component"`
}

func (b blockBase) Component() string { return b.Tag }
func (b blockBase) BlockID() int      { return b.ID }
func (blockBase) isBlock()            {}

// QuoteBlock is a quotation with an optional author.
type QuoteBlock struct {
	blockBase
	Text   string `json:"text"`
	Author string `json:"author,omitempty"`
}

// MediaBlock is a single image or file with a caption.
type MediaBlock struct {
	blockBase
	Media   MediaFile `json:"media"`
	Caption string    `json:"caption,omitempty"`
}

// RichTextBlock holds a markdown document.
type RichTextBlock struct {
	blockBase
	Content string `json:"content"`
}

// TwoColumnBlock covers both the plain and the form two-column layouts.
type TwoColumnBlock struct {
	blockBase
	Left  Column `json:"leftColumn"`
	Right Column `json:"rightColumn"`
	Form  bool   `json:"-"`
}

// SliderBlock is an image carousel.
type SliderBlock struct {
	blockBase
	Files MediaList `json:"files"`
}

// SEOBlock carries the document head metadata.
type SEOBlock struct {
	blockBase
	MetaTitle       string `json:"metaTitle"`
	MetaDescription string `json:"metaDescription"`
}

// HeadBannerBlock is rendered once at the top of the page.
type HeadBannerBlock struct {
	blockBase
	Title            string `json:"title"`
	SmallDescription string `json:"smallDescription"`
}

// QuoteFormBlock embeds the appointment booking form.
type QuoteFormBlock struct {
	blockBase
	Title string `json:"title"`
}

// UnknownBlock is any block whose tag is not recognised or whose attributes
// could not be decoded.
type UnknownBlock struct {
	blockBase
}

// NewUnknownBlock returns an UnknownBlock for tag.
func NewUnknownBlock(id int, tag string) UnknownBlock {
	return UnknownBlock{blockBase{ID: id, Tag: tag}}
}

// DecodeBlock decodes one dynamic-zone entry. It never fails: malformed or
// unrecognised input becomes an UnknownBlock.
func DecodeBlock(raw json.RawMessage) Block {
	var head blockBase
	if err := json.Unmarshal(raw, &head); err != nil {
		return UnknownBlock{}
	}

	var (
		b   Block
		err error
	)
	switch head.Tag {
	case CompQuote:
		var v QuoteBlock
		err = json.Unmarshal(raw, &v)
		b = v
	case CompMedia:
		var v MediaBlock
		err = json.Unmarshal(raw, &v)
		b = v
	case CompRichText:
		var v RichTextBlock
		err = json.Unmarshal(raw, &v)
		b = v
	case CompTwoColumn, CompTwoColumnForm:
		var v TwoColumnBlock
		err = json.Unmarshal(raw, &v)
		v.Form = head.Tag == CompTwoColumnForm
		b = v
	case CompSlider, CompSharedSlider:
		var v SliderBlock
		err = json.Unmarshal(raw, &v)
		b = v
	case CompSEO, CompSharedSEO:
		var v SEOBlock
		err = json.Unmarshal(raw, &v)
		b = v
	case CompHeadBanner:
		var v HeadBannerBlock
		err = json.Unmarshal(raw, &v)
		b = v
	case CompInsuranceQuoteForm:
		var v QuoteFormBlock
		err = json.Unmarshal(raw, &v)
		b = v
	default:
		return UnknownBlock{head}
	}
	if err != nil {
		return UnknownBlock{head}
	}
	return b
}

// DecodeBlocks decodes a dynamic-zone array, preserving order.
func DecodeBlocks(raw []json.RawMessage) []Block {
	blocks := make([]Block, 0, len(raw))
	for _, r := range raw {
		blocks = append(blocks, DecodeBlock(r))
	}
	return blocks
}

// Column is one side of a two-column layout. Exactly one of Markdown, Nodes or
// FormTitle is set, or none for an empty column.
type Column struct {
	Markdown  string
	Nodes     []RichNode
	FormTitle string
	HasForm   bool
}

// IsEmpty reports whether the column has no content.
func (c Column) IsEmpty() bool {
	return c.Markdown == "" && len(c.Nodes) == 0 && !c.HasForm
}

// UnmarshalJSON accepts a markdown string, a structured node list, or an
// embedded form reference object.
func (c *Column) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*c = Column{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	switch data[0] {
	case '"':
		return json.Unmarshal(data, &c.Markdown)
	case '[':
		return json.Unmarshal(data, &c.Nodes)
	case '{':
		var form struct {
			Title string `json:"title"`
		}
		if err := json.Unmarshal(data, &form); err != nil {
			return err
		}
		c.FormTitle = form.Title
		c.HasForm = true
		return nil
	}
	return nil
}

// RichNode is a structured rich-text node: paragraph, heading, list,
// list-item, or a text leaf.
type RichNode struct {
	Type     string     `json:"type"`
	Level    int        `json:"level,omitempty"`
	Format   string     `json:"format,omitempty"`
	Children []RichNode `json:"children,omitempty"`
	Span
}

// Spans returns the text leaves directly below n.
func (n RichNode) Spans() []Span {
	spans := make([]Span, 0, len(n.Children))
	for _, child := range n.Children {
		if child.Type == "text" || child.Type == "" {
			spans = append(spans, child.Span)
		}
	}
	return spans
}

// Span is a leaf of formatted text. Flags are independent and compose.
type Span struct {
	Text          string `json:"text"`
	Bold          bool   `json:"bold,omitempty"`
	Italic        bool   `json:"italic,omitempty"`
	Strikethrough bool   `json:"strikethrough,omitempty"`
	Underline     bool   `json:"underline,omitempty"`
	List          bool   `json:"isList,omitempty"`
}
