// Package wingsite holds the domain model of the Wing Heights brochure site:
// CMS pages and their content blocks, navigation entries, and appointment
// requests.
package wingsite

import (
	"encoding/json"
)

// HomeSlug is the slug looked up for the site root.
const HomeSlug = "home"

// Page is a CMS page record with its ordered content blocks.
type Page struct {
	ID     int
	Title  string
	Slug   string
	Blocks []Block
}

// pageRecord is the wire shape of a page entry. v4 responses nest the fields
// under "attributes".
type pageRecord struct {
	ID         int               `json:"id"`
	Title      string            `json:"title"`
	Slug       string            `json:"slug"`
	Content2   []json.RawMessage `json:"content2"`
	Content    []json.RawMessage `json:"content"`
	Attributes *pageRecord       `json:"attributes"`
}

// DecodePage decodes a single page record from the pages collection.
func DecodePage(raw json.RawMessage) (*Page, error) {
	var rec pageRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	if rec.Attributes != nil {
		id := rec.ID
		rec = *rec.Attributes
		if rec.ID == 0 {
			rec.ID = id
		}
	}

	content := rec.Content2
	if content == nil {
		content = rec.Content
	}
	return &Page{
		ID:     rec.ID,
		Title:  rec.Title,
		Slug:   rec.Slug,
		Blocks: DecodeBlocks(content),
	}, nil
}

// SEO returns the first SEO block of the page, if any.
func (p *Page) SEO() (SEOBlock, bool) {
	for _, b := range p.Blocks {
		if seo, ok := b.(SEOBlock); ok {
			return seo, true
		}
	}
	return SEOBlock{}, false
}

// HeadBanner returns the first head banner block of the page, if any.
func (p *Page) HeadBanner() (HeadBannerBlock, bool) {
	for _, b := range p.Blocks {
		if banner, ok := b.(HeadBannerBlock); ok {
			return banner, true
		}
	}
	return HeadBannerBlock{}, false
}

// IsHoisted reports whether b is rendered outside the sequential body.
func IsHoisted(b Block) bool {
	switch b.(type) {
	case SEOBlock, HeadBannerBlock:
		return true
	}
	return false
}
