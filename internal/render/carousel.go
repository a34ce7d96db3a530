package render

import "github.com/wingheights/wingsite"

// Slide is one resolved carousel image.
type Slide struct {
	ID     int
	URL    string
	Alt    string
	Width  int
	Height int
}

// Carousel is an image slider positioned at Index. Moving past either end
// wraps around.
type Carousel struct {
	Slides []Slide
	Index  int
}

// NewCarousel builds a carousel at index 0 from slider files, resolving each
// URL against base. Files without a URL are dropped.
func NewCarousel(files []wingsite.MediaFile, base string) Carousel {
	c := Carousel{Slides: make([]Slide, 0, len(files))}
	for _, f := range files {
		u := ResolveURL(base, f.URL)
		if u == "" {
			continue
		}
		c.Slides = append(c.Slides, Slide{
			ID:     f.ID,
			URL:    u,
			Alt:    f.AlternativeText,
			Width:  f.Width,
			Height: f.Height,
		})
	}
	return c
}

// Len returns the number of slides.
func (c Carousel) Len() int {
	return len(c.Slides)
}

// Next returns the carousel advanced by one slide.
func (c Carousel) Next() Carousel {
	if n := len(c.Slides); n > 0 {
		c.Index = (c.Index + 1) % n
	}
	return c
}

// Prev returns the carousel moved back by one slide.
func (c Carousel) Prev() Carousel {
	if n := len(c.Slides); n > 0 {
		c.Index = (c.Index - 1 + n) % n
	}
	return c
}

// Current returns the visible slide. It panics on an empty carousel.
func (c Carousel) Current() Slide {
	return c.Slides[c.Index]
}

// IsCurrent reports whether i is the visible slide.
func (c Carousel) IsCurrent(i int) bool {
	return i == c.Index
}
