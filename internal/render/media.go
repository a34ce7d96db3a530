package render

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wingheights/wingsite"
)

// lookupConcurrency bounds parallel media lookups for one page.
const lookupConcurrency = 4

// MediaLookup fetches an uploaded file by id.
type MediaLookup interface {
	Media(ctx context.Context, id int) (wingsite.MediaFile, error)
}

// ResolveURL makes a CMS media URL absolute. URLs that already start with
// "http" are returned unchanged; others are prefixed with base.
func ResolveURL(base, u string) string {
	u = strings.TrimSpace(u)
	if u == "" || strings.HasPrefix(u, "http") || strings.HasPrefix(u, "//") {
		return u
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(u, "/")
}

// ResolveMedia fills in media that the CMS returned as a bare id by asking
// lookup for each one. It returns a new block slice; the input is not
// modified. Lookup failures are logged and leave the media empty so it renders
// as a placeholder.
func ResolveMedia(ctx context.Context, blocks []wingsite.Block, lookup MediaLookup, logger *zap.Logger) []wingsite.Block {
	if logger == nil {
		logger = zap.NewNop()
	}
	out := make([]wingsite.Block, len(blocks))
	copy(out, blocks)
	if lookup == nil {
		return out
	}

	var (
		mu       sync.Mutex
		resolved = make(map[int]wingsite.MediaFile)
		wanted   = make(map[int]struct{})
	)
	for _, b := range out {
		switch v := b.(type) {
		case wingsite.MediaBlock:
			if v.Media.NeedsLookup() {
				wanted[v.Media.ID] = struct{}{}
			}
		case wingsite.SliderBlock:
			for _, f := range v.Files {
				if f.NeedsLookup() {
					wanted[f.ID] = struct{}{}
				}
			}
		}
	}
	if len(wanted) == 0 {
		return out
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupConcurrency)
	for id := range wanted {
		g.Go(func() error {
			file, err := lookup.Media(gctx, id)
			if err != nil {
				logger.Warn("media lookup failed", zap.Int("id", id), zap.Error(err))
				return nil
			}
			mu.Lock()
			resolved[id] = file
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	fill := func(f wingsite.MediaFile) wingsite.MediaFile {
		if !f.NeedsLookup() {
			return f
		}
		if r, ok := resolved[f.ID]; ok {
			if f.AlternativeText != "" && r.AlternativeText == "" {
				r.AlternativeText = f.AlternativeText
			}
			return r
		}
		return f
	}

	for i, b := range out {
		switch v := b.(type) {
		case wingsite.MediaBlock:
			v.Media = fill(v.Media)
			out[i] = v
		case wingsite.SliderBlock:
			files := make(wingsite.MediaList, len(v.Files))
			for j, f := range v.Files {
				files[j] = fill(f)
			}
			v.Files = files
			out[i] = v
		}
	}
	return out
}
