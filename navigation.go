package wingsite

import (
	"encoding/json"
	"strings"
)

// Navigation item types reported by the CMS navigation plugin.
const (
	NavInternal = "INTERNAL"
	NavExternal = "EXTERNAL"
	NavWrapper  = "WRAPPER"
)

// NavigationItem is one entry of the CMS navigation endpoint.
// Path holds only the item's own segment as stored in the CMS; full paths are
// computed by the site package.
type NavigationItem struct {
	ID      int              `json:"id"`
	Title   string           `json:"title"`
	Path    string           `json:"path"`
	Type    string           `json:"type"`
	Parent  *ParentRef       `json:"parent,omitempty"`
	Items   []NavigationItem `json:"items,omitempty"`
	Related *Related         `json:"related,omitempty"`
}

// ParentRef points at another item of the same navigation.
type ParentRef struct {
	ID int `json:"id"`
}

// Related is the entity an internal navigation item links to.
type Related struct {
	Slug string
}

// UnmarshalJSON accepts both {"slug": ...} and the v4 {"data": {"slug": ...}}
// shape, as well as {"data": {"attributes": {"slug": ...}}}.
func (r *Related) UnmarshalJSON(data []byte) error {
	var raw struct {
		Slug string `json:"slug"`
		Data *struct {
			Slug       string `json:"slug"`
			Attributes *struct {
				Slug string `json:"slug"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Slug = raw.Slug
	if raw.Data != nil {
		if raw.Data.Slug != "" {
			r.Slug = raw.Data.Slug
		} else if raw.Data.Attributes != nil {
			r.Slug = raw.Data.Attributes.Slug
		}
	}
	return nil
}

// MarshalJSON writes the flat {"slug": ...} form.
func (r Related) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Slug string `json:"slug"`
	}{r.Slug})
}

// HasParent reports whether the item declares a parent.
func (n NavigationItem) HasParent() bool {
	return n.Parent != nil
}

// IsExternal reports whether the item links outside the site.
func (n NavigationItem) IsExternal() bool {
	return strings.EqualFold(n.Type, NavExternal)
}

// HomeItem is the synthetic root prepended to the main menu.
func HomeItem() NavigationItem {
	return NavigationItem{ID: 0, Title: "Home", Path: "/", Type: NavInternal}
}
