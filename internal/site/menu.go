package site

import "strings"

// MenuEntry is a value copy of a node prepared for templates.
type MenuEntry struct {
	ID       int
	Title    string
	Href     string
	External bool
	Active   bool
	Children []MenuEntry
}

// HasChildren reports whether the entry opens a dropdown.
func (e MenuEntry) HasChildren() bool {
	return len(e.Children) > 0
}

// Menu returns the tree as nested entries. Entries on the way to currentPath
// are marked active.
func (t *Tree) Menu(currentPath string) []MenuEntry {
	if t == nil {
		return nil
	}
	current := normalizeURL(currentPath)
	entries := make([]MenuEntry, 0, len(t.Roots))
	for _, root := range t.Roots {
		entries = append(entries, t.entry(root, current))
	}
	return entries
}

func (t *Tree) entry(idx int, current string) MenuEntry {
	n := &t.Nodes[idx]
	e := MenuEntry{
		ID:       n.Item.ID,
		Title:    n.Item.Title,
		Href:     n.Href(),
		External: n.Item.IsExternal(),
	}
	for _, child := range n.Children {
		c := t.entry(child, current)
		if c.Active {
			e.Active = true
		}
		e.Children = append(e.Children, c)
	}
	if !e.External {
		href := normalizeURL(e.Href)
		if href == current || (href != "/" && strings.HasPrefix(current, href+"/")) {
			e.Active = true
		}
	}
	return e
}
