// Package site builds the site menu from the flat navigation list returned by
// the CMS.
package site

import (
	"strings"

	"github.com/wingheights/wingsite"
)

// Node is one navigation entry inside a Tree. Links to other nodes are
// indexes into Tree.Nodes.
type Node struct {
	Item     wingsite.NavigationItem // Shallow copy; Items is always nil
	FullPath string                  // Ancestor segments joined with "/"
	Parent   int                     // Index of the parent node, -1 for roots
	Children []int                   // Indexes of child nodes in input order
}

// Href returns the link target of the node. External items link to their path
// verbatim; internal items linking to a related page use its slug.
func (n *Node) Href() string {
	if n.Item.IsExternal() {
		return n.Item.Path
	}
	if n.Item.Related != nil && n.Item.Related.Slug != "" {
		return "/" + strings.Trim(n.Item.Related.Slug, "/")
	}
	if strings.HasPrefix(n.FullPath, "/") {
		return n.FullPath
	}
	return "/" + n.FullPath
}

// Tree is the normalised navigation: an arena of nodes and the ordered roots.
type Tree struct {
	Nodes []Node
	Roots []int
}

// Option configures Normalize.
type Option func(*options)

type options struct {
	home bool
}

// WithHome prepends the synthetic Home root.
func WithHome() Option {
	return func(o *options) { o.home = true }
}

// Normalize converts a flat navigation list into a forest. Items whose parent
// is missing from the list, or whose ancestor chain loops back on itself,
// become roots. Root order and sibling order follow the input order.
func Normalize(items []wingsite.NavigationItem, opts ...Option) *Tree {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	flat := flatten(items)
	t := &Tree{
		Nodes: make([]Node, 0, len(flat)+1),
		Roots: make([]int, 0),
	}

	if o.home {
		home := wingsite.HomeItem()
		t.Nodes = append(t.Nodes, Node{Item: home, FullPath: home.Path, Parent: -1})
		t.Roots = append(t.Roots, 0)
	}

	offset := len(t.Nodes)
	byID := make(map[int]int, len(flat))
	for i, item := range flat {
		item.Items = nil
		t.Nodes = append(t.Nodes, Node{Item: item, Parent: -1})
		byID[item.ID] = offset + i
	}

	for i := offset; i < len(t.Nodes); i++ {
		n := &t.Nodes[i]
		if n.Item.Parent == nil {
			continue
		}
		if p, ok := byID[n.Item.Parent.ID]; ok && p != i {
			n.Parent = p
		}
	}

	// Break loops: walk each chain and cut the link that closes a cycle.
	state := make([]uint8, len(t.Nodes)) // 0 unvisited, 1 on stack, 2 done
	for i := offset; i < len(t.Nodes); i++ {
		t.breakCycles(i, state)
	}

	for i := offset; i < len(t.Nodes); i++ {
		n := &t.Nodes[i]
		if n.Parent < 0 {
			t.Roots = append(t.Roots, i)
			continue
		}
		parent := &t.Nodes[n.Parent]
		parent.Children = append(parent.Children, i)
	}

	paths := make([]bool, len(t.Nodes))
	for i := offset; i < len(t.Nodes); i++ {
		t.fullPath(i, paths)
	}

	return t
}

// breakCycles follows the parent chain from i and detaches the node at which
// the chain revisits itself.
func (t *Tree) breakCycles(i int, state []uint8) {
	var chain []int
	for cur := i; cur >= 0 && state[cur] == 0; cur = t.Nodes[cur].Parent {
		state[cur] = 1
		chain = append(chain, cur)
		next := t.Nodes[cur].Parent
		if next >= 0 && state[next] == 1 {
			t.Nodes[cur].Parent = -1
			break
		}
	}
	for _, c := range chain {
		state[c] = 2
	}
}

func (t *Tree) fullPath(i int, done []bool) string {
	n := &t.Nodes[i]
	if done[i] {
		return n.FullPath
	}
	if n.Parent < 0 {
		n.FullPath = n.Item.Path
	} else {
		n.FullPath = joinPath(t.fullPath(n.Parent, done), n.Item.Path)
	}
	done[i] = true
	return n.FullPath
}

// joinPath concatenates parent + "/" + segment, collapsing the slashes at the
// joint.
func joinPath(parent, segment string) string {
	return strings.TrimRight(parent, "/") + "/" + strings.TrimLeft(segment, "/")
}

// flatten turns already-nested input into a flat list, using the nesting as
// the parent reference when the item has none of its own.
func flatten(items []wingsite.NavigationItem) []wingsite.NavigationItem {
	out := make([]wingsite.NavigationItem, 0, len(items))
	var walk func(list []wingsite.NavigationItem, parent *wingsite.ParentRef)
	walk = func(list []wingsite.NavigationItem, parent *wingsite.ParentRef) {
		for _, item := range list {
			if item.Parent == nil && parent != nil {
				item.Parent = parent
			}
			out = append(out, item)
			if len(item.Items) > 0 {
				walk(item.Items, &wingsite.ParentRef{ID: item.ID})
			}
		}
	}
	walk(items, nil)
	return out
}

// Find returns the index of the node whose href or full path equals urlPath.
func (t *Tree) Find(urlPath string) (int, bool) {
	want := normalizeURL(urlPath)
	for i := range t.Nodes {
		n := &t.Nodes[i]
		if normalizeURL(n.Href()) == want || normalizeURL(n.FullPath) == want {
			return i, true
		}
	}
	return -1, false
}

// Breadcrumbs returns the chain of nodes from a root down to the node matching
// urlPath, starting with the home node when the tree has one.
func (t *Tree) Breadcrumbs(urlPath string) []*Node {
	idx, ok := t.Find(urlPath)
	if !ok {
		return nil
	}

	var chain []*Node
	for cur := idx; cur >= 0; cur = t.Nodes[cur].Parent {
		chain = append(chain, &t.Nodes[cur])
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	if len(t.Roots) > 0 {
		home := &t.Nodes[t.Roots[0]]
		if home.Item.Path == "/" && chain[0] != home {
			chain = append([]*Node{home}, chain...)
		}
	}
	return chain
}

// StaticPaths lists the segment chain of every node reachable from a root, in
// depth-first order. The synthetic home root is skipped.
func (t *Tree) StaticPaths() [][]string {
	var paths [][]string
	var walk func(idx int, prefix []string)
	walk = func(idx int, prefix []string) {
		n := &t.Nodes[idx]
		segment := strings.Trim(n.Item.Path, "/")
		if segment == "" {
			return
		}
		current := make([]string, len(prefix), len(prefix)+1)
		copy(current, prefix)
		current = append(current, segment)
		paths = append(paths, current)
		for _, child := range n.Children {
			walk(child, current)
		}
	}
	for _, root := range t.Roots {
		walk(root, nil)
	}
	return paths
}

func normalizeURL(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return "/"
	}
	return "/" + p
}
