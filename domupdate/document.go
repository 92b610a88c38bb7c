// Package domupdate implements the engine's virtual document (component
// G): an in-memory *html.Node tree standing in for the browser DOM,
// goquery-based selector resolution, the seven swap strategies the
// target attribute can name, and a sanitize-then-insert pipeline so a
// fragment response can never inject a disallowed tag or attribute.
// There is no MutationObserver headless; Apply passes every node it
// inserts to the document's rescan hook so newly-added elements get
// picked up by the registration dispatcher, mirroring the way the
// teacher's component expander walks and rewrites a *html.Node tree
// in place.
package domupdate

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/monstercameron/htmlex-go/target"
)

// Document wraps a parsed HTML tree and serializes access to it, since
// fetch responses for independent bindings can resolve concurrently and
// all eventually mutate the same tree.
type Document struct {
	mu        sync.Mutex
	root      *html.Node
	sanitizer *bluemonday.Policy
	onRescan  func(n *html.Node)
}

// ParseDocument parses r as a full HTML document.
func ParseDocument(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("domupdate: parse document: %w", err)
	}
	return NewDocument(root), nil
}

// NewDocument wraps an already-parsed tree.
func NewDocument(root *html.Node) *Document {
	return &Document{
		root:      root,
		sanitizer: defaultPolicy(),
	}
}

// defaultPolicy is bluemonday's UGC policy (common formatting and
// structural elements) plus id/class/style and the data-* and aria-*
// attribute families, and strips anything else (script tags, inline
// event handlers, javascript: URLs). The engine's own attributes
// (target, trigger, the method attributes, timer and the rest) are not
// on its allow-list, so they are stripped from inserted content.
func defaultPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("id", "class", "style").Globally()
	p.AllowDataAttributes()
	p.AllowAttrs("aria-*").Matching(bluemonday.SpaceSeparatedTokens).Globally()
	return p
}

// SetRescanHook installs fn to be called with every top-level node
// inserted by Apply, so the dispatcher can scan it for new bindings.
func (d *Document) SetRescanHook(fn func(n *html.Node)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onRescan = fn
}

// Root returns the document's root node. Callers must not mutate it
// outside of Apply/Query while other goroutines may be reading it.
func (d *Document) Root() *html.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.root
}

// Query runs a CSS selector against the current tree.
func (d *Document) Query(selector string) (*goquery.Selection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	gq, err := goquery.NewDocumentFromNode(d.root)
	if err != nil {
		return nil, fmt.Errorf("domupdate: build selector document: %w", err)
	}
	return gq.Find(selector), nil
}

// Resolve returns the target node(s) an instruction names: either the
// trigger element itself (selector "this") or every match of the
// instruction's CSS selector.
func (d *Document) Resolve(instr target.Instruction, triggerEl *html.Node) ([]*html.Node, error) {
	if instr.Selector == target.ThisSelector {
		if triggerEl == nil {
			return nil, fmt.Errorf("domupdate: target \"this\" with no trigger element")
		}
		return []*html.Node{triggerEl}, nil
	}
	sel, err := d.Query(instr.Selector)
	if err != nil {
		return nil, err
	}
	nodes := make([]*html.Node, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		if len(s.Nodes) > 0 {
			nodes = append(nodes, s.Nodes[0])
		}
	})
	return nodes, nil
}

// Apply resolves every instruction's target(s) and applies fragmentHTML
// to each using the instruction's strategy. fragmentHTML is sanitized
// before insertion. Every newly-inserted top-level node is passed to
// the rescan hook, if one is installed.
func (d *Document) Apply(instrs []target.Instruction, triggerEl *html.Node, fragmentHTML string) error {
	clean := d.sanitizer.Sanitize(fragmentHTML)

	for _, instr := range instrs {
		targets, err := d.Resolve(instr, triggerEl)
		if err != nil {
			return err
		}
		for _, t := range targets {
			if err := d.applyOne(instr.Strategy, t, clean); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Document) applyOne(strategy target.Strategy, t *html.Node, cleanHTML string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if strategy == target.StrategyRemove {
		removeNode(t)
		return nil
	}

	nodes, err := parseFragmentNodes(t, cleanHTML)
	if err != nil {
		return err
	}

	switch strategy {
	case target.StrategyInnerHTML:
		return d.applyInnerHTMLDiff(t, nodes, cleanHTML)
	case target.StrategyOuterHTML:
		parent := t.Parent
		if parent == nil {
			return fmt.Errorf("domupdate: outerHTML target has no parent")
		}
		for _, n := range nodes {
			parent.InsertBefore(n, t)
		}
		parent.RemoveChild(t)
	case target.StrategyAppend:
		for _, n := range nodes {
			t.AppendChild(n)
		}
	case target.StrategyPrepend:
		first := t.FirstChild
		for _, n := range nodes {
			if first != nil {
				t.InsertBefore(n, first)
			} else {
				t.AppendChild(n)
			}
		}
	case target.StrategyBefore:
		parent := t.Parent
		if parent == nil {
			return fmt.Errorf("domupdate: before target has no parent")
		}
		for _, n := range nodes {
			parent.InsertBefore(n, t)
		}
	case target.StrategyAfter:
		parent := t.Parent
		if parent == nil {
			return fmt.Errorf("domupdate: after target has no parent")
		}
		ref := t.NextSibling
		for _, n := range nodes {
			if ref != nil {
				parent.InsertBefore(n, ref)
			} else {
				parent.AppendChild(n)
			}
		}
	default:
		return fmt.Errorf("domupdate: unknown strategy %q", strategy)
	}

	for _, n := range nodes {
		if d.onRescan != nil {
			d.onRescan(n)
		}
	}
	return nil
}

// applyInnerHTMLDiff implements the subtree diff §4.G requires for
// innerHTML: existing children are reconciled against the newly parsed
// nodes by (node-type, tag-name) position, updating text/attribute
// deltas in place and recursing into matched elements rather than
// discarding and recreating the whole subtree. Identical content is a
// no-op; if reconciliation doesn't converge to the requested content
// exactly (e.g. a strategy the walk doesn't model), it falls back to a
// direct replace.
func (d *Document) applyInnerHTMLDiff(t *html.Node, nodes []*html.Node, cleanHTML string) error {
	replacement, err := renderNodes(nodes)
	if err != nil {
		return err
	}
	existing, err := renderChildren(t)
	if err != nil {
		return err
	}
	if strings.TrimSpace(existing) == strings.TrimSpace(replacement) {
		return nil
	}

	changed, inserted := reconcileChildren(t, nodes)

	after, err := renderChildren(t)
	if err != nil {
		return err
	}
	if strings.TrimSpace(after) != strings.TrimSpace(replacement) {
		for c := t.FirstChild; c != nil; {
			next := c.NextSibling
			t.RemoveChild(c)
			c = next
		}
		fresh, err := parseFragmentNodes(t, cleanHTML)
		if err != nil {
			return err
		}
		for _, n := range fresh {
			t.AppendChild(n)
		}
		inserted = fresh
		changed = true
	}

	if !changed {
		return nil
	}
	for _, n := range inserted {
		if d.onRescan != nil {
			d.onRescan(n)
		}
	}
	return nil
}

// reconcileChildren walks parent's current children and newNodes in
// lockstep, reusing and updating a child whose (node-type, tag-name)
// matches the node at the same position and replacing it otherwise.
// Leftover old children are removed; leftover new nodes are appended.
// inserted holds every node that was newly attached (replacements and
// appends), the set the rescan hook needs to see.
func reconcileChildren(parent *html.Node, newNodes []*html.Node) (changed bool, inserted []*html.Node) {
	old := childSlice(parent)
	i := 0
	for ; i < len(old) && i < len(newNodes); i++ {
		oc, nc := old[i], newNodes[i]
		if sameNode(oc, nc) {
			if reconcileNode(oc, nc) {
				changed = true
			}
			continue
		}
		adopt(nc)
		parent.InsertBefore(nc, oc)
		parent.RemoveChild(oc)
		inserted = append(inserted, nc)
		changed = true
	}
	for ; i < len(old); i++ {
		parent.RemoveChild(old[i])
		changed = true
	}
	for ; i < len(newNodes); i++ {
		nc := newNodes[i]
		adopt(nc)
		parent.AppendChild(nc)
		inserted = append(inserted, nc)
		changed = true
	}
	return changed, inserted
}

// reconcileNode updates a in place so it matches b's text or attribute
// values and recurses into children. a and b are assumed to already
// satisfy sameNode. b itself is discarded by the caller once this
// returns; only its attributes and descendants are harvested.
func reconcileNode(a, b *html.Node) bool {
	if a.Type == html.TextNode || a.Type == html.CommentNode {
		if a.Data != b.Data {
			a.Data = b.Data
			return true
		}
		return false
	}
	changed := false
	if !attrsEqual(a.Attr, b.Attr) {
		a.Attr = b.Attr
		changed = true
	}
	childChanged, _ := reconcileChildren(a, childSlice(b))
	return changed || childChanged
}

// sameNode reports whether two nodes are candidates for in-place
// reconciliation: same node type, and for elements, the same tag.
func sameNode(a, b *html.Node) bool {
	if a.Type != b.Type {
		return false
	}
	if a.Type != html.ElementNode {
		return true
	}
	return a.DataAtom == b.DataAtom && a.Data == b.Data
}

// adopt detaches n from its current parent, if any, so it can be
// attached elsewhere without violating html.Node's single-parent
// invariant.
func adopt(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

func childSlice(parent *html.Node) []*html.Node {
	var out []*html.Node
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, c)
	}
	return out
}

func attrsEqual(a, b []html.Attribute) bool {
	if len(a) != len(b) {
		return false
	}
	am, bm := attrMap(a), attrMap(b)
	for k, v := range am {
		if bm[k] != v {
			return false
		}
	}
	return true
}

func attrMap(attrs []html.Attribute) map[string]string {
	m := make(map[string]string, len(attrs))
	for _, a := range attrs {
		m[a.Key] = a.Val
	}
	return m
}

// renderChildren serializes parent's current children, concatenated,
// for comparison against a candidate replacement.
func renderChildren(parent *html.Node) (string, error) {
	var buf bytes.Buffer
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", fmt.Errorf("domupdate: render children: %w", err)
		}
	}
	return buf.String(), nil
}

// renderNodes serializes a top-level node list the same way
// renderChildren does, so the two are directly comparable regardless
// of how the source HTML was quoted or whitespace-formatted.
func renderNodes(nodes []*html.Node) (string, error) {
	var buf bytes.Buffer
	for _, n := range nodes {
		if err := html.Render(&buf, n); err != nil {
			return "", fmt.Errorf("domupdate: render nodes: %w", err)
		}
	}
	return buf.String(), nil
}

// removeNode detaches t from its parent. A no-op if already detached.
func removeNode(t *html.Node) {
	if t.Parent != nil {
		t.Parent.RemoveChild(t)
	}
}

// parseFragmentNodes parses cleanHTML as a fragment in the context of
// parent, the way a browser's innerHTML setter would: context
// determines implied table/select/etc. structure.
func parseFragmentNodes(parent *html.Node, cleanHTML string) ([]*html.Node, error) {
	contextNode := &html.Node{
		Type:     html.ElementNode,
		Data:     parent.Data,
		DataAtom: parent.DataAtom,
	}
	if contextNode.Data == "" {
		contextNode.Data = "div"
		contextNode.DataAtom = atom.Div
	}
	nodes, err := html.ParseFragment(strings.NewReader(cleanHTML), contextNode)
	if err != nil {
		return nil, fmt.Errorf("domupdate: parse fragment: %w", err)
	}
	return nodes, nil
}

// Render serializes the whole document to HTML.
func (d *Document) Render() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var buf bytes.Buffer
	if err := html.Render(&buf, d.root); err != nil {
		return "", fmt.Errorf("domupdate: render document: %w", err)
	}
	return buf.String(), nil
}

// RenderNode serializes a single node (and its subtree) to HTML.
func RenderNode(n *html.Node) (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return "", fmt.Errorf("domupdate: render node: %w", err)
	}
	return buf.String(), nil
}

// Attr returns the value of the named attribute on n and whether it
// was present.
func Attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}
