package page

import (
	"bytes"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const MountClass = "chatbot-widget-container"

// Mount is an isolated container appended to the document body. A widget
// instance owns exactly one.
type Mount struct {
	doc     *Document
	node    *html.Node
	id      string
	removed bool
}

// CreateMount appends an empty container with the given id and inline
// style to the body.
func (d *Document) CreateMount(id, style string) *Mount {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
		Attr: []html.Attribute{
			{Key: "id", Val: id},
			{Key: "class", Val: MountClass},
			{Key: "style", Val: style},
		},
	}
	d.body.AppendChild(n)
	return &Mount{doc: d, node: n, id: id}
}

// ID returns the container element id.
func (m *Mount) ID() string {
	return m.id
}

// SetStyle replaces the container's inline style.
func (m *Mount) SetStyle(style string) {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	setAttr(m.node, "style", style)
}

// Style returns the container's inline style.
func (m *Mount) Style() string {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	return attr(m.node, "style")
}

// SetContent replaces the container's children with the parsed fragment.
func (m *Mount) SetContent(fragment string) error {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
	})
	if err != nil {
		return errors.Wrap(err, "parse widget fragment")
	}

	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	if m.removed {
		return errors.Errorf("mount %s was removed", m.id)
	}
	clearChildren(m.node)
	for _, n := range nodes {
		m.node.AppendChild(n)
	}
	return nil
}

// Clear removes every child of the container.
func (m *Mount) Clear() {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	clearChildren(m.node)
}

// Content renders the container's children.
func (m *Mount) Content() string {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	var buf bytes.Buffer
	for c := m.node.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&buf, c)
	}
	return buf.String()
}

// Empty reports whether nothing is rendered into the container.
func (m *Mount) Empty() bool {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	return m.node.FirstChild == nil
}

// Remove detaches the container from the document. Calling it again is a
// no-op.
func (m *Mount) Remove() {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	if m.removed {
		return
	}
	m.removed = true
	if m.node.Parent != nil {
		m.node.Parent.RemoveChild(m.node)
	}
}

// Attached reports whether the container is still part of the document.
func (m *Mount) Attached() bool {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	return !m.removed && m.node.Parent != nil
}

func clearChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
}
