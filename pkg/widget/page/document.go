// Package page models the host document a widget is embedded into: marker
// discovery, readiness, and the mount points widgets render into.
package page

import (
	"bytes"
	"io"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ReadyState mirrors the loading states of a browser document.
type ReadyState string

const (
	StateLoading     ReadyState = "loading"
	StateInteractive ReadyState = "interactive"
	StateComplete    ReadyState = "complete"
)

const (
	AttrClientID = "data-client-id"
	AttrPosition = "data-position"
)

// Document is a parsed host page. All tree access goes through its mutex,
// so several widget instances can mount and render concurrently.
type Document struct {
	mu      sync.Mutex
	root    *html.Node
	body    *html.Node
	state   ReadyState
	readyCh chan struct{}
}

// Parse reads a complete host page.
func Parse(r io.Reader) (*Document, error) {
	return parse(r, StateComplete)
}

// ParseLoading reads a host page that is still loading; discovery waits for
// SetReadyState to move it to interactive or complete.
func ParseLoading(r io.Reader) (*Document, error) {
	return parse(r, StateLoading)
}

// Blank returns an empty complete document, used when a widget runs
// without a host page.
func Blank() *Document {
	d, err := Parse(strings.NewReader("<!DOCTYPE html><html><head></head><body></body></html>"))
	if err != nil {
		panic(err)
	}
	return d
}

func parse(r io.Reader, state ReadyState) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, errors.Wrap(err, "parse host document")
	}
	body := findFirst(root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.DataAtom == atom.Body
	})
	if body == nil {
		return nil, errors.New("host document has no body")
	}
	d := &Document{root: root, body: body, state: StateLoading, readyCh: make(chan struct{})}
	d.SetReadyState(state)
	return d, nil
}

// ReadyState returns the current loading state.
func (d *Document) ReadyState() ReadyState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// SetReadyState advances the loading state. Moving back to loading is
// ignored once the document was ready.
func (d *Document) SetReadyState(s ReadyState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateLoading && s == StateLoading {
		return
	}
	d.state = s
	if s != StateLoading {
		select {
		case <-d.readyCh:
		default:
			close(d.readyCh)
		}
	}
}

// Ready is closed once the document is interactive or complete.
func (d *Document) Ready() <-chan struct{} {
	return d.readyCh
}

// Marker is an element carrying a tenant identifier.
type Marker struct {
	ClientID string
	// Position is the raw data-position value, empty when absent.
	Position string
}

// Markers returns, in document order, every element with a non-empty
// data-client-id attribute.
func (d *Document) Markers() []Marker {
	d.mu.Lock()
	defer d.mu.Unlock()

	var ret []Marker
	walk(d.root, func(n *html.Node) {
		if n.Type != html.ElementNode {
			return
		}
		id := strings.TrimSpace(attr(n, AttrClientID))
		if id == "" {
			return
		}
		ret = append(ret, Marker{ClientID: id, Position: attr(n, AttrPosition)})
	})
	return ret
}

// Render writes the current document tree.
func (d *Document) Render(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return errors.Wrap(html.Render(w, d.root), "render host document")
}

// String renders the document, for tests and logging.
func (d *Document) String() string {
	var buf bytes.Buffer
	_ = d.Render(&buf)
	return buf.String()
}

// FindByID returns the outer HTML of the element with the given id.
func (d *Document) FindByID(id string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := findFirst(d.root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && attr(n, "id") == id
	})
	if n == nil {
		return "", false
	}
	var buf bytes.Buffer
	_ = html.Render(&buf, n)
	return buf.String(), true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func findFirst(n *html.Node, pred func(*html.Node) bool) *html.Node {
	if pred(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, pred); found != nil {
			return found
		}
	}
	return nil
}
