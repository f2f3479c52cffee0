// Package dom keeps the device page as a parsed HTML tree that several
// goroutines can read and mutate. It offers the small slice of browser DOM
// behaviour the console needs: lookup by id or attribute name, text and
// attribute writes, form field access and change listeners.
package dom

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"
)

// ChangeListener is called after an element's value changed.
type ChangeListener func(el *Element)

// SubmitHandler handles a form submission started by submitter, which may be
// nil when the form was submitted without a control.
type SubmitHandler func(ctx context.Context, form, submitter *Element) error

type Document struct {
	mu   sync.RWMutex
	root *html.Node

	lmu      sync.Mutex
	onChange map[*html.Node][]ChangeListener
	onSubmit map[*html.Node][]SubmitHandler
}

func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	return &Document{
		root:     root,
		onChange: map[*html.Node][]ChangeListener{},
		onSubmit: map[*html.Node][]SubmitHandler{},
	}, nil
}

func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// ByID returns the element whose id attribute equals id.
func (d *Document) ByID(id string) (*Element, bool) {
	if id == "" {
		return nil, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := findFirst(d.root, func(n *html.Node) bool {
		v, ok := attr(n, "id")
		return ok && v == id
	})
	if n == nil {
		return nil, false
	}
	return d.wrap(n), true
}

// ByAttr returns the first element in document order carrying attribute name.
func (d *Document) ByAttr(name string) (*Element, bool) {
	if name == "" {
		return nil, false
	}
	key := strings.ToLower(name)
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := findFirst(d.root, func(n *html.Node) bool {
		_, ok := attr(n, key)
		return ok
	})
	if n == nil {
		return nil, false
	}
	return d.wrap(n), true
}

// All returns every element with the given tag name in document order.
func (d *Document) All(tag string) []*Element {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.collect(d.root, tag)
}

// Render writes the current document as HTML.
func (d *Document) Render(w io.Writer) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return html.Render(w, d.root)
}

func (d *Document) String() string {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return ""
	}
	return buf.String()
}

// AddChangeListener registers fn for change events on el.
func (d *Document) AddChangeListener(el *Element, fn ChangeListener) {
	d.lmu.Lock()
	d.onChange[el.n] = append(d.onChange[el.n], fn)
	d.lmu.Unlock()
}

// DispatchChange runs the change listeners of el in registration order.
func (d *Document) DispatchChange(el *Element) {
	d.lmu.Lock()
	listeners := append([]ChangeListener(nil), d.onChange[el.n]...)
	d.lmu.Unlock()
	for _, fn := range listeners {
		fn(el)
	}
}

// AddSubmitHandler registers fn for submissions of form.
func (d *Document) AddSubmitHandler(form *Element, fn SubmitHandler) {
	d.lmu.Lock()
	d.onSubmit[form.n] = append(d.onSubmit[form.n], fn)
	d.lmu.Unlock()
}

// HasSubmitHandler reports whether form has any submit handler.
func (d *Document) HasSubmitHandler(form *Element) bool {
	d.lmu.Lock()
	defer d.lmu.Unlock()
	return len(d.onSubmit[form.n]) > 0
}

// DispatchSubmit runs the submit handlers of form and stops at the first error.
func (d *Document) DispatchSubmit(ctx context.Context, form, submitter *Element) error {
	d.lmu.Lock()
	handlers := append([]SubmitHandler(nil), d.onSubmit[form.n]...)
	d.lmu.Unlock()
	for _, fn := range handlers {
		if err := fn(ctx, form, submitter); err != nil {
			return err
		}
	}
	return nil
}

func (d *Document) wrap(n *html.Node) *Element {
	return &Element{doc: d, n: n}
}

func (d *Document) collect(from *html.Node, tag string) []*Element {
	var out []*Element
	walk(from, func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == tag {
			out = append(out, d.wrap(n))
		}
	})
	return out
}

func walk(n *html.Node, fn func(*html.Node)) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		fn(c)
		walk(c, fn)
	}
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && match(c) {
			return c
		}
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) (string, bool) {
	if n.Type != html.ElementNode {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func setText(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

func textOf(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	})
	return b.String()
}
