package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// Element is a handle on one node of a Document. All accessors take the
// document lock, so handles may be shared between goroutines.
type Element struct {
	doc *Document
	n   *html.Node
}

func (e *Element) Document() *Document { return e.doc }

func (e *Element) Tag() string { return e.n.Data }

func (e *Element) ID() string {
	v, _ := e.Attr("id")
	return v
}

func (e *Element) Attr(name string) (string, bool) {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return attr(e.n, strings.ToLower(name))
}

func (e *Element) SetAttr(name, value string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	setAttr(e.n, strings.ToLower(name), value)
}

func (e *Element) Text() string {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return textOf(e.n)
}

// SetText replaces all children with a single text node.
func (e *Element) SetText(text string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	setText(e.n, text)
}

// Value is the current value of a form control. For textarea it is the text
// content, for everything else the value attribute.
func (e *Element) Value() string {
	if e.n.Data == "textarea" {
		return e.Text()
	}
	v, _ := e.Attr("value")
	return v
}

func (e *Element) SetValue(v string) {
	if e.n.Data == "textarea" {
		e.SetText(v)
		return
	}
	e.SetAttr("value", v)
}

// Find returns the first descendant element with the given tag.
func (e *Element) Find(tag string) (*Element, bool) {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	n := findFirst(e.n, func(n *html.Node) bool { return n.Data == tag })
	if n == nil {
		return nil, false
	}
	return e.doc.wrap(n), true
}

// FindAll returns every descendant element with the given tag.
func (e *Element) FindAll(tag string) []*Element {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return e.doc.collect(e.n, tag)
}

// Labels returns the label elements associated with a control: labels whose
// for attribute names the control's id, then any enclosing label.
func (e *Element) Labels() []*Element {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	var out []*Element
	seen := map[*html.Node]bool{}
	if id, ok := attr(e.n, "id"); ok && id != "" {
		walk(e.doc.root, func(n *html.Node) {
			if n.Type != html.ElementNode || n.Data != "label" {
				return
			}
			if v, ok := attr(n, "for"); ok && v == id {
				seen[n] = true
				out = append(out, e.doc.wrap(n))
			}
		})
	}
	for p := e.n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.Data == "label" && !seen[p] {
			out = append(out, e.doc.wrap(p))
		}
	}
	return out
}

// Form returns the form element owning a control.
func (e *Element) Form() (*Element, bool) {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	if id, ok := attr(e.n, "form"); ok && id != "" {
		n := findFirst(e.doc.root, func(n *html.Node) bool {
			v, ok := attr(n, "id")
			return ok && v == id && n.Data == "form"
		})
		if n != nil {
			return e.doc.wrap(n), true
		}
	}
	for p := e.n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.Data == "form" {
			return e.doc.wrap(p), true
		}
	}
	return nil, false
}

// Same reports whether two handles point at the same node.
func (e *Element) Same(other *Element) bool {
	return other != nil && e.n == other.n
}
