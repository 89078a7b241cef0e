package sandbox

import (
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// DOM provides a read-mostly document proxy for sandboxed JavaScript,
// backed by the parsed content page.
type DOM struct {
	doc     *goquery.Document
	changes []DOMChange
	mu      sync.RWMutex
}

// Element is a snapshot of one node handed to scripts
type Element struct {
	TagName     string
	ID          string
	ClassName   string
	TextContent string
	Attributes  map[string]string

	selector string
	dom      *DOM
	node     *goquery.Selection
}

// NewDOM wraps a parsed document. A nil document yields an empty DOM.
func NewDOM(doc *goquery.Document) *DOM {
	if doc == nil {
		doc, _ = goquery.NewDocumentFromReader(strings.NewReader("<html><head></head><body></body></html>"))
	}
	return &DOM{doc: doc}
}

// Title returns the document title.
func (d *DOM) Title() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return strings.TrimSpace(d.doc.Find("title").First().Text())
}

// SetTitle replaces the document title and records the change.
func (d *DOM) SetTitle(title string) {
	d.mu.Lock()
	d.doc.Find("title").First().SetText(title)
	d.mu.Unlock()
	d.RecordChange(DOMChange{Type: "set_title", Selector: "title", Value: title})
}

// Query finds elements by CSS selector. Invalid selectors match nothing.
func (d *DOM) Query(selector string) (out []*Element) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	d.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		out = append(out, d.snapshot(selector, s))
	})
	return out
}

func (d *DOM) snapshot(selector string, s *goquery.Selection) *Element {
	elem := &Element{
		TagName:     strings.ToUpper(goquery.NodeName(s)),
		TextContent: s.Text(),
		Attributes:  make(map[string]string),
		selector:    selector,
		dom:         d,
		node:        s,
	}
	if n := s.Get(0); n != nil {
		for _, a := range n.Attr {
			elem.Attributes[a.Key] = a.Val
		}
	}
	elem.ID = elem.Attributes["id"]
	elem.ClassName = elem.Attributes["class"]
	return elem
}

// GetChanges returns accumulated DOM changes
func (d *DOM) GetChanges() []DOMChange {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]DOMChange{}, d.changes...)
}

// RecordChange adds a DOM change
func (d *DOM) RecordChange(change DOMChange) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.changes = append(d.changes, change)
}

// GetAttribute retrieves attribute value
func (e *Element) GetAttribute(name string) string {
	return e.Attributes[name]
}

// SetAttribute sets attribute value and records change
func (e *Element) SetAttribute(name, value string) {
	e.Attributes[name] = value
	if e.dom == nil {
		return
	}
	e.dom.mu.Lock()
	e.node.SetAttr(name, value)
	e.dom.mu.Unlock()
	e.dom.RecordChange(DOMChange{Type: "set_attribute", Selector: e.selector, Property: name, Value: value})
}

// SetText replaces the element text and records change
func (e *Element) SetText(text string) {
	e.TextContent = text
	if e.dom == nil {
		return
	}
	e.dom.mu.Lock()
	e.node.SetText(text)
	e.dom.mu.Unlock()
	e.dom.RecordChange(DOMChange{Type: "set_text", Selector: e.selector, Value: text})
}
