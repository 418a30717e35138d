package epp

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// NamespaceEPP is the namespace of the <epp> root element and its protocol
// children as defined in RFC 5730.
const NamespaceEPP = "urn:ietf:params:xml:ns:epp-1.0"

// Element is one node of a parsed or constructed EPP frame.  Names are fully
// namespace-resolved; the Space field carries the namespace URI, never a
// prefix.  Text holds the character data directly inside the element with
// whitespace-only runs removed.
type Element struct {
	Name     xml.Name
	Attr     []xml.Attr
	Children []*Element
	Text     string
}

// NewElement returns an element with the given namespace and local name and
// any provided children attached.
func NewElement(space, local string, children ...*Element) *Element {
	return &Element{
		Name:     xml.Name{Space: space, Local: local},
		Children: children,
	}
}

// NewTextElement returns a leaf element holding the given character data.
func NewTextElement(space, local, text string) *Element {
	el := NewElement(space, local)
	el.Text = text
	return el
}

// Append adds children to the element and returns it for chaining.
func (e *Element) Append(children ...*Element) *Element {
	e.Children = append(e.Children, children...)
	return e
}

// SetAttr sets an unqualified attribute on the element.
func (e *Element) SetAttr(local, value string) *Element {
	for i, a := range e.Attr {
		if a.Name.Space == "" && a.Name.Local == local {
			e.Attr[i].Value = value
			return e
		}
	}
	e.Attr = append(e.Attr, xml.Attr{Name: xml.Name{Local: local}, Value: value})
	return e
}

// AttrValue returns the value of the named unqualified attribute, or "".
func (e *Element) AttrValue(local string) string {
	for _, a := range e.Attr {
		if a.Name.Space == "" && a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// First returns the first child element, or nil.
func (e *Element) First() *Element {
	if len(e.Children) == 0 {
		return nil
	}
	return e.Children[0]
}

// Child returns the first direct child matching the given name, or nil.
func (e *Element) Child(space, local string) *Element {
	for _, c := range e.Children {
		if c.Name.Space == space && c.Name.Local == local {
			return c
		}
	}
	return nil
}

// ChildText returns the text content of the first matching direct child, or
// "" if there is no such child.
func (e *Element) ChildText(space, local string) string {
	if c := e.Child(space, local); c != nil {
		return c.Text
	}
	return ""
}

// Find returns the first descendant matching the given name in document
// order, or nil.  The element itself is not considered.
func (e *Element) Find(space, local string) *Element {
	for _, c := range e.Children {
		if c.Name.Space == space && c.Name.Local == local {
			return c
		}
		if m := c.Find(space, local); m != nil {
			return m
		}
	}
	return nil
}

// FindAll returns every descendant matching the given name in document order.
func (e *Element) FindAll(space, local string) []*Element {
	var out []*Element
	for _, c := range e.Children {
		if c.Name.Space == space && c.Name.Local == local {
			out = append(out, c)
		}
		out = append(out, c.FindAll(space, local)...)
	}
	return out
}

// Clone returns a deep copy of the element.
func (e *Element) Clone() *Element {
	if e == nil {
		return nil
	}
	out := &Element{
		Name: e.Name,
		Text: e.Text,
	}
	if len(e.Attr) > 0 {
		out.Attr = make([]xml.Attr, len(e.Attr))
		copy(out.Attr, e.Attr)
	}
	if len(e.Children) > 0 {
		out.Children = make([]*Element, len(e.Children))
		for i, c := range e.Children {
			out.Children[i] = c.Clone()
		}
	}
	return out
}

// Parse decodes a frame payload into an Element tree.  Namespaces are
// resolved by the decoder, whitespace-only character data is dropped and
// CDATA sections are folded into regular text.
func Parse(payload []byte) (*Element, error) {
	d := xml.NewDecoder(bytes.NewReader(payload))

	var (
		root  *Element
		stack []*Element
	)
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("epp: malformed xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			el := &Element{Name: t.Name, Attr: copyAttrs(t.Attr)}
			if len(stack) == 0 {
				if root != nil {
					return nil, errors.New("epp: multiple root elements")
				}
				root = el
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, el)
			}
			stack = append(stack, el)

		case xml.EndElement:
			stack = stack[:len(stack)-1]

		case xml.CharData:
			if len(stack) == 0 {
				continue
			}
			s := string(t)
			if strings.TrimSpace(s) == "" {
				continue
			}
			stack[len(stack)-1].Text += s
		}
	}

	if root == nil {
		return nil, errors.New("epp: empty document")
	}
	return root, nil
}

// copyAttrs copies the decoder's attributes, dropping namespace declarations
// which are re-derived from the resolved names at serialization time.
func copyAttrs(attrs []xml.Attr) []xml.Attr {
	var out []xml.Attr
	for _, a := range attrs {
		if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
			continue
		}
		out = append(out, a)
	}
	return out
}

const xmlDecl = `<?xml version="1.0" encoding="UTF-8" standalone="no"?>` + "\n"

// Document serializes the element as a complete XML document, declaration
// included.  This is the payload handed to the wire framer.
func (e *Element) Document() []byte {
	var buf bytes.Buffer
	buf.WriteString(xmlDecl)
	e.encode(&buf, "")
	return buf.Bytes()
}

// XML serializes the element without the document declaration.
func (e *Element) XML() []byte {
	var buf bytes.Buffer
	e.encode(&buf, "")
	return buf.Bytes()
}

func (e *Element) String() string { return string(e.XML()) }

// encode writes the element using default-namespace declarations: xmlns is
// emitted whenever an element's namespace differs from the one inherited
// from its parent.  Qualified attributes get a generated prefix.
func (e *Element) encode(buf *bytes.Buffer, inherited string) {
	buf.WriteByte('<')
	buf.WriteString(e.Name.Local)

	if e.Name.Space != inherited {
		buf.WriteString(` xmlns="`)
		escape(buf, e.Name.Space)
		buf.WriteByte('"')
	}

	nsSeq := 0
	for _, a := range e.Attr {
		buf.WriteByte(' ')
		if a.Name.Space != "" {
			nsSeq++
			prefix := "ns" + strconv.Itoa(nsSeq)
			buf.WriteString("xmlns:")
			buf.WriteString(prefix)
			buf.WriteString(`="`)
			escape(buf, a.Name.Space)
			buf.WriteString(`" `)
			buf.WriteString(prefix)
			buf.WriteByte(':')
		}
		buf.WriteString(a.Name.Local)
		buf.WriteString(`="`)
		escape(buf, a.Value)
		buf.WriteByte('"')
	}

	if len(e.Children) == 0 && e.Text == "" {
		buf.WriteString("/>")
		return
	}

	buf.WriteByte('>')
	if e.Text != "" {
		escape(buf, e.Text)
	}
	for _, c := range e.Children {
		c.encode(buf, e.Name.Space)
	}
	buf.WriteString("</")
	buf.WriteString(e.Name.Local)
	buf.WriteByte('>')
}

func escape(buf *bytes.Buffer, s string) {
	// EscapeText only fails if the writer does; bytes.Buffer never does.
	_ = xml.EscapeText(buf, []byte(s))
}
