package config

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// node is one element of the input document with the line it starts on.
type node struct {
	name     string
	attrs    []xml.Attr
	children []*node
	text     string
	line     int
	path     string
}

func (n *node) attr(name string) (string, bool) {
	for _, a := range n.attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func (n *node) childrenNamed(name string) []*node {
	var out []*node
	for _, c := range n.children {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

func parseTree(data []byte) (*node, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		root  *node
		stack []*node
		text  []*strings.Builder
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var se *xml.SyntaxError
			if errors.As(err, &se) {
				return nil, &ParseError{Field: "document", Line: se.Line, Msg: se.Msg}
			}
			line, _ := dec.InputPos()
			return nil, &ParseError{Field: "document", Line: line, Msg: "malformed XML", Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			line, _ := dec.InputPos()
			n := &node{name: t.Name.Local, attrs: t.Attr, line: line}
			if len(stack) == 0 {
				if root != nil {
					return nil, &ParseError{Field: n.name, Line: line, Msg: "document has more than one root element"}
				}
				root = n
				n.path = n.name
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
				n.path = parent.path + "/" + n.name
			}
			stack = append(stack, n)
			text = append(text, &strings.Builder{})
		case xml.EndElement:
			top := stack[len(stack)-1]
			top.text = strings.TrimSpace(text[len(text)-1].String())
			stack = stack[:len(stack)-1]
			text = text[:len(text)-1]
		case xml.CharData:
			if len(text) > 0 {
				text[len(text)-1].Write(t)
			}
		}
	}

	if root == nil {
		return nil, &ParseError{Field: "document", Line: 1, Msg: "empty document"}
	}
	return root, nil
}

// ParseError reports an invalid document, naming the offending field and
// the line it appears on.
type ParseError struct {
	Field string
	Line  int
	Msg   string
	Err   error
}

func (e *ParseError) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = fmt.Sprintf("%s: %v", msg, e.Err)
		}
	}
	return fmt.Sprintf("config: %s (line %d): %s", e.Field, e.Line, msg)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
