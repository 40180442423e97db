package clp

import (
	"regexp"
	"strings"
)

// Element is one node of a tagged response tree. RIBCL responses carry
// scalar data exclusively in attributes; by convention a leaf's value is
// its VALUE attribute.
type Element struct {
	Tag        string
	Attributes map[string]string
	Children   []*Element
}

// Attr returns the named attribute, or "" when absent.
func (e *Element) Attr(name string) string {
	return e.Attributes[name]
}

// Value returns the conventional VALUE attribute.
func (e *Element) Value() string {
	return e.Attributes["VALUE"]
}

// Find returns the first direct or nested child with the given tag,
// depth first, or nil.
func (e *Element) Find(tag string) *Element {
	for _, c := range e.Children {
		if c.Tag == tag {
			return c
		}
		if found := c.Find(tag); found != nil {
			return found
		}
	}
	return nil
}

// FindAll returns every direct or nested child with the given tag, in
// document order.
func (e *Element) FindAll(tag string) []*Element {
	var out []*Element
	for _, c := range e.Children {
		if c.Tag == tag {
			out = append(out, c)
		}
		out = append(out, c.FindAll(tag)...)
	}
	return out
}

// ChildValue returns the VALUE attribute of the first child with the
// given tag, or "" when no such child exists.
func (e *Element) ChildValue(tag string) string {
	if c := e.Find(tag); c != nil {
		return c.Value()
	}
	return ""
}

var attrPattern = regexp.MustCompile(`([A-Za-z_][\w.-]*)\s*=\s*"([^"]*)"`)

// parseElements tokenizes one XML document into its top-level element
// trees. The grammar is the restricted RIBCL dialect: tags and quoted
// attributes only, no text content, no entities.
func parseElements(raw string) ([]*Element, error) {
	var (
		roots []*Element
		stack []*Element
	)
	line := 1
	i := 0
	for i < len(raw) {
		c := raw[i]
		if c == '\n' {
			line++
		}
		if c != '<' {
			i++
			continue
		}
		end := strings.IndexByte(raw[i:], '>')
		if end < 0 {
			return nil, &ParseError{Line: line, Message: "unterminated tag"}
		}
		tok := raw[i+1 : i+end]
		i += end + 1

		switch {
		case strings.HasPrefix(tok, "?"):
			// XML declaration.
		case strings.HasPrefix(tok, "!"):
			// Comment or doctype.
		case strings.HasPrefix(tok, "/"):
			tag := strings.TrimSpace(tok[1:])
			if len(stack) == 0 || stack[len(stack)-1].Tag != tag {
				return nil, &ParseError{Line: line, Message: "unexpected closing tag </" + tag + ">"}
			}
			stack = stack[:len(stack)-1]
		default:
			selfClosing := strings.HasSuffix(tok, "/")
			if selfClosing {
				tok = tok[:len(tok)-1]
			}
			tag, attrText := splitTag(strings.TrimSpace(tok))
			el := &Element{Tag: tag, Attributes: parseAttributes(attrText)}
			if len(stack) == 0 {
				roots = append(roots, el)
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, el)
			}
			if !selfClosing {
				stack = append(stack, el)
			}
		}
	}
	if len(stack) > 0 {
		return nil, &ParseError{Line: line, Message: "unterminated element <" + stack[len(stack)-1].Tag + ">"}
	}
	return roots, nil
}

// splitTag separates the tag name from its attribute text. Attributes
// may continue across line breaks inside the tag.
func splitTag(tok string) (string, string) {
	for i, r := range tok {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return tok[:i], tok[i+1:]
		}
	}
	return tok, ""
}

func parseAttributes(text string) map[string]string {
	attrs := make(map[string]string)
	for _, m := range attrPattern.FindAllStringSubmatch(text, -1) {
		attrs[m[1]] = m[2]
	}
	return attrs
}
