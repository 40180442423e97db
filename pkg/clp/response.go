// Package clp parses the textual output of an iLO CLP session into
// structured form: status header fields, addressed property blocks, and
// the tagged element trees returned by RIBCL storage commands.
package clp

import (
	"fmt"
	"strings"
)

// RawResponse holds the session-level view of one command's output.
type RawResponse struct {
	// StatusCode is the numeric status from a "status=N" header line.
	// Only meaningful when StatusPresent is true.
	StatusCode int

	// StatusPresent reports whether a status header line was seen.
	StatusPresent bool

	// StatusTag is the symbolic tag from a "status_tag=TOKEN" line, if any.
	StatusTag string

	// ExitStatus is the exit status of the remote command.
	ExitStatus int

	// Lines are all output lines, trailing whitespace trimmed, in order.
	Lines []string
}

// Ok reports whether the device signalled success via the status header.
func (r *RawResponse) Ok() bool {
	return r.StatusPresent && r.StatusCode == 0
}

// Contains reports whether any output line contains the substring.
func (r *RawResponse) Contains(substr string) bool {
	for _, line := range r.Lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

// FindLine returns the remainder of the first line beginning with prefix,
// with surrounding whitespace trimmed. The second return is false when no
// line matches.
func (r *RawResponse) FindLine(prefix string) (string, bool) {
	for _, line := range r.Lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, prefix)), true
		}
	}
	return "", false
}

// Property is one name=value pair in device order. Names may contain
// spaces and are matched case-sensitively.
type Property struct {
	Name  string
	Value string
}

// PropertyBlock is the parsed listing for one addressed path. Section
// membership follows the device's "Targets" / "Properties" / "Verbs"
// headings; listings without headings populate Properties directly.
type PropertyBlock struct {
	// Path is the address heading the block, e.g. "/map1/accounts1".
	// The empty string addresses unheaded top-level listings.
	Path string

	// Targets are sub-target names in device order.
	Targets []string

	// Properties are name=value pairs in device order.
	Properties []Property

	// Verbs are the supported verb tokens.
	Verbs []string

	index map[string]int
}

// Get returns the value of the named property. Lookup is case-sensitive.
func (b *PropertyBlock) Get(name string) (string, bool) {
	i, ok := b.index[name]
	if !ok {
		return "", false
	}
	return b.Properties[i].Value, true
}

// HasTarget reports whether name appears in the Targets section,
// compared case-insensitively. The device preserves its own spelling.
func (b *PropertyBlock) HasTarget(name string) bool {
	for _, t := range b.Targets {
		if strings.EqualFold(t, name) {
			return true
		}
	}
	return false
}

func (b *PropertyBlock) addProperty(name, value string) {
	if b.index == nil {
		b.index = make(map[string]int)
	}
	if i, ok := b.index[name]; ok {
		b.Properties[i].Value = value
		return
	}
	b.index[name] = len(b.Properties)
	b.Properties = append(b.Properties, Property{Name: name, Value: value})
}

// Document is the full parse of one command's output.
type Document struct {
	Response *RawResponse
	Blocks   []*PropertyBlock
	Trees    []*Element
}

// Block returns the property block addressed by path, or nil. Paths whose
// heading carries a trailing segment count or annotation match on prefix
// up to the first whitespace.
func (d *Document) Block(path string) *PropertyBlock {
	for _, b := range d.Blocks {
		if b.Path == path {
			return b
		}
	}
	return nil
}

// BlockPrefix returns the first block whose path starts with prefix, or nil.
func (d *Document) BlockPrefix(prefix string) *PropertyBlock {
	for _, b := range d.Blocks {
		if strings.HasPrefix(b.Path, prefix) {
			return b
		}
	}
	return nil
}

// Property looks up name across every block, first match wins.
func (d *Document) Property(name string) (string, bool) {
	for _, b := range d.Blocks {
		if v, ok := b.Get(name); ok {
			return v, true
		}
	}
	return "", false
}

// Tree returns the first element tree whose root has the given tag, or nil.
func (d *Document) Tree(tag string) *Element {
	for _, t := range d.Trees {
		if t.Tag == tag {
			return t
		}
	}
	return nil
}

// ParseError describes output the lexer could not make sense of. It
// carries the one-based line number within the command's output.
type ParseError struct {
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("clp: line %d: %s", e.Line, e.Message)
	}
	return fmt.Sprintf("clp: %s", e.Message)
}
