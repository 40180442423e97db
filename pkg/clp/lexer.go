package clp

import (
	"strconv"
	"strings"
)

// section tracks which heading of a property block we are inside.
type section int

const (
	sectionNone section = iota
	sectionTargets
	sectionProperties
	sectionVerbs
)

// Parse lexes the raw output of one CLP command. Embedded RIBCL XML
// documents (introduced by an "<?xml" declaration) are split off and
// parsed into element trees; everything else is lexed line by line.
//
// Values are kept verbatim as strings. No numeric or boolean coercion
// happens here.
func Parse(stdout string, exitStatus int) (*Document, error) {
	flat, xmlDocs := splitXML(stdout)

	doc := &Document{
		Response: &RawResponse{ExitStatus: exitStatus},
	}

	for _, raw := range xmlDocs {
		trees, err := parseElements(raw)
		if err != nil {
			return nil, err
		}
		doc.Trees = append(doc.Trees, trees...)
	}

	if err := parseFlat(flat, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// splitXML separates flat text from embedded XML documents. RIBCL
// responses always open with an XML declaration, so the text is split on
// that marker the same way the device concatenates multiple documents.
func splitXML(stdout string) (string, []string) {
	idx := strings.Index(stdout, "<?xml")
	if idx < 0 {
		return stdout, nil
	}
	flat := stdout[:idx]
	var docs []string
	rest := stdout[idx:]
	for {
		next := strings.Index(rest[5:], "<?xml")
		if next < 0 {
			docs = append(docs, rest)
			break
		}
		docs = append(docs, rest[:next+5])
		rest = rest[next+5:]
	}
	return flat, docs
}

func parseFlat(flat string, doc *Document) error {
	var (
		block *PropertyBlock
		sect  = sectionNone
	)

	lines := strings.Split(flat, "\n")
	for i, raw := range lines {
		line := strings.TrimRight(raw, " \t\r")
		if line != "" || len(doc.Response.Lines) > 0 {
			doc.Response.Lines = append(doc.Response.Lines, line)
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		// Status header fields may appear anywhere in the output.
		if code, ok := statusLine(trimmed); ok {
			doc.Response.StatusCode = code
			doc.Response.StatusPresent = true
			continue
		}
		if tag, ok := strings.CutPrefix(trimmed, "status_tag="); ok {
			doc.Response.StatusTag = strings.TrimSpace(tag)
			continue
		}

		// A path heading opens a new block.
		if strings.HasPrefix(trimmed, "/") {
			block = &PropertyBlock{Path: trimmed}
			doc.Blocks = append(doc.Blocks, block)
			sect = sectionNone
			continue
		}

		if s, ok := sectionHeading(trimmed); ok {
			// Some firmware emits a section heading without a path
			// heading first. Open an implicit block so the section
			// content is kept instead of crashing the parse.
			if block == nil {
				block = &PropertyBlock{}
				doc.Blocks = append(doc.Blocks, block)
			}
			sect = s
			continue
		}

		switch sect {
		case sectionTargets:
			block.Targets = append(block.Targets, trimmed)
		case sectionVerbs:
			block.Verbs = append(block.Verbs, strings.Fields(trimmed)...)
		case sectionProperties:
			name, value, ok := strings.Cut(trimmed, "=")
			if !ok {
				return &ParseError{Line: i + 1, Message: "property line without '=': " + trimmed}
			}
			block.addProperty(strings.TrimSpace(name), strings.TrimSpace(value))
		default:
			// Unheaded name=value lines (for example "vm cdrom get"
			// output) land in an implicit block. Anything else is
			// free text and stays available in Response.Lines.
			name, value, ok := strings.Cut(trimmed, "=")
			if !ok {
				continue
			}
			if block == nil {
				block = &PropertyBlock{}
				doc.Blocks = append(doc.Blocks, block)
			}
			block.addProperty(strings.TrimSpace(name), strings.TrimSpace(value))
		}
	}

	// Drop trailing blank lines kept during the scan.
	for n := len(doc.Response.Lines); n > 0 && doc.Response.Lines[n-1] == ""; n-- {
		doc.Response.Lines = doc.Response.Lines[:n-1]
	}
	return nil
}

func sectionHeading(trimmed string) (section, bool) {
	switch trimmed {
	case "Targets":
		return sectionTargets, true
	case "Properties":
		return sectionProperties, true
	case "Verbs":
		return sectionVerbs, true
	}
	return sectionNone, false
}

func statusLine(trimmed string) (int, bool) {
	rest, ok := strings.CutPrefix(trimmed, "status=")
	if !ok {
		return 0, false
	}
	code, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return 0, false
	}
	return code, true
}
