package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

// Parser loads desired-state documents from CUE or YAML files and
// checks them against the built-in document schema before any domain
// request is built from them.
type Parser struct {
	ctx     *cue.Context
	schemas *SchemaRegistry
}

// NewParser creates a parser with the built-in schemas registered.
func NewParser() *Parser {
	ctx := cuecontext.New()
	return &Parser{
		ctx:     ctx,
		schemas: NewSchemaRegistry(ctx),
	}
}

// Schemas exposes the registry, mainly for registering site-local
// schema extensions before parsing.
func (p *Parser) Schemas() *SchemaRegistry { return p.schemas }

// ParseStateFile reads a desired-state document. The format follows
// the file extension: .cue is evaluated as CUE, .yaml and .yml are
// decoded as YAML. Both are validated against the state schema.
func (p *Parser) ParseStateFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{File: path, Message: "failed to read state file", Err: err}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return p.parseCUE(path, data)
	case ".yaml", ".yml":
		return p.parseYAML(path, data)
	default:
		return nil, &ParseError{File: path, Message: "unsupported state file extension, expected .cue, .yaml, or .yml"}
	}
}

// ParseStateDir parses every state file in a directory, merging the
// target lists in filename order.
func (p *Parser) ParseStateDir(dir string) (*Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &ParseError{File: dir, Message: "failed to read state directory", Err: err}
	}
	merged := &Document{Version: 1}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".cue", ".yaml", ".yml":
		default:
			continue
		}
		doc, err := p.ParseStateFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		merged.Targets = append(merged.Targets, doc.Targets...)
	}
	if len(merged.Targets) == 0 {
		return nil, &ParseError{File: dir, Message: "no state files found"}
	}
	return merged, nil
}

func (p *Parser) parseCUE(path string, data []byte) (*Document, error) {
	val := p.ctx.CompileBytes(data, cue.Filename(path))
	if err := val.Err(); err != nil {
		return nil, &ParseError{File: path, Message: "failed to compile", Err: describeCUE(err)}
	}
	return p.decodeValue(path, val)
}

func (p *Parser) parseYAML(path string, data []byte) (*Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	// Decode to a generic tree first so schema validation sees the
	// document exactly as written, unexpanded by Go zero values.
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, &ParseError{File: path, Message: "failed to decode", Err: err}
	}
	val := p.ctx.Encode(raw)
	if err := val.Err(); err != nil {
		return nil, &ParseError{File: path, Message: "failed to encode", Err: err}
	}
	return p.decodeValue(path, val)
}

// decodeValue validates a loaded document value against the state
// schema and decodes the unified result.
func (p *Parser) decodeValue(path string, val cue.Value) (*Document, error) {
	schema, ok := p.schemas.Get(SchemaState)
	if !ok {
		return nil, &ParseError{File: path, Message: "state schema is not registered"}
	}
	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, &ParseError{File: path, Message: "document does not satisfy the state schema", Err: describeCUE(err)}
	}

	var doc Document
	if err := unified.Decode(&doc); err != nil {
		return nil, &ParseError{File: path, Message: "failed to decode document", Err: describeCUE(err)}
	}
	if len(doc.Targets) == 0 {
		return nil, &ParseError{File: path, Message: "document lists no targets"}
	}
	seen := make(map[string]bool, len(doc.Targets))
	for i := range doc.Targets {
		name := doc.Targets[i].Target
		if seen[name] {
			return nil, &ParseError{File: path, Message: fmt.Sprintf("duplicate target %q", name)}
		}
		seen[name] = true
	}
	return &doc, nil
}

// describeCUE flattens CUE's error list into one error with positions.
func describeCUE(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		if pos := e.Position(); pos.IsValid() {
			parts = append(parts, fmt.Sprintf("%s: %s", pos, e.Error()))
		} else {
			parts = append(parts, e.Error())
		}
	}
	return fmt.Errorf("%s", strings.Join(parts, "; "))
}
