package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// inventoryValidator is shared; validator.Validate is safe for
// concurrent use.
var inventoryValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report the yaml key, not the Go field name, in violations.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// LoadInventory reads and validates a YAML inventory file.
func LoadInventory(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{File: path, Message: "failed to read inventory", Err: err}
	}
	return parseInventory(path, data)
}

func parseInventory(path string, data []byte) (*Inventory, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var inv Inventory
	if err := dec.Decode(&inv); err != nil {
		return nil, &ParseError{File: path, Message: "failed to decode inventory", Err: err}
	}
	if err := inventoryValidator.Struct(&inv); err != nil {
		return nil, &ParseError{File: path, Message: "invalid inventory", Err: describeValidation(err)}
	}

	seen := make(map[string]bool, len(inv.Targets))
	for i := range inv.Targets {
		name := inv.Targets[i].Name
		if seen[name] {
			return nil, &ParseError{File: path, Message: fmt.Sprintf("duplicate target %q", name)}
		}
		seen[name] = true
	}
	return &inv, nil
}

// describeValidation flattens validator errors into one readable error.
func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", fe.Namespace()))
		case "eq":
			parts = append(parts, fmt.Sprintf("%s must equal %s", fe.Namespace(), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s validation", fe.Namespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("%s", strings.Join(parts, "; "))
}
