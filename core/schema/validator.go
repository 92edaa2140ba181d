package schema

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator applies the compiled job request schema. It is safe for concurrent use.
type Validator struct {
	schema *jsonschema.Schema
}

// Diagnostic is a single validation failure
type Diagnostic struct {
	Message          string
	InstanceLocation string // JSON pointer into the message, "" for the document root
	KeywordLocation  string
}

// Result is the verdict for one document
type Result struct {
	Valid       bool
	Diagnostics []Diagnostic
}

// Validate parses doc and checks it against the schema.
// A document that is not JSON is invalid with a single diagnostic at the root.
func (v *Validator) Validate(doc []byte) Result {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()

	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return Result{Diagnostics: []Diagnostic{{Message: "invalid JSON: " + err.Error()}}}
	}
	if dec.More() {
		return Result{Diagnostics: []Diagnostic{{Message: "invalid JSON: trailing data after document"}}}
	}

	err := v.schema.Validate(value)
	if err == nil {
		return Result{Valid: true}
	}

	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return Result{Diagnostics: []Diagnostic{{Message: err.Error()}}}
	}
	return Result{Diagnostics: flatten(ve, nil)}
}

// flatten collects the leaf causes, which carry the specific failure messages
func flatten(ve *jsonschema.ValidationError, out []Diagnostic) []Diagnostic {
	if len(ve.Causes) == 0 {
		return append(out, Diagnostic{
			Message:          ve.Message,
			InstanceLocation: ve.InstanceLocation,
			KeywordLocation:  ve.KeywordLocation,
		})
	}
	for _, cause := range ve.Causes {
		out = flatten(cause, out)
	}
	return out
}
