// Package querydoc turns operation documents into engine requests and runs
// them. A document is either GraphQL syntax, where each root field is named
// <model>_<verb>, or JSON of the form {"model", "operation", "args"}.
package querydoc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"portfolio-query/internal/planner"
)

// Request is one engine operation of a document.
type Request struct {
	// Key names the request in the response: the alias or root field name
	// for GraphQL documents, "<model>_<operation>" otherwise.
	Key   string
	Model string
	Verb  planner.Verb
	Args  planner.Args
}

// Document is a parsed operation document.
type Document struct {
	Requests []Request
	// Atomic documents run as one all-or-nothing transaction.
	Atomic bool
}

// Options control parsing.
type Options struct {
	// OperationName selects an operation when a GraphQL document has several.
	OperationName string
	// Variables are bound to $variables of a GraphQL document.
	Variables map[string]any
}

var verbs = map[string]planner.Verb{}

func init() {
	for _, v := range []planner.Verb{
		planner.VerbFindUnique, planner.VerbFindUniqueOrThrow,
		planner.VerbFindFirst, planner.VerbFindFirstOrThrow, planner.VerbFindMany,
		planner.VerbCreate, planner.VerbCreateMany,
		planner.VerbUpdate, planner.VerbUpdateMany, planner.VerbUpsert,
		planner.VerbDelete, planner.VerbDeleteMany,
		planner.VerbCount, planner.VerbAggregate, planner.VerbGroupBy,
	} {
		verbs[string(v)] = v
	}
}

// ParseVerb returns the verb named name.
func ParseVerb(name string) (planner.Verb, error) {
	v, ok := verbs[name]
	if !ok {
		return "", fmt.Errorf("querydoc: unknown operation %q", name)
	}
	return v, nil
}

// Parse reads a JSON or GraphQL document. Input that is valid JSON is read
// as JSON.
func Parse(src []byte, opts Options) (*Document, error) {
	trimmed := bytes.TrimSpace(src)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("querydoc: document is empty")
	}
	if json.Valid(trimmed) {
		return ParseJSON(trimmed)
	}
	return ParseGraphQL(string(trimmed), opts)
}

type jsonRequest struct {
	Model     string         `json:"model"`
	Operation string         `json:"operation"`
	Args      map[string]any `json:"args"`
}

type jsonBatch struct {
	Transaction bool          `json:"transaction"`
	Requests    []jsonRequest `json:"requests"`
}

// ParseJSON reads one request object, a list of requests run in order, or
// {"transaction": true, "requests": [...]} run atomically. Numbers are kept
// as json.Number so integers and decimals survive exactly.
func ParseJSON(src []byte) (*Document, error) {
	trimmed := bytes.TrimSpace(src)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("querydoc: document is empty")
	}

	var raw []jsonRequest
	atomic := false
	switch trimmed[0] {
	case '[':
		if err := decodeJSON(trimmed, &raw); err != nil {
			return nil, err
		}
	case '{':
		var probe map[string]json.RawMessage
		if err := decodeJSON(trimmed, &probe); err != nil {
			return nil, err
		}
		if _, ok := probe["requests"]; ok {
			var batch jsonBatch
			if err := decodeJSON(trimmed, &batch); err != nil {
				return nil, err
			}
			raw, atomic = batch.Requests, batch.Transaction
		} else {
			var one jsonRequest
			if err := decodeJSON(trimmed, &one); err != nil {
				return nil, err
			}
			raw = []jsonRequest{one}
		}
	default:
		return nil, fmt.Errorf("querydoc: expected a JSON object or array")
	}

	if len(raw) == 0 {
		return nil, fmt.Errorf("querydoc: document has no requests")
	}
	doc := &Document{Atomic: atomic, Requests: make([]Request, 0, len(raw))}
	for i, r := range raw {
		if strings.TrimSpace(r.Model) == "" {
			return nil, fmt.Errorf("querydoc: request %d: model is required", i)
		}
		verb, err := ParseVerb(r.Operation)
		if err != nil {
			return nil, fmt.Errorf("querydoc: request %d: %w", i, err)
		}
		args := planner.Args(r.Args)
		if args == nil {
			args = planner.Args{}
		}
		doc.Requests = append(doc.Requests, Request{
			Key:   lowerFirst(r.Model) + "_" + string(verb),
			Model: r.Model,
			Verb:  verb,
			Args:  args,
		})
	}
	return doc, nil
}

func decodeJSON(src []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(src))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("querydoc: invalid JSON document: %w", err)
	}
	return nil
}

// DecodeVariables reads a JSON object of GraphQL variables.
func DecodeVariables(src []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(src)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(src))
	dec.UseNumber()
	var vars map[string]any
	if err := dec.Decode(&vars); err != nil {
		return nil, fmt.Errorf("querydoc: invalid variables: %w", err)
	}
	return vars, nil
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
