package querydoc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"portfolio-query/internal/engine"
)

// Entry is the result of one request.
type Entry struct {
	Key   string
	Value any
}

// Response holds the results of a document in request order.
type Response struct {
	Entries []Entry
}

// Get returns the value stored under key.
func (r *Response) Get(key string) (any, bool) {
	for _, e := range r.Entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// MarshalJSON writes the entries as one object keeping request order.
func (r *Response) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range r.Entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(e.Value)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", e.Key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Run prepares every request of doc and then executes them, in order or as
// one transaction for atomic documents. No request runs when any of them
// fails validation.
func Run(ctx context.Context, client *engine.Client, doc *Document) (*Response, error) {
	if doc == nil || len(doc.Requests) == 0 {
		return nil, fmt.Errorf("querydoc: document has no requests")
	}

	queries := make([]*engine.Query, len(doc.Requests))
	for i, req := range doc.Requests {
		q, err := client.Prepare(req.Model, req.Verb, req.Args)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", req.Key, err)
		}
		queries[i] = q
	}

	resp := &Response{Entries: make([]Entry, 0, len(queries))}
	if doc.Atomic {
		results, err := client.Transaction(ctx, queries...)
		if err != nil {
			return nil, err
		}
		for i, res := range results {
			resp.Entries = append(resp.Entries, Entry{Key: doc.Requests[i].Key, Value: res.Value()})
		}
		return resp, nil
	}

	for i, q := range queries {
		res, err := q.Exec(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", doc.Requests[i].Key, err)
		}
		resp.Entries = append(resp.Entries, Entry{Key: doc.Requests[i].Key, Value: res.Value()})
	}
	return resp, nil
}
