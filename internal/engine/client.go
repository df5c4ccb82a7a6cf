// Package engine is the public surface of the query engine. A Client plans
// operations against its registry and runs them on an injected executor.
//
// Every verb is two-phase: the ModelClient method validates its arguments
// and returns a prepared Query, and Query.Exec performs the I/O. A request
// that fails validation never reaches the executor.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"portfolio-query/internal/logging"
	"portfolio-query/internal/observability"
	"portfolio-query/internal/planner"
	"portfolio-query/internal/queryerr"
	"portfolio-query/internal/schema"
	"portfolio-query/internal/uuidutil"
)

// Client plans and executes operations for one registry.
type Client struct {
	reg     *schema.Registry
	planner *planner.Planner
	exec    planner.Executor
	logger  *logging.Logger
	metrics *observability.EngineMetrics
}

type options struct {
	logger  *logging.Logger
	metrics *observability.EngineMetrics
	limits  planner.Limits
	clock   func() time.Time
	newID   uuidutil.Generator
}

// Option customizes a Client.
type Option func(*options)

// WithLogger sets the logger used for execution logs. Without it the logger
// carried by the execution context is used.
func WithLogger(logger *logging.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics records executions on metrics.
func WithMetrics(metrics *observability.EngineMetrics) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

// WithMaxTake rejects reads whose take exceeds n in either direction.
func WithMaxTake(n int) Option {
	return func(o *options) {
		o.limits.MaxTake = n
	}
}

// WithMaxDepth bounds the nesting depth of selections, filters and nested
// writes. Zero disables the bound.
func WithMaxDepth(n int) Option {
	return func(o *options) {
		o.limits.MaxDepth = n
	}
}

// WithClock sets the clock used for timestamps and now() defaults.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.clock = now
	}
}

// WithIDGenerator sets the generator used for uuid() defaults.
func WithIDGenerator(gen uuidutil.Generator) Option {
	return func(o *options) {
		o.newID = gen
	}
}

// New creates a Client over reg that executes on exec.
func New(reg *schema.Registry, exec planner.Executor, opts ...Option) *Client {
	o := options{limits: planner.Limits{MaxDepth: planner.DefaultMaxDepth}}
	for _, opt := range opts {
		opt(&o)
	}
	return &Client{
		reg: reg,
		planner: planner.New(reg,
			planner.WithLimits(o.limits),
			planner.WithClock(o.clock),
			planner.WithIDGenerator(o.newID),
		),
		exec:    exec,
		logger:  o.logger,
		metrics: o.metrics,
	}
}

// Registry returns the registry the client plans against.
func (c *Client) Registry() *schema.Registry {
	return c.reg
}

// Model returns the client for one model.
func (c *Client) Model(name string) (*ModelClient, error) {
	m, err := c.reg.Model(name)
	if err != nil {
		return nil, err
	}
	return &ModelClient{client: c, model: m.Name}, nil
}

// Prepare validates one operation given by verb name.
func (c *Client) Prepare(model string, verb planner.Verb, args planner.Args) (*Query, error) {
	var (
		op  planner.Operation
		err error
	)
	switch verb {
	case planner.VerbFindUnique:
		op, err = c.planner.FindUnique(model, args, false)
	case planner.VerbFindUniqueOrThrow:
		op, err = c.planner.FindUnique(model, args, true)
	case planner.VerbFindFirst:
		op, err = c.planner.FindFirst(model, args, false)
	case planner.VerbFindFirstOrThrow:
		op, err = c.planner.FindFirst(model, args, true)
	case planner.VerbFindMany:
		op, err = c.planner.FindMany(model, args)
	case planner.VerbCreate:
		op, err = c.planner.Create(model, args)
	case planner.VerbCreateMany:
		op, err = c.planner.CreateMany(model, args)
	case planner.VerbUpdate:
		op, err = c.planner.Update(model, args)
	case planner.VerbUpdateMany:
		op, err = c.planner.UpdateMany(model, args)
	case planner.VerbUpsert:
		op, err = c.planner.Upsert(model, args)
	case planner.VerbDelete:
		op, err = c.planner.Delete(model, args)
	case planner.VerbDeleteMany:
		op, err = c.planner.DeleteMany(model, args)
	case planner.VerbCount:
		op, err = c.planner.Count(model, args)
	case planner.VerbAggregate:
		op, err = c.planner.Aggregate(model, args)
	case planner.VerbGroupBy:
		op, err = c.planner.GroupBy(model, args)
	default:
		err = &queryerr.InvalidArgumentError{
			Model:    model,
			Argument: "operation",
			Message:  fmt.Sprintf("unknown operation %q", verb),
		}
	}
	if err != nil {
		c.rejected(model, verb, err)
		return nil, err
	}
	return &Query{client: c, op: op}, nil
}

func (c *Client) rejected(model string, verb planner.Verb, err error) {
	kind := queryerr.KindOf(err).String()
	c.metrics.RecordValidationError(context.Background(), model, string(verb), kind)
	c.loggerFor(context.Background()).Debug("query rejected",
		slog.String("model", model),
		slog.String("operation", string(verb)),
		slog.String("kind", kind),
		slog.String("error", err.Error()),
	)
}

func (c *Client) loggerFor(ctx context.Context) *logging.Logger {
	if c.logger != nil {
		return c.logger
	}
	return logging.FromContext(ctx)
}
