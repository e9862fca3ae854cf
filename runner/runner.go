// Package runner shepherds a compiled query through connection
// acquire, driver execution, post-processing and release.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sam-lord/knex/dialect"
	"github.com/sam-lord/knex/driver"
	"github.com/sam-lord/knex/pool"
	"github.com/sam-lord/knex/query/ast"
	"github.com/sam-lord/knex/query/compiler"
)

// Source yields the connection a query runs on: a pool acquire for
// free-standing chains, the pinned connection for transaction-bound
// ones. The returned release func takes the execution error so the
// source can decide between returning and destroying.
type Source interface {
	Conn(ctx context.Context) (*pool.Connection, func(err error), error)
	TxID() string
}

// Payload is the event payload for query lifecycle events.
type Payload struct {
	UID      string
	TxID     string
	SQL      string
	Bindings []interface{}
	Method   ast.Method
}

// Events carries the emitter callbacks; nil members are skipped.
type Events struct {
	Query    func(Payload)
	Response func(Payload, *driver.Result)
	Error    func(Payload, error)
}

// PostProcess is the user's response hook, handed the raw result and
// the query's opaque context.
type PostProcess func(result *driver.Result, queryContext interface{}) *driver.Result

// Response is the post-processed outcome of one execution.
type Response struct {
	Result *driver.Result

	// First is the single row for first-terminals; nil marks absent.
	First driver.Row

	// Plucked is the flat value list for pluck-terminals.
	Plucked []interface{}
}

// Options parameterize a Runner once at client construction.
type Options struct {
	PostProcess PostProcess

	// CompileSQLOnError includes the rendered SQL in error text.
	CompileSQLOnError bool
}

// Runner executes compiled queries through a driver adapter.
type Runner struct {
	adapter driver.Adapter
	d       *dialect.Dialect
	events  Events
	opts    Options
}

// New builds a runner.
func New(adapter driver.Adapter, d *dialect.Dialect, events Events, opts Options) *Runner {
	return &Runner{adapter: adapter, d: d, events: events, opts: opts}
}

// Run executes c on a connection from src. A non-zero timeout bounds
// the wait; with cancelOnTimeout the in-flight statement is
// cancelled, without it the statement finishes server-side and only
// the wait is abandoned.
func (r *Runner) Run(ctx context.Context, c *compiler.Compiled, src Source, timeout time.Duration, cancelOnTimeout bool) (*Response, error) {
	if timeout > 0 && cancelOnTimeout {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return r.run(cctx, c, src)
	}
	if timeout > 0 {
		type outcome struct {
			resp *Response
			err  error
		}
		done := make(chan outcome, 1)
		go func() {
			resp, err := r.run(ctx, c, src)
			done <- outcome{resp, err}
		}()
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case out := <-done:
			return out.resp, out.err
		case <-timer.C:
			// best effort: the statement continues server-side and
			// the goroutine releases the connection on completion
			return nil, &QueryError{Kind: ErrTimeout, Cause: ErrTimeout, SQL: c.SQL, Method: c.Method, HideSQL: !r.opts.CompileSQLOnError}
		}
	}
	return r.run(ctx, c, src)
}

func (r *Runner) run(ctx context.Context, c *compiler.Compiled, src Source) (*Response, error) {
	conn, release, err := src.Conn(ctx)
	if err != nil {
		return nil, r.acquireError(c, err)
	}

	payload := Payload{UID: conn.UID, TxID: src.TxID(), SQL: c.SQL, Bindings: c.Bindings, Method: c.Method}
	if r.events.Query != nil {
		r.events.Query(payload)
	}

	result, err := r.adapter.Execute(ctx, conn.Raw, c)
	if err != nil {
		normalized := r.normalize(c, payload, err)
		if r.events.Error != nil {
			r.events.Error(payload, normalized)
		}
		release(normalized)
		return nil, normalized
	}

	if r.opts.PostProcess != nil {
		result = r.opts.PostProcess(result, c.Context)
	}
	resp := shape(c, result)

	if r.events.Response != nil {
		r.events.Response(payload, result)
	}
	release(nil)
	return resp, nil
}

// Stream executes c forwarding rows into sink one at a time;
// back-pressure is the sink's: the next row is not read until the
// sink returns. A sink error stops the stream and surfaces as a
// stream error.
func (r *Runner) Stream(ctx context.Context, c *compiler.Compiled, src Source, sink func(driver.Row) error) error {
	conn, release, err := src.Conn(ctx)
	if err != nil {
		return r.acquireError(c, err)
	}
	payload := Payload{UID: conn.UID, TxID: src.TxID(), SQL: c.SQL, Bindings: c.Bindings, Method: c.Method}
	if r.events.Query != nil {
		r.events.Query(payload)
	}
	sinkFailed := false
	err = r.adapter.Stream(ctx, conn.Raw, c, func(row driver.Row) error {
		if err := sink(row); err != nil {
			sinkFailed = true
			return fmt.Errorf("%w: %v", ErrStream, err)
		}
		return nil
	})
	if err != nil {
		var normalized error
		if sinkFailed {
			normalized = &QueryError{Kind: ErrStream, Cause: err, SQL: c.SQL, Method: c.Method, UID: conn.UID, TxID: src.TxID(), HideSQL: !r.opts.CompileSQLOnError}
		} else {
			normalized = r.normalize(c, payload, err)
		}
		if r.events.Error != nil {
			r.events.Error(payload, normalized)
		}
		release(normalized)
		return normalized
	}
	if r.events.Response != nil {
		r.events.Response(payload, &driver.Result{Context: c.Context})
	}
	release(nil)
	return nil
}

// shape applies method-specific post-processing: first unwraps to a
// single row, pluck to a flat list, and RETURNING-less DML gets a
// fabricated response from the driver's counters.
func shape(c *compiler.Compiled, result *driver.Result) *Response {
	resp := &Response{Result: result}
	switch c.Method {
	case ast.MethodFirst:
		if len(result.Rows) > 0 {
			resp.First = result.Rows[0]
		}
	case ast.MethodPluck:
		resp.Plucked = make([]interface{}, 0, len(result.Rows))
		for _, row := range result.Rows {
			resp.Plucked = append(resp.Plucked, row[c.PluckColumn])
		}
	case ast.MethodInsert, ast.MethodUpdate, ast.MethodDelete:
		if len(c.Returning) > 0 && len(result.Rows) == 0 && result.HasLastInsertID {
			col := c.Returning[0]
			if col == "*" {
				col = "id"
			}
			result.Rows = []driver.Row{{col: result.LastInsertID}}
			resp.Plucked = []interface{}{result.LastInsertID}
		}
	}
	return resp
}

func (r *Runner) acquireError(c *compiler.Compiled, err error) error {
	kind := ErrConnection
	switch {
	case errors.Is(err, pool.ErrAcquireTimeout), errors.Is(err, context.DeadlineExceeded):
		kind = ErrTimeout
	case errors.Is(err, context.Canceled):
		kind = ErrCancelled
	case errors.Is(err, ErrTransaction):
		kind = ErrTransaction
	}
	return &QueryError{Kind: kind, Cause: err, SQL: c.SQL, Method: c.Method, HideSQL: !r.opts.CompileSQLOnError}
}

// normalize maps a driver error through the dialect's transformer
// and decorates it with the rendered SQL.
func (r *Runner) normalize(c *compiler.Compiled, payload Payload, err error) error {
	kind := kindError(r.d.Classify(err))
	if kind == nil {
		kind = err
	}
	return &QueryError{
		Kind:    kind,
		Cause:   err,
		SQL:     c.SQL,
		Method:  c.Method,
		UID:     payload.UID,
		TxID:    payload.TxID,
		HideSQL: !r.opts.CompileSQLOnError,
	}
}
