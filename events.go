package knex

import (
	"sync"

	"github.com/sam-lord/knex/driver"
	"github.com/sam-lord/knex/runner"
)

// QueryPayload is the event payload carried by query lifecycle
// events: uid, txid, sql, bindings and method.
type QueryPayload = runner.Payload

// Emitter fans query lifecycle events out to registered listeners.
// Listener panics are not recovered; keep listeners cheap.
type Emitter struct {
	mu       sync.RWMutex
	start    []func()
	query    []func(QueryPayload)
	response []func(QueryPayload, *driver.Result)
	errs     []func(QueryPayload, error)
}

// OnStart registers a listener for client start.
func (e *Emitter) OnStart(fn func()) {
	e.mu.Lock()
	e.start = append(e.start, fn)
	e.mu.Unlock()
}

// OnQuery registers a listener fired before each execution.
func (e *Emitter) OnQuery(fn func(QueryPayload)) {
	e.mu.Lock()
	e.query = append(e.query, fn)
	e.mu.Unlock()
}

// OnQueryResponse registers a listener fired after a successful
// execution.
func (e *Emitter) OnQueryResponse(fn func(QueryPayload, *driver.Result)) {
	e.mu.Lock()
	e.response = append(e.response, fn)
	e.mu.Unlock()
}

// OnQueryError registers a listener fired after a failed execution.
func (e *Emitter) OnQueryError(fn func(QueryPayload, error)) {
	e.mu.Lock()
	e.errs = append(e.errs, fn)
	e.mu.Unlock()
}

func (e *Emitter) emitStart() {
	e.mu.RLock()
	listeners := e.start
	e.mu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}

func (e *Emitter) emitQuery(p QueryPayload) {
	e.mu.RLock()
	listeners := e.query
	e.mu.RUnlock()
	for _, fn := range listeners {
		fn(p)
	}
}

func (e *Emitter) emitResponse(p QueryPayload, r *driver.Result) {
	e.mu.RLock()
	listeners := e.response
	e.mu.RUnlock()
	for _, fn := range listeners {
		fn(p, r)
	}
}

func (e *Emitter) emitError(p QueryPayload, err error) {
	e.mu.RLock()
	listeners := e.errs
	e.mu.RUnlock()
	for _, fn := range listeners {
		fn(p, err)
	}
}
