package exec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"protocolreserve/core/events"
)

const tracerName = "protocolreserve/core/exec"

var errEmptyMethod = errors.New("exec: method must not be empty")

// State is the journaled state the executor protects.
type State interface {
	Snapshot() int
	RevertToSnapshot(id int)
	Commit() error
}

// Observer is told about every executed call.
type Observer interface {
	ObserveCall(method string, elapsed time.Duration, err error)
}

// Executor runs treasury calls one at a time. A call that fails leaves no
// trace: its state writes are reverted and its events dropped. A call that
// succeeds is committed and its events are published to the sinks in
// emission order.
type Executor struct {
	mu       sync.Mutex
	state    State
	buffer   *events.Buffer
	sinks    []events.Emitter
	logger   *slog.Logger
	tracer   trace.Tracer
	observer Observer
}

// Option customises an Executor.
type Option func(*Executor)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer sets the tracer. The default is the global provider's tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithSink adds a destination for the events of successful calls.
func WithSink(sink events.Emitter) Option {
	return func(e *Executor) {
		if sink != nil {
			e.sinks = append(e.sinks, sink)
		}
	}
}

// WithObserver registers an observer of call outcomes.
func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observer = o }
}

// New returns an executor guarding state.
func New(state State, opts ...Option) *Executor {
	e := &Executor{
		state:  state,
		buffer: &events.Buffer{},
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emitter is the emitter components must be wired to so their events are
// published only when the surrounding call succeeds.
func (e *Executor) Emitter() events.Emitter { return e.buffer }

// Execute runs fn as a single atomic call named method.
func (e *Executor) Execute(ctx context.Context, method string, fn func(ctx context.Context) error) (err error) {
	if method == "" {
		return errEmptyMethod
	}
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, span := e.tracer.Start(ctx, "treasury."+method, trace.WithAttributes(attribute.String("treasury.method", method)))
	defer span.End()
	started := time.Now()

	snapshot := e.state.Snapshot()
	e.buffer.Reset()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("exec: %s panicked: %v", method, r)
		}
		if err != nil {
			e.state.RevertToSnapshot(snapshot)
			e.buffer.Reset()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.logger.Warn("treasury call failed", slog.String("method", method), slog.Any("error", err))
		}
		if e.observer != nil {
			e.observer.ObserveCall(method, time.Since(started), err)
		}
	}()

	if err = ctx.Err(); err != nil {
		return err
	}
	if err = fn(ctx); err != nil {
		return err
	}
	if err = e.state.Commit(); err != nil {
		return err
	}

	published := e.buffer.Drain()
	for _, ev := range published {
		for _, sink := range e.sinks {
			sink.Emit(ev)
		}
	}
	span.SetAttributes(attribute.Int("treasury.events", len(published)))
	e.logger.Debug("treasury call executed",
		slog.String("method", method),
		slog.Int("events", len(published)),
		slog.Duration("elapsed", time.Since(started)))
	return nil
}

// View runs fn under the executor lock without a snapshot. fn must only read
// state; anything it writes is committed by the next call.
func (e *Executor) View(fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn()
}
