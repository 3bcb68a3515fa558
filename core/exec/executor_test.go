package exec

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"protocolreserve/core/events"
	"protocolreserve/core/state"
	"protocolreserve/storage"
)

type noted struct{ name string }

func (noted) EventType() string { return "noted" }

type callRecord struct {
	method string
	err    error
}

type recorder struct {
	mu    sync.Mutex
	calls []callRecord
}

func (r *recorder) ObserveCall(method string, _ time.Duration, err error) {
	r.mu.Lock()
	r.calls = append(r.calls, callRecord{method: method, err: err})
	r.mu.Unlock()
}

func readInt(t *testing.T, m *state.Manager, key string) (int64, bool) {
	t.Helper()
	var v big.Int
	ok, err := m.KVGet([]byte(key), &v)
	require.NoError(t, err)
	return v.Int64(), ok
}

func TestExecuteCommitsAndPublishes(t *testing.T) {
	db := storage.NewMemDB()
	st := state.NewManager(db)
	sink := &events.Buffer{}
	obs := &recorder{}
	ex := New(st, WithSink(sink), WithObserver(obs))

	err := ex.Execute(context.Background(), "set", func(context.Context) error {
		ex.Emitter().Emit(noted{name: "first"})
		return st.KVPut([]byte("x"), big.NewInt(5))
	})
	require.NoError(t, err)

	require.Equal(t, 0, st.Pending())
	require.Equal(t, 1, db.Len())
	v, ok := readInt(t, st, "x")
	require.True(t, ok)
	require.Equal(t, int64(5), v)
	require.Equal(t, []events.Event{noted{name: "first"}}, sink.Events())
	require.Equal(t, []callRecord{{method: "set"}}, obs.calls)
}

func TestExecuteRevertsFailedCall(t *testing.T) {
	st := state.NewManager(storage.NewMemDB())
	sink := &events.Buffer{}
	obs := &recorder{}
	ex := New(st, WithSink(sink), WithObserver(obs))

	require.NoError(t, ex.Execute(context.Background(), "seed", func(context.Context) error {
		return st.KVPut([]byte("x"), big.NewInt(1))
	}))

	boom := errors.New("boom")
	err := ex.Execute(context.Background(), "fail", func(context.Context) error {
		ex.Emitter().Emit(noted{name: "dropped"})
		if err := st.KVPut([]byte("x"), big.NewInt(2)); err != nil {
			return err
		}
		if err := st.KVPut([]byte("y"), big.NewInt(3)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	v, ok := readInt(t, st, "x")
	require.True(t, ok)
	require.Equal(t, int64(1), v)
	_, ok = readInt(t, st, "y")
	require.False(t, ok)
	require.Zero(t, sink.Len())
	require.Len(t, obs.calls, 2)
	require.ErrorIs(t, obs.calls[1].err, boom)
}

func TestExecuteRecoversPanics(t *testing.T) {
	st := state.NewManager(storage.NewMemDB())
	ex := New(st)
	err := ex.Execute(context.Background(), "panic", func(context.Context) error {
		if err := st.KVPut([]byte("x"), big.NewInt(9)); err != nil {
			return err
		}
		panic("unexpected")
	})
	require.ErrorContains(t, err, "panicked")
	_, ok := readInt(t, st, "x")
	require.False(t, ok)
}

func TestExecuteSerializesCalls(t *testing.T) {
	st := state.NewManager(storage.NewMemDB())
	ex := New(st)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := ex.Execute(context.Background(), "inc", func(context.Context) error {
				var v big.Int
				if _, err := st.KVGet([]byte("counter"), &v); err != nil {
					return err
				}
				return st.KVPut([]byte("counter"), v.Add(&v, big.NewInt(1)))
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	v, ok := readInt(t, st, "counter")
	require.True(t, ok)
	require.Equal(t, int64(32), v)
}

func TestExecuteRecordsSpans(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	st := state.NewManager(storage.NewMemDB())
	ex := New(st, WithTracer(provider.Tracer("test")))

	require.NoError(t, ex.Execute(context.Background(), "ok", func(context.Context) error { return nil }))
	require.Error(t, ex.Execute(context.Background(), "bad", func(context.Context) error { return errors.New("nope") }))

	ended := spans.Ended()
	require.Len(t, ended, 2)
	require.Equal(t, "treasury.ok", ended[0].Name())
	require.Equal(t, codes.Unset, ended[0].Status().Code)
	require.Equal(t, "treasury.bad", ended[1].Name())
	require.Equal(t, codes.Error, ended[1].Status().Code)
}

func TestExecuteRejectsCancelledContext(t *testing.T) {
	ex := New(state.NewManager(storage.NewMemDB()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := ex.Execute(ctx, "late", func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, called)
	require.ErrorIs(t, ex.Execute(context.Background(), "", nil), errEmptyMethod)
}

func TestViewReadsWithoutPublishing(t *testing.T) {
	st := state.NewManager(storage.NewMemDB())
	sink := &events.Buffer{}
	obs := &recorder{}
	ex := New(st, WithSink(sink), WithObserver(obs))
	require.NoError(t, ex.Execute(context.Background(), "set", func(context.Context) error {
		return st.KVPut([]byte("x"), big.NewInt(7))
	}))

	var seen int64
	require.NoError(t, ex.View(func() error {
		v, ok := readInt(t, st, "x")
		require.True(t, ok)
		seen = v
		return nil
	}))
	require.Equal(t, int64(7), seen)
	require.Len(t, obs.calls, 1)
	require.Zero(t, sink.Len())

	boom := errors.New("boom")
	require.ErrorIs(t, ex.View(func() error { return boom }), boom)
}
