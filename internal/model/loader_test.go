package model

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakePredictor struct {
	closed atomic.Bool
}

func (f *fakePredictor) Scores(input []float32) ([]float32, error) { return []float32{1}, nil }
func (f *fakePredictor) Info() Metadata {
	return Metadata{InputShape: []int64{1, 2, 2, 3}, OutputShape: []int64{1, 1}, Layout: LayoutNHWC}
}
func (f *fakePredictor) Close() { f.closed.Store(true) }

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestLoaderNotReadyBeforeLoadCompletes(t *testing.T) {
	release := make(chan struct{})
	fake := &fakePredictor{}
	l := NewLoader(func(dir string) (Predictor, error) {
		<-release
		return fake, nil
	}, "/model", nil)

	_, ready := l.Model()
	equals(t, ready, false)
	equals(t, l.State(), StateIdle)

	l.Start()
	_, ready = l.Model()
	equals(t, ready, false)
	equals(t, l.State(), StateLoading)
	equals(t, l.Err(), nil)

	close(release)
	ok(t, l.Wait(waitCtx(t)))

	p, ready := l.Model()
	equals(t, ready, true)
	equals(t, p, Predictor(fake))
	equals(t, l.State(), StateReady)
}

func TestLoaderStartsOnce(t *testing.T) {
	var calls atomic.Int32
	l := NewLoader(func(dir string) (Predictor, error) {
		calls.Add(1)
		return &fakePredictor{}, nil
	}, "/model", nil)

	for i := 0; i < 5; i++ {
		l.Start()
	}
	ok(t, l.Wait(waitCtx(t)))
	equals(t, calls.Load(), int32(1))
}

func TestLoaderFailureLeavesSlotEmpty(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	boom := errors.New("no such file")
	l := NewLoader(func(dir string) (Predictor, error) {
		return nil, boom
	}, "/model", zap.New(core))

	l.Start()
	err := l.Wait(waitCtx(t))
	equals(t, errors.Is(err, boom), true)
	equals(t, errors.Is(l.Err(), boom), true)
	equals(t, l.State(), StateFailed)

	_, ready := l.Model()
	equals(t, ready, false)
	equals(t, logs.Len(), 1)

	// A failed load is permanent.
	l.Start()
	equals(t, l.State(), StateFailed)
}

func TestLoaderRecoversPanic(t *testing.T) {
	l := NewLoader(func(dir string) (Predictor, error) {
		panic("corrupt weights")
	}, "/model", nil)

	l.Start()
	notEquals(t, l.Wait(waitCtx(t)), nil)
	equals(t, l.State(), StateFailed)
}

func TestLoaderNilModelIsFailure(t *testing.T) {
	l := NewLoader(func(dir string) (Predictor, error) {
		return nil, nil
	}, "/model", nil)

	l.Start()
	notEquals(t, l.Wait(waitCtx(t)), nil)
	_, ready := l.Model()
	equals(t, ready, false)
}

func TestLoaderPassesDir(t *testing.T) {
	var got string
	l := NewLoader(func(dir string) (Predictor, error) {
		got = dir
		return &fakePredictor{}, nil
	}, "/srv/model", nil)

	l.Start()
	ok(t, l.Wait(waitCtx(t)))
	equals(t, got, "/srv/model")
}

func TestLoaderCloseReleasesModel(t *testing.T) {
	fake := &fakePredictor{}
	l := NewLoader(func(dir string) (Predictor, error) { return fake, nil }, "/model", nil)

	l.Start()
	ok(t, l.Close(waitCtx(t)))
	equals(t, fake.closed.Load(), true)

	_, ready := l.Model()
	equals(t, ready, false)
}

func TestLoaderCloseAfterDeadlineStillReleasesLoadedModel(t *testing.T) {
	fake := &fakePredictor{}
	l := NewLoader(func(dir string) (Predictor, error) { return fake, nil }, "/model", nil)
	l.Start()
	ok(t, l.Wait(waitCtx(t)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 100; i++ {
		ok(t, l.Close(ctx))
	}
	equals(t, fake.closed.Load(), true)
}

func TestLoaderCloseGivesUpOnSlowLoad(t *testing.T) {
	release := make(chan struct{})
	fake := &fakePredictor{}
	l := NewLoader(func(dir string) (Predictor, error) {
		<-release
		return fake, nil
	}, "/model", nil)
	l.Start()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	equals(t, l.Close(ctx), context.Canceled)

	close(release)
	ok(t, l.Close(waitCtx(t)))
	equals(t, fake.closed.Load(), true)
}

func TestLoaderWaitBeforeStart(t *testing.T) {
	l := NewLoader(func(dir string) (Predictor, error) { return &fakePredictor{}, nil }, "/model", nil)
	notEquals(t, l.Wait(waitCtx(t)), nil)
	ok(t, l.Close(waitCtx(t)))
}

func TestStateString(t *testing.T) {
	equals(t, StateLoading.String(), "loading")
	equals(t, StateReady.String(), "ready")
	equals(t, StateFailed.String(), "failed")
	equals(t, State(9).String(), "State(9)")
}
