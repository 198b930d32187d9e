package model

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// State is the lifecycle of the process-wide model slot.
type State int32

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// OpenFunc loads a model from a directory.
type OpenFunc func(dir string) (Predictor, error)

type handle struct {
	p Predictor
}

// Loader owns the single model instance of the process. The model is
// published exactly once; readers never block and never observe a partially
// loaded model.
type Loader struct {
	open OpenFunc
	dir  string
	log  *zap.Logger

	once  sync.Once
	done  chan struct{}
	state atomic.Int32
	model atomic.Pointer[handle]
	err   error
}

func NewLoader(open OpenFunc, dir string, log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{
		open: open,
		dir:  dir,
		log:  log,
		done: make(chan struct{}),
	}
}

// Start begins loading in the background. Only the first call has an effect.
func (l *Loader) Start() {
	l.once.Do(func() {
		l.state.Store(int32(StateLoading))
		go l.load()
	})
}

func (l *Loader) load() {
	defer close(l.done)

	l.log.Info("loading model", zap.String("dir", l.dir))
	start := time.Now()

	p, err := l.safeOpen()
	if err != nil {
		l.err = err
		l.state.Store(int32(StateFailed))
		l.log.Error("failed to load model, predictions disabled until restart",
			zap.String("dir", l.dir), zap.Error(err))
		return
	}

	l.model.Store(&handle{p: p})
	l.state.Store(int32(StateReady))

	info := p.Info()
	h, w := info.ImageSize()
	l.log.Info("model loaded",
		zap.String("dir", l.dir),
		zap.Duration("took", time.Since(start)),
		zap.Int64s("input_shape", info.InputShape),
		zap.Int("classes", info.NumClasses()),
		zap.Int("height", h),
		zap.Int("width", w))
}

func (l *Loader) safeOpen() (p Predictor, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, fmt.Errorf("model load panicked: %v", r)
		}
	}()

	p, err = l.open(l.dir)
	if err == nil && p == nil {
		err = errors.New("model loader returned no model")
	}
	return p, err
}

// Model returns the loaded model, or false while it is loading or after the
// load failed.
func (l *Loader) Model() (Predictor, bool) {
	h := l.model.Load()
	if h == nil {
		return nil, false
	}
	return h.p, true
}

func (l *Loader) State() State {
	return State(l.state.Load())
}

// Err returns the load error once loading has failed.
func (l *Loader) Err() error {
	select {
	case <-l.done:
		return l.err
	default:
		return nil
	}
}

// Wait blocks until loading finishes or ctx is done.
func (l *Loader) Wait(ctx context.Context) error {
	if l.State() == StateIdle {
		return errors.New("model loader not started")
	}
	select {
	case <-l.done:
		return l.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close waits for an in-flight load and releases the model. A finished
// load is always released, even with ctx already done.
func (l *Loader) Close(ctx context.Context) error {
	if l.State() != StateIdle {
		select {
		case <-l.done:
		default:
			select {
			case <-l.done:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if h := l.model.Swap(nil); h != nil {
		h.p.Close()
	}
	return nil
}
