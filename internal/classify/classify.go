// Package classify runs one uploaded image through preprocessing and the
// loaded model.
package classify

import (
	"bytes"
	"errors"
	"fmt"
	"image/jpeg"
	"time"

	"github.com/Brownie44l1/teachable-api/internal/model"
	"github.com/Brownie44l1/teachable-api/internal/preprocess"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrModelNotReady = errors.New("model not ready")
	ErrPrediction    = errors.New("prediction failed")
)

// ModelSource hands out the loaded model without blocking.
type ModelSource interface {
	Model() (model.Predictor, bool)
}

type Result struct {
	Class int `json:"class"`
}

type Classifier struct {
	models ModelSource
	pre    *preprocess.Preprocessor

	predictions *prometheus.CounterVec
	duration    prometheus.Histogram
}

func New(models ModelSource, pre *preprocess.Preprocessor, reg prometheus.Registerer) *Classifier {
	c := &Classifier{
		models: models,
		pre:    pre,
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "predictions_total",
			Help: "Predictions by outcome",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "prediction_duration_seconds",
			Help:    "Time spent preprocessing and running the model",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(c.predictions, c.duration)
	}
	return c
}

// Classify returns the predicted class index for raw image bytes. It fails
// with ErrModelNotReady when no model is loaded and wraps every other
// failure, panics included, in ErrPrediction.
func (c *Classifier) Classify(raw []byte) (res Result, err error) {
	p, ok := c.models.Model()
	if !ok {
		c.predictions.WithLabelValues("not_ready").Inc()
		return Result{}, ErrModelNotReady
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res, err = Result{}, fmt.Errorf("%w: panic: %v", ErrPrediction, r)
		}
		c.duration.Observe(time.Since(start).Seconds())
		if err != nil {
			c.predictions.WithLabelValues("failed").Inc()
		} else {
			c.predictions.WithLabelValues("ok").Inc()
		}
	}()

	class, err := c.run(p, raw)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrPrediction, err)
	}
	return Result{Class: class}, nil
}

func (c *Classifier) run(p model.Predictor, raw []byte) (int, error) {
	canonical, err := c.pre.Canonicalize(raw)
	if err != nil {
		return 0, fmt.Errorf("preprocess: %w", err)
	}

	img, err := jpeg.Decode(bytes.NewReader(canonical))
	if err != nil {
		return 0, fmt.Errorf("decode canonical image: %w", err)
	}

	info := p.Info()
	input, err := model.ImageTensor(img, info)
	if err != nil {
		return 0, err
	}

	scores, err := p.Scores(input)
	if err != nil {
		return 0, err
	}
	if k := info.NumClasses(); len(scores) != k {
		return 0, fmt.Errorf("model returned %d scores, expected %d", len(scores), k)
	}

	return model.Argmax(scores)
}
