// Package detector runs the food detection model and turns its raw outputs
// into labeled bounding boxes.
package detector

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/tphakala/foodnet-go/internal/conf"
	"github.com/tphakala/foodnet-go/internal/errors"
	"github.com/tphakala/foodnet-go/internal/logger"
)

// Engine serializes access to a Runner and normalizes its output.
type Engine struct {
	mu        sync.Mutex
	runner    Runner
	labels    LabelSource
	threshold float64
	inputSize int
}

// NewEngine wraps runner. Labels are fetched from labels on every call so
// categories registered at runtime are picked up.
func NewEngine(runner Runner, labels LabelSource, threshold float64, inputSize int) (*Engine, error) {
	if runner == nil {
		return nil, errors.NewStd("detector: runner is required")
	}
	if labels == nil {
		return nil, errors.NewStd("detector: label source is required")
	}
	if inputSize <= 0 {
		return nil, errors.Newf("detector: input size must be positive, got %d", inputSize).
			Category(errors.CategoryValidation).
			Build()
	}

	return &Engine{
		runner:    runner,
		labels:    labels,
		threshold: threshold,
		inputSize: inputSize,
	}, nil
}

// New loads the TFLite model described by settings. A configured label file
// takes precedence over fallback.
func New(settings *conf.ModelSettings, fallback LabelSource) (*Engine, error) {
	labels := fallback
	if settings.LabelPath != "" {
		static, err := LoadLabels(settings.LabelPath)
		if err != nil {
			return nil, err
		}
		GetLogger().Info("loaded labels", logger.String("path", settings.LabelPath), logger.Int("count", len(static)))
		labels = static
	}

	runner, err := NewTFLiteRunner(settings)
	if err != nil {
		return nil, err
	}

	engine, err := NewEngine(runner, labels, settings.Threshold, settings.InputSize)
	if err != nil {
		_ = runner.Close()
		return nil, err
	}
	return engine, nil
}

// Threshold returns the confidence threshold.
func (e *Engine) Threshold() float64 {
	return e.threshold
}

// Infer runs the model on img. At most one inference runs at a time.
func (e *Engine) Infer(ctx context.Context, img image.Image) ([]Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.New(err).Category(errors.CategoryCancellation).Build()
	}

	labels, err := e.labels.Labels(ctx)
	if err != nil {
		return nil, errors.New(fmt.Errorf("detector: load labels: %w", err)).
			Category(errors.CategoryLabelLoad).
			Build()
	}

	input := Preprocess(img, e.inputSize)

	e.mu.Lock()
	if err := ctx.Err(); err != nil {
		e.mu.Unlock()
		return nil, errors.New(err).Category(errors.CategoryCancellation).Build()
	}
	start := time.Now()
	scores, boxes, err := e.runner.Run(input)
	elapsed := time.Since(start)
	e.mu.Unlock()

	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryInference).
			Timing("inference", elapsed).
			Build()
	}

	predictions, err := Normalize(scores, boxes, labels, e.threshold)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryInference).
			Context("labels", len(labels)).
			Context("scores", len(scores)).
			Build()
	}

	GetLogger().WithContext(ctx).Debug("inference complete",
		logger.Int("scores", len(scores)),
		logger.Int("boxes", len(boxes)),
		logger.Int("predictions", len(predictions)),
		logger.Duration("elapsed", elapsed))

	return predictions, nil
}

// Close releases the model.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runner.Close()
}
