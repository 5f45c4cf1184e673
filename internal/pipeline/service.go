// Package pipeline implements the worker side of the datagram protocol:
// image requests become predictions plus one new record, correction messages
// become record updates.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"math"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/foodnet-go/internal/categories"
	"github.com/tphakala/foodnet-go/internal/detector"
	"github.com/tphakala/foodnet-go/internal/errors"
	"github.com/tphakala/foodnet-go/internal/logger"
	"github.com/tphakala/foodnet-go/internal/observability/metrics"
)

// RecordStore is the part of the record store used by the pipeline.
type RecordStore interface {
	UpsertNew(ctx context.Context, imgPath, label string, bbox []float64) (int, error)
	Correct(ctx context.Context, imgID int, label string, bbox []float64) error
	CategoryID(ctx context.Context, label string) (int, error)
}

// Detector runs inference on a decoded image.
type Detector interface {
	Infer(ctx context.Context, img image.Image) ([]detector.Prediction, error)
}

// ImageSaver persists raw image bytes and returns the record path.
type ImageSaver interface {
	Save(data []byte) (string, error)
}

// RetrainRequester schedules retraining without blocking.
type RetrainRequester interface {
	Request(reason string) bool
}

// Dependencies wires a Service. Retrain and Metrics are optional.
type Dependencies struct {
	Store          RecordStore
	Detector       Detector
	Images         ImageSaver
	Retrain        RetrainRequester
	Metrics        *metrics.PipelineMetrics
	RequestTimeout time.Duration
}

// Service handles image requests and correction messages. It is safe for
// concurrent use; serialization happens in the detector and the store.
type Service struct {
	store          RecordStore
	detector       Detector
	images         ImageSaver
	retrain        RetrainRequester
	metrics        *metrics.PipelineMetrics
	requestTimeout time.Duration
}

// New validates deps and returns a Service.
func New(deps Dependencies) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.NewStd("pipeline: record store is required")
	case deps.Detector == nil:
		return nil, errors.NewStd("pipeline: detector is required")
	case deps.Images == nil:
		return nil, errors.NewStd("pipeline: image store is required")
	}

	return &Service{
		store:          deps.Store,
		detector:       deps.Detector,
		images:         deps.Images,
		retrain:        deps.Retrain,
		metrics:        deps.Metrics,
		requestTimeout: deps.RequestTimeout,
	}, nil
}

// begin attaches a trace id and the request deadline to ctx.
func (s *Service) begin(ctx context.Context) (context.Context, context.CancelFunc) {
	if logger.TraceIDFromContext(ctx) == "" {
		ctx = logger.WithTraceID(ctx, uuid.NewString())
	}
	if s.requestTimeout > 0 {
		return context.WithTimeout(ctx, s.requestTimeout)
	}
	return context.WithCancel(ctx)
}

// HandleImage stores data, runs inference and creates one record from the
// first prediction. origin is only used for logging.
func (s *Service) HandleImage(ctx context.Context, origin string, data []byte) (resp Response) {
	ctx, cancel := s.begin(ctx)
	defer cancel()
	defer s.metrics.TrackActive()()

	start := time.Now()
	log := GetLogger().WithContext(ctx).With(logger.String("origin", origin))

	var failure error
	defer func() {
		if r := recover(); r != nil {
			failure = errors.Newf("panic handling image: %v", r).Category(errors.CategoryWorker).Build()
			log.Error("recovered from panic", logger.Any("panic", r), logger.String("stack", string(debug.Stack())))
			resp = ErrorResponse{Error: MsgInternal}
		}
		s.metrics.RecordRequest(metrics.KindImage, time.Since(start), failure)
	}()

	imgPath, err := s.images.Save(data)
	if err != nil {
		failure = err
		log.Error("failed to store image bytes", logger.Error(err), logger.Int("bytes", len(data)))
		return ErrorResponse{Error: MsgInternal}
	}

	img, err := detector.DecodeImage(data)
	if err != nil {
		failure = err
		log.Warn("invalid image", logger.Error(err), logger.Int("bytes", len(data)), logger.String("img_path", imgPath))
		return ErrorResponse{Error: MsgInvalidImage}
	}

	inferStart := time.Now()
	predictions, err := s.detector.Infer(ctx, img)
	if err != nil {
		failure = err
		log.Error("inference failed", logger.Error(err), logger.String("img_path", imgPath))
		return ErrorResponse{Error: MsgInferenceFailed}
	}
	s.metrics.RecordInference(time.Since(inferStart), len(predictions))

	if len(predictions) == 0 {
		log.Info("no predictions above threshold", logger.String("img_path", imgPath))
		return PredictionsResponse{Predictions: []PredictionResult{}}
	}

	first := predictions[0]
	imgID, err := s.store.UpsertNew(ctx, imgPath, first.Label, first.BoundingBox.Slice())
	if err != nil {
		failure = err
		log.Error("failed to create image record", logger.Error(err), logger.String("img_path", imgPath))
		return ErrorResponse{Error: MsgInternal}
	}
	s.metrics.IncrementRecordsCreated()

	results := make([]PredictionResult, len(predictions))
	for i, p := range predictions {
		categoryID, err := s.store.CategoryID(ctx, p.Label)
		if err != nil {
			log.Warn("category lookup failed", logger.Error(err), logger.String("label", p.Label))
			categoryID = categories.NotFound
		}
		results[i] = PredictionResult{
			ImgID:          imgID,
			PredictedLabel: p.Label,
			CategoryID:     categoryID,
			Confidence:     roundConfidence(p.Confidence),
			BoundingBox:    p.BoundingBox.Slice(),
		}
	}

	log.Info("image processed",
		logger.Int("img_id", imgID),
		logger.String("img_path", imgPath),
		logger.String("top_label", first.Label),
		logger.Float64("top_confidence", first.Confidence),
		logger.Int("predictions", len(results)),
		logger.Duration("elapsed", time.Since(start)))

	return PredictionsResponse{Predictions: results}
}

// HandleCorrection applies each confirmed label of payload to its record in
// list order, then requests retraining if anything changed.
func (s *Service) HandleCorrection(ctx context.Context, origin string, payload []byte) (resp Response) {
	ctx, cancel := s.begin(ctx)
	defer cancel()
	defer s.metrics.TrackActive()()

	start := time.Now()
	log := GetLogger().WithContext(ctx).With(logger.String("origin", origin))

	var failure error
	defer func() {
		if r := recover(); r != nil {
			failure = errors.Newf("panic handling correction: %v", r).Category(errors.CategoryWorker).Build()
			log.Error("recovered from panic", logger.Any("panic", r), logger.String("stack", string(debug.Stack())))
			resp = ErrorResponse{Error: MsgInternal}
		}
		s.metrics.RecordRequest(metrics.KindCorrection, time.Since(start), failure)
	}()

	msg, err := ParseCorrection(payload)
	if err != nil {
		failure = err
		log.Warn("rejected correction message", logger.Error(err), logger.Int("bytes", len(payload)))
		return ErrorResponse{Error: err.Error()}
	}

	applied, failed := 0, 0
	var lastErr error
	for i, item := range msg.Items {
		if item.Skip {
			log.Debug("skipping correction without label", logger.Int("item", i))
			continue
		}

		err := item.Err
		if err == nil {
			err = s.store.Correct(ctx, msg.ImgID, item.Label, item.BoundingBox)
		}
		if err != nil {
			failed++
			lastErr = err
			log.Warn("correction failed",
				logger.Int("img_id", msg.ImgID),
				logger.Int("item", i),
				logger.Error(err))
			continue
		}

		applied++
		log.Info("correction applied",
			logger.Int("img_id", msg.ImgID),
			logger.String("label", item.Label))
	}
	s.metrics.RecordCorrections(applied, failed)

	if applied == 0 {
		failure = lastErr
		if failure == nil {
			failure = validationf("no correction item has a label")
		}
		return CorrectionResponse{Status: StatusFailed, Failed: failed, Error: correctionFailureText(failure)}
	}

	if s.retrain != nil {
		reason := fmt.Sprintf("correction of img_id %d", msg.ImgID)
		if !s.retrain.Request(reason) {
			log.Warn("retrain request was not queued", logger.Int("img_id", msg.ImgID))
		}
	}

	return CorrectionResponse{Status: StatusSuccess, Applied: applied, Failed: failed}
}

// correctionFailureText maps a store error to a client facing message.
func correctionFailureText(err error) string {
	switch {
	case errors.IsNotFound(err):
		return "image record not found"
	case errors.IsCategory(err, errors.CategoryValidation):
		return err.Error()
	default:
		return "correction could not be stored"
	}
}

func roundConfidence(c float64) float64 {
	return math.Round(c*1e6) / 1e6
}
