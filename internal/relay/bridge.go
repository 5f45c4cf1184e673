// Package relay bridges an MQTT broker to the datagram ingestion server:
// images and confirmed labels published by mobile clients are forwarded over
// UDP and the replies are published back keyed by client id.
package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/antonholmquist/jason"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/foodnet-go/internal/conf"
	"github.com/tphakala/foodnet-go/internal/errors"
	"github.com/tphakala/foodnet-go/internal/logger"
	"github.com/tphakala/foodnet-go/internal/observability/metrics"
)

const (
	defaultWorkers = 8
	unknownClient  = `"unknown"`
)

// Message is one inbound MQTT message.
type Message struct {
	Topic   string
	Payload []byte
}

// Forwarder sends work to the ingestion server. udpserver.Client implements
// it.
type Forwarder interface {
	SendImage(ctx context.Context, data []byte) ([]byte, error)
	SendCorrection(ctx context.Context, msg any) ([]byte, error)
}

// Publisher publishes a payload on a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// imageMessage is the payload on the images topic.
type imageMessage struct {
	ClientID  json.RawMessage `json:"client_id"`
	ImageData string          `json:"image_data"`
}

// labelsMessage is the payload on the confirmed labels topic.
type labelsMessage struct {
	ClientID        json.RawMessage `json:"client_id,omitempty"`
	ImgID           json.RawMessage `json:"img_id"`
	ConfirmedLabels json.RawMessage `json:"confirmed_labels"`
}

// result is published on the predictions topic.
type result struct {
	ClientID   json.RawMessage `json:"client_id"`
	Prediction string          `json:"prediction,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Bridge forwards messages and publishes results. Handle is safe for
// concurrent use.
type Bridge struct {
	forwarder Forwarder
	publisher Publisher
	topics    conf.BridgeTopics
	workers   int
	metrics   *metrics.MQTTMetrics
}

// NewBridge returns a bridge publishing results on topics.Predictions.
func NewBridge(f Forwarder, p Publisher, topics conf.BridgeTopics, m *metrics.MQTTMetrics) (*Bridge, error) {
	switch {
	case f == nil:
		return nil, errors.NewStd("relay: forwarder is required")
	case p == nil:
		return nil, errors.NewStd("relay: publisher is required")
	case topics.Images == "" || topics.ConfirmedLabels == "" || topics.Predictions == "":
		return nil, errors.Newf("relay: all three topics must be set").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return &Bridge{
		forwarder: f,
		publisher: p,
		topics:    topics,
		workers:   defaultWorkers,
		metrics:   m,
	}, nil
}

// Run handles messages from in until ctx is cancelled or in is closed, with
// at most a fixed number of messages in flight, then waits for running
// handlers.
func (b *Bridge) Run(ctx context.Context, in <-chan Message) error {
	g := new(errgroup.Group)
	g.SetLimit(b.workers)

	GetLogger().Info("relay started",
		logger.String("images_topic", b.topics.Images),
		logger.String("labels_topic", b.topics.ConfirmedLabels),
		logger.String("predictions_topic", b.topics.Predictions))

	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			return nil
		case msg, ok := <-in:
			if !ok {
				_ = g.Wait()
				return nil
			}
			g.Go(func() error {
				b.Handle(ctx, msg)
				return nil
			})
		}
	}
}

// Handle processes one message synchronously.
func (b *Bridge) Handle(ctx context.Context, msg Message) {
	log := GetLogger().With(logger.String("topic", msg.Topic))
	defer func() {
		if r := recover(); r != nil {
			log.Error("recovered from panic in relay handler", logger.Any("panic", r))
		}
	}()

	switch msg.Topic {
	case b.topics.Images:
		b.handleImage(ctx, msg.Payload)
	case b.topics.ConfirmedLabels:
		b.handleLabels(ctx, msg.Payload)
	default:
		log.Warn("message on unexpected topic", logger.Int("bytes", len(msg.Payload)))
	}
}

func (b *Bridge) handleImage(ctx context.Context, payload []byte) {
	log := GetLogger()

	var msg imageMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.publishError(ctx, nil, fmt.Errorf("malformed image message: %w", err))
		return
	}
	clientID := clientIDOrUnknown(msg.ClientID)
	log = log.With(logger.String("client_id", string(clientID)))

	if msg.ImageData == "" {
		log.Warn("image message without image_data, skipping")
		return
	}
	data, err := base64.StdEncoding.DecodeString(msg.ImageData)
	if err != nil {
		b.publishError(ctx, clientID, fmt.Errorf("invalid image_data: %w", err))
		return
	}

	start := time.Now()
	reply, err := b.forwarder.SendImage(ctx, data)
	b.metrics.RecordForward(time.Since(start), err)
	if err != nil {
		log.Warn("image forward failed", logger.Error(err), logger.Int("bytes", len(data)))
		b.publishError(ctx, clientID, err)
		return
	}

	log.Info("prediction received",
		logger.Int("image_bytes", len(data)),
		logger.Duration("elapsed", time.Since(start)))
	b.publish(ctx, result{ClientID: clientID, Prediction: string(reply)})
}

func (b *Bridge) handleLabels(ctx context.Context, payload []byte) {
	log := GetLogger()

	obj, err := jason.NewObjectFromBytes(payload)
	if err != nil {
		b.publishError(ctx, nil, fmt.Errorf("malformed confirmed labels message: %w", err))
		return
	}
	msg := labelsMessage{
		ClientID:        rawField(obj, "client_id"),
		ImgID:           rawField(obj, "img_id"),
		ConfirmedLabels: rawField(obj, "confirmed_labels"),
	}
	clientID := clientIDOrUnknown(msg.ClientID)

	if isEmptyJSON(msg.ImgID) || isEmptyJSON(msg.ConfirmedLabels) || string(msg.ConfirmedLabels) == "[]" {
		log.Warn("confirmed labels message without img_id or labels, skipping",
			logger.String("client_id", string(clientID)))
		return
	}

	start := time.Now()
	reply, err := b.forwarder.SendCorrection(ctx, labelsMessage{
		ImgID:           msg.ImgID,
		ConfirmedLabels: msg.ConfirmedLabels,
	})
	b.metrics.RecordForward(time.Since(start), err)
	if err != nil {
		log.Warn("correction forward failed", logger.Error(err), logger.String("img_id", string(msg.ImgID)))
		b.publishError(ctx, clientID, err)
		return
	}

	log.Info("correction acknowledged",
		logger.String("img_id", string(msg.ImgID)),
		logger.String("reply", string(reply)))
}

func (b *Bridge) publishError(ctx context.Context, clientID json.RawMessage, err error) {
	b.publish(ctx, result{
		ClientID: clientIDOrUnknown(clientID),
		Error:    "UDP error: " + err.Error(),
	})
}

func (b *Bridge) publish(ctx context.Context, r result) {
	payload, err := json.Marshal(r)
	if err != nil {
		GetLogger().Error("failed to encode relay result", logger.Error(err))
		return
	}
	if err := b.publisher.Publish(ctx, b.topics.Predictions, payload); err != nil {
		GetLogger().Error("failed to publish relay result",
			logger.String("topic", b.topics.Predictions),
			logger.Error(err))
	}
}

func clientIDOrUnknown(id json.RawMessage) json.RawMessage {
	if isEmptyJSON(id) {
		return json.RawMessage(unknownClient)
	}
	return id
}

// rawField returns the JSON encoding of key in obj, or nil when the key is
// missing or null.
func rawField(obj *jason.Object, key string) json.RawMessage {
	v, err := obj.GetValue(key)
	if err != nil || v.Null() == nil {
		return nil
	}
	data, err := v.Marshal()
	if err != nil {
		return nil
	}
	return data
}

func isEmptyJSON(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
