package pipeline

import (
	"encoding/json"
	"math"

	"github.com/tphakala/foodnet-go/internal/errors"
	"github.com/tphakala/foodnet-go/internal/logger"
)

// Wire error texts.
const (
	MsgInvalidImage    = "Invalid image"
	MsgInferenceFailed = "Inference failed"
	MsgInternal        = "Internal error"
)

// Correction acknowledgment statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Response is a reply body sent back to the client as JSON.
type Response interface {
	// IsError reports whether the response signals a failure to the client.
	IsError() bool
}

// PredictionResult is one entry of an image response.
type PredictionResult struct {
	ImgID          int       `json:"img_id"`
	PredictedLabel string    `json:"predicted_label"`
	CategoryID     int       `json:"category_id"`
	Confidence     float64   `json:"confidence"`
	BoundingBox    []float64 `json:"bounding_box"`
}

// PredictionsResponse answers an image request. An image without detections
// has an empty, non-null list.
type PredictionsResponse struct {
	Predictions []PredictionResult `json:"predictions"`
}

// IsError implements Response.
func (PredictionsResponse) IsError() bool { return false }

// CorrectionResponse acknowledges a correction message.
type CorrectionResponse struct {
	Status  string `json:"status"`
	Applied int    `json:"applied"`
	Failed  int    `json:"failed"`
	Error   string `json:"error,omitempty"`
}

// IsError implements Response.
func (r CorrectionResponse) IsError() bool { return r.Status != StatusSuccess }

// ErrorResponse reports a request that could not be processed.
type ErrorResponse struct {
	Error string `json:"error"`
}

// IsError implements Response.
func (ErrorResponse) IsError() bool { return true }

// Encode marshals r. An unencodable response becomes an internal error body.
func Encode(r Response) []byte {
	data, err := json.Marshal(r)
	if err != nil {
		GetLogger().Error("failed to encode response", logger.Error(err))
		return []byte(`{"error":"` + MsgInternal + `"}`)
	}
	return data
}

// LabelCorrection is one confirmed label of a correction message.
type LabelCorrection struct {
	Label       string
	BoundingBox []float64
	// Skip is set for items without a label.
	Skip bool
	// Err is set for items that are not well formed.
	Err error
}

// CorrectionMessage carries user-confirmed labels for a stored image.
type CorrectionMessage struct {
	ImgID int
	Items []LabelCorrection
}

// ParseCorrection decodes a correction payload of the form
// {"img_id": int, "confirmed_labels": [{"label": str, "bounding_box": [4]}]}.
// Message level problems are returned as an error; item level problems are
// recorded on the item so the rest of the batch still applies.
func ParseCorrection(payload []byte) (*CorrectionMessage, error) {
	var raw struct {
		ImgID           json.RawMessage   `json:"img_id"`
		ConfirmedLabels []json.RawMessage `json:"confirmed_labels"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, validationf("malformed correction message: %v", err)
	}

	if len(raw.ImgID) == 0 || string(raw.ImgID) == "null" {
		return nil, validationf("img_id is required")
	}
	var id float64
	if err := json.Unmarshal(raw.ImgID, &id); err != nil {
		return nil, validationf("img_id must be a number")
	}
	if id != math.Trunc(id) || id < 1 || id > math.MaxInt32 {
		return nil, validationf("img_id must be a positive integer")
	}
	if len(raw.ConfirmedLabels) == 0 {
		return nil, validationf("confirmed_labels must be a non-empty list")
	}

	msg := &CorrectionMessage{
		ImgID: int(id),
		Items: make([]LabelCorrection, len(raw.ConfirmedLabels)),
	}
	for i, item := range raw.ConfirmedLabels {
		msg.Items[i] = parseItem(item)
	}
	return msg, nil
}

func parseItem(item json.RawMessage) LabelCorrection {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
		return LabelCorrection{Err: validationf("correction item must be an object")}
	}

	label, ok := fields["label"]
	if !ok || string(label) == "null" {
		return LabelCorrection{Skip: true}
	}

	var lc LabelCorrection
	if err := json.Unmarshal(label, &lc.Label); err != nil {
		lc.Err = validationf("label must be a string")
		return lc
	}

	bbox, ok := fields["bounding_box"]
	if !ok || string(bbox) == "null" {
		lc.BoundingBox = []float64{0, 0, 0, 0}
		return lc
	}
	if err := json.Unmarshal(bbox, &lc.BoundingBox); err != nil {
		lc.Err = validationf("bounding_box must be a list of numbers")
	}
	return lc
}

func validationf(format string, args ...any) error {
	return errors.Newf(format, args...).Category(errors.CategoryValidation).Build()
}
