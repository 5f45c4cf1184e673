package detector

import (
	"fmt"
	"slices"
)

// Box is a bounding box as x1, y1, x2, y2.
type Box [4]float64

// Slice returns the box as a four element slice.
func (b Box) Slice() []float64 {
	return []float64{b[0], b[1], b[2], b[3]}
}

// Prediction is one labeled region produced by the model.
type Prediction struct {
	Label       string  `json:"label"`
	Index       int     `json:"index"`
	Confidence  float64 `json:"confidence"`
	BoundingBox Box     `json:"bounding_box"`
}

// Normalize converts raw model outputs into predictions.
//
// Scores below threshold are dropped and the rest are ranked by descending
// score, ties keeping index order. The i-th ranked category is paired with
// boxes[i % len(boxes)], so several labels can share one box. Predictions
// are then grouped by identical box, boxes in order of first use and labels
// in rank order within a box. Without boxes there are no predictions.
func Normalize(scores []float32, boxes []Box, labels []string, threshold float64) ([]Prediction, error) {
	if len(boxes) == 0 {
		return nil, nil
	}

	kept := make([]int, 0, len(scores))
	for i, s := range scores {
		if float64(s) >= threshold {
			kept = append(kept, i)
		}
	}
	if len(kept) == 0 {
		return nil, nil
	}

	slices.SortStableFunc(kept, func(a, b int) int {
		switch {
		case scores[a] > scores[b]:
			return -1
		case scores[a] < scores[b]:
			return 1
		default:
			return 0
		}
	})

	var order []Box
	groups := make(map[Box][]Prediction)
	for rank, idx := range kept {
		if idx >= len(labels) {
			return nil, fmt.Errorf("score index %d has no label (%d labels)", idx, len(labels))
		}

		box := boxes[rank%len(boxes)]
		if _, seen := groups[box]; !seen {
			order = append(order, box)
		}
		groups[box] = append(groups[box], Prediction{
			Label:       labels[idx],
			Index:       idx,
			Confidence:  float64(scores[idx]),
			BoundingBox: box,
		})
	}

	predictions := make([]Prediction, 0, len(kept))
	for _, box := range order {
		predictions = append(predictions, groups[box]...)
	}
	return predictions, nil
}
