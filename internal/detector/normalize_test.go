package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	b0 = Box{10, 10, 50, 50}
	b1 = Box{60, 60, 120, 120}
	b2 = Box{0, 0, 5, 5}
)

func labelsOf(preds []Prediction) []string {
	out := make([]string, len(preds))
	for i, p := range preds {
		out[i] = p.Label
	}
	return out
}

func TestNormalizePairsRankedCategoriesWithBoxes(t *testing.T) {
	t.Parallel()

	labels := []string{"cat0", "cat1", "cat2"}
	preds, err := Normalize([]float32{0.2, 0.005, 0.5}, []Box{b0, b1}, labels, 0.01)
	require.NoError(t, err)
	require.Len(t, preds, 2)

	assert.Equal(t, "cat2", preds[0].Label)
	assert.Equal(t, 2, preds[0].Index)
	assert.Equal(t, b0, preds[0].BoundingBox)
	assert.InDelta(t, 0.5, preds[0].Confidence, 1e-6)

	assert.Equal(t, "cat0", preds[1].Label)
	assert.Equal(t, b1, preds[1].BoundingBox)
	assert.InDelta(t, 0.2, preds[1].Confidence, 1e-6)
}

func TestNormalizeWrapsAroundBoxes(t *testing.T) {
	t.Parallel()

	labels := []string{"a", "b", "c", "d", "e"}
	scores := []float32{0.9, 0.8, 0.7, 0.6, 0.5}

	preds, err := Normalize(scores, []Box{b0, b1}, labels, 0.1)
	require.NoError(t, err)

	// ranks 0,2,4 land on b0 and ranks 1,3 on b1, grouped by box
	assert.Equal(t, []string{"a", "c", "e", "b", "d"}, labelsOf(preds))
	for _, p := range preds[:3] {
		assert.Equal(t, b0, p.BoundingBox)
	}
	for _, p := range preds[3:] {
		assert.Equal(t, b1, p.BoundingBox)
	}
}

func TestNormalizeGroupsIdenticalBoxes(t *testing.T) {
	t.Parallel()

	labels := []string{"a", "b", "c"}
	// the first and third boxes are equal by value
	preds, err := Normalize([]float32{0.9, 0.8, 0.7}, []Box{b2, b1, b2}, labels, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "c", "b"}, labelsOf(preds))
	assert.Equal(t, b2, preds[1].BoundingBox)
}

func TestNormalizeStableOnTies(t *testing.T) {
	t.Parallel()

	labels := []string{"a", "b", "c"}
	preds, err := Normalize([]float32{0.4, 0.4, 0.4}, []Box{b0}, labels, 0.4)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, labelsOf(preds))
}

func TestNormalizeEmptyResults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		scores []float32
		boxes  []Box
	}{
		{"no boxes", []float32{0.9}, nil},
		{"all below threshold", []float32{0.001, 0.002}, []Box{b0}},
		{"no scores", nil, []Box{b0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			preds, err := Normalize(tt.scores, tt.boxes, []string{"a", "b"}, 0.01)
			require.NoError(t, err)
			assert.Empty(t, preds)
		})
	}
}

func TestNormalizeMissingLabel(t *testing.T) {
	t.Parallel()

	_, err := Normalize([]float32{0.1, 0.9}, []Box{b0}, []string{"only"}, 0.01)
	require.Error(t, err)
}
