package cpuspec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInferenceThreads(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		spec      CPUSpec
		requested int
		want      int
	}{
		{"requested within limit", CPUSpec{PhysicalCores: 8, Available: 16}, 4, 4},
		{"requested capped", CPUSpec{PhysicalCores: 8, Available: 2}, 4, 2},
		{"physical cores minus listener", CPUSpec{PhysicalCores: 8, LogicalCores: 16, Available: 16}, 0, 7},
		{"physical above available", CPUSpec{PhysicalCores: 8, Available: 4}, 0, 3},
		{"logical fallback", CPUSpec{LogicalCores: 2, Available: 2}, 0, 2},
		{"unknown topology", CPUSpec{Available: 1}, 0, 1},
		{"zero available", CPUSpec{}, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.spec.InferenceThreads(tt.requested))
		})
	}
}

func TestGetCPUSpec(t *testing.T) {
	t.Parallel()

	spec := GetCPUSpec()
	assert.Positive(t, spec.Available)
	assert.GreaterOrEqual(t, spec.InferenceThreads(0), 1)
}
