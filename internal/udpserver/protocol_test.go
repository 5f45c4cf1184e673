package udpserver

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsEnd(t *testing.T) {
	t.Parallel()

	assert.True(t, IsEnd([]byte("END")))
	assert.False(t, IsEnd([]byte("END\n")))
	assert.False(t, IsEnd([]byte("end")))
	assert.False(t, IsEnd(nil))
}

func TestIsCorrection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload []byte
		want    bool
	}{
		{"json object", []byte(`{"img_id":1}`), true},
		{"not json but brace", []byte("{garbage"), true},
		{"larger than a chunk", append([]byte("{"), bytes.Repeat([]byte("a"), 70000)...), true},
		{"jpeg magic", []byte{0xff, 0xd8, 0xff, 0xe0}, false},
		{"brace then invalid utf8", []byte{'{', 0xff, 0xfe}, false},
		{"leading space", []byte(` {"img_id":1}`), false},
		{"json array", []byte(`[1,2]`), false},
		{"empty", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsCorrection(tt.payload))
		})
	}
}

func TestKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "image", KindImage.String())
	assert.Equal(t, "correction", KindCorrection.String())
}
