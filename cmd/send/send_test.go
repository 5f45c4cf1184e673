package send

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintReplyIndentsJSON(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	require.NoError(t, printReply(&out, []byte(`{"status":"success","applied":1}`)))
	assert.Equal(t, "{\n  \"status\": \"success\",\n  \"applied\": 1\n}\n", out.String())
}

func TestPrintReplyPassesThroughText(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	require.NoError(t, printReply(&out, []byte("not json")))
	assert.Equal(t, "not json\n", out.String())
}
