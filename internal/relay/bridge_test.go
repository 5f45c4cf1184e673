package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/foodnet-go/internal/conf"
	"github.com/tphakala/foodnet-go/internal/errors"
)

var testTopics = conf.BridgeTopics{
	Images:          "project/images",
	ConfirmedLabels: "project/confirmed_labels",
	Predictions:     "project/predictions",
}

type fakeForwarder struct {
	mu          sync.Mutex
	images      [][]byte
	corrections [][]byte
	reply       []byte
	err         error
	delay       time.Duration
}

func (f *fakeForwarder) SendImage(ctx context.Context, data []byte) ([]byte, error) {
	f.sleep(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images = append(f.images, data)
	return f.reply, f.err
}

func (f *fakeForwarder) SendCorrection(ctx context.Context, msg any) ([]byte, error) {
	f.sleep(ctx)
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.corrections = append(f.corrections, payload)
	return []byte(`{"status":"success","applied":1,"failed":0}`), f.err
}

func (f *fakeForwarder) sleep(ctx context.Context) {
	if f.delay == 0 {
		return
	}
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
	}
}

type published struct {
	topic   string
	payload map[string]any
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload []byte) error {
	var out map[string]any
	if err := json.Unmarshal(payload, &out); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, payload: out})
	return nil
}

func (p *fakePublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

func newTestBridge(t *testing.T, f *fakeForwarder) (*Bridge, *fakePublisher) {
	t.Helper()
	p := &fakePublisher{}
	b, err := NewBridge(f, p, testTopics, nil)
	require.NoError(t, err)
	return b, p
}

func imagePayload(t *testing.T, clientID any, data []byte) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"client_id":  clientID,
		"image_data": base64.StdEncoding.EncodeToString(data),
	})
	require.NoError(t, err)
	return payload
}

func TestNewBridgeValidates(t *testing.T) {
	t.Parallel()

	_, err := NewBridge(nil, &fakePublisher{}, testTopics, nil)
	require.Error(t, err)
	_, err = NewBridge(&fakeForwarder{}, nil, testTopics, nil)
	require.Error(t, err)
	_, err = NewBridge(&fakeForwarder{}, &fakePublisher{}, conf.BridgeTopics{Images: "a"}, nil)
	require.Error(t, err)
}

func TestImageIsForwardedAndPredictionPublished(t *testing.T) {
	t.Parallel()

	reply := `{"predictions":[{"img_id":3,"predicted_label":"rice"}]}`
	f := &fakeForwarder{reply: []byte(reply)}
	b, p := newTestBridge(t, f)

	b.Handle(context.Background(), Message{
		Topic:   testTopics.Images,
		Payload: imagePayload(t, "phone-1", []byte("jpeg bytes")),
	})

	require.Len(t, f.images, 1)
	assert.Equal(t, []byte("jpeg bytes"), f.images[0])

	msgs := p.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, testTopics.Predictions, msgs[0].topic)
	assert.Equal(t, "phone-1", msgs[0].payload["client_id"])
	assert.Equal(t, reply, msgs[0].payload["prediction"])
	assert.NotContains(t, msgs[0].payload, "error")
}

func TestForwardErrorIsPublished(t *testing.T) {
	t.Parallel()

	f := &fakeForwarder{err: errors.NewStd("read reply: i/o timeout")}
	b, p := newTestBridge(t, f)

	b.Handle(context.Background(), Message{
		Topic:   testTopics.Images,
		Payload: imagePayload(t, "phone-2", []byte("x")),
	})

	msgs := p.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "phone-2", msgs[0].payload["client_id"])
	assert.Equal(t, "UDP error: read reply: i/o timeout", msgs[0].payload["error"])
	assert.NotContains(t, msgs[0].payload, "prediction")
}

func TestImageMessageEdgeCases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		payload     []byte
		wantPublish bool
		wantClient  any
	}{
		{"missing image_data is skipped", []byte(`{"client_id":"a"}`), false, nil},
		{"invalid base64", []byte(`{"client_id":"a","image_data":"***"}`), true, "a"},
		{"malformed json", []byte(`not json`), true, "unknown"},
		{"missing client id", []byte(`{"image_data":"***"}`), true, "unknown"},
		{"numeric client id is echoed", []byte(`{"client_id":7,"image_data":"***"}`), true, float64(7)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := &fakeForwarder{}
			b, p := newTestBridge(t, f)
			b.Handle(context.Background(), Message{Topic: testTopics.Images, Payload: tt.payload})

			assert.Empty(t, f.images)
			msgs := p.all()
			if !tt.wantPublish {
				assert.Empty(t, msgs)
				return
			}
			require.Len(t, msgs, 1)
			assert.Equal(t, tt.wantClient, msgs[0].payload["client_id"])
			assert.Contains(t, msgs[0].payload["error"], "UDP error: ")
		})
	}
}

func TestConfirmedLabelsAreForwarded(t *testing.T) {
	t.Parallel()

	f := &fakeForwarder{}
	b, p := newTestBridge(t, f)

	b.Handle(context.Background(), Message{
		Topic:   testTopics.ConfirmedLabels,
		Payload: []byte(`{"client_id":"x","img_id":12,"confirmed_labels":[{"label":"udon","bounding_box":[1,2,3,4]}]}`),
	})

	require.Len(t, f.corrections, 1)
	assert.JSONEq(t,
		`{"img_id":12,"confirmed_labels":[{"label":"udon","bounding_box":[1,2,3,4]}]}`,
		string(f.corrections[0]))
	assert.Empty(t, p.all(), "acknowledgments are not published")
}

func TestConfirmedLabelsWithoutContentAreSkipped(t *testing.T) {
	t.Parallel()

	for _, payload := range []string{
		`{"confirmed_labels":[{"label":"udon"}]}`,
		`{"img_id":12}`,
		`{"img_id":12,"confirmed_labels":[]}`,
		`{"img_id":null,"confirmed_labels":[{"label":"udon"}]}`,
	} {
		f := &fakeForwarder{}
		b, p := newTestBridge(t, f)
		b.Handle(context.Background(), Message{Topic: testTopics.ConfirmedLabels, Payload: []byte(payload)})
		assert.Empty(t, f.corrections, payload)
		assert.Empty(t, p.all(), payload)
	}
}

func TestMalformedConfirmedLabelsPublishError(t *testing.T) {
	t.Parallel()

	for _, payload := range []string{`not json`, `[1,2]`} {
		f := &fakeForwarder{}
		b, p := newTestBridge(t, f)
		b.Handle(context.Background(), Message{Topic: testTopics.ConfirmedLabels, Payload: []byte(payload)})

		assert.Empty(t, f.corrections, payload)
		msgs := p.all()
		require.Len(t, msgs, 1, payload)
		assert.Equal(t, "unknown", msgs[0].payload["client_id"])
		assert.Contains(t, msgs[0].payload["error"], "malformed confirmed labels message")
	}
}

func TestUnknownTopicIsIgnored(t *testing.T) {
	t.Parallel()

	f := &fakeForwarder{}
	b, p := newTestBridge(t, f)
	b.Handle(context.Background(), Message{Topic: "other", Payload: []byte(`{}`)})

	assert.Empty(t, f.images)
	assert.Empty(t, p.all())
}

func TestRunHandlesMessagesConcurrently(t *testing.T) {
	t.Parallel()

	f := &fakeForwarder{reply: []byte(`{"predictions":[]}`), delay: 50 * time.Millisecond}
	b, p := newTestBridge(t, f)

	in := make(chan Message, 8)
	for i := range 8 {
		in <- Message{Topic: testTopics.Images, Payload: imagePayload(t, i, []byte{byte(i)})}
	}
	close(in)

	start := time.Now()
	require.NoError(t, b.Run(context.Background(), in))

	assert.Len(t, p.all(), 8)
	assert.Less(t, time.Since(start), 8*50*time.Millisecond, "messages were handled one by one")
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	b, _ := newTestBridge(t, &fakeForwarder{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, make(chan Message)) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
