package mqttvoice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"plate-lookup/internal/common/mqtt"
	"plate-lookup/internal/voice"
)

type published struct {
	topic   string
	payload []byte
}

// fakeTransport 内存版 broker
type fakeTransport struct {
	mu       sync.Mutex
	handlers map[string]mqtt.MessageHandler
	sent     []published
	onSend   func(topic string, payload []byte)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: map[string]mqtt.MessageHandler{}}
}

func (f *fakeTransport) Subscribe(topic string, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeTransport) Publish(topic string, _ bool, payload []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, published{topic: topic, payload: payload})
	hook := f.onSend
	f.mu.Unlock()
	if hook != nil {
		hook(topic, payload)
	}
	return nil
}

func (f *fakeTransport) Unsubscribe(topics ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range topics {
		delete(f.handlers, t)
	}
	return nil
}

func (f *fakeTransport) deliver(t *testing.T, topic string, v any) {
	t.Helper()
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	require.NotNil(t, h, topic)
	payload, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, h(topic, payload))
}

func (f *fakeTransport) controls(t *testing.T) []controlMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []controlMessage
	for _, p := range f.sent {
		if p.topic != TopicsFor("gate").Control {
			continue
		}
		var m controlMessage
		require.NoError(t, json.Unmarshal(p.payload, &m))
		out = append(out, m)
	}
	return out
}

func TestDevice_ForwardsOnlyWhileListening(t *testing.T) {
	tr := newFakeTransport()
	topics := TopicsFor("gate")
	d, err := NewDevice(tr, topics, zap.NewNop())
	require.NoError(t, err)

	// 初始为暂停
	tr.deliver(t, topics.Transcript, transcriptMessage{Text: "查詢", Final: true})
	assert.Len(t, d.Events(), 0)

	require.NoError(t, d.Resume(context.Background()))
	tr.deliver(t, topics.Transcript, transcriptMessage{Text: "查詢 ABC", Final: true})
	ev := <-d.Events()
	assert.Equal(t, "查詢 ABC", ev.Text)
	assert.True(t, ev.Final)

	require.NoError(t, d.Pause(context.Background()))
	tr.deliver(t, topics.Transcript, transcriptMessage{Error: "not-allowed"})
	ev = <-d.Events()
	assert.ErrorIs(t, ev.Err, voice.ErrPermissionDenied)

	cmds := tr.controls(t)
	require.Len(t, cmds, 2)
	assert.Equal(t, "start", cmds[0].Cmd)
	assert.Equal(t, "stop", cmds[1].Cmd)
}

func TestDevice_ControlCommands(t *testing.T) {
	tr := newFakeTransport()
	d, err := NewDevice(tr, TopicsFor("gate"), zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, d.Acquire(context.Background()))
	require.NoError(t, d.SelectInput(context.Background(), "BT-Headset"))
	require.NoError(t, d.Release())
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	cmds := tr.controls(t)
	require.Len(t, cmds, 4)
	assert.Equal(t, "wake_lock", cmds[0].Cmd)
	assert.True(t, *cmds[0].On)
	assert.Equal(t, "BT-Headset", cmds[1].Device)
	assert.False(t, *cmds[2].On)
	assert.Equal(t, "stop", cmds[3].Cmd)

	_, ok := <-d.Events()
	assert.False(t, ok)
}

type fakeSynth struct{ err error }

func (f fakeSynth) Synthesize(context.Context, string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte("mp3"), nil
}

func TestSpeaker_WaitsForAck(t *testing.T) {
	tr := newFakeTransport()
	topics := TopicsFor("gate")
	var got speakMessage
	tr.onSend = func(topic string, payload []byte) {
		if topic != topics.Speak {
			return
		}
		require.NoError(t, json.Unmarshal(payload, &got))
		go tr.deliver(t, topics.SpeakDone, speakDoneMessage{ID: got.ID})
	}

	sp, err := NewSpeaker(tr, topics, fakeSynth{}, time.Second, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, sp.Speak(context.Background(), "查詢成功"))
	assert.Equal(t, "查詢成功", got.Text)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("mp3")), got.Audio)
}

func TestSpeaker_SynthesisFailureFallsBackToText(t *testing.T) {
	tr := newFakeTransport()
	topics := TopicsFor("gate")
	var got speakMessage
	tr.onSend = func(topic string, payload []byte) {
		require.NoError(t, json.Unmarshal(payload, &got))
		go tr.deliver(t, topics.SpeakDone, speakDoneMessage{ID: got.ID})
	}

	sp, err := NewSpeaker(tr, topics, fakeSynth{err: errors.New("quota")}, time.Second, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, sp.Speak(context.Background(), "hi"))
	assert.Empty(t, got.Audio)
}

func TestSpeaker_Timeout(t *testing.T) {
	tr := newFakeTransport()
	sp, err := NewSpeaker(tr, TopicsFor("gate"), nil, 20*time.Millisecond, zap.NewNop())
	require.NoError(t, err)
	assert.Error(t, sp.Speak(context.Background(), "hi"))
	require.NoError(t, sp.Close())
}
