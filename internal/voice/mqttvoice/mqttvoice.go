// Package mqttvoice 通过 MQTT 与岗亭语音终端通信：接收识别结果、下发播报与控制命令
package mqttvoice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"plate-lookup/internal/common/mqtt"
	"plate-lookup/internal/voice"
)

// Transport *mqtt.Client 满足该接口
type Transport interface {
	Subscribe(topic string, handler mqtt.MessageHandler) error
	Publish(topic string, retained bool, payload []byte) error
	Unsubscribe(topics ...string) error
}

type Topics struct {
	Transcript string // 终端 -> 服务：识别结果
	Control    string // 服务 -> 终端：start/stop/wake_lock/select_input
	Speak      string // 服务 -> 终端：播报内容
	SpeakDone  string // 终端 -> 服务：播报完成
}

// TopicsFor 以 prefix 为根生成主题，如 plates/voice/gate-1
func TopicsFor(prefix string) Topics {
	return Topics{
		Transcript: prefix + "/transcript",
		Control:    prefix + "/control",
		Speak:      prefix + "/speak",
		SpeakDone:  prefix + "/speak/done",
	}
}

type transcriptMessage struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
	Error string `json:"error,omitempty"`
}

type controlMessage struct {
	Cmd    string `json:"cmd"`
	On     *bool  `json:"on,omitempty"`
	Device string `json:"device,omitempty"`
}

// 终端上报的权限错误
const errNotAllowed = "not-allowed"

// Device 实现 voice.Listener / voice.WakeLock / voice.DeviceSelector
type Device struct {
	transport Transport
	topics    Topics
	logger    *zap.Logger

	mu     sync.Mutex
	events chan voice.TranscriptEvent
	paused bool
	closed bool
}

func NewDevice(transport Transport, topics Topics, logger *zap.Logger) (*Device, error) {
	d := &Device{
		transport: transport,
		topics:    topics,
		logger:    logger,
		events:    make(chan voice.TranscriptEvent, 32),
		paused:    true,
	}
	if err := transport.Subscribe(topics.Transcript, d.handleTranscript); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Device) handleTranscript(_ string, payload []byte) error {
	var msg transcriptMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode transcript: %w", err)
	}

	ev := voice.TranscriptEvent{Text: msg.Text, Final: msg.Final}
	if msg.Error != "" {
		if msg.Error == errNotAllowed {
			ev.Err = voice.ErrPermissionDenied
		} else {
			ev.Err = fmt.Errorf("recognition error: %s", msg.Error)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	// 暂停期间只转发错误
	if d.paused && ev.Err == nil {
		return nil
	}
	select {
	case d.events <- ev:
	default:
		d.logger.Warn("Transcript dropped, consumer is behind")
	}
	return nil
}

func (d *Device) Events() <-chan voice.TranscriptEvent { return d.events }

func (d *Device) control(msg controlMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return d.transport.Publish(d.topics.Control, false, payload)
}

func (d *Device) Resume(_ context.Context) error {
	d.mu.Lock()
	d.paused = false
	d.mu.Unlock()
	return d.control(controlMessage{Cmd: "start"})
}

func (d *Device) Pause(_ context.Context) error {
	d.mu.Lock()
	d.paused = true
	d.mu.Unlock()
	return d.control(controlMessage{Cmd: "stop"})
}

func (d *Device) Acquire(_ context.Context) error {
	on := true
	return d.control(controlMessage{Cmd: "wake_lock", On: &on})
}

func (d *Device) Release() error {
	on := false
	return d.control(controlMessage{Cmd: "wake_lock", On: &on})
}

func (d *Device) SelectInput(_ context.Context, preferred string) error {
	return d.control(controlMessage{Cmd: "select_input", Device: preferred})
}

func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.events)
	d.mu.Unlock()

	if err := d.control(controlMessage{Cmd: "stop"}); err != nil {
		d.logger.Warn("Stop command not delivered", zap.Error(err))
	}
	return d.transport.Unsubscribe(d.topics.Transcript)
}

// Synthesizer 可选：服务端合成音频后下发（*tts.Client）
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

type speakMessage struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Audio string `json:"audio,omitempty"` // base64 MP3
}

type speakDoneMessage struct {
	ID string `json:"id"`
}

// Speaker 下发播报并等待终端回执
type Speaker struct {
	transport Transport
	topics    Topics
	synth     Synthesizer
	timeout   time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	waiting map[string]chan struct{}
}

func NewSpeaker(transport Transport, topics Topics, synth Synthesizer, timeout time.Duration, logger *zap.Logger) (*Speaker, error) {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	s := &Speaker{
		transport: transport,
		topics:    topics,
		synth:     synth,
		timeout:   timeout,
		logger:    logger,
		waiting:   map[string]chan struct{}{},
	}
	if err := transport.Subscribe(topics.SpeakDone, s.handleDone); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Speaker) handleDone(_ string, payload []byte) error {
	var msg speakDoneMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode speak ack: %w", err)
	}
	s.mu.Lock()
	ch, ok := s.waiting[msg.ID]
	delete(s.waiting, msg.ID)
	s.mu.Unlock()
	if ok {
		close(ch)
	}
	return nil
}

func (s *Speaker) Speak(ctx context.Context, text string) error {
	msg := speakMessage{ID: uuid.New().String(), Text: text}
	if s.synth != nil {
		audio, err := s.synth.Synthesize(ctx, text)
		if err != nil {
			// 终端可退回本地 TTS
			s.logger.Warn("Server-side synthesis failed, sending text only", zap.Error(err))
		} else {
			msg.Audio = base64.StdEncoding.EncodeToString(audio)
		}
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.waiting[msg.ID] = done
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.waiting, msg.ID)
		s.mu.Unlock()
	}()

	if err := s.transport.Publish(s.topics.Speak, false, payload); err != nil {
		return err
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return fmt.Errorf("speak %s: no playback ack within %s", msg.ID, s.timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Speaker) Close() error {
	return s.transport.Unsubscribe(s.topics.SpeakDone)
}
