package voice

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrSessionClosed    = errors.New("voice session closed")
)

// TranscriptEvent 识别事件；Final=false 为中间结果
type TranscriptEvent struct {
	Text  string
	Final bool
	Err   error
}

// Listener 语音识别；Pause/Resume 可重复调用
type Listener interface {
	Events() <-chan TranscriptEvent
	Resume(ctx context.Context) error
	Pause(ctx context.Context) error
	Close() error
}

// Speaker 播报，阻塞到播放结束
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

type WakeLock interface {
	Acquire(ctx context.Context) error
	Release() error
}

// DeviceSelector 可选：开始监听前选择输入设备（蓝牙耳麦）
type DeviceSelector interface {
	SelectInput(ctx context.Context, preferred string) error
}

// Trigger 从语音中得到的一次查询
type Trigger struct {
	SessionID string
	Input     string
	Immediate bool // 长度达到阈值直接触发，未等待缓冲
}

type Options struct {
	DebounceDelay  time.Duration
	FastPathLength int
	SettleDelay    time.Duration
	InputDevice    string
	Greetings      []string
}

var DefaultGreetings = []string{"大哥辛苦了，請說車牌", "吃飽了嗎，系統準備好了", "現在可以開始查詢車牌"}

func DefaultOptions() Options {
	return Options{
		DebounceDelay:  1200 * time.Millisecond,
		FastPathLength: 6,
		SettleDelay:    500 * time.Millisecond,
		Greetings:      DefaultGreetings,
	}
}

// Session 一次语音监听的完整生命周期：Open 之后持有识别、唤醒锁和缓冲计时器，Close 统一释放
type Session struct {
	id       string
	listener Listener
	speaker  Speaker
	wakeLock WakeLock // 可为 nil
	device   DeviceSelector
	opts     Options
	logger   *zap.Logger

	triggers chan Trigger

	open     atomic.Bool
	speaking atomic.Bool
	speakGen atomic.Uint64

	mu        sync.Mutex
	status    string
	closed    bool
	settle    *time.Timer
	runCtx    context.Context
	cancel    context.CancelFunc
	openOnce  sync.Once
	closeOnce sync.Once
	loopDone  chan struct{}
	randIntn  func(n int) int
}

func NewSession(listener Listener, speaker Speaker, wakeLock WakeLock, device DeviceSelector, opts Options, logger *zap.Logger) *Session {
	def := DefaultOptions()
	if opts.DebounceDelay <= 0 {
		opts.DebounceDelay = def.DebounceDelay
	}
	if opts.FastPathLength <= 0 {
		opts.FastPathLength = def.FastPathLength
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = def.SettleDelay
	}
	if len(opts.Greetings) == 0 {
		opts.Greetings = def.Greetings
	}
	id := uuid.New().String()
	return &Session{
		id:       id,
		listener: listener,
		speaker:  speaker,
		wakeLock: wakeLock,
		device:   device,
		opts:     opts,
		logger:   logger.With(zap.String("voice_session", id)),
		triggers: make(chan Trigger, 8),
		loopDone: make(chan struct{}),
		randIntn: rand.Intn,
	}
}

func (s *Session) ID() string { return s.id }

// Triggers 关闭会话后 channel 会被关闭
func (s *Session) Triggers() <-chan Trigger { return s.triggers }

func (s *Session) IsOpen() bool { return s.open.Load() }

func (s *Session) IsSpeaking() bool { return s.speaking.Load() }

func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(msg string) {
	s.mu.Lock()
	s.status = msg
	s.mu.Unlock()
}

// Open 启动会话：唤醒锁、选设备、问候、开始识别
func (s *Session) Open(ctx context.Context) error {
	err := ErrSessionClosed
	s.openOnce.Do(func() {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		runCtx, cancel := context.WithCancel(context.Background())
		s.runCtx, s.cancel = runCtx, cancel
		s.mu.Unlock()
		s.open.Store(true)

		if s.wakeLock != nil {
			if err := s.wakeLock.Acquire(ctx); err != nil {
				s.logger.Warn("Wake lock not acquired", zap.Error(err))
			}
		}
		if s.device != nil && s.opts.InputDevice != "" {
			if err := s.device.SelectInput(ctx, s.opts.InputDevice); err != nil {
				s.logger.Warn("Preferred input device not selected",
					zap.String("device", s.opts.InputDevice), zap.Error(err))
			}
		}

		go s.loop(runCtx)

		welcome := s.opts.Greetings[s.randIntn(len(s.opts.Greetings))]
		s.setStatus("系統啟動：" + welcome)
		s.Speak(ctx, welcome, false)
		err = nil
	})
	return err
}

// Close 释放识别、计时器、唤醒锁；可重复调用
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.open.Store(false)
		s.speaking.Store(false)

		s.mu.Lock()
		s.closed = true
		if s.settle != nil {
			s.settle.Stop()
		}
		cancel := s.cancel
		s.mu.Unlock()

		if cancel != nil {
			cancel()
			<-s.loopDone
		} else {
			close(s.triggers)
		}
		if err := s.listener.Close(); err != nil {
			s.logger.Warn("Listener close failed", zap.Error(err))
		}
		if s.wakeLock != nil {
			if err := s.wakeLock.Release(); err != nil {
				s.logger.Warn("Wake lock release failed", zap.Error(err))
			}
		}
		s.setStatus("語音監聽已關閉")
		s.logger.Info("Voice session closed")
	})
	return nil
}

// Speak 播报期间暂停识别，播完再等 SettleDelay 才恢复，避免识别到自己的声音
func (s *Session) Speak(ctx context.Context, text string, isResult bool) {
	if strings.TrimSpace(text) == "" {
		return
	}
	gen := s.speakGen.Add(1)
	s.speaking.Store(true)
	if s.open.Load() {
		if err := s.listener.Pause(ctx); err != nil {
			s.logger.Debug("Listener pause failed", zap.Error(err))
		}
	}

	if err := s.speaker.Speak(ctx, FormatForSpeech(text, isResult)); err != nil {
		s.logger.Warn("Speak failed", zap.Error(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settle != nil {
		s.settle.Stop()
	}
	if s.closed {
		return
	}
	s.settle = time.AfterFunc(s.opts.SettleDelay, func() { s.resumeAfterSpeech(gen) })
}

func (s *Session) resumeAfterSpeech(gen uint64) {
	// 期间又开始了新的播报
	if s.speakGen.Load() != gen {
		return
	}
	s.speaking.Store(false)
	if !s.open.Load() {
		return
	}
	// 持锁到 Resume 返回，Close 的 stop 一定排在 start 之后
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx := s.runCtx
	if s.closed || ctx == nil || ctx.Err() != nil {
		return
	}
	if err := s.listener.Resume(ctx); err != nil {
		s.logger.Debug("Listener resume failed", zap.Error(err))
		return
	}
	s.status = "🎤 監聽中..."
}

// Announce 供查询结果播报
func (s *Session) Announce(ctx context.Context, text string, isResult bool) {
	if !s.open.Load() {
		return
	}
	s.Speak(ctx, text, isResult)
}

func (s *Session) loop(ctx context.Context) {
	defer close(s.loopDone)
	defer close(s.triggers)

	var (
		buffer  strings.Builder
		timer   *time.Timer
		timerC  <-chan time.Time
		pending string
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timerC = nil
	}
	defer stopTimer()

	fire := func(input string, immediate bool) {
		stopTimer()
		buffer.Reset()
		s.logger.Info("Voice search triggered", zap.String("input", input), zap.Bool("immediate", immediate))
		select {
		case s.triggers <- Trigger{SessionID: s.id, Input: input, Immediate: immediate}:
		case <-ctx.Done():
		}
	}

	events := s.listener.Events()
	for {
		select {
		case <-ctx.Done():
			return

		case <-timerC:
			timerC = nil
			fire(pending, false)

		case ev, ok := <-events:
			if !ok {
				s.logger.Info("Listener stopped emitting events")
				go s.Close()
				return
			}
			if ev.Err != nil {
				if errors.Is(ev.Err, ErrPermissionDenied) {
					s.logger.Error("Voice permission denied, stopping session")
					go s.Close()
					return
				}
				s.logger.Warn("Recognition error", zap.Error(ev.Err))
				continue
			}
			if s.speaking.Load() || !ev.Final {
				continue
			}

			buffer.WriteString(CorrectTranscript(ev.Text))
			current := buffer.String()
			s.setStatus("聽取中: " + current)
			if !strings.Contains(current, TriggerWord) {
				continue
			}
			plates := ExtractBatchPlates(current)
			if len(plates) == 0 {
				continue
			}
			input := strings.Join(plates, " ")
			if SearchLength(input) >= s.opts.FastPathLength {
				fire(input, true)
				continue
			}
			pending = input
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(s.opts.DebounceDelay)
			timerC = timer.C
		}
	}
}
