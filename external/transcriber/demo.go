package transcriber

import (
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/foxseedlab/voicememo/internal/transcriber"
)

const demoFinalThreshold = 0.6

var demoPhrases = map[string][]string{
	"ko-KR": {"안녕하세요", "반갑습니다", "음성 인식 테스트입니다", "오늘 날씨가 좋네요"},
	"en-US": {"Hello", "Nice to meet you", "This is a speech recognition test", "The weather is nice today"},
	"ja-JP": {"こんにちは", "はじめまして", "音声認識テストです", "今日の天気はいいですね"},
	"zh-CN": {"你好", "很高兴见到你", "这是语音识别测试", "今天天气真好"},
}

const demoFallbackLanguage = "ko-KR"

// DemoTranscriber performs no recognition: every audio write yields one random
// canned phrase for the session language, final with probability 0.4.
type DemoTranscriber struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewDemoTranscriber seeds the phrase picker; seed 0 uses the current time.
func NewDemoTranscriber(seed uint64) *DemoTranscriber {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &DemoTranscriber{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (t *DemoTranscriber) StartStreaming(_ context.Context, opts transcriber.StreamOptions, receiver transcriber.ResultReceiver) (transcriber.StreamWriter, error) {
	phrases, ok := demoPhrases[opts.Language]
	if !ok {
		phrases = demoPhrases[demoFallbackLanguage]
	}
	slog.Info("starting demo recognition stream", "session_id", opts.SessionID, "language", opts.Language)
	return &demoStream{parent: t, phrases: phrases, receiver: receiver}, nil
}

func (t *DemoTranscriber) pick(phrases []string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	isFinal := t.rng.Float64() > demoFinalThreshold
	return phrases[t.rng.IntN(len(phrases))], isFinal
}

type demoStream struct {
	parent   *DemoTranscriber
	phrases  []string
	receiver transcriber.ResultReceiver

	mu     sync.Mutex
	closed bool
}

func (s *demoStream) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	if len(pcm) == 0 {
		return nil
	}
	text, isFinal := s.parent.pick(s.phrases)
	s.receiver.OnResult(text, isFinal, 0)
	return nil
}

func (s *demoStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
