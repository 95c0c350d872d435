// Package tts 调用语音合成云函数：{text} -> {audioContent: base64}
package tts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

var (
	ErrEmptyText       = errors.New("text is required")
	ErrSynthesisFailed = errors.New("speech synthesis failed")
)

type synthesizeRequest struct {
	Text string `json:"text"`
}

type synthesizeResponse struct {
	AudioContent string `json:"audioContent"`
	Error        string `json:"error,omitempty"`
}

type Client struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewClient endpoint 为云函数完整地址
func NewClient(endpoint string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(300*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &Client{httpClient: client, logger: logger}
}

// Synthesize 返回解码后的音频（MP3）
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	var response synthesizeResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(synthesizeRequest{Text: text}).
		SetResult(&response).
		SetError(&response).
		Post("")
	if err != nil {
		c.logger.Error("TTS call failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}
	if resp.IsError() {
		c.logger.Error("TTS returned error",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("error", response.Error),
		)
		return nil, fmt.Errorf("%w: status %d", ErrSynthesisFailed, resp.StatusCode())
	}
	if response.AudioContent == "" {
		return nil, fmt.Errorf("%w: empty audio", ErrSynthesisFailed)
	}

	audio, err := base64.StdEncoding.DecodeString(response.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("%w: decode audio: %v", ErrSynthesisFailed, err)
	}
	c.logger.Debug("TTS synthesized", zap.Int("text_len", len(text)), zap.Int("audio_bytes", len(audio)))
	return audio, nil
}
