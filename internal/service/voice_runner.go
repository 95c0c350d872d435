package service

import (
	"context"

	"go.uber.org/zap"

	"plate-lookup/internal/domain"
	"plate-lookup/internal/metrics"
	"plate-lookup/internal/voice"
)

// VoiceRunner 消费语音会话触发的查询，以 voice=true 走查询链
type VoiceRunner struct {
	search    *SearchService
	community domain.Community
	mode      domain.SearchMode
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewVoiceRunner(search *SearchService, community domain.Community, mode domain.SearchMode, m *metrics.Metrics, logger *zap.Logger) *VoiceRunner {
	if mode == "" {
		mode = domain.ModePlate
	}
	return &VoiceRunner{search: search, community: community, mode: mode, metrics: m, logger: logger}
}

// Run 阻塞直到 triggers 关闭或 ctx 结束
func (r *VoiceRunner) Run(ctx context.Context, triggers <-chan voice.Trigger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case tr, ok := <-triggers:
			if !ok {
				return nil
			}
			reason := "debounce"
			if tr.Immediate {
				reason = "fast_path"
			}
			r.metrics.IncVoiceTrigger(reason)

			resp, err := r.search.Resolve(ctx, ResolveRequest{
				Community: r.community,
				Mode:      r.mode,
				Input:     tr.Input,
				Voice:     true,
			})
			if err != nil {
				// Resolve 已经播报过失败
				r.logger.Warn("Voice search failed", zap.String("input", tr.Input), zap.Error(err))
				continue
			}
			r.logger.Info("Voice search resolved",
				zap.String("input", tr.Input),
				zap.String("outcome", string(resp.Outcome)),
				zap.Int("results", len(resp.Results)),
			)
		}
	}
}
