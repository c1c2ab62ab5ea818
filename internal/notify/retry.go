package notify

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/textproto"
	"time"
)

// SendResult はSMTP送信エラーの分類。
type SendResult int

const (
	// SendResultOK は送信成功。
	SendResultOK SendResult = iota
	// SendResultRetry は一時的な失敗（4xx応答・ネットワークエラー）。
	SendResultRetry
	// SendResultStop は恒久的な失敗（5xx応答など）。再試行しない。
	SendResultStop
)

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
)

// ClassifySendError は送信エラーを再試行可否で分類する。
func ClassifySendError(err error) SendResult {
	if err == nil {
		return SendResultOK
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return SendResultStop
	}
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		if protoErr.Code >= 400 && protoErr.Code < 500 {
			return SendResultRetry
		}
		return SendResultStop
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return SendResultRetry
	}
	return SendResultStop
}

// RetryConfig は再試行の設定。
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// CalculateBackoff は失敗回数に基づく指数バックオフ遅延を返す。
// 初回は InitialBackoff、以降2倍ずつ増加し MaxBackoff で頭打ちになる。
func (c RetryConfig) CalculateBackoff(failures int) time.Duration {
	delay := c.InitialBackoff
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay > c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	return delay
}

// RetrySender は一時的な送信失敗を指数バックオフで再試行するSender。
type RetrySender struct {
	next   Sender
	config RetryConfig
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetrySender はRetrySenderを生成する。0以下の設定値は既定値で補う。
func NewRetrySender(next Sender, config RetryConfig, logger *slog.Logger) *RetrySender {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaultMaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaultInitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaultMaxBackoff
	}
	return &RetrySender{next: next, config: config, logger: logger, sleep: sleepContext}
}

// Send は送信を試み、一時的な失敗の場合のみ MaxAttempts 回まで再試行する。
// 最後のエラーをそのまま返す。
func (s *RetrySender) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = s.next.Send(ctx, to, subject, htmlBody, textBody)
		if ClassifySendError(err) != SendResultRetry || attempt >= s.config.MaxAttempts {
			return err
		}

		delay := s.config.CalculateBackoff(attempt - 1)
		s.logger.Warn("メール送信を再試行します",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)
		if sleepErr := s.sleep(ctx, delay); sleepErr != nil {
			return err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ Sender = (*RetrySender)(nil)
