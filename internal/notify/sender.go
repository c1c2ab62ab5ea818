// Package notify はメールによる帯域外通知を提供する。
package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-mail/mail"
)

// Sender はメール送信のインターフェース。
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody, textBody string) error
}

// SMTPConfig はSMTP送信の設定。
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPSender はSMTPサーバー経由でメールを送信する。
// ポート465の場合は暗黙的TLS、それ以外はSTARTTLSを使用する。
type SMTPSender struct {
	config SMTPConfig
	logger *slog.Logger
}

// NewSMTPSender はSMTPSenderを生成する。
func NewSMTPSender(config SMTPConfig, logger *slog.Logger) *SMTPSender {
	if config.Port == 0 {
		config.Port = 587
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &SMTPSender{config: config, logger: logger}
}

// buildMessage は text/plain と text/html の multipart/alternative メッセージを組み立てる。
func (s *SMTPSender) buildMessage(to, subject, htmlBody, textBody string) *mail.Message {
	m := mail.NewMessage()
	m.SetHeader("From", s.config.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	switch {
	case textBody != "" && htmlBody != "":
		m.SetBody("text/plain", textBody)
		m.AddAlternative("text/html", htmlBody)
	case htmlBody != "":
		m.SetBody("text/html", htmlBody)
	default:
		m.SetBody("text/plain", textBody)
	}
	return m
}

// Send はメールを送信する。コンテキストが既にキャンセルされている場合は送信しない。
func (s *SMTPSender) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d := mail.NewDialer(s.config.Host, s.config.Port, s.config.User, s.config.Password)
	d.Timeout = s.config.Timeout
	d.TLSConfig = &tls.Config{ServerName: s.config.Host}
	d.SSL = s.config.Port == 465

	if err := d.DialAndSend(s.buildMessage(to, subject, htmlBody, textBody)); err != nil {
		s.logger.Error("メール送信に失敗しました",
			slog.String("host", s.config.Host),
			slog.String("subject", subject),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("smtp send: %w", err)
	}

	s.logger.Info("メールを送信しました",
		slog.String("host", s.config.Host),
		slog.String("subject", subject),
	)
	return nil
}

// LogSender はメールを送信せずログに出力する。SMTP未設定の開発環境用。
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender はLogSenderを生成する。
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send は宛先と件名をWARNで出力する。本文はOTPやリセットリンクを含むためDEBUGでのみ出力する。
func (s *LogSender) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	s.logger.Warn("SMTP未設定のためメールを送信しません",
		slog.String("to", to),
		slog.String("subject", subject),
	)
	s.logger.Debug("未送信メール本文",
		slog.String("to", to),
		slog.String("body", textBody),
	)
	return nil
}

var (
	_ Sender = (*SMTPSender)(nil)
	_ Sender = (*LogSender)(nil)
)
