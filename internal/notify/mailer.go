package notify

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"
)

const (
	otpSubject   = "認証コードのお知らせ - DocAnalyzer"
	resetSubject = "パスワード再設定のご案内 - DocAnalyzer"
)

const otpHTML = `<div style="font-family: Arial, sans-serif; background: #f4f6f8; padding: 20px;">
  <div style="max-width: 500px; margin: auto; background: #ffffff; border-radius: 10px; padding: 20px;">
    <h2 style="text-align: center; color: #4F46E5;">DocAnalyzer</h2>
    <p>{{.To}} 様</p>
    <p>以下の認証コードを入力して登録を完了してください。</p>
    <div style="text-align: center; margin: 20px 0;">
      <span style="display: inline-block; background: #4F46E5; color: #fff; font-size: 24px; letter-spacing: 5px; padding: 12px 20px; border-radius: 8px; font-weight: bold;">{{.Code}}</span>
    </div>
    <p style="font-size: 14px; color: #555;">このコードの有効期限は <b>{{.TTL}}</b> です。第三者には共有しないでください。</p>
  </div>
</div>`

const otpText = `{{.To}} 様

認証コード: {{.Code}}

このコードの有効期限は {{.TTL}} です。第三者には共有しないでください。
`

const resetHTML = `<div style="font-family: Arial, sans-serif; background: #f4f6f8; padding: 20px;">
  <div style="max-width: 500px; margin: auto; background: #ffffff; border-radius: 10px; padding: 20px;">
    <h2 style="text-align: center; color: #4F46E5;">DocAnalyzer</h2>
    <p>{{.To}} 様</p>
    <p>パスワード再設定のリクエストを受け付けました。以下のリンクから新しいパスワードを設定してください。</p>
    <p style="text-align: center;"><a href="{{.Link}}">パスワードを再設定する</a></p>
    <p style="font-size: 14px; color: #555;">このリンクの有効期限は <b>{{.TTL}}</b> です。心当たりがない場合はこのメールを破棄してください。</p>
  </div>
</div>`

const resetText = `{{.To}} 様

パスワード再設定のリクエストを受け付けました。以下のリンクから新しいパスワードを設定してください。

{{.Link}}

このリンクの有効期限は {{.TTL}} です。心当たりがない場合はこのメールを破棄してください。
`

type mailData struct {
	To   string
	Code string
	Link string
	TTL  string
}

// Mailer は認証フローの通知メールをテンプレートから組み立てて送信する。
type Mailer struct {
	sender    Sender
	otpHTML   *htmltemplate.Template
	otpText   *texttemplate.Template
	resetHTML *htmltemplate.Template
	resetText *texttemplate.Template
}

// NewMailer はMailerを生成する。
func NewMailer(sender Sender) *Mailer {
	return &Mailer{
		sender:    sender,
		otpHTML:   htmltemplate.Must(htmltemplate.New("otp_html").Parse(otpHTML)),
		otpText:   texttemplate.Must(texttemplate.New("otp_text").Parse(otpText)),
		resetHTML: htmltemplate.Must(htmltemplate.New("reset_html").Parse(resetHTML)),
		resetText: texttemplate.Must(texttemplate.New("reset_text").Parse(resetText)),
	}
}

// SendOTP は認証コードをメール送信する。
func (m *Mailer) SendOTP(ctx context.Context, to, code string, ttl time.Duration) error {
	data := mailData{To: to, Code: code, TTL: formatTTL(ttl)}
	htmlBody, textBody, err := render(m.otpHTML, m.otpText, data)
	if err != nil {
		return err
	}
	return m.sender.Send(ctx, to, otpSubject, htmlBody, textBody)
}

// SendPasswordReset はパスワード再設定リンクをメール送信する。
func (m *Mailer) SendPasswordReset(ctx context.Context, to, resetURL string, ttl time.Duration) error {
	data := mailData{To: to, Link: resetURL, TTL: formatTTL(ttl)}
	htmlBody, textBody, err := render(m.resetHTML, m.resetText, data)
	if err != nil {
		return err
	}
	return m.sender.Send(ctx, to, resetSubject, htmlBody, textBody)
}

func render(h *htmltemplate.Template, t *texttemplate.Template, data mailData) (string, string, error) {
	var hb, tb bytes.Buffer
	if err := h.Execute(&hb, data); err != nil {
		return "", "", fmt.Errorf("failed to render %s: %w", h.Name(), err)
	}
	if err := t.Execute(&tb, data); err != nil {
		return "", "", fmt.Errorf("failed to render %s: %w", t.Name(), err)
	}
	return hb.String(), tb.String(), nil
}

// formatTTL は有効期間を「10分」「2時間」の形式にする。
func formatTTL(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		return fmt.Sprintf("%d時間", int(d/time.Hour))
	}
	return fmt.Sprintf("%d分", int(d.Round(time.Minute)/time.Minute))
}
