package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/hitoshi/vpswatch/internal/model"
)

// Sender は外部メールトランスポートのインターフェース。
// テスト時およびSMTP未設定の開発環境でモックに差し替え可能。
type Sender interface {
	// Send は1通のHTMLメールを送信する。
	// トランスポートエラーおよび明示的な不達はerrorで通知する。
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// StringSanitizer はメール本文に埋め込む文字列のサニタイズインターフェース。
type StringSanitizer interface {
	Sanitize(raw string) string
}

// mailTemplate は通知メールのHTML本文テンプレート。
// 値はサニタイズ済みだが、html/templateのエスケープも併用する。
var mailTemplate = template.Must(template.New("notification").Parse(`<html>
<body>
<p>{{.Model}} の在庫状態が変化しました。</p>
<table>
<tr><td>モデル</td><td>{{.Model}}</td></tr>
<tr><td>データセンター</td><td>{{.Datacenter}}</td></tr>
<tr><td>状態</td><td><strong>{{.StatusLabel}}</strong></td></tr>
</table>
<p>このメールは vpswatch の購読設定に基づいて送信されています。</p>
</body>
</html>
`))

// MailRenderer は通知ジョブからメールの件名と本文を組み立てる。
// データセンターコードなどのアップストリーム由来の値は埋め込み前に
// サニタイズする。
type MailRenderer struct {
	sanitizer StringSanitizer
}

// NewMailRenderer はMailRendererを生成する。
func NewMailRenderer(sanitizer StringSanitizer) *MailRenderer {
	return &MailRenderer{sanitizer: sanitizer}
}

// Render はジョブに対応する件名とHTML本文を返す。
func (r *MailRenderer) Render(job *model.NotificationJob) (subject, htmlBody string, err error) {
	dc := r.sanitizer.Sanitize(string(job.Datacenter))

	var statusLabel string
	if job.ChangeKind == model.ChangeBecameAvailable {
		statusLabel = "在庫あり"
		subject = fmt.Sprintf("【在庫あり】%s が %s で購入可能になりました", job.Model, dc)
	} else {
		statusLabel = "在庫切れ"
		subject = fmt.Sprintf("【在庫切れ】%s が %s で在庫切れになりました", job.Model, dc)
	}

	var buf bytes.Buffer
	data := struct {
		Model       string
		Datacenter  string
		StatusLabel string
	}{
		Model:       job.Model.String(),
		Datacenter:  dc,
		StatusLabel: statusLabel,
	}
	if err := mailTemplate.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("メール本文の組み立てに失敗しました: %w", err)
	}

	return subject, buf.String(), nil
}

// SMTPConfig はSMTP送信の設定を保持する。
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender はSMTP経由でメールを送信するSender実装。
type SMTPSender struct {
	config SMTPConfig
}

// NewSMTPSender はSMTPSenderを生成する。
func NewSMTPSender(config SMTPConfig) *SMTPSender {
	return &SMTPSender{config: config}
}

// Send はSMTPでHTMLメールを送信する。
// コンテキストのキャンセルは送信開始前のみ確認する
// （net/smtpは接続確立後の中断をサポートしない）。
func (s *SMTPSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var msg strings.Builder
	msg.WriteString("From: " + s.config.From + "\r\n")
	msg.WriteString("To: " + to + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(htmlBody)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	var auth smtp.Auth
	if s.config.Username != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	if err := smtp.SendMail(addr, auth, s.config.From, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("SMTP送信に失敗しました: %w", err)
	}

	return nil
}

// LogSender は送信の代わりにログへ書き出すSender実装。
// SMTP未設定の開発環境で使用する。
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender はLogSenderを生成する。
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send はメール内容をログに記録する。常に成功する。
func (s *LogSender) Send(_ context.Context, to, subject, htmlBody string) error {
	s.logger.Info("メール送信（ログ出力モード）",
		slog.String("to", to),
		slog.String("subject", subject),
		slog.Int("body_bytes", len(htmlBody)),
	)
	return nil
}
