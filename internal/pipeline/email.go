// =============================================================================
// email.go - 生成失敗時のメール通知
// =============================================================================
//
// 定期生成サイクルが失敗した、または要求数に満たなかった場合に
// Gmail SMTP 経由で管理者に通知します。
//
// 【必要な環境変数】
//   EMAIL_FROM     - 送信元メールアドレス
//   EMAIL_PASSWORD - Gmailアプリパスワード（通常のパスワードではない）
//   EMAIL_TO       - 送信先（カンマ区切りで複数可）
//
// 【リトライ】
//   最大3回、指数バックオフ（1s → 2s → 4s）。context のキャンセルで中断。
//
// =============================================================================
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"news-quiz/internal/logger"
)

// CycleReport describes a refresh cycle that needs attention.
type CycleReport struct {
	CycleID   string
	FeedURL   string
	Requested int
	Generated int
	Err       error
	Stats     Stats
	At        time.Time
}

// Notifier is told about degraded or failed refresh cycles.
type Notifier interface {
	Notify(ctx context.Context, r CycleReport) error
}

// EmailConfig はメール送信の設定を保持
type EmailConfig struct {
	From     string
	Password string
	To       []string
	SMTPHost string
	SMTPPort string
}

// EmailSender はSMTPでメールを送信する
type EmailSender struct {
	config     EmailConfig
	maxRetries int
	backoff    time.Duration
	sendMail   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailSender は新しいEmailSenderを作成する
func NewEmailSender(from, password, to string) (*EmailSender, error) {
	if from == "" {
		return nil, errors.New("EMAIL_FROM is required")
	}
	if password == "" {
		return nil, errors.New("EMAIL_PASSWORD is required (use Gmail App Password)")
	}
	if to == "" {
		return nil, errors.New("EMAIL_TO is required")
	}

	var toList []string
	for _, addr := range strings.Split(to, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			toList = append(toList, addr)
		}
	}
	if len(toList) == 0 {
		return nil, errors.New("EMAIL_TO has no addresses")
	}

	return &EmailSender{
		config: EmailConfig{
			From:     from,
			Password: password,
			To:       toList,
			SMTPHost: "smtp.gmail.com",
			SMTPPort: "587",
		},
		maxRetries: 3,
		backoff:    time.Second,
		sendMail:   smtp.SendMail,
	}, nil
}

// Notify implements Notifier.
func (es *EmailSender) Notify(ctx context.Context, r CycleReport) error {
	subject := fmt.Sprintf("[news-quiz] %s - %d/%d questions", reportStatus(r), r.Generated, r.Requested)
	msg := es.buildEmailMessage(subject, buildReportBody(r))
	return es.sendWithRetry(ctx, msg)
}

func reportStatus(r CycleReport) string {
	if r.Err != nil {
		return "Generation failed"
	}
	return "Short quiz"
}

// buildReportBody はレポート本文を生成する
func buildReportBody(r CycleReport) string {
	var sb strings.Builder

	sb.WriteString("News Quiz Generation Report\n")
	fmt.Fprintf(&sb, "Time: %s\n", r.At.UTC().Format(time.RFC3339))
	if r.CycleID != "" {
		fmt.Fprintf(&sb, "Cycle: %s\n", r.CycleID)
	}
	fmt.Fprintf(&sb, "Feed: %s\n\n", r.FeedURL)
	sb.WriteString("========================================\n")
	fmt.Fprintf(&sb, "Requested: %d\n", r.Requested)
	fmt.Fprintf(&sb, "Generated: %d\n", r.Generated)
	fmt.Fprintf(&sb, "Articles tried: %d (rejected by filter: %d, failed: %d)\n",
		r.Stats.Attempted, r.Stats.Rejected, r.Stats.Failed)
	sb.WriteString("========================================\n\n")

	if r.Err != nil {
		fmt.Fprintf(&sb, "Error:\n  %v\n\n", r.Err)
	}
	if len(r.Stats.Errors) > 0 {
		sb.WriteString("Article failures:\n")
		for i, e := range r.Stats.Errors {
			fmt.Fprintf(&sb, "  %d. %s\n", i+1, e)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// buildEmailMessage はRFC 5322形式のメールメッセージを構築する
func (es *EmailSender) buildEmailMessage(subject, body string) []byte {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", es.config.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(es.config.To, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return []byte(msg.String())
}

// sendWithRetry は指数バックオフでリトライしながら送信する
func (es *EmailSender) sendWithRetry(ctx context.Context, msg []byte) error {
	var lastErr error
	for i := 0; i < es.maxRetries; i++ {
		if i > 0 {
			wait := es.backoff << (i - 1)
			logger.Info("retrying email send", "wait", wait)
			select {
			case <-ctx.Done():
				return fmt.Errorf("email send canceled: %w", ctx.Err())
			case <-time.After(wait):
			}
		}

		err := es.send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		logger.Warn("email send failed", "attempt", i+1, "max", es.maxRetries, "error", err)
	}
	return fmt.Errorf("failed to send email after %d retries: %w", es.maxRetries, lastErr)
}

func (es *EmailSender) send(msg []byte) error {
	auth := smtp.PlainAuth("", es.config.From, es.config.Password, es.config.SMTPHost)
	addr := es.config.SMTPHost + ":" + es.config.SMTPPort
	if err := es.sendMail(addr, auth, es.config.From, es.config.To, msg); err != nil {
		return fmt.Errorf("SMTP send failed: %w (check EMAIL_PASSWORD is a Gmail App Password)", err)
	}
	return nil
}
