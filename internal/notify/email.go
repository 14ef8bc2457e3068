// Package notify sends operational alert emails when a device sync keeps
// failing or a delivery batch is permanently rejected.
package notify

import (
	"bytes"
	"fmt"
	"log/slog"
	"mime/multipart"
	"mime/quotedprintable"
	"net/smtp"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/inbucket/html2text"
)

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// Message represents an email message
type Message struct {
	To      []string
	Subject string
	HTML    string
	Text    string // optional, will be auto-generated from HTML if empty
}

// Mailer delivers alert messages over SMTP. Alerts for the same subject are
// suppressed within the configured interval so a flapping device does not
// flood the inbox.
type Mailer struct {
	cfg      SMTPConfig
	to       []string
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
}

func NewMailer(cfg SMTPConfig, to []string, interval time.Duration) *Mailer {
	return &Mailer{
		cfg:      cfg,
		to:       to,
		interval: interval,
		logger:   slog.With("component", "notify"),
		lastSent: make(map[string]time.Time),
	}
}

// SyncFailure reports a device sync run that exhausted its retries.
func (m *Mailer) SyncFailure(deviceID int64, deviceName string, err error) {
	key := fmt.Sprintf("sync:%d", deviceID)
	subject := fmt.Sprintf("Sync failing for device %q (ID %d)", deviceName, deviceID)
	body := fmt.Sprintf(
		"<p>Log synchronization for device <b>%s</b> (ID %d) failed and will be retried on the next cycle.</p><p>Last error:</p><pre>%v</pre>",
		deviceName, deviceID, err)
	m.send(key, subject, body)
}

// DeliveryFailure reports a batch that could not be forwarded after all
// attempts. The records stay unsent and can be resent manually.
func (m *Mailer) DeliveryFailure(count int, err error) {
	subject := fmt.Sprintf("Forwarding failed for %d access logs", count)
	body := fmt.Sprintf(
		"<p>A batch of %d access logs could not be delivered to the external monitor. The records remain queued for resend.</p><p>Last error:</p><pre>%v</pre>",
		count, err)
	m.send("delivery", subject, body)
}

func (m *Mailer) send(key, subject, html string) {
	m.mu.Lock()
	if last, ok := m.lastSent[key]; ok && time.Since(last) < m.interval {
		m.mu.Unlock()
		m.logger.Debug("Alert suppressed, sent recently", "key", key)
		return
	}
	m.lastSent[key] = time.Now()
	m.mu.Unlock()

	msg := &Message{
		To:      m.to,
		Subject: subject,
		HTML:    html,
	}
	if err := m.Send(msg); err != nil {
		m.logger.Error("Failed to send alert email", "key", key, "error", err)
	} else {
		m.logger.Info("Alert email sent", "key", key, "to", m.to)
	}
}

// Send sends an email message
func (m *Mailer) Send(msg *Message) error {
	if msg.Text == "" {
		text, err := htmlToText(msg.HTML)
		if err != nil {
			return fmt.Errorf("failed to convert HTML to text: %w", err)
		}
		msg.Text = text
	}

	body, err := m.buildMultipartMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	addr := m.cfg.Host + ":" + m.cfg.Port

	return smtp.SendMail(addr, auth, m.cfg.From, msg.To, body)
}

// buildMultipartMessage creates a multipart email message
func (m *Mailer) buildMultipartMessage(msg *Message) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	// Headers
	buf.WriteString(fmt.Sprintf("From: %s\r\n", m.cfg.From))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(msg.To, ", ")))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	buf.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=%s\r\n", writer.Boundary()))
	buf.WriteString("\r\n")

	// Text part
	textHeader := make(textproto.MIMEHeader)
	textHeader.Set("Content-Type", "text/plain; charset=utf-8")
	textHeader.Set("Content-Transfer-Encoding", "quoted-printable")

	textPart, err := writer.CreatePart(textHeader)
	if err != nil {
		return nil, err
	}

	qpWriter := quotedprintable.NewWriter(textPart)
	if _, err := qpWriter.Write([]byte(msg.Text)); err != nil {
		return nil, err
	}
	qpWriter.Close()

	// HTML part
	htmlHeader := make(textproto.MIMEHeader)
	htmlHeader.Set("Content-Type", "text/html; charset=utf-8")
	htmlHeader.Set("Content-Transfer-Encoding", "quoted-printable")

	htmlPart, err := writer.CreatePart(htmlHeader)
	if err != nil {
		return nil, err
	}

	qpWriter = quotedprintable.NewWriter(htmlPart)
	if _, err := qpWriter.Write([]byte(msg.HTML)); err != nil {
		return nil, err
	}
	qpWriter.Close()

	writer.Close()

	return buf.Bytes(), nil
}

// htmlToText converts HTML to plain text
func htmlToText(htmlContent string) (string, error) {
	text, err := html2text.FromString(htmlContent, html2text.Options{
		PrettyTables: true,
		OmitLinks:    false,
	})
	if err != nil {
		slog.Error("failed to convert HTML to text", "error", err)
		return "", err
	}
	return text, nil
}
