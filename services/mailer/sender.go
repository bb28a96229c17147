package mailer

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"gopkg.in/gomail.v2"

	"wifi-voucher/pkg/config"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Sender delivers a rendered email. Split from the dispatcher so tests can
// capture messages instead of talking to an SMTP server.
type Sender interface {
	Send(to, subject, htmlBody string) error
}

type smtpSender struct {
	dialer *gomail.Dialer
	from   string
}

func NewSender(cfg *config.Config) Sender {
	return &smtpSender{
		dialer: gomail.NewDialer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password),
		from:   cfg.SMTP.From,
	}
}

func (s *smtpSender) Send(to, subject, htmlBody string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	return nil
}

var templates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

type paymentCodeView struct {
	Brand         string
	TransactionID string
	ClassLabel    string
	Amount        int64
	QRURL         string
	ExpiresAt     string
}

type voucherKeyView struct {
	Brand         string
	TransactionID string
	ClassLabel    string
	Key           string
}

func renderPaymentCode(brand, trxID, classLabel string, amount int64, qrURL string, expiresAt time.Time) (string, error) {
	var buf bytes.Buffer
	err := templates.ExecuteTemplate(&buf, "payment_code.html.tmpl", paymentCodeView{
		Brand:         brand,
		TransactionID: trxID,
		ClassLabel:    classLabel,
		Amount:        amount,
		QRURL:         qrURL,
		ExpiresAt:     expiresAt.Format("02 Jan 2006 15:04 MST"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to render payment code email: %w", err)
	}
	return buf.String(), nil
}

func renderVoucherKey(brand, trxID, classLabel, key string) (string, error) {
	var buf bytes.Buffer
	err := templates.ExecuteTemplate(&buf, "voucher_key.html.tmpl", voucherKeyView{
		Brand:         brand,
		TransactionID: trxID,
		ClassLabel:    classLabel,
		Key:           key,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render voucher email: %w", err)
	}
	return buf.String(), nil
}
